// Package cli provides the interactive shell for redisql
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/JayabrataBasu/redisql/internal/config"
	"github.com/JayabrataBasu/redisql/internal/logger"
	"github.com/JayabrataBasu/redisql/pkg/observability"
	"github.com/JayabrataBasu/redisql/pkg/redisql"
)

// Version of redisql
const Version = "0.1.0"

const (
	prompt         = "redisql> "
	continuePrompt = "      -> "
)

// REPL implements the Read-Eval-Print Loop for redisql
type REPL struct {
	config *config.Config
	log    *logger.Logger
	exec   *redisql.Executor
	out    io.Writer

	// Pending lines of a command whose quotes are still open
	buffer strings.Builder
}

// NewREPL creates a new REPL instance writing to out.
func NewREPL(cfg *config.Config, log *logger.Logger, exec *redisql.Executor, out io.Writer) *REPL {
	if log == nil {
		log = logger.NewNop()
	}
	if out == nil {
		out = os.Stdout
	}
	return &REPL{
		config: cfg,
		log:    log,
		exec:   exec,
		out:    out,
	}
}

// Run starts the interactive loop on the terminal.
func (r *REPL) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     r.historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       `\q`,
		AutoComplete:    newCompleter(),
		Stdout:          r.out,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	r.printWelcome()

	for {
		if r.pending() {
			rl.SetPrompt(continuePrompt)
		} else {
			rl.SetPrompt(prompt)
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if r.pending() {
				r.buffer.Reset()
				fmt.Fprintln(r.out, "^C")
			}
			continue
		} else if errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out, "\nGoodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		if r.feed(ctx, line) == commandExit {
			fmt.Fprintln(r.out, "Goodbye!")
			return nil
		}
	}
}

// RunScript executes commands read from in without prompting, one per
// line, with the same continuation rules as the interactive shell.
func (r *REPL) RunScript(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if r.feed(ctx, scanner.Text()) == commandExit {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}
	if r.pending() {
		fmt.Fprintln(r.out, "ERROR: input ended inside a quoted string")
	}
	return nil
}

type commandResult int

const (
	commandOK commandResult = iota
	commandExit
	commandError
	commandPending
)

func (r *REPL) pending() bool {
	return r.buffer.Len() > 0
}

// feed adds one input line. The accumulated text runs once every quote
// is closed.
func (r *REPL) feed(ctx context.Context, line string) commandResult {
	if !r.pending() && strings.TrimSpace(line) == "" {
		return commandOK
	}
	if r.pending() {
		r.buffer.WriteByte('\n')
	}
	r.buffer.WriteString(line)

	input := r.buffer.String()
	if !quotesBalanced(input) {
		return commandPending
	}
	r.buffer.Reset()
	return r.processCommand(ctx, input)
}

// quotesBalanced reports whether every ' or " quote in s is closed.
func quotesBalanced(s string) bool {
	var open rune
	for _, c := range s {
		switch {
		case open != 0 && c == open:
			open = 0
		case open == 0 && (c == '"' || c == '\''):
			open = c
		}
	}
	return open == 0
}

func (r *REPL) processCommand(ctx context.Context, input string) commandResult {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, `\`) {
		return r.handleBackslashCommand(input)
	}

	input = strings.TrimSpace(strings.TrimSuffix(input, ";"))
	if input == "" {
		return commandOK
	}

	fields := strings.Fields(input)
	switch strings.ToUpper(fields[0]) {
	case "EXIT", "QUIT":
		if len(fields) == 1 {
			return commandExit
		}
	case "HELP":
		if len(fields) == 1 {
			r.printHelp()
			return commandOK
		}
		if len(fields) == 2 {
			return r.printUsage(fields[1])
		}
	}

	return r.execute(ctx, input)
}

func (r *REPL) execute(ctx context.Context, input string) commandResult {
	start := time.Now()
	cur, err := r.exec.Query(ctx, input)
	if err != nil {
		fmt.Fprintf(r.out, "ERROR: %v\n", err)
		return commandError
	}
	defer cur.Close()

	rows, err := renderCursor(r.out, cur, r.maxWidth())
	if err != nil {
		fmt.Fprintf(r.out, "ERROR: %v\n", err)
		return commandError
	}

	noun := "rows"
	if rows == 1 {
		noun = "row"
	}
	fmt.Fprintf(r.out, "(%d %s, %s)\n\n", rows, noun, time.Since(start).Round(time.Microsecond))
	return commandOK
}

func (r *REPL) handleBackslashCommand(input string) commandResult {
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])

	switch cmd {
	case `\q`, `\quit`, `\exit`:
		return commandExit

	case `\?`, `\help`:
		r.printHelp()
		return commandOK

	case `\d`, `\describe`:
		return r.describeLast()

	case `\status`:
		r.printStatus()
		return commandOK

	case `\stats`:
		r.printStats()
		return commandOK

	case `\config`:
		r.printConfig()
		return commandOK

	case `\clear`:
		fmt.Fprint(r.out, "\033[H\033[2J") // ANSI clear screen
		return commandOK

	default:
		fmt.Fprintf(r.out, "Unknown command: %s\n", cmd)
		fmt.Fprintln(r.out, `Type \? for help`)
		return commandError
	}
}

func (r *REPL) describeLast() commandResult {
	md := r.exec.LastMetadata()
	if md == nil {
		fmt.Fprintln(r.out, "No result to describe yet")
		return commandError
	}

	t := newTable(0, "#", "column", "type", "signed")
	t.rightCol[0] = true
	for i := 1; i <= md.ColumnCount(); i++ {
		name, _ := md.ColumnName(i)
		typeName, _ := md.ColumnTypeName(i)
		signed, _ := md.IsSigned(i)
		t.addRow(fmt.Sprint(i), name, typeName, fmt.Sprint(signed))
	}
	t.render(r.out)
	fmt.Fprintln(r.out)
	return commandOK
}

func (r *REPL) printUsage(verb string) commandResult {
	op, ok := redisql.Lookup(verb)
	if !ok {
		fmt.Fprintf(r.out, "%s has no registered usage; it is sent to the server as typed\n", strings.ToUpper(verb))
		return commandError
	}
	fmt.Fprintf(r.out, "Usage: %s\nArguments: %s\n", op.Usage, op.Arity)
	return commandOK
}

func (r *REPL) printWelcome() {
	fmt.Fprintf(r.out, "redisql %s\nConnected to %s (database %d)\nType \\? for help, \\q to quit\n\n",
		Version, redactURL(r.config.Redis.URL), r.exec.Database())
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.out, `
redisql Commands
================

Any Redis command, for example:
  GET key                          Read a string value
  HGETALL "user:1"                 Field/value rows of a hash
  LRANGE queue 0 -1                One row per list element
Quote arguments containing spaces with "..." or '...'.
A trailing ; is optional. Open quotes continue on the next line.

Shell Commands:
  HELP <verb>                      Show the usage of a command
  \d, \describe                    Describe the columns of the last result
  \status                          Show connection status
  \stats                           Show command statistics
  \config                          Show configuration
  \clear                           Clear screen
  \?, \help                        Show this help
  \q, \quit                        Exit`)
	fmt.Fprintln(r.out)
}

func (r *REPL) printStatus() {
	fmt.Fprintln(r.out, "\nredisql Status")
	fmt.Fprintln(r.out, "==============")
	fmt.Fprintf(r.out, "Version:    %s\n", Version)
	fmt.Fprintf(r.out, "Server:     %s\n", redactURL(r.config.Redis.URL))
	fmt.Fprintf(r.out, "Database:   %d\n", r.exec.Database())
	fmt.Fprintf(r.out, "Log Level:  %s\n", r.config.Log.Level)
	fmt.Fprintln(r.out)
}

func (r *REPL) printStats() {
	t := newTable(0, "metric", "value")
	t.rightCol[1] = true
	metrics := append(r.exec.Stats().Metrics(), observability.MemoryMetrics()...)
	for _, m := range metrics {
		value := fmt.Sprint(m.Value)
		if f, ok := m.Value.(float64); ok {
			value = fmt.Sprintf("%.3f", f)
		}
		t.addRow(m.Name, value)
	}
	t.render(r.out)
	fmt.Fprintln(r.out)
}

func (r *REPL) printConfig() {
	c := r.config
	fmt.Fprintln(r.out, "\nCurrent Configuration")
	fmt.Fprintln(r.out, "=====================")
	fmt.Fprintf(r.out, "Redis:\n")
	fmt.Fprintf(r.out, "  URL:              %s\n", redactURL(c.Redis.URL))
	fmt.Fprintf(r.out, "  Pool Size:        %d\n", c.Redis.PoolSize)
	fmt.Fprintf(r.out, "  Read Timeout:     %dms\n", c.Redis.ReadTimeoutMs)
	fmt.Fprintf(r.out, "  TLS:              %t\n", c.Redis.TLS)
	fmt.Fprintf(r.out, "\nShell:\n")
	fmt.Fprintf(r.out, "  History File:     %s\n", r.historyFile())
	fmt.Fprintf(r.out, "  Max Column Width: %d\n", c.Shell.MaxColumnWidth)
	fmt.Fprintf(r.out, "\nLogging:\n")
	fmt.Fprintf(r.out, "  Level:            %s\n", c.Log.Level)
	fmt.Fprintf(r.out, "  Format:           %s\n", c.Log.Format)
	fmt.Fprintf(r.out, "  Output:           %s\n", c.Log.Output)
	fmt.Fprintln(r.out)
}

func (r *REPL) maxWidth() int {
	if r.config == nil {
		return 0
	}
	return r.config.Shell.MaxColumnWidth
}

func (r *REPL) historyFile() string {
	if r.config != nil && r.config.Shell.HistoryFile != "" {
		return r.config.Shell.HistoryFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".redisql_history")
}

// redactURL hides a password embedded in a connection URL.
func redactURL(raw string) string {
	rest := raw
	prefix := ""
	if strings.HasPrefix(strings.ToLower(raw), "jdbc:") {
		prefix, rest = raw[:5], raw[5:]
	}
	u, err := url.Parse(rest)
	if err != nil {
		return raw
	}
	return prefix + u.Redacted()
}

// newCompleter completes registered verbs and shell commands.
func newCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, 32)
	for _, verb := range redisql.Verbs() {
		items = append(items, readline.PcItem(verb))
	}
	for _, cmd := range []string{"HELP", "EXIT", `\d`, `\status`, `\stats`, `\config`, `\clear`, `\help`, `\q`} {
		items = append(items, readline.PcItem(cmd))
	}
	return readline.NewPrefixCompleter(items...)
}
