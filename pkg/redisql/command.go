package redisql

import (
	"fmt"
	"strings"
)

// Command is a verb with its ordered arguments.
type Command struct {
	Verb string
	Args []string
}

// Parse tokenizes text and builds a Command. The verb is upper-cased;
// arguments keep their original case.
func Parse(text string) (*Command, error) {
	tokens, err := Tokenize(text)
	if err != nil {
		return nil, err
	}
	if len(tokens) < 1 {
		return nil, fmt.Errorf("%w: missing verb", ErrParse)
	}

	return &Command{
		Verb: strings.ToUpper(tokens[0]),
		Args: tokens[1:],
	}, nil
}

// Render returns text that parses back to c. It fails when an argument
// holds both quote characters, which no quoting can represent.
func (c *Command) Render() (string, error) {
	for i, a := range c.Args {
		if strings.ContainsRune(a, '"') && strings.ContainsRune(a, '\'') {
			return "", fmt.Errorf("%w: argument %d contains both quote characters: %s", ErrArgument, i+1, a)
		}
	}
	return c.String(), nil
}

// String renders the command with arguments quoted where needed. Use
// Render when the text must parse back.
func (c *Command) String() string {
	var sb strings.Builder
	sb.WriteString(c.Verb)
	for _, a := range c.Args {
		sb.WriteByte(' ')
		sb.WriteString(quoteArg(a))
	}
	return sb.String()
}

func quoteArg(s string) string {
	if s == "" {
		return `""`
	}
	if !strings.ContainsAny(s, " \t\r\n'\"") {
		return s
	}
	if !strings.ContainsRune(s, '"') {
		return `"` + s + `"`
	}
	return "'" + s + "'"
}
