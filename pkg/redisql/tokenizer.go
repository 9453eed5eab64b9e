package redisql

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// tokenizer splits command text into arguments. Single- and double-quoted
// literals are kept whole with the quotes removed; everything else is split
// on whitespace. There is no escape syntax inside quotes.
type tokenizer struct {
	input string
	pos   int
}

// Tokenize returns the tokens of input in order.
func Tokenize(input string) ([]string, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("%w: empty command", ErrParse)
	}

	t := &tokenizer{input: input}
	var tokens []string
	for {
		tok, ok, err := t.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		tokens = append(tokens, tok)
	}

	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no tokens in command", ErrParse)
	}
	return tokens, nil
}

func (t *tokenizer) peek() (rune, int) {
	if t.pos >= len(t.input) {
		return 0, 0
	}
	return utf8.DecodeRuneInString(t.input[t.pos:])
}

func (t *tokenizer) skipWhitespace() {
	for {
		r, size := t.peek()
		if size == 0 || !unicode.IsSpace(r) {
			return
		}
		t.pos += size
	}
}

// next returns the next token, or ok=false at end of input.
func (t *tokenizer) next() (string, bool, error) {
	t.skipWhitespace()

	r, size := t.peek()
	if size == 0 {
		return "", false, nil
	}

	if isQuote(r) {
		return t.readQuoted(r)
	}

	start := t.pos
	for {
		r, size = t.peek()
		if size == 0 || unicode.IsSpace(r) || isQuote(r) {
			break
		}
		t.pos += size
	}
	return t.input[start:t.pos], true, nil
}

func (t *tokenizer) readQuoted(quote rune) (string, bool, error) {
	open := t.pos
	t.pos++ // consume opening quote

	end := strings.IndexRune(t.input[t.pos:], quote)
	if end < 0 {
		return "", false, fmt.Errorf("%w: unterminated %c quote at offset %d", ErrParse, quote, open)
	}

	lit := t.input[t.pos : t.pos+end]
	t.pos += end + 1
	return lit, true, nil
}

func isQuote(r rune) bool {
	return r == '"' || r == '\''
}
