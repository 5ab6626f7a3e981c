package token

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Tokenizer produces a lazy, non-restartable stream of Token values from an
// io.Reader. Lines are read on demand from the underlying bufio.Scanner;
// tokens peeled off the current line are buffered and handed out one at a
// time. A one-token lookahead buffer backs Peek and TakeIf.
type Tokenizer struct {
	scanner *bufio.Scanner
	path    string

	lineNo          int
	inBlockComment  bool
	lineTokens      []scannedToken
	lineTokenCursor int

	hasPending bool
	pending    Token
	pendingAt  Descriptor

	last Descriptor
}

type scannedToken struct {
	token  Token
	column int
}

// NewTokenizer wraps r as a Tokenizer. path is used only for diagnostics.
func NewTokenizer(path string, r io.Reader) *Tokenizer {
	return &Tokenizer{scanner: bufio.NewScanner(r), path: path}
}

// Descriptor returns the position of the most recently returned token (via
// Next or TakeIf); Peek does not affect it.
func (t *Tokenizer) Descriptor() Descriptor { return t.last }

// Next consumes and returns the next token in the stream.
func (t *Tokenizer) Next() (Token, error) {
	if t.hasPending {
		tok := t.pending
		t.last = t.pendingAt
		t.hasPending = false
		return tok, nil
	}

	tok, desc, err := t.fetch()
	if err != nil {
		return Token{}, err
	}
	t.last = desc
	return tok, nil
}

// Peek returns the next token without consuming it.
func (t *Tokenizer) Peek() (Token, error) {
	if t.hasPending {
		return t.pending, nil
	}

	tok, desc, err := t.fetch()
	if err != nil {
		return Token{}, err
	}
	t.pending, t.pendingAt, t.hasPending = tok, desc, true
	return tok, nil
}

// TakeIf consumes and returns the next token only if pred holds for it.
func (t *Tokenizer) TakeIf(pred func(Token) bool) (Token, bool, error) {
	tok, err := t.Peek()
	if err != nil {
		return Token{}, false, err
	}
	if !pred(tok) {
		return Token{}, false, nil
	}
	// Safe: Peek has already cached 'tok' as pending, Next just drains it.
	_, _ = t.Next()
	return tok, true, nil
}

// fetch pulls the next token off the current line, reading further lines
// (and carrying block-comment state across them) as needed.
func (t *Tokenizer) fetch() (Token, Descriptor, error) {
	for t.lineTokenCursor >= len(t.lineTokens) {
		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return Token{}, Descriptor{}, fmt.Errorf("%s: error reading source: %w", t.path, err)
			}
			if t.inBlockComment {
				return Token{}, Descriptor{}, fmt.Errorf("%s:%d: unterminated block comment", t.path, t.lineNo)
			}
			return Token{}, Descriptor{}, io.EOF
		}

		t.lineNo++
		toks, carry, err := scanLine(t.scanner.Text(), t.inBlockComment)
		if err != nil {
			return Token{}, Descriptor{}, fmt.Errorf("%s:%d: %w", t.path, t.lineNo, err)
		}
		t.inBlockComment = carry
		t.lineTokens = toks
		t.lineTokenCursor = 0
	}

	st := t.lineTokens[t.lineTokenCursor]
	t.lineTokenCursor++
	return st.token, Descriptor{Token: st.token, Path: t.path, Line: t.lineNo, Column: st.column}, nil
}

// scanLine tokenizes a single line of source. inBlockComment indicates
// whether the line begins inside a /* ... */ comment opened on a previous
// line; the returned bool reports whether a block comment is still open
// when the line ends, to be carried into the next call.
func scanLine(line string, inBlockComment bool) ([]scannedToken, bool, error) {
	var tokens []scannedToken
	cursor := 0

	if inBlockComment {
		if end := strings.Index(line, "*/"); end >= 0 {
			cursor = end + 2
			inBlockComment = false
		} else {
			return tokens, true, nil // whole line consumed by the comment
		}
	}

	for cursor < len(line) {
		c := line[cursor]

		switch {
		case c == ' ' || c == '\t' || c == '\r':
			cursor++

		case c == '"':
			start := cursor + 1
			end := strings.IndexByte(line[start:], '"')
			if end < 0 {
				return nil, false, fmt.Errorf("unterminated string literal starting at column %d", cursor+1)
			}
			value := line[start : start+end]
			tokens = append(tokens, scannedToken{Token{Kind: StringConstKind, StringValue: value}, cursor + 1})
			cursor = start + end + 1

		case strings.HasPrefix(line[cursor:], "//"):
			cursor = len(line) // rest of the line is a comment

		case strings.HasPrefix(line[cursor:], "/*"):
			if end := strings.Index(line[cursor+2:], "*/"); end >= 0 {
				cursor = cursor + 2 + end + 2
			} else {
				return tokens, true, nil // block comment continues past this line
			}

		case isIdentStart(c):
			start := cursor
			for cursor < len(line) && isIdentChar(line[cursor]) {
				cursor++
			}
			word := line[start:cursor]
			if Keywords[word] {
				tokens = append(tokens, scannedToken{Token{Kind: KeywordKind, Keyword: word}, start + 1})
			} else {
				tokens = append(tokens, scannedToken{Token{Kind: IdentifierKind, Identifier: word}, start + 1})
			}

		case isDigit(c):
			start := cursor
			for cursor < len(line) && isDigit(line[cursor]) {
				cursor++
			}
			digits := line[start:cursor]
			value, err := strconv.ParseUint(digits, 10, 16)
			if err != nil {
				return nil, false, fmt.Errorf("integer constant %q out of range at column %d: %w", digits, start+1, err)
			}
			tokens = append(tokens, scannedToken{Token{Kind: IntConstKind, IntValue: uint16(value)}, start + 1})

		case strings.ContainsRune(Symbols, rune(c)):
			tokens = append(tokens, scannedToken{Token{Kind: SymbolKind, Symbol: rune(c)}, cursor + 1})
			cursor++

		default:
			return nil, false, fmt.Errorf("unrecognized character %q at column %d", c, cursor+1)
		}
	}

	return tokens, inBlockComment, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentChar(c byte) bool { return isIdentStart(c) || isDigit(c) }
