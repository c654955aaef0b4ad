package compiler

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Tokenizer: one source line in, ordered tokens out
// ---------------------------------------------------------------------------

// Token is one whitespace-separated word of a source line.
type Token struct {
	Text   string
	Quoted bool // came from a "..." literal; escapes already applied
	Column int  // 1-based byte column of the token start
}

// IsComment reports whether a trimmed line is blank or a comment.
func IsComment(line string) bool {
	line = strings.TrimSpace(line)
	return line == "" || strings.HasPrefix(line, "#")
}

// Tokenize splits one source line. Whitespace separates tokens; a double
// quote starts a literal that may contain whitespace and the escapes \",
// \n, \t and \\. An unterminated literal is an error.
func Tokenize(line string, lineNo int) ([]Token, error) {
	var tokens []Token
	var buf strings.Builder
	start := 0

	flush := func() {
		if buf.Len() > 0 {
			tokens = append(tokens, Token{Text: buf.String(), Column: start + 1})
			buf.Reset()
		}
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			flush()

		case c == '"':
			flush()
			text, end, ok := scanQuoted(line, i+1)
			if !ok {
				return nil, &Error{Line: lineNo, Column: i + 1, Msg: "unterminated string literal"}
			}
			tokens = append(tokens, Token{Text: text, Quoted: true, Column: i + 1})
			i = end

		default:
			if buf.Len() == 0 {
				start = i
			}
			buf.WriteByte(c)
		}
	}
	flush()
	return tokens, nil
}

// scanQuoted reads a literal body starting after the opening quote. It
// returns the unescaped text and the index of the closing quote.
func scanQuoted(line string, from int) (string, int, bool) {
	var sb strings.Builder
	for i := from; i < len(line); i++ {
		c := line[i]
		switch c {
		case '"':
			return sb.String(), i, true
		case '\\':
			if i+1 >= len(line) {
				return "", 0, false
			}
			i++
			switch line[i] {
			case '"':
				sb.WriteByte('"')
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			default:
				sb.WriteByte('\\')
				sb.WriteByte(line[i])
			}
		default:
			sb.WriteByte(c)
		}
	}
	return "", 0, false
}
