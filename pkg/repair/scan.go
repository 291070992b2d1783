package repair

import "strings"

// scanState carries lexical context across physical lines.
type scanState struct {
	depth  int    // open brackets
	triple string // open triple-quote delimiter
	cont   bool   // previous line ended with a backslash
}

// continuation reports whether the next physical line continues a logical
// line rather than starting one.
func (s *scanState) continuation() bool {
	return s.depth > 0 || s.triple != "" || s.cont
}

// scanLine advances s over one physical line. It returns the line with any
// trailing comment removed and whether a single-line string literal was left
// open at the end of the line.
func scanLine(line string, s *scanState) (code string, unterminated bool) {
	end := len(line)
	i := 0
loop:
	for i < len(line) {
		if s.triple != "" {
			j := strings.Index(line[i:], s.triple)
			if j < 0 {
				break loop
			}
			i += j + 3
			s.triple = ""
			continue
		}
		c := line[i]
		switch c {
		case '#':
			end = i
			break loop
		case '(', '[', '{':
			s.depth++
		case ')', ']', '}':
			if s.depth > 0 {
				s.depth--
			}
		case '\'', '"':
			delim := strings.Repeat(string(c), 3)
			if strings.HasPrefix(line[i:], delim) {
				s.triple = delim
				i += 3
				continue
			}
			j := i + 1
			closed := false
			for j < len(line) {
				if line[j] == '\\' {
					j += 2
					continue
				}
				if line[j] == c {
					closed = true
					break
				}
				j++
			}
			if !closed {
				s.cont = false
				return line, true
			}
			i = j + 1
			continue
		}
		i++
	}
	code = strings.TrimRight(line[:end], " \t\r")
	s.cont = s.triple == "" && strings.HasSuffix(code, `\`)
	return code, false
}

// indentOf returns the width of the leading whitespace, counting a tab as
// four columns.
func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

// logicalLine is the first physical line of a statement.
type logicalLine struct {
	index        int // physical line index
	indent       int
	stripped     string
	opensBlock   bool // the statement ends with a colon
	unterminated bool // a string literal is left open on the line
}

// logicalLines returns the statements of lines, skipping blank lines,
// comment-only lines and continuation lines.
func logicalLines(lines []string) []logicalLine {
	var out []logicalLine
	var st scanState
	var current *logicalLine
	for i, line := range lines {
		starts := !st.continuation()
		code, unterminated := scanLine(line, &st)
		stripped := strings.TrimSpace(code)

		if starts {
			if stripped == "" {
				current = nil
				continue
			}
			out = append(out, logicalLine{
				index:    i,
				indent:   indentOf(line),
				stripped: strings.TrimSpace(line),
			})
			current = &out[len(out)-1]
		}
		if current == nil {
			continue
		}
		if unterminated {
			current.unterminated = true
		}
		if !st.continuation() {
			current.opensBlock = strings.HasSuffix(stripped, ":")
			current = nil
		}
	}
	return out
}

var clauseKeywords = []string{"except", "finally", "elif", "else"}

// isClause reports whether a statement continues a compound statement
// (except, finally, elif, else).
func isClause(stripped string) bool {
	for _, kw := range clauseKeywords {
		if strings.HasPrefix(stripped, kw) {
			rest := stripped[len(kw):]
			if rest == "" || rest[0] == ':' || rest[0] == ' ' || rest[0] == '(' {
				return true
			}
		}
	}
	return false
}

func isHandler(stripped string) bool {
	return isClause(stripped) && (strings.HasPrefix(stripped, "except") || strings.HasPrefix(stripped, "finally"))
}
