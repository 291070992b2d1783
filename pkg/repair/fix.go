package repair

import (
	"strings"
)

// advancedFix applies the repairs matching the reported error categories,
// in a fixed order: try blocks, indentation, quotes.
func advancedFix(code string, errs []string) string {
	lines := strings.Split(code, "\n")
	if anyError(errs, func(e string) bool { return strings.Contains(e, "expected") && strings.Contains(e, "except") }) {
		lines = fixIncompleteTry(lines)
	}
	if anyError(errs, func(e string) bool { return strings.Contains(strings.ToLower(e), "indent") }) {
		lines = fixIndentation(lines)
	}
	if anyError(errs, func(e string) bool { return strings.Contains(strings.ToLower(e), "quote") }) {
		lines = fixQuotes(lines)
	}
	return strings.Join(lines, "\n")
}

func anyError(errs []string, pred func(string) bool) bool {
	for _, e := range errs {
		if pred(e) {
			return true
		}
	}
	return false
}

func handlerLines(indent int) []string {
	pad := strings.Repeat(" ", indent)
	return []string{pad + "except Exception as e:", pad + "    results['error'] = str(e)"}
}

// fixIncompleteTry closes every try block that is left without a handler,
// recording the exception in results.
func fixIncompleteTry(lines []string) []string {
	var stack []int
	insertBefore := map[int][]int{}
	for _, s := range logicalLines(lines) {
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if s.indent > top {
				break
			}
			stack = stack[:len(stack)-1]
			if s.indent == top && isHandler(s.stripped) {
				break
			}
			insertBefore[s.index] = append(insertBefore[s.index], top)
		}
		if strings.HasPrefix(s.stripped, "try:") {
			stack = append(stack, s.indent)
		}
	}

	out := make([]string, 0, len(lines)+2*len(stack))
	for i, line := range lines {
		for _, indent := range insertBefore[i] {
			out = append(out, handlerLines(indent)...)
		}
		out = append(out, line)
	}
	// Close what is still open, innermost first, before any trailing blank
	// lines.
	tail := len(out)
	for tail > 0 && strings.TrimSpace(out[tail-1]) == "" {
		tail--
	}
	var closing []string
	for i := len(stack) - 1; i >= 0; i-- {
		closing = append(closing, handlerLines(stack[i])...)
	}
	return append(out[:tail], closing...)
}

// fixIndentation re-indents statements with four spaces per block level,
// tracking the block depth from colons and dedents. Continuation lines are
// left alone.
func fixIndentation(lines []string) []string {
	stmts := logicalLines(lines)
	byIndex := make(map[int]logicalLine, len(stmts))
	for _, s := range stmts {
		byIndex[s.index] = s
	}

	out := make([]string, len(lines))
	stack := []int{0}
	expect := false
	for i, line := range lines {
		s, ok := byIndex[i]
		if !ok {
			if strings.TrimSpace(line) == "" {
				out[i] = ""
			} else {
				out[i] = line
			}
			continue
		}

		top := stack[len(stack)-1]
		switch {
		case expect:
			if s.indent > top {
				stack = append(stack, s.indent)
			} else {
				stack = append(stack, top+1)
			}
		case s.indent < top:
			for len(stack) > 1 && s.indent < stack[len(stack)-1] {
				stack = stack[:len(stack)-1]
			}
		case isClause(s.stripped) && len(stack) > 1:
			// A clause written at its body's depth belongs one level out.
			stack = stack[:len(stack)-1]
		}

		out[i] = strings.Repeat("    ", len(stack)-1) + s.stripped
		expect = s.opensBlock
	}
	return out
}

// fixQuotes rewrites, on each line that leaves a string open, the minority
// quote character to the majority one.
func fixQuotes(lines []string) []string {
	flagged := map[int]bool{}
	for _, s := range logicalLines(lines) {
		if s.unterminated {
			flagged[s.index] = true
		}
	}

	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = line
		if !flagged[i] {
			continue
		}
		single := strings.Count(line, "'")
		double := strings.Count(line, `"`)
		if single == 0 || double == 0 {
			continue
		}
		if single > double {
			out[i] = strings.ReplaceAll(line, `"`, "'")
		} else {
			out[i] = strings.ReplaceAll(line, "'", `"`)
		}
	}
	return out
}
