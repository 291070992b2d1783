package repair

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// maxSyntaxErrors caps the parser diagnostics reported per validation.
const maxSyntaxErrors = 5

// Validate parses code with the Python grammar and reports whether it is
// free of syntax errors. When it is not, the returned messages name the
// failing lines and, where recognizable, the error category (unclosed try
// block, indentation, quote).
func Validate(code string) (bool, []string) {
	if strings.TrimSpace(code) == "" {
		return false, []string{"Syntax error: empty program"}
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	src := []byte(code)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return false, []string{fmt.Sprintf("Parse error: %v", err)}
	}
	defer tree.Close()

	var errs []string
	if root := tree.RootNode(); root.HasError() {
		collectSyntaxErrors(root, src, &errs)
		if len(errs) == 0 {
			errs = append(errs, "Syntax error: invalid syntax")
		}
	}
	// The grammar tolerates empty blocks and some dedent mistakes that the
	// interpreter rejects, so the structural checks always run.
	errs = append(errs, diagnose(strings.Split(code, "\n"))...)
	return len(errs) == 0, errs
}

func collectSyntaxErrors(n *sitter.Node, src []byte, errs *[]string) {
	if n == nil || len(*errs) >= maxSyntaxErrors {
		return
	}
	line := int(n.StartPoint().Row) + 1
	switch {
	case n.IsMissing():
		*errs = append(*errs, fmt.Sprintf("Syntax error at line %d: missing %q", line, n.Type()))
		return
	case n.Type() == "ERROR":
		text := strings.TrimSpace(firstLine(n.Content(src)))
		*errs = append(*errs, fmt.Sprintf("Syntax error at line %d: invalid syntax in '%s'", line, truncate(text, 60)))
		return
	}
	if !n.HasError() {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		collectSyntaxErrors(n.Child(i), src, errs)
	}
}

// diagnose reports block structure and string literal errors from the
// line structure.
func diagnose(lines []string) []string {
	var out []string
	stmts := logicalLines(lines)
	if line, ok := unclosedTry(stmts); ok {
		out = append(out, fmt.Sprintf("Syntax error at line %d: expected 'except' or 'finally' block", line))
	}
	out = append(out, indentationErrors(stmts)...)
	for _, s := range stmts {
		if s.unterminated {
			out = append(out, fmt.Sprintf("Syntax error at line %d: unterminated string literal (mismatched quote)", s.index+1))
		}
	}
	return out
}

// unclosedTry reports the first try statement that is left without an
// except or finally clause.
func unclosedTry(stmts []logicalLine) (int, bool) {
	type open struct{ line, indent int }
	var stack []open
	for _, s := range stmts {
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if s.indent > top.indent {
				break
			}
			if s.indent == top.indent && isHandler(s.stripped) {
				stack = stack[:len(stack)-1]
				break
			}
			return top.line, true
		}
		if strings.HasPrefix(s.stripped, "try:") {
			stack = append(stack, open{line: s.index + 1, indent: s.indent})
		}
	}
	if len(stack) > 0 {
		return stack[len(stack)-1].line, true
	}
	return 0, false
}

func indentationErrors(stmts []logicalLine) []string {
	var out []string
	stack := []int{0}
	expect := false
	for _, s := range stmts {
		top := stack[len(stack)-1]
		switch {
		case expect:
			if s.indent <= top {
				out = append(out, fmt.Sprintf("Indentation error at line %d: expected an indented block", s.index+1))
			} else {
				stack = append(stack, s.indent)
			}
		case s.indent > top:
			out = append(out, fmt.Sprintf("Indentation error at line %d: unexpected indent", s.index+1))
		case s.indent < top:
			for len(stack) > 1 && s.indent < stack[len(stack)-1] {
				stack = stack[:len(stack)-1]
			}
			if s.indent != stack[len(stack)-1] {
				out = append(out, fmt.Sprintf("Indentation error at line %d: unindent does not match any outer indentation level", s.index+1))
			}
		}
		expect = s.opensBlock
	}
	if expect {
		out = append(out, "Indentation error at end of program: expected an indented block")
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
