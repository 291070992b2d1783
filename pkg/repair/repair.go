// Package repair turns a drafted analysis program into one that parses.
//
// FormatAndValidate runs a fixed funnel: strip markdown fences and
// surrounding prose, apply cheap heuristic fixes (mismatched quote pairs,
// try blocks cut off by an import, the final emit statement), validate
// with the tree-sitter Python grammar, apply targeted repairs for the error
// categories found, and validate again. It never fails; callers substitute a
// fallback program when the result is still invalid. Running it on code
// that already parses and ends with the emit statement returns the code
// unchanged.
package repair

import (
	"strings"

	"github.com/rhuss/kgquery/pkg/debug"
)

// EmitStatement is the canonical last line of an analysis program.
const EmitStatement = "print(json.dumps(results))"

var codeStartPrefixes = []string{"import ", "from ", "#", "def ", "class ", "try:", "if ", "results[", "print("}

var proseEndPrefixes = []string{"Note:", "Explanation:", "This code"}

// FormatAndValidate repairs raw and reports whether the result parses,
// along with every diagnostic produced on the way.
func FormatAndValidate(raw string) (string, bool, []string) {
	code := stripFences(raw)
	if ok, _ := Validate(code); !ok {
		code = trimProse(code)
	}
	code = pairQuotes(code)
	code = closeTryBeforeImport(code)
	code = ensureEmit(code)

	valid, errs := Validate(code)
	if !valid {
		debug.Log("repair", "syntax errors, attempting repair", "errors", errs)
		code = advancedFix(code, errs)
		var remaining []string
		valid, remaining = Validate(code)
		errs = append(errs, remaining...)
	}

	debug.Log("repair", "repair finished", "valid", valid, "errors", len(errs))
	return strings.TrimRight(code, "\n") + "\n", valid, errs
}

// stripFences drops markdown fence lines.
func stripFences(code string) string {
	lines := strings.Split(code, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// trimProse cuts explanatory text before the first line that looks like
// code and after the last one.
func trimProse(code string) string {
	lines := strings.Split(code, "\n")

	start := 0
	for i, line := range lines {
		s := strings.TrimSpace(line)
		if hasAnyPrefix(s, codeStartPrefixes) || strings.Contains(s, "results = {") {
			start = i
			break
		}
	}

	end := 0
	for i := len(lines) - 1; i >= 0; i-- {
		s := strings.TrimSpace(lines[i])
		if s != "" && !hasAnyPrefix(s, proseEndPrefixes) && !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "!") && !strings.HasSuffix(s, "?") {
			end = i + 1
			break
		}
	}

	if start >= end {
		return ""
	}
	return strings.Join(lines[start:end], "\n")
}

// pairQuotes closes a string literal opened with one quote character and
// closed with the other, as in 'FOOD". Only lines left unterminated whose
// sole quotes are that pair are touched; anything busier is left to
// fixQuotes.
func pairQuotes(code string) string {
	lines := strings.Split(code, "\n")
	for _, s := range logicalLines(lines) {
		if !s.unterminated {
			continue
		}
		line := lines[s.index]
		if strings.ContainsRune(line, '\\') {
			continue
		}
		first := strings.IndexAny(line, `'"`)
		last := strings.LastIndexAny(line, `'"`)
		if first < 0 || first == last || line[first] == line[last] {
			continue
		}
		if strings.Count(line, "'")+strings.Count(line, `"`) != 2 {
			continue
		}
		lines[s.index] = line[:last] + line[first:first+1] + line[last+1:]
	}
	return strings.Join(lines, "\n")
}

// closeTryBeforeImport inserts a handler when a try block is followed by an
// import at or left of its own indentation without an except or finally in
// between, which is how truncated generations usually look.
func closeTryBeforeImport(code string) string {
	lines := strings.Split(code, "\n")
	out := make([]string, 0, len(lines))
	inTry := false
	tryIndent := 0
	for _, line := range lines {
		s := strings.TrimSpace(line)
		indent := indentOf(line)
		switch {
		case strings.HasPrefix(s, "try:"):
			inTry = true
			tryIndent = indent
		case inTry && isHandler(s) && indent == tryIndent:
			inTry = false
		case inTry && s != "" && indent <= tryIndent && (strings.HasPrefix(s, "import ") || strings.HasPrefix(s, "from ")):
			pad := strings.Repeat(" ", tryIndent)
			out = append(out, pad+"except Exception as e:", pad+"    pass")
			inTry = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// ensureEmit makes the program end with the emit statement, replacing a bare
// trailing results expression.
func ensureEmit(code string) string {
	lines := strings.Split(strings.TrimRight(code, " \t\r\n"), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	switch {
	case last == "":
		return EmitStatement
	case last == "results":
		lines[len(lines)-1] = EmitStatement
	case !strings.HasPrefix(last, "print(json.dumps(results)"):
		lines = append(lines, EmitStatement)
	}
	return strings.Join(lines, "\n")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
