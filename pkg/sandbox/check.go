package sandbox

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// DefaultAllowedImports are the top-level modules programs may import.
var DefaultAllowedImports = []string{"json", "networkx", "pandas", "numpy", "datetime", "collections", "itertools", "math"}

// deniedPattern is one entry of the static screen. Token names what the
// rejection message reports.
type deniedPattern struct {
	token string
	re    *regexp.Regexp
}

func deny(token, expr string) deniedPattern {
	return deniedPattern{token: token, re: regexp.MustCompile(expr)}
}

// deniedPatterns screen filesystem, process, network and reflection access.
// The screen is advisory: the wrapper and process limits are what actually
// confine a program.
var deniedPatterns = []deniedPattern{
	deny("open(", `\bopen\s*\(`),
	deny("file(", `\bfile\s*\(`),
	deny("os.", `\bos\s*\.`),
	deny("sys.", `\bsys\s*\.`),
	deny("subprocess", `\bsubprocess\b`),
	deny("eval(", `\beval\s*\(`),
	deny("exec(", `\bexec\s*\(`),
	deny("compile(", `\bcompile\s*\(`),
	deny("__import__", `__import__`),
	deny("urllib", `\burllib`),
	deny("requests", `\brequests\b`),
	deny("socket", `\bsocket\b`),
	deny("http", `\bhttp`),
	deny("globals()", `\bglobals\s*\(`),
	deny("locals()", `\blocals\s*\(`),
	deny("vars()", `\bvars\s*\(`),
	deny("dir()", `\bdir\s*\(`),
	deny("getattr", `\bgetattr\b`),
	deny("setattr", `\bsetattr\b`),
	deny("delattr", `\bdelattr\b`),
	deny("hasattr", `\bhasattr\b`),
}

var (
	fromImportRe = regexp.MustCompile(`(?m)^[ \t]*from[ \t]+(\.*[\w.]*)[ \t]+import\b`)
	importRe     = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+([^#\n;]+)`)
)

// RejectionError explains why a program was refused before execution.
type RejectionError struct {
	// Module is set when a disallowed import caused the rejection.
	Module string
	// Pattern is set when a denied token caused the rejection.
	Pattern string
}

func (e *RejectionError) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("Import of '%s' is not allowed", e.Module)
	}
	return fmt.Sprintf("Potentially dangerous pattern detected: %s", e.Pattern)
}

// Check screens code statically. It returns a *RejectionError for the first
// denied token or for the first import outside allowed.
func Check(code string, allowed []string) error {
	if token, ok := DeniedToken(code); ok {
		return &RejectionError{Pattern: token}
	}
	for _, mod := range ImportedModules(code) {
		if !slices.Contains(allowed, mod) {
			return &RejectionError{Module: mod}
		}
	}
	return nil
}

// DeniedToken returns the first screened token found in code.
func DeniedToken(code string) (string, bool) {
	for _, p := range deniedPatterns {
		if p.re.MatchString(code) {
			return p.token, true
		}
	}
	return "", false
}

// ImportedModules lists the top-level module of every import statement in
// code, in order of appearance. Relative imports are reported as written.
func ImportedModules(code string) []string {
	type found struct {
		pos  int
		name string
	}
	var mods []found
	for _, m := range fromImportRe.FindAllStringSubmatchIndex(code, -1) {
		name := code[m[2]:m[3]]
		if !strings.HasPrefix(name, ".") {
			name, _, _ = strings.Cut(name, ".")
		}
		mods = append(mods, found{pos: m[0], name: name})
	}
	for _, m := range importRe.FindAllStringSubmatchIndex(code, -1) {
		for _, item := range strings.Split(code[m[2]:m[3]], ",") {
			fields := strings.Fields(item)
			if len(fields) == 0 {
				continue
			}
			name, _, _ := strings.Cut(strings.Trim(fields[0], "()"), ".")
			if name != "" {
				mods = append(mods, found{pos: m[0], name: name})
			}
		}
	}
	slices.SortStableFunc(mods, func(a, b found) int { return a.pos - b.pos })

	out := make([]string, len(mods))
	for i, m := range mods {
		out[i] = m.name
	}
	return out
}
