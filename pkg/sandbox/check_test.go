package sandbox

import (
	"errors"
	"slices"
	"testing"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		wantModule  string
		wantPattern string
	}{
		{name: "allowed imports", code: "import json\nimport networkx as nx\nfrom collections import Counter\nprint(json.dumps({}))\n"},
		{name: "load_graph is fine", code: "graph = load_graph('/data/202201.json')\n"},
		{name: "identifier containing a denied word", code: "reopen_count = 1\nprofile = {'dir': 'north'}\n"},
		{name: "open call", code: "f = open('/etc/passwd')\n", wantPattern: "open("},
		{name: "os attribute", code: "import json\nos.system('id')\n", wantPattern: "os."},
		{name: "subprocess", code: "import subprocess\n", wantPattern: "subprocess"},
		{name: "eval", code: "x = eval('1+1')\n", wantPattern: "eval("},
		{name: "dunder import", code: "m = __import__('os')\n", wantPattern: "__import__"},
		{name: "getattr", code: "getattr(results, 'x')\n", wantPattern: "getattr"},
		{name: "http", code: "url = 'https://example.com'\n", wantPattern: "http"},
		{name: "disallowed import", code: "import pickle\n", wantModule: "pickle"},
		{name: "disallowed from import", code: "from shutil import rmtree\n", wantModule: "shutil"},
		{name: "second module in list", code: "import json, pickle\n", wantModule: "pickle"},
		{name: "relative import", code: "from . import helpers\n", wantModule: "."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.code, DefaultAllowedImports)
			if tt.wantModule == "" && tt.wantPattern == "" {
				if err != nil {
					t.Fatalf("Check() = %v, want nil", err)
				}
				return
			}
			var rej *RejectionError
			if !errors.As(err, &rej) {
				t.Fatalf("Check() = %v, want *RejectionError", err)
			}
			if rej.Module != tt.wantModule || rej.Pattern != tt.wantPattern {
				t.Errorf("rejection = {Module:%q Pattern:%q}, want {Module:%q Pattern:%q}",
					rej.Module, rej.Pattern, tt.wantModule, tt.wantPattern)
			}
		})
	}
}

func TestRejectionErrorMessage(t *testing.T) {
	if got, want := (&RejectionError{Module: "pickle"}).Error(), "Import of 'pickle' is not allowed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got, want := (&RejectionError{Pattern: "open("}).Error(), "Potentially dangerous pattern detected: open("; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestCheckCustomAllowList(t *testing.T) {
	if err := Check("import math\n", []string{"json"}); err == nil {
		t.Error("Check() = nil, want rejection of math")
	}
	if err := Check("import json\n", []string{"json"}); err != nil {
		t.Errorf("Check() = %v, want nil", err)
	}
}

func TestImportedModules(t *testing.T) {
	code := `import json
from collections import defaultdict
import numpy as np, pandas as pd
    import itertools
from datetime.timezone import utc
# import pickle is just a comment
x = 1
`
	want := []string{"json", "collections", "numpy", "pandas", "itertools", "datetime"}
	if got := ImportedModules(code); !slices.Equal(got, want) {
		t.Errorf("ImportedModules() = %v, want %v", got, want)
	}
}
