package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// maxRequestBytes bounds POST /execute bodies.
const maxRequestBytes = 4 << 20

// Handler serves the sandbox server API: POST /execute runs a program on
// exec, GET /health reports liveness. At most maxConcurrent executions run
// at once; further requests get 429.
//
// Client limits only ever narrow the executor's own: imports outside its
// allowlist are dropped, timeout and memory are capped, and work_dir must
// lie under Config.DataRoot.
func Handler(exec *Executor, maxConcurrent int) http.Handler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	slots := make(chan struct{}, maxConcurrent)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": exec.Backend()})
	})
	mux.HandleFunc("POST /execute", func(w http.ResponseWriter, r *http.Request) {
		select {
		case slots <- struct{}{}:
			defer func() { <-slots }()
		default:
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "sandbox at capacity"})
			return
		}

		var req RemoteRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
			return
		}
		if req.Code == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code is required"})
			return
		}

		run, err := exec.confine(&req)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, exec.Execute(r.Context(), run))
	})
	return mux
}

// confine turns a client request into one bounded by the executor config.
func (e *Executor) confine(req *RemoteRequest) (Request, error) {
	run := Request{
		Code:          req.Code,
		Timeout:       e.cfg.Timeout,
		MemoryLimitMB: e.cfg.MemoryLimitMB,
	}
	if req.TimeoutSeconds > 0 && req.TimeoutSeconds < e.cfg.Timeout.Seconds() {
		run.Timeout = time.Duration(req.TimeoutSeconds * float64(time.Second))
	}
	if req.MemoryLimitMB > 0 && req.MemoryLimitMB < e.cfg.MemoryLimitMB {
		run.MemoryLimitMB = req.MemoryLimitMB
	}
	for _, name := range req.AllowedImports {
		if slices.Contains(e.cfg.AllowedImports, name) {
			run.AllowedImports = append(run.AllowedImports, name)
		}
	}
	if len(req.AllowedImports) > 0 && len(run.AllowedImports) == 0 {
		return Request{}, errors.New("allowed_imports has no module this sandbox permits")
	}

	dir, err := confineDir(e.cfg.DataRoot, req.WorkDir)
	if err != nil {
		return Request{}, err
	}
	run.WorkDir = dir
	return run, nil
}

// confineDir resolves dir against root. An empty dir means root itself; a
// server without a root accepts no work_dir at all.
func confineDir(root, dir string) (string, error) {
	if dir == "" {
		return root, nil
	}
	if root == "" {
		return "", errors.New("work_dir is not accepted by this sandbox")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving data root: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving work_dir: %w", err)
	}
	if !within(absRoot, absDir) {
		return "", fmt.Errorf("work_dir %q is outside the data root", dir)
	}
	// load_graph resolves symlinks, so the check has to hold for the real
	// paths as well.
	realRoot, errRoot := filepath.EvalSymlinks(absRoot)
	realDir, errDir := filepath.EvalSymlinks(absDir)
	if errRoot == nil && errDir == nil && !within(realRoot, realDir) {
		return "", fmt.Errorf("work_dir %q is outside the data root", dir)
	}
	return absDir, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing sandbox response failed", "error", err)
	}
}
