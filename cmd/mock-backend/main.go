// Command mock-backend runs a deterministic OpenAI-compatible Chat
// Completions server for tests and demos. Classification prompts are
// answered with the keyword classifier's analysis, synthesis prompts with
// the code template embedded in the prompt.
//
// Configuration:
//
//	MOCK_PORT - Listen port (default: 9090)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/kgquery/pkg/classify"
	"github.com/rhuss/kgquery/pkg/schema"
	"github.com/rhuss/kgquery/pkg/temporal"
)

const modelName = "kgquery-mock"

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newMux(classify.New(schema.Default(), temporal.New())),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func newMux(classifier *classify.Classifier) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		handleChatCompletions(w, r, classifier)
	})
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	return mux
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func handleChatCompletions(w http.ResponseWriter, r *http.Request, classifier *classify.Classifier) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"message": "invalid request: " + err.Error(), "type": "invalid_request_error"},
		})
		return
	}

	prompt := lastUserMessage(req.Messages)
	if prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"message": "no user message", "type": "invalid_request_error"},
		})
		return
	}

	reply := respond(r.Context(), classifier, prompt)
	model := req.Model
	if model == "" {
		model = modelName
	}
	promptTokens := len(strings.Fields(prompt))
	completionTokens := len(strings.Fields(reply))
	writeJSON(w, http.StatusOK, chatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: reply},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	})
}

// respond picks the reply for a prompt by its leading instruction.
func respond(ctx context.Context, classifier *classify.Classifier, prompt string) string {
	switch {
	case strings.HasPrefix(prompt, "Analyze this query"):
		analysis := classifier.Analyze(ctx, quotedQuery(prompt))
		if analysis.Entities == nil {
			analysis.Entities = []string{}
		}
		if analysis.TargetNodeTypes == nil {
			analysis.TargetNodeTypes = []string{}
		}
		out, err := json.Marshal(analysis)
		if err != nil {
			return "{}"
		}
		return string(out)
	case strings.HasPrefix(prompt, "Generate Python code"):
		code, ok := fencedBlock(prompt)
		if !ok {
			return "I could not find a code template."
		}
		return "Here is the analysis program:\n\n```python\n" + code + "```\n"
	default:
		return "ok"
	}
}

// quotedQuery returns the text of the `Query: "..."` line.
func quotedQuery(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if rest, ok := strings.CutPrefix(line, "Query: "); ok {
			return strings.Trim(rest, `"`)
		}
	}
	return ""
}

// fencedBlock returns the body of the first ```python block.
func fencedBlock(prompt string) (string, bool) {
	_, after, ok := strings.Cut(prompt, "```python\n")
	if !ok {
		return "", false
	}
	body, _, ok := strings.Cut(after, "```")
	return body, ok
}

func handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": modelName, "object": "model", "owned_by": "kgquery"},
		},
	})
}

func lastUserMessage(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "error", fmt.Sprint(err))
	}
}
