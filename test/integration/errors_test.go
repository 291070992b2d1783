package integration

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/rhuss/kgquery/pkg/api"
)

func TestErrors(t *testing.T) {
	base := requireEnv(t).BaseURL()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantType   api.ErrorType
		wantParam  string
	}{
		{"invalid JSON", http.MethodPost, "/v1/queries", `{"query": `, http.StatusBadRequest, api.ErrorTypeInvalidRequest, "body"},
		{"missing query", http.MethodPost, "/v1/queries", `{"dates": ["202201"]}`, http.StatusBadRequest, api.ErrorTypeInvalidRequest, "query"},
		{"malformed date", http.MethodPost, "/v1/queries", `{"query": "FOOD totals", "dates": ["2022-01"]}`, http.StatusBadRequest, api.ErrorTypeInvalidRequest, "dates[0]"},
		{"malformed id", http.MethodGet, "/v1/queries/not-an-id", "", http.StatusBadRequest, api.ErrorTypeInvalidRequest, "id"},
		{"unknown id", http.MethodGet, "/v1/queries/qry_aaaaaaaaaaaaaaaaaaaaaaaa", "", http.StatusNotFound, api.ErrorTypeNotFound, ""},
		{"delete unknown id", http.MethodDelete, "/v1/queries/qry_aaaaaaaaaaaaaaaaaaaaaaaa", "", http.StatusNotFound, api.ErrorTypeNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, base+tt.path, bytes.NewBufferString(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("%s %s: %v", tt.method, tt.path, err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.wantStatus, readBody(t, resp))
			}

			var body api.ErrorResponse
			decodeJSON(t, resp, &body)
			if body.Error == nil {
				t.Fatal("error body missing")
			}
			if body.Error.Type != tt.wantType {
				t.Errorf("error.type = %q, want %q", body.Error.Type, tt.wantType)
			}
			if body.Error.Param != tt.wantParam {
				t.Errorf("error.param = %q, want %q", body.Error.Param, tt.wantParam)
			}
		})
	}
}

func TestUnsupportedContentType(t *testing.T) {
	base := requireEnv(t).BaseURL()

	resp, err := http.Post(base+"/v1/queries", "text/plain", strings.NewReader("FOOD totals"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", resp.StatusCode)
	}
}
