package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/rhuss/kgquery/pkg/api"
)

func TestQueryRunnerFuncAdapter(t *testing.T) {
	var received *api.QueryRequest
	fn := QueryRunnerFunc(func(ctx context.Context, req *api.QueryRequest, w ResultWriter) error {
		received = req
		return nil
	})

	var _ QueryRunner = fn

	req := &api.QueryRequest{Query: "Show FOOD SBU totals for January 2022"}
	if err := fn.RunQuery(context.Background(), req, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received != req {
		t.Error("runner did not receive the request")
	}
}

func TestQueryRunnerFuncReturnsError(t *testing.T) {
	fn := QueryRunnerFunc(func(ctx context.Context, req *api.QueryRequest, w ResultWriter) error {
		return api.NewServerError("test error")
	})

	err := fn.RunQuery(context.Background(), &api.QueryRequest{}, nil)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *api.APIError, got %T", err)
	}
	if apiErr.Type != api.ErrorTypeServerError {
		t.Errorf("error type = %q, want %q", apiErr.Type, api.ErrorTypeServerError)
	}
}
