package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/app"
	"github.com/rhuss/kgquery/pkg/partition"
)

type queryGraphInput struct {
	Query string   `json:"query" jsonschema:"the analytic question in natural language"`
	Dates []string `json:"dates,omitempty" jsonschema:"explicit partitions to read, as YYYYMM tokens"`
}

// newServer registers the query_graph and list_partitions tools backed by a.
func newServer(a *app.App) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "kgquery", Version: version}, nil)

	vcfg := api.ValidationConfig{
		MaxQueryLength: a.Config.Server.MaxQueryLength,
		MaxDates:       a.Config.Server.MaxDates,
	}

	mcp.AddTool(server, &mcp.Tool{
		Name: "query_graph",
		Description: "Answer an analytic question about the product graph dataset. " +
			"Returns the response envelope as JSON: the shaped data, insights, " +
			"the partitions read and the generated analysis code.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in queryGraphInput) (*mcp.CallToolResult, struct{}, error) {
		req := &api.QueryRequest{Query: in.Query, Dates: in.Dates}
		if apiErr := api.ValidateQueryRequest(req, vcfg); apiErr != nil {
			return errorResult(apiErr.Error()), struct{}{}, nil
		}

		env := a.Engine.Run(ctx, req, nil)
		res, err := jsonResult(env)
		if err != nil {
			return nil, struct{}{}, err
		}
		res.IsError = !env.ExecutionSuccess
		return res, struct{}{}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_partitions",
		Description: "List the monthly graph partitions available for querying, with their date range and total size.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, struct{}, error) {
		res, err := jsonResult(partition.Catalog(a.Config.Dataset.Path))
		return res, struct{}{}, err
	})

	return server
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
