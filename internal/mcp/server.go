// Package mcp provides a Model Context Protocol server for the triage
// pipeline.
//
// It exposes post-processing as MCP tools (process a classification, extract
// entities, resolve a span) over stdio transport, so agent frontends can gate
// their own LLM output through the same trust boundary the batch pipeline
// uses.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/inboxlab/triage/internal/entities"
	"github.com/inboxlab/triage/internal/pipeline"
	"github.com/inboxlab/triage/internal/span"
	"github.com/inboxlab/triage/internal/triage"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Pipeline  *pipeline.Pipeline
	Extractor *entities.Engine
	Resolver  *span.Resolver
	Version   string
}

// NewServer creates a configured MCP server with all triage tools.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = pipeline.New(pipeline.Options{})
	}
	if cfg.Extractor == nil {
		cfg.Extractor = entities.NewEngine()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = span.NewResolver()
	}

	s := server.NewMCPServer(
		"Triage",
		ver,
		server.WithToolCapabilities(false),
	)

	registerProcessTool(s, cfg.Pipeline)
	registerEntitiesTool(s, cfg.Extractor)
	registerSpanTool(s, cfg.Resolver)

	return s
}

func registerProcessTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("triage_process",
		mcp.WithDescription("Validate raw LLM triage output against a trusted candidate catalog and canonical email text, then enrich it: span resolution, confidence adjustment, entity extraction, observations. Rejects schema violations and invented references."),
		mcp.WithString("llm_output",
			mcp.Required(),
			mcp.Description("Raw LLM classification output as a JSON string"),
		),
		mcp.WithString("candidates",
			mcp.Required(),
			mcp.Description("JSON array of trusted candidate keywords"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Canonical email body text"),
		),
		mcp.WithString("message_id",
			mcp.Required(),
			mcp.Description("Email message id"),
		),
		mcp.WithString("subject",
			mcp.Description("Email subject (used by priority scoring)"),
		),
		mcp.WithString("from",
			mcp.Description("Sender address (used by customer status)"),
		),
		mcp.WithNumber("dictionary_version",
			mcp.Description("Dictionary version for observations (default: 1)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		llmOutput, err := req.RequireString("llm_output")
		if err != nil {
			return mcp.NewToolResultError("llm_output is required"), nil
		}
		candidatesJSON, err := req.RequireString("candidates")
		if err != nil {
			return mcp.NewToolResultError("candidates is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}
		messageID, err := req.RequireString("message_id")
		if err != nil {
			return mcp.NewToolResultError("message_id is required"), nil
		}

		var candidates []triage.Candidate
		if err := json.Unmarshal([]byte(candidatesJSON), &candidates); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid candidates JSON: %v", err)), nil
		}

		doc := triage.EmailDocument{
			MessageID:     messageID,
			Body:          text,
			BodyCanonical: text,
		}
		if subject, err := req.RequireString("subject"); err == nil {
			doc.Subject = subject
		}
		if from, err := req.RequireString("from"); err == nil {
			doc.FromRaw = from
		}

		dictVersion := 1
		if v, err := req.RequireFloat("dictionary_version"); err == nil && v > 0 {
			dictVersion = int(v)
		}
		version := triage.NewPipelineVersion(dictVersion, "mcp")

		out, err := p.Process(ctx, llmOutput, candidates, doc, version)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("processing failed: %v", err)), nil
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerEntitiesTool(s *server.MCPServer, engine *entities.Engine) {
	tool := mcp.NewTool("triage_extract_entities",
		mcp.WithDescription("Extract entities (emails, fiscal codes, IBANs, phone numbers, gazetteer terms) from text with the deterministic regex+NER+lexicon pipeline."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Text to extract entities from"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}
		found, warnings := engine.ExtractAll(ctx, text)
		data, err := json.MarshalIndent(map[string]any{
			"entities": found,
			"warnings": warnings,
		}, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerSpanTool(s *server.MCPServer, resolver *span.Resolver) {
	tool := mcp.NewTool("triage_resolve_span",
		mcp.WithDescription("Locate a quote in canonical text: exact substring first, then fuzzy similarity matching. Returns the byte span and match status."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("quote",
			mcp.Required(),
			mcp.Description("Quote to locate"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Canonical text to search in"),
		),
	)

	s.AddTool(tool, func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		quote, err := req.RequireString("quote")
		if err != nil {
			return mcp.NewToolResultError("quote is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}
		resolved, status := resolver.Resolve(quote, text)
		data, err := json.MarshalIndent(map[string]any{
			"span":        resolved,
			"span_status": status,
		}, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

// ServeStdio runs the server over stdio until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
