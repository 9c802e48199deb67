// Command triage runs the email post-processing and enrichment pipeline:
// validation of LLM classification output against a trusted candidate
// catalog, span resolution, confidence adjustment, entity extraction, and
// persistence behind the write barrier.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/inboxlab/triage/internal/barrier"
	"github.com/inboxlab/triage/internal/config"
	"github.com/inboxlab/triage/internal/entities"
	triagemcp "github.com/inboxlab/triage/internal/mcp"
	"github.com/inboxlab/triage/internal/ner"
	"github.com/inboxlab/triage/internal/pipeline"
	"github.com/inboxlab/triage/internal/span"
	"github.com/inboxlab/triage/internal/triage"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "process":
		if err := runProcess(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "entities":
		if err := runEntities(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "span":
		if err := runSpan(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "mcp":
		if err := runMCP(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("triage %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`triage — email triage post-processing & enrichment

Usage:
  triage process --llm <file> --candidates <file> --text <file> --message-id <id>
                 [--subject <s>] [--from <addr>] [--dict-version <n>]
                 [--store memory|sqlite|badger] [--db <path>]
                 [--lexicons <file>] [--ner <endpoint>] [--config <path>]
  triage entities --text <file> [--lexicons <file>]
  triage span --quote <quote> --text <file>
  triage mcp [--config <path>]
  triage version
  triage help

Environment:
  TRIAGE_STORE, TRIAGE_DB_PATH, TRIAGE_TTL_SECONDS, TRIAGE_NER_ENDPOINT,
  TRIAGE_NER_MODEL, TRIAGE_LEXICONS, TRIAGE_EVIDENCE_THRESHOLD,
  TRIAGE_SPAN_WINDOW_SLACK, TRIAGE_SPAN_MIN_RATIO`)
}

type flagSet map[string]string

// parseFlags splits "--key value" pairs; bare arguments are returned in order.
func parseFlags(args []string) (flagSet, []string, error) {
	flags := flagSet{}
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "--") {
			if i+1 >= len(args) {
				return nil, nil, fmt.Errorf("flag %s requires a value", arg)
			}
			flags[strings.TrimPrefix(arg, "--")] = args[i+1]
			i++
			continue
		}
		rest = append(rest, arg)
	}
	return flags, rest, nil
}

func runProcess(args []string) error {
	flags, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	for _, required := range []string{"llm", "candidates", "text", "message-id"} {
		if flags[required] == "" {
			return fmt.Errorf("--%s is required", required)
		}
	}

	llmRaw, err := os.ReadFile(flags["llm"])
	if err != nil {
		return fmt.Errorf("reading llm output: %w", err)
	}
	candidatesRaw, err := os.ReadFile(flags["candidates"])
	if err != nil {
		return fmt.Errorf("reading candidates: %w", err)
	}
	var candidates []triage.Candidate
	if err := json.Unmarshal(candidatesRaw, &candidates); err != nil {
		return fmt.Errorf("parsing candidates: %w", err)
	}
	text, err := os.ReadFile(flags["text"])
	if err != nil {
		return fmt.Errorf("reading text: %w", err)
	}

	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath:  flags["config"],
		CLIStore:    flags["store"],
		CLIDBPath:   flags["db"],
		CLINER:      flags["ner"],
		CLILexicons: flags["lexicons"],
	})
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	extractor, err := buildExtractor(cfg)
	if err != nil {
		return err
	}

	resolver := span.NewResolver()
	resolver.WindowSlack = cfg.SpanWindowSlack.Int(span.DefaultWindowSlack)
	resolver.MinRatio = cfg.SpanMinRatio.Float(span.DefaultMinRatio)

	p := pipeline.New(pipeline.Options{
		Store:             store,
		Extractor:         extractor,
		Spans:             resolver,
		EvidenceThreshold: cfg.EvidenceThreshold.Float(span.DefaultEvidenceFailureThreshold),
	})

	dictVersion := 1
	if v := flags["dict-version"]; v != "" {
		if _, err := fmt.Sscanf(v, "%d", &dictVersion); err != nil {
			return fmt.Errorf("invalid --dict-version: %q", v)
		}
	}

	doc := triage.EmailDocument{
		MessageID:     flags["message-id"],
		FromRaw:       flags["from"],
		Subject:       flags["subject"],
		Body:          string(text),
		BodyCanonical: string(text),
	}

	out, err := p.Process(context.Background(), json.RawMessage(llmRaw), candidates, doc,
		triage.NewPipelineVersion(dictVersion, "cli"))
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runEntities(args []string) error {
	flags, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	if flags["text"] == "" {
		return fmt.Errorf("--text is required")
	}
	text, err := os.ReadFile(flags["text"])
	if err != nil {
		return fmt.Errorf("reading text: %w", err)
	}

	opts := []entities.EngineOption{}
	if flags["lexicons"] != "" {
		lex, err := entities.LoadLexicons(flags["lexicons"])
		if err != nil {
			return err
		}
		if len(lex.Regex) > 0 {
			opts = append(opts, entities.WithRegexLexicon(lex.Regex))
		}
		if len(lex.Gazetteer) > 0 {
			opts = append(opts, entities.WithGazetteer(lex.Gazetteer))
		}
	}
	engine := entities.NewEngine(opts...)

	found, warnings := engine.ExtractAll(context.Background(), string(text))
	data, err := json.MarshalIndent(map[string]any{
		"entities": found,
		"warnings": warnings,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runSpan(args []string) error {
	flags, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	if flags["quote"] == "" || flags["text"] == "" {
		return fmt.Errorf("--quote and --text are required")
	}
	text, err := os.ReadFile(flags["text"])
	if err != nil {
		return fmt.Errorf("reading text: %w", err)
	}

	resolved, status := span.NewResolver().Resolve(flags["quote"], string(text))
	data, err := json.MarshalIndent(map[string]any{
		"span":        resolved,
		"span_status": status,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runMCP(args []string) error {
	flags, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.ResolveConfig(config.ResolveOptions{ConfigPath: flags["config"]})
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	extractor, err := buildExtractor(cfg)
	if err != nil {
		return err
	}

	p := pipeline.New(pipeline.Options{Store: store, Extractor: extractor})
	s := triagemcp.NewServer(triagemcp.ServerConfig{
		Pipeline:  p,
		Extractor: extractor,
		Version:   version,
	})
	fmt.Fprintln(os.Stderr, "triage MCP server listening on stdio")
	return triagemcp.ServeStdio(s)
}

// openStore picks the barrier backend from config; default is in-memory.
func openStore(cfg config.ResolvedConfig) (barrier.KV, error) {
	switch cfg.StoreBackend.Value {
	case "", "memory":
		return barrier.NewMemoryKV(), nil
	case "sqlite":
		path := cfg.DBPath.Value
		if path == "" {
			return nil, fmt.Errorf("sqlite store requires --db or TRIAGE_DB_PATH")
		}
		return barrier.NewSQLiteKV(path)
	case "badger":
		path := cfg.DBPath.Value
		if path == "" {
			return nil, fmt.Errorf("badger store requires --db or TRIAGE_DB_PATH")
		}
		return barrier.NewBadgerKV(barrier.DefaultBadgerConfig(path))
	default:
		return nil, fmt.Errorf("unknown store backend %q (expected memory, sqlite, or badger)", cfg.StoreBackend.Value)
	}
}

// buildExtractor wires lexicons and the optional NER client from config.
func buildExtractor(cfg config.ResolvedConfig) (*entities.Engine, error) {
	opts := []entities.EngineOption{}

	if path := cfg.LexiconsPath.Value; path != "" {
		lex, err := entities.LoadLexicons(path)
		if err != nil {
			return nil, err
		}
		if len(lex.Regex) > 0 {
			opts = append(opts, entities.WithRegexLexicon(lex.Regex))
		}
		if len(lex.Gazetteer) > 0 {
			opts = append(opts, entities.WithGazetteer(lex.Gazetteer))
		}
	}

	if nerCfg := ner.ResolveConfig(cfg.NEREndpoint.Value); nerCfg != nil {
		if model := cfg.NERModel.Value; model != "" {
			nerCfg.Model = model
		}
		client, err := ner.NewClient(nerCfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, entities.WithNER(client))
	}

	return entities.NewEngine(opts...), nil
}
