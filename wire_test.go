package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"code-query-agent/application"
	"code-query-agent/domain"
	"code-query-agent/infrastructure/config"
	"code-query-agent/infrastructure/embedding"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Chunks.Dir = filepath.Join(dir, "codebases")
	cfg.Artifacts.Dir = filepath.Join(dir, "artifacts")
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimension = 32
	cfg.VectorStore.SQLite.Path = filepath.Join(dir, "db", "vectors.sqlite")
	cfg.LLM.Provider = "none"
	cfg.Log.Level = "error"
	return cfg
}

func TestNewAppIngestAndQuery(t *testing.T) {
	cfg := testConfig(t)
	repoDir := filepath.Join(cfg.Chunks.Dir, "alice_proj")
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		t.Fatal(err)
	}
	chunks := `[{"text":"func Add(a, b int) int { return a + b }","type":"function","startLine":1,"endLine":1}]`
	if err := os.WriteFile(filepath.Join(repoDir, "chunks.json"), []byte(chunks), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	result, err := a.ingestion.Ingest(ctx, "alice", "proj")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Count != 1 {
		t.Errorf("count = %d, want 1", result.Count)
	}
	if _, err := os.Stat(filepath.Join(cfg.Artifacts.Dir, "alice_proj", "embeddings.json")); err != nil {
		t.Errorf("artifact not written: %v", err)
	}

	hits, err := a.queries.Query(ctx, "alice", "proj", "add two ints")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if hits.Len() != 1 {
		t.Errorf("got %d hits, want 1", hits.Len())
	}

	if _, err := a.queries.Answer(ctx, "alice", "proj", "add?"); !errors.Is(err, domain.ErrComposerDisabled) {
		t.Errorf("Answer err = %v, want ErrComposerDisabled", err)
	}
}

func TestNewAppMetricsPath(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()
	if a.metricsPath() != "/metrics" {
		t.Errorf("metricsPath = %q", a.metricsPath())
	}
	a.cfg.Observability.Metrics.Enabled = false
	if a.metricsPath() != "" {
		t.Errorf("metricsPath should be empty when disabled")
	}
}

func TestNewAnswerGenerator(t *testing.T) {
	gen, err := newAnswerGenerator(config.LLMConfig{Provider: "none"})
	if err != nil || gen != nil {
		t.Errorf("none provider: gen=%v err=%v", gen, err)
	}
	if _, err := newAnswerGenerator(config.LLMConfig{Provider: "gemini"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	gen, err = newAnswerGenerator(config.LLMConfig{Provider: "openai", APIKey: "sk-test"})
	if err != nil || gen == nil {
		t.Errorf("openai provider: gen=%v err=%v", gen, err)
	}
}

func TestNewCodeAgent(t *testing.T) {
	cfg := testConfig(t)
	logger := cfg.Log.NewLogger()
	queries := application.NewQueryService(embedding.NewHashEmbeddingClient(8), nil, nil, 5, nil, logger)

	anthropic, err := newAnswerGenerator(config.LLMConfig{Provider: "anthropic", APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("anthropic generator: %v", err)
	}
	openai, err := newAnswerGenerator(config.LLMConfig{Provider: "openai", APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("openai generator: %v", err)
	}

	tests := []struct {
		name      string
		enabled   bool
		generator domain.AnswerGenerator
		want      bool
	}{
		{"anthropic", true, anthropic, true},
		{"disabled", false, anthropic, false},
		{"no generator", true, nil, false},
		{"openai has no tool use", true, openai, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agentCfg := config.AgentConfig{Enabled: tt.enabled, MaxSteps: 4, MaxThreads: 10}
			got := newCodeAgent(agentCfg, tt.generator, queries, logger)
			if (got != nil) != tt.want {
				t.Errorf("agent = %v, want present=%v", got, tt.want)
			}
		})
	}
}

func TestNewAppAgentDisabledWithoutLLM(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()
	if a.agent.Enabled() {
		t.Error("agent should be disabled when llm.provider is none")
	}
}

func TestNewAppWithTracingEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Observability.Tracing.OTLPEndpoint = "localhost:4317"
	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()
	if !a.tracing.Enabled() {
		t.Error("tracing should be enabled when an endpoint is configured")
	}
}
