//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prompt-optimizer/internal/config"
	"github.com/sells-group/prompt-optimizer/internal/cost"
	"github.com/sells-group/prompt-optimizer/internal/llm"
	"github.com/sells-group/prompt-optimizer/internal/model"
	"github.com/sells-group/prompt-optimizer/pkg/openrouter"
)

func testConfig(baseURL string) *config.Config {
	c := &config.Config{}
	c.OpenRouter = config.OpenRouterConfig{Key: "sk-or-test", BaseURL: baseURL, Title: "test"}
	c.Agent = config.AgentConfig{Provider: config.ProviderOpenRouter, Model: "openai/gpt-5-nano", Temperature: 0.3, MaxTokens: 256}
	c.Mentor = config.MentorConfig{
		Provider: config.ProviderOpenRouter, Model: "openai/gpt-5-nano", Temperature: 0.7,
		MaxTokens: 512, MaxFailures: 5, SourceTokens: 50, Encoding: llm.RuneEncoding,
	}
	c.Optimizer = config.OptimizerConfig{WindowSize: 2, LoopCount: 3, Concurrency: 2}
	c.Retry = config.RetryConfig{MaxAttempts: 1}
	c.Pricing = cost.DefaultRates()
	return c
}

// fakeOpenRouter answers mentor calls with a fixed prompt and agent calls
// with an extraction that finds the email.
func fakeOpenRouter(t *testing.T, agentCalls, mentorCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openrouter.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		content := `{"email": "a@b.co"}`
		if strings.Contains(req.Messages[0].Content, "prompt engineer") {
			mentorCalls.Add(1)
			content = "```json\n" + `{"prompt": "Extract the email address.", "reasoning": "only emails", "field_descriptions": {"email": "an email address"}}` + "\n```"
		} else {
			agentCalls.Add(1)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openrouter.ChatCompletionResponse{
			Model:   req.Model,
			Choices: []openrouter.Choice{{Message: openrouter.Message{Role: "assistant", Content: content}}},
			Usage:   openrouter.Usage{PromptTokens: 100, CompletionTokens: 10},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildOptimizer_EndToEnd(t *testing.T) {
	var agentCalls, mentorCalls atomic.Int32
	srv := fakeOpenRouter(t, &agentCalls, &mentorCalls)

	c := testConfig(srv.URL)
	tracker := llm.NewUsageTracker(cost.NewCalculator(c.Pricing))
	opt, err := buildOptimizer(c, tracker)
	require.NoError(t, err)

	samples := []model.Sample{
		{SourceText: "mail a@b.co", GroundTruth: model.Record{"email": "a@b.co"}},
		{SourceText: "reach a@b.co", GroundTruth: model.Record{"email": "a@b.co"}},
	}
	results, err := opt.Run(context.Background(), samples, "")
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "Extract the email address.", results[0].Prompt)
	assert.InDelta(t, 1.0, results[0].Accuracy, 1e-9)
	assert.Equal(t, map[string]string{"email": "an email address"}, results[0].FieldDescriptions)
	assert.Equal(t, int32(1), mentorCalls.Load())
	assert.Equal(t, int32(2), agentCalls.Load())

	total := tracker.Total()
	assert.Equal(t, 3, total.Calls)
	assert.Equal(t, 300, total.InputTokens)
	assert.Greater(t, total.Cost, 0.0)
}

func TestNewChatClient_UnknownProvider(t *testing.T) {
	c := testConfig("http://localhost")
	_, err := newChatClient(c, "cohere", "m", llm.NewUsageTracker(cost.NewCalculator(c.Pricing)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}

func TestNewChatClient_Anthropic(t *testing.T) {
	c := testConfig("http://localhost")
	c.Anthropic.Key = "sk-ant-test"
	c.Anthropic.CacheTTL = "5m"
	client, err := newChatClient(c, config.ProviderAnthropic, "claude-haiku-4-5-20251001", llm.NewUsageTracker(cost.NewCalculator(c.Pricing)))
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNewLimiter(t *testing.T) {
	unlimited := newLimiter(config.RateLimitConfig{})
	assert.True(t, unlimited.Allow())

	limited := newLimiter(config.RateLimitConfig{RequestsPerSecond: 1})
	assert.Equal(t, 1, limited.Burst())
}

// newOptimizeFlags returns a command carrying the optimize flags, parsed
// from args.
func newOptimizeFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "optimize"}
	f := cmd.Flags()
	f.String("data", "", "")
	f.Int("samples", 0, "")
	f.String("prompt", "", "")
	f.String("prompt-file", "", "")
	f.Int("window-size", 0, "")
	f.Int("loops", 0, "")
	f.Int("concurrency", 0, "")
	require.NoError(t, f.Parse(args))
	return cmd
}

func TestApplyOptimizeFlags(t *testing.T) {
	cmd := newOptimizeFlags(t, "--data", "x.json", "--loops", "7", "--samples", "0")

	c := testConfig("")
	c.Dataset = config.DatasetConfig{Path: "default.jsonl", Limit: 5}
	require.NoError(t, applyOptimizeFlags(cmd, c))

	assert.Equal(t, "x.json", c.Dataset.Path)
	assert.Equal(t, 0, c.Dataset.Limit)
	assert.Equal(t, 7, c.Optimizer.LoopCount)
	assert.Equal(t, 2, c.Optimizer.WindowSize)
}

func TestApplyOptimizeFlags_PromptConflict(t *testing.T) {
	cmd := newOptimizeFlags(t, "--prompt", "a", "--prompt-file", "b")

	err := applyOptimizeFlags(cmd, testConfig(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestResolvePrompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("  Extract names.\n"), 0o600))

	cmd := newOptimizeFlags(t, "--prompt-file", path)

	p, err := resolvePrompt(cmd)
	require.NoError(t, err)
	assert.Equal(t, "Extract names.", p)

	p, err = resolvePrompt(newOptimizeFlags(t, "--prompt", " inline "))
	require.NoError(t, err)
	assert.Equal(t, "inline", p)
}

func TestOptimizerConfig(t *testing.T) {
	c := testConfig("")
	c.Optimizer.MaxFailures = 4
	c.Optimizer.CaseSensitive = true

	oc := optimizerConfig(c)
	assert.Equal(t, 3, oc.MaxRounds)
	assert.Equal(t, 2, oc.WindowSize)
	assert.Equal(t, 2, oc.Concurrency)
	assert.Equal(t, 4, oc.MaxFailures)
	assert.True(t, oc.CaseSensitive)
	assert.NoError(t, oc.Validate())
}

func TestRunSummary(t *testing.T) {
	results := []model.OptimizationResult{
		{Iteration: 1, Prompt: "a", Accuracy: 0.5},
		{Iteration: 2, Prompt: "b", Accuracy: 0.9},
		{Iteration: 3, Prompt: "c", Accuracy: 0.7},
	}
	s := runSummary(results, model.TokenUsage{Calls: 9})

	assert.Equal(t, 3, s.Iterations)
	assert.Equal(t, 2, s.BestIteration)
	assert.Equal(t, "b", s.BestPrompt)
	assert.InDelta(t, 0.7, s.FinalAccuracy, 1e-9)
	assert.Equal(t, 9, s.TokenUsage.Calls)

	empty := runSummary(nil, model.TokenUsage{})
	assert.Equal(t, 0, empty.Iterations)
	assert.Empty(t, empty.BestPrompt)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, []model.OptimizationResult{{Iteration: 1, Prompt: "only", Accuracy: 1}})
	out := buf.String()
	assert.Contains(t, out, "OPTIMIZATION METRICS")
	assert.Contains(t, out, "Iter  1:")
	assert.Contains(t, out, "Best prompt (iteration 1):\nonly")

	buf.Reset()
	printSummary(&buf, nil)
	assert.Equal(t, "No iterations completed.\n", buf.String())
}

func TestRunSpec(t *testing.T) {
	c := testConfig("")
	c.Dataset.Path = "pii.jsonl"
	spec := runSpec(c, 5, "p")
	assert.Equal(t, model.RunSpec{
		Dataset: "pii.jsonl", Samples: 5, InitialPrompt: "p", MaxRounds: 3, WindowSize: 2,
		AgentModel: "openai/gpt-5-nano", MentorModel: "openai/gpt-5-nano",
	}, spec)
}
