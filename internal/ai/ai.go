// Package ai layers optional LLM enhancements over vector search:
// reranking hits by judged relevance and synthesizing a cited answer
// from the top results. Both are strictly best-effort; callers treat
// every error here as "skip the enhancement".
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quillstack/docdex/internal/config"
	dexerrors "github.com/quillstack/docdex/internal/errors"
)

const (
	rerankMaxTokens    = 300
	synthesisMaxTokens = 1024
	snippetLimit       = 200
)

// chatClient is the slice of the OpenAI client the service needs.
// Tests substitute a fake.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Snippet is one search hit handed to the AI layer.
type Snippet struct {
	Index    int
	Filename string
	Unit     int
	Text     string
}

// Usage reports token spend for one completion.
type Usage struct {
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
}

// Service answers rerank and synthesis requests against a chat model.
type Service struct {
	client         chatClient
	rerankModel    string
	synthesisModel string
}

// NewService builds a service from config. A missing API key is a
// config error so the caller can decide to run without AI.
func NewService(cfg config.AIConfig) (*Service, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, dexerrors.Newf(dexerrors.ErrCodeConfigInvalid,
			"OPENAI_API_KEY is not set").
			WithSuggestion("export OPENAI_API_KEY or disable AI features")
	}
	return &Service{
		client:         openai.NewClient(key),
		rerankModel:    cfg.Model,
		synthesisModel: cfg.SynthesisModel,
	}, nil
}

// Rerank asks the model to reorder snippets by actual relevance to the
// query and returns at most topK snippet indices, best first. An
// unparseable model response falls back to the original order rather
// than failing the search.
func (s *Service) Rerank(ctx context.Context, query string, snippets []Snippet, topK int) ([]int, *Usage, error) {
	if len(snippets) == 0 {
		return nil, nil, nil
	}

	var b strings.Builder
	for _, sn := range snippets {
		fmt.Fprintf(&b, "[%d] (file: %s) %s\n\n", sn.Index, sn.Filename, truncate(sn.Text, snippetLimit))
	}

	prompt := fmt.Sprintf(`You are a search result reranking assistant. Given a query and numbered search results, return the indices of the most relevant results ordered from most to least relevant.

Rules:
- Return ONLY a JSON array of index numbers, e.g. [3, 1, 7, 2]
- Return at most %d indices
- Rank by actual relevance to the query, not just keyword overlap
- Exclude results that are not relevant at all

Query: %s

Results:
%s`, topK, query, b.String())

	start := time.Now()
	text, usage, err := s.complete(ctx, s.rerankModel, prompt, rerankMaxTokens)
	if err != nil {
		return nil, nil, err
	}

	indices, parseErr := parseIndexArray(text)
	if parseErr != nil {
		slog.Warn("rerank_parse_failed", "error", parseErr)
		for i := 0; i < len(snippets) && i < topK; i++ {
			indices = append(indices, snippets[i].Index)
		}
	}
	if len(indices) > topK {
		indices = indices[:topK]
	}

	slog.Info("results_reranked",
		"candidates", len(snippets),
		"returned", len(indices),
		"duration_ms", time.Since(start).Milliseconds())
	return indices, usage, nil
}

// Synthesize produces a cited answer to the query from the snippets.
func (s *Service) Synthesize(ctx context.Context, query string, snippets []Snippet) (string, *Usage, error) {
	if len(snippets) == 0 {
		return "", nil, nil
	}

	parts := make([]string, 0, len(snippets))
	for i, sn := range snippets {
		parts = append(parts, fmt.Sprintf("[Source %d: %s, section %d]\n%s",
			i+1, sn.Filename, sn.Unit, sn.Text))
	}

	prompt := fmt.Sprintf(`You are a research assistant. Based on the search results below, provide a clear, concise answer to the user's query. Cite your sources using [Source N] notation.

Rules:
- Only use information from the provided sources
- Cite specific sources for each claim using [Source N]
- If the sources don't contain enough info, say so
- Be concise but thorough
- Use plain language

Query: %s

Sources:
%s`, query, strings.Join(parts, "\n\n---\n\n"))

	start := time.Now()
	text, usage, err := s.complete(ctx, s.synthesisModel, prompt, synthesisMaxTokens)
	if err != nil {
		return "", nil, err
	}

	slog.Info("answer_synthesized",
		"sources", len(snippets),
		"answer_chars", len(text),
		"duration_ms", time.Since(start).Milliseconds())
	return text, usage, nil
}

func (s *Service) complete(ctx context.Context, model, prompt string, maxTokens int) (string, *Usage, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", nil, dexerrors.Wrap(dexerrors.ErrCodeNetworkUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, dexerrors.Newf(dexerrors.ErrCodeInternal, "chat completion returned no choices")
	}
	usage := &Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        model,
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// parseIndexArray extracts the JSON index array, tolerating a fenced
// code block around it.
func parseIndexArray(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if i := strings.IndexByte(raw, '\n'); i >= 0 {
			raw = raw[i+1:]
		}
		if i := strings.LastIndex(raw, "```"); i >= 0 {
			raw = raw[:i]
		}
		raw = strings.TrimSpace(raw)
	}

	var indices []int
	if err := json.Unmarshal([]byte(raw), &indices); err != nil {
		return nil, fmt.Errorf("parse rerank response: %w", err)
	}
	return indices, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
