// Package ai adapts large-language-model book-generation providers: given a
// free-text prompt and a target count, return `{title, author, publish_date,
// confidence, source}` suggestions (spec.md §4.C "AI generator providers").
// Response shapes vary across vendors and occasionally nest the book list
// under different keys, so responses are parsed with ohler55/ojg's tolerant
// JSON-path accessors instead of a fixed struct, avoiding hard failures on a
// vendor's minor schema drift.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/jukasdrj/alexandria/internal/model"
	"github.com/jukasdrj/alexandria/internal/providers"
)

const defaultTimeout = 60 * time.Second // spec.md §4.C "60s for AI generation"

// Quota narrows the AI-specific key quota (separate from the paid-metadata
// quota, per spec.md §4.C) to what this adapter needs.
type Quota interface {
	Reserve(ctx context.Context, operation string, n int) bool
}

const opGenerate = "ai_generate"

// Adapter speaks one AI vendor's chat-completion-shaped HTTP API.
type Adapter struct {
	name        string
	apiKey      string
	baseURL     string
	model       string
	client      *http.Client
	quota       Quota
	booksPath   jp.Expr // JSON path to the book list within the vendor response
}

// New constructs the adapter. booksJSONPath is an ojg JSON-path expression
// (e.g. "$.choices[0].message.content.books" or "$.candidates[0].books")
// locating the generated list within the vendor's response envelope.
func New(name, apiKey, baseURL, modelName, booksJSONPath string, q Quota) (*Adapter, error) {
	path, err := jp.ParseString(booksJSONPath)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		name:      name,
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     modelName,
		client:    providers.NewHTTPClient(defaultTimeout, http.DefaultTransport),
		quota:     q,
		booksPath: path,
	}, nil
}

func (a *Adapter) Name() string     { return a.name }
func (a *Adapter) Tier() model.Tier { return model.TierAI }
func (a *Adapter) Capabilities() []model.Capability {
	return []model.Capability{model.CapBookGeneration}
}

// IsAvailable requires an API key and remaining headroom in the
// vendor-specific generation quota.
func (a *Adapter) IsAvailable(ctx context.Context) (bool, error) {
	if a.apiKey == "" {
		return false, nil
	}
	return a.quota.Reserve(ctx, opGenerate, 0), nil // reserve(0) probes without consuming (spec.md §8).
}

// GenerateBooks implements providers.BookGenerator.
func (a *Adapter) GenerateBooks(ctx context.Context, prompt string, count int) ([]model.GeneratedBook, error) {
	if !a.quota.Reserve(ctx, opGenerate, 1) {
		return nil, nil // vendor quota exhausted: empty result, not an error.
	}

	reqBody, err := json.Marshal(map[string]any{
		"model": a.model,
		"messages": []map[string]string{
			{"role": "user", "content": generationPrompt(prompt, count)},
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &providers.Retryable{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, nil // non-retryable: bad prompt/key, no raise.
	}
	if resp.StatusCode >= 500 {
		return nil, &providers.Retryable{Err: errUpstream(resp.StatusCode)}
	}

	envelope, err := oj.ParseReader(resp.Body)
	if err != nil {
		return nil, nil // malformed vendor payload: drop, don't fail.
	}

	matches := a.booksPath.Get(envelope)
	return parseBooks(matches, a.name), nil
}

// parseBooks tolerantly walks whatever ojg located at booksPath: a single
// list, a list of lists (one vendor nests per-candidate), or individual
// book objects. Entries missing a title are dropped rather than failing the
// whole call (spec.md §4.C "graceful parsing: malformed entries are
// dropped, not fatal").
func parseBooks(matches []any, source string) []model.GeneratedBook {
	var out []model.GeneratedBook
	for _, m := range matches {
		switch v := m.(type) {
		case []any:
			out = append(out, parseBooks(v, source)...)
		case map[string]any:
			b, ok := toBook(v, source)
			if ok {
				out = append(out, b)
			}
		}
	}
	return out
}

func toBook(v map[string]any, source string) (model.GeneratedBook, bool) {
	title, _ := v["title"].(string)
	if title == "" {
		return model.GeneratedBook{}, false
	}
	author, _ := v["author"].(string)
	publishDate, _ := v["publish_date"].(string)
	confidence := 50
	if c, ok := v["confidence"].(float64); ok {
		confidence = int(c)
	}
	return model.GeneratedBook{
		Title:       title,
		Author:      author,
		PublishDate: publishDate,
		Confidence:  confidence,
		Source:      source,
	}, true
}

func generationPrompt(userPrompt string, count int) string {
	return "Suggest " + strconv.Itoa(count) + " real, published books matching: " + userPrompt +
		`. Respond as JSON: {"books":[{"title":"","author":"","publish_date":"","confidence":0-100}]}`
}

type errUpstream int

func (e errUpstream) Error() string { return "ai: upstream status " + strconv.Itoa(int(e)) }
