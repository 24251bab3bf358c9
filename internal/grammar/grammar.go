// Package grammar is the bounded grammar-correction client the Pipeline
// Orchestrator calls before translating a committed final (spec.md
// §4.7, §4.9). Adapted from the teacher's LLM client — grammar correction
// is just a narrow generation request against the same kind of service.
package grammar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client calls an LLM-backed grammar-correction service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New returns a Client with a generous timeout; correction is
// best-effort and the next partial/final can supersede it (spec.md §5).
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 20 * time.Second},
	}
}

type correctRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type correctResponse struct {
	Corrected string `json:"corrected"`
}

// Correct asks the service to grammar-correct text. Callers must discard
// the result if len(corrected) > 3*len(text) — a likely hallucination
// (spec.md §4.7) — and fall back to text on any error (spec.md §7).
func (c *Client) Correct(ctx context.Context, text, language string) (string, error) {
	if text == "" {
		return "", nil
	}

	body, err := json.Marshal(correctRequest{Text: text, Language: language})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/correct", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("grammar service returned status %d", resp.StatusCode)
	}

	var result correctResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return result.Corrected, nil
}

// Cache is a bounded, session-local grammar-correction cache (spec.md
// §4.7: <=20 entries, FIFO-evicted, hallucination-guarded).
type Cache struct {
	maxEntries int
	order      []string
	entries    map[string]string
}

// NewCache returns a Cache capped at maxEntries.
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 20
	}
	return &Cache{maxEntries: maxEntries, entries: make(map[string]string)}
}

// Get returns a cached correction for original, if present.
func (c *Cache) Get(original string) (string, bool) {
	v, ok := c.entries[original]
	return v, ok
}

// Put stores original -> corrected, skipping entries where corrected is
// more than 3x the length of original (likely hallucination), and evicts
// the oldest entry once the cache is full.
func (c *Cache) Put(original, corrected string) {
	if len(corrected) > 3*len(original) {
		return
	}
	if _, exists := c.entries[original]; !exists {
		if len(c.order) >= c.maxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, original)
	}
	c.entries[original] = corrected
}
