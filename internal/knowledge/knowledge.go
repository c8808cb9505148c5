package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/akmatori/nocpilot/internal/logging"
)

// Match types reported in search results
const (
	MatchSemantic = "semantic"
	MatchPattern  = "pattern"
	MatchTag      = "tag"
)

// Embedder turns text into a vector for semantic search
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchResult is one runbook hit with its relevance score
type SearchResult struct {
	Runbook   *Runbook `json:"runbook"`
	Score     float64  `json:"score"`
	MatchType string   `json:"match_type"`
}

// KnowledgeBase indexes runbooks by alert pattern, tag and (optionally) embedding
type KnowledgeBase struct {
	mu         sync.RWMutex
	runbooks   map[string]*Runbook
	patterns   map[string][]string
	tags       map[string][]string
	embeddings map[string][]float32
	embedder   Embedder
}

// New creates an empty knowledge base. embedder may be nil, which disables semantic search.
func New(embedder Embedder) *KnowledgeBase {
	return &KnowledgeBase{
		runbooks:   make(map[string]*Runbook),
		patterns:   make(map[string][]string),
		tags:       make(map[string][]string),
		embeddings: make(map[string][]float32),
		embedder:   embedder,
	}
}

// Add inserts or replaces a runbook. Embedding failures are logged; the runbook is still
// searchable by pattern and tag.
func (kb *KnowledgeBase) Add(ctx context.Context, rb *Runbook) error {
	if err := rb.Validate(); err != nil {
		return err
	}
	stored := *rb

	var vector []float32
	if kb.embedder != nil {
		v, err := kb.embedder.Embed(ctx, stored.Document())
		if err != nil {
			logging.Warnf("KnowledgeBase: failed to embed runbook %s: %v", stored.ID, err)
		} else {
			vector = v
		}
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	kb.removeLocked(stored.ID)
	kb.runbooks[stored.ID] = &stored
	for _, p := range stored.AlertPatterns {
		key := strings.ToLower(p)
		kb.patterns[key] = appendUnique(kb.patterns[key], stored.ID)
	}
	for _, t := range stored.Tags {
		key := strings.ToLower(t)
		kb.tags[key] = appendUnique(kb.tags[key], stored.ID)
	}
	if vector != nil {
		kb.embeddings[stored.ID] = vector
	}

	logging.Debugf("KnowledgeBase: added runbook %s (%s)", stored.ID, stored.Title)
	return nil
}

// Remove deletes a runbook, reporting whether it existed
func (kb *KnowledgeBase) Remove(id string) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.removeLocked(id)
}

func (kb *KnowledgeBase) removeLocked(id string) bool {
	rb, ok := kb.runbooks[id]
	if !ok {
		return false
	}
	for _, p := range rb.AlertPatterns {
		key := strings.ToLower(p)
		kb.patterns[key] = without(kb.patterns[key], id)
		if len(kb.patterns[key]) == 0 {
			delete(kb.patterns, key)
		}
	}
	for _, t := range rb.Tags {
		key := strings.ToLower(t)
		kb.tags[key] = without(kb.tags[key], id)
		if len(kb.tags[key]) == 0 {
			delete(kb.tags, key)
		}
	}
	delete(kb.embeddings, id)
	delete(kb.runbooks, id)
	return true
}

// Get returns a copy of a runbook
func (kb *KnowledgeBase) Get(id string) (*Runbook, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	rb, ok := kb.runbooks[id]
	if !ok {
		return nil, false
	}
	c := *rb
	return &c, true
}

// List returns every runbook ordered by id
func (kb *KnowledgeBase) List() []*Runbook {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make([]*Runbook, 0, len(kb.runbooks))
	for _, rb := range kb.runbooks {
		c := *rb
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of runbooks
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.runbooks)
}

// PatternSearch matches alert patterns as case-insensitive substrings of text.
// The score is the pattern length relative to the text; each runbook keeps its best pattern.
func (kb *KnowledgeBase) PatternSearch(text string) []SearchResult {
	lower := strings.ToLower(text)
	if lower == "" {
		return nil
	}

	kb.mu.RLock()
	defer kb.mu.RUnlock()

	best := make(map[string]float64)
	for pattern, ids := range kb.patterns {
		if !strings.Contains(lower, pattern) {
			continue
		}
		score := float64(len(pattern)) / float64(len(lower))
		for _, id := range ids {
			if score > best[id] {
				best[id] = score
			}
		}
	}
	return kb.resultsLocked(best, MatchPattern)
}

// TagSearch scores runbooks by the share of the given tags they carry
func (kb *KnowledgeBase) TagSearch(tags []string) []SearchResult {
	if len(tags) == 0 {
		return nil
	}

	kb.mu.RLock()
	defer kb.mu.RUnlock()

	counts := make(map[string]float64)
	for _, tag := range tags {
		for _, id := range kb.tags[strings.ToLower(tag)] {
			counts[id]++
		}
	}
	for id := range counts {
		counts[id] /= float64(len(tags))
	}
	return kb.resultsLocked(counts, MatchTag)
}

// SemanticSearch ranks runbooks by cosine similarity to the query embedding.
// It returns nothing when no embedder is configured or the query cannot be embedded.
func (kb *KnowledgeBase) SemanticSearch(ctx context.Context, query string, topK int, minScore float64) []SearchResult {
	if kb.embedder == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	vector, err := kb.embedder.Embed(ctx, query)
	if err != nil {
		logging.Warnf("KnowledgeBase: semantic search unavailable: %v", err)
		return nil
	}

	kb.mu.RLock()
	defer kb.mu.RUnlock()

	scores := make(map[string]float64)
	for id, emb := range kb.embeddings {
		if s := cosine(vector, emb); s >= minScore {
			scores[id] = s
		}
	}
	results := kb.resultsLocked(scores, MatchSemantic)
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Search merges semantic, pattern and tag hits. A pattern hit on a runbook already found
// semantically adds 0.1 and a tag hit on an already found runbook adds 0.05, capped at 1.0.
func (kb *KnowledgeBase) Search(ctx context.Context, query string, tags []string, topK int) []SearchResult {
	merged := make(map[string]*SearchResult)
	var order []string

	add := func(results []SearchResult, bonus float64) {
		for _, r := range results {
			r := r
			if existing, ok := merged[r.Runbook.ID]; ok {
				existing.Score = math.Min(1.0, existing.Score+bonus)
				continue
			}
			merged[r.Runbook.ID] = &r
			order = append(order, r.Runbook.ID)
		}
	}

	add(kb.SemanticSearch(ctx, query, topK, 0.3), 0)
	add(kb.PatternSearch(query), 0.1)
	add(kb.TagSearch(tags), 0.05)

	out := make([]SearchResult, 0, len(order))
	for _, id := range order {
		out = append(out, *merged[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// FormatResults renders search results as prompt context
func FormatResults(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Relevant Runbooks (by relevance)\n")
	for i, r := range results {
		rb := r.Runbook
		fmt.Fprintf(&b, "### %d. %s [%s] (score: %.2f, match: %s)\n", i+1, rb.Title, rb.ID, r.Score, r.MatchType)
		b.WriteString(rb.Content + "\n")
		if len(rb.RemediationSteps) > 0 {
			b.WriteString("**Remediation Steps:**\n")
			for j, step := range rb.RemediationSteps {
				fmt.Fprintf(&b, "%d. %s\n", j+1, step)
			}
		}
		if rb.AutoRemediate {
			fmt.Fprintf(&b, "\n*Auto-remediation enabled (threshold: %.2f)*\n", rb.ConfidenceThreshold)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (kb *KnowledgeBase) resultsLocked(scores map[string]float64, matchType string) []SearchResult {
	out := make([]SearchResult, 0, len(scores))
	for id, score := range scores {
		rb, ok := kb.runbooks[id]
		if !ok {
			continue
		}
		c := *rb
		out = append(out, SearchResult{Runbook: &c, Score: score, MatchType: matchType})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Runbook.ID < out[j].Runbook.ID
	})
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
