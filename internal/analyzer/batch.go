package analyzer

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/akmatori/nocpilot/internal/models"
)

// DefaultBatchConcurrency bounds concurrent analyzer calls in a batch
const DefaultBatchConcurrency = 5

// Analyzer is the single-event contract shared with the pipeline
type Analyzer interface {
	Analyze(ctx context.Context, ev *models.Event) *models.AIAnalysis
}

// BatchAnalyzer analyzes many events concurrently with a fixed limit. Results only feed
// analyzer throughput; actions still go through the pipeline.
type BatchAnalyzer struct {
	analyzer    Analyzer
	concurrency int
}

// NewBatchAnalyzer creates a batch analyzer; concurrency <= 0 uses the default
func NewBatchAnalyzer(analyzer Analyzer, concurrency int) *BatchAnalyzer {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	return &BatchAnalyzer{analyzer: analyzer, concurrency: concurrency}
}

// AnalyzeBatch returns one analysis per event in input order
func (b *BatchAnalyzer) AnalyzeBatch(ctx context.Context, events []*models.Event) []*models.AIAnalysis {
	results := make([]*models.AIAnalysis, len(events))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, ev := range events {
		i, ev := i, ev
		g.Go(func() error {
			results[i] = b.analyzer.Analyze(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
