package summary

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tainanafeng/math-coach/internal/memory"
	"github.com/tainanafeng/math-coach/internal/metrics"
)

// Threshold is the number of unsummarized messages that triggers a run.
const Threshold = 20

// PendingReader reads the messages after a cursor.
type PendingReader interface {
	ReadAfter(ctx context.Context, username string, cursor int64) ([]memory.Message, error)
}

// Result describes one trigger evaluation.
type Result struct {
	// Summary is the user's current summary after the evaluation; empty
	// when none exists.
	Summary string
	// Summarized is true when a new summary was written.
	Summarized bool
	// Folded is the number of messages folded into the new summary.
	Folded int
	// Cursor is the cursor value after the evaluation.
	Cursor int64
	// Pending is the number of unsummarized messages seen by this evaluation.
	Pending int
}

// Trigger decides per turn whether enough new messages accumulated and, if
// so, folds them into the user's summary.
type Trigger struct {
	messages   PendingReader
	summaries  memory.SummaryStore
	summarizer Summarizer
	log        *zap.Logger
}

// NewTrigger creates a trigger over the given stores.
func NewTrigger(messages PendingReader, summaries memory.SummaryStore, summarizer Summarizer, log *zap.Logger) *Trigger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Trigger{
		messages:   messages,
		summaries:  summaries,
		summarizer: summarizer,
		log:        log.Named("summary"),
	}
}

// MaybeSummarize folds the user's pending messages into the summary once at
// least Threshold of them exist. Below the threshold it performs no writes
// and makes no model call.
//
// When summarization fails the returned Result carries the existing summary
// and the error is non-nil; neither the summary nor the cursor is touched,
// so the next call retries with a larger batch. Messages appended after the
// pending batch was read stay pending.
func (t *Trigger) MaybeSummarize(ctx context.Context, username string) (Result, error) {
	existing, err := t.summaries.GetSummary(ctx, username)
	if err != nil {
		return Result{}, fmt.Errorf("load summary: %w", err)
	}
	prior := ""
	if existing != nil {
		prior = existing.Text
	}

	cursor, err := t.summaries.GetCursor(ctx, username)
	if err != nil {
		return Result{Summary: prior}, fmt.Errorf("load cursor: %w", err)
	}

	pending, err := t.messages.ReadAfter(ctx, username, cursor)
	if err != nil {
		return Result{Summary: prior, Cursor: cursor}, fmt.Errorf("load pending messages: %w", err)
	}

	res := Result{Summary: prior, Cursor: cursor, Pending: len(pending)}
	if len(pending) < Threshold {
		metrics.SummarizationRunsTotal.WithLabelValues("skipped").Inc()
		return res, nil
	}

	text, err := t.summarizer.Summarize(ctx, prior, pending)
	if err != nil {
		metrics.SummarizationRunsTotal.WithLabelValues("failed").Inc()
		t.log.Warn("summarization failed",
			zap.String("username", username),
			zap.Int("pending", len(pending)),
			zap.Error(err),
		)
		return res, fmt.Errorf("summarize %d messages: %w", len(pending), err)
	}

	newCursor := pending[len(pending)-1].ID
	if err := t.summaries.CommitSummary(ctx, username, text, newCursor); err != nil {
		metrics.SummarizationRunsTotal.WithLabelValues("failed").Inc()
		return res, fmt.Errorf("store summary: %w", err)
	}

	metrics.SummarizationRunsTotal.WithLabelValues("summarized").Inc()
	metrics.SummarizedMessagesTotal.Add(float64(len(pending)))
	t.log.Info("summary updated",
		zap.String("username", username),
		zap.Int("folded", len(pending)),
		zap.Int64("cursor", newCursor),
	)

	return Result{
		Summary:    text,
		Summarized: true,
		Folded:     len(pending),
		Cursor:     newCursor,
		Pending:    len(pending),
	}, nil
}
