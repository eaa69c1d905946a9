package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pokoscribe/scribeflow/internal/models"
	"github.com/pokoscribe/scribeflow/internal/provider"
	"github.com/pokoscribe/scribeflow/internal/retry"
	"github.com/pokoscribe/scribeflow/internal/tokens"
)

// ResultSink receives a document after its artifact record was written.
type ResultSink interface {
	Name() string
	Publish(ctx context.Context, pub models.Publication) error
}

// StatusTracker mirrors queue transitions outside the filesystem.
type StatusTracker interface {
	Track(ctx context.Context, rec models.StatusRecord) error
}

// RunNotifier is told when a run over a pending folder finishes.
type RunNotifier interface {
	Notify(ctx context.Context, summary models.RunSummary) error
}

// SessionSource hands out the session number of a run.
type SessionSource interface {
	NextSession(ctx context.Context) (int64, error)
}

// EventRecorder stores one generation event.
type EventRecorder interface {
	Record(ctx context.Context, ev models.GenerationEvent) error
}

// LedgerSink turns publications into generation events.
type LedgerSink struct {
	Recorder    EventRecorder
	ProjectName string
	PromptType  string
	Meter       tokens.Meter
}

func (s *LedgerSink) Name() string { return "ledger" }

func (s *LedgerSink) Publish(ctx context.Context, pub models.Publication) error {
	return s.Recorder.Record(ctx, s.Event(pub))
}

// Event builds the ledger row for pub. Token counts that cannot be measured
// are recorded as zero.
func (s *LedgerSink) Event(pub models.Publication) models.GenerationEvent {
	out := pub.Outcome
	ev := models.GenerationEvent{
		ProjectName:  s.ProjectName,
		SessionID:    pub.SessionID,
		Prompt:       out.Prompt,
		FileName:     out.Document.Name,
		PromptTokens: out.Document.Tokens,
		Answer:       out.Text,
		Model:        out.Model,
		ModelDetails: fmt.Sprintf("provider=%s mode=%s chunks=%d skipped=%d calls=%d", out.Provider, out.Mode, out.Chunks, out.Skipped, out.Calls),
		PromptType:   s.PromptType,
		Citation:     out.Citation,
		CreatedAt:    out.StartedAt.Add(out.Duration),
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if s.Meter != nil {
		if n, err := s.Meter.Count(out.Text); err == nil {
			ev.AnswerTokens = n
		}
	}
	return ev
}

// Classify maps an error onto a short code for logs and status records.
func Classify(err error) string {
	var ex *retry.ExhaustedError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && provider.KindOf(err) == "":
		return "cancelled"
	case errors.Is(err, models.ErrExtraction):
		return "extraction"
	case errors.Is(err, models.ErrTokenization):
		return "tokenization"
	case errors.Is(err, models.ErrInvalidBudget):
		return "invalid_budget"
	case errors.Is(err, models.ErrPersistence):
		return "persistence"
	case errors.Is(err, models.ErrEmptyDocument):
		return "empty_document"
	case errors.Is(err, models.ErrNoChunkSucceeded):
		return "no_chunk_succeeded"
	case errors.As(err, &ex):
		return "provider_exhausted_" + string(provider.KindOf(err))
	case provider.KindOf(err) != "":
		return "provider_" + string(provider.KindOf(err))
	default:
		return "internal"
	}
}
