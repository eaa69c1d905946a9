package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pokoscribe/scribeflow/internal/chunker"
	"github.com/pokoscribe/scribeflow/internal/models"
	"github.com/pokoscribe/scribeflow/internal/prompts"
	"github.com/pokoscribe/scribeflow/internal/provider"
	"github.com/pokoscribe/scribeflow/internal/retry"
	"github.com/pokoscribe/scribeflow/internal/tokens"
)

// HistoryFunc receives every successful map-phase answer. Batches are
// numbered from 1.
type HistoryFunc func(document string, batch int, text string) error

// Generator turns one document into one generated text, either with a
// single request or with a map over chunks followed by one synthesis call.
type Generator struct {
	provider provider.Provider
	meter    tokens.Meter
	chunker  *chunker.Chunker
	prompts  prompts.Set
	history  HistoryFunc
	now      func() time.Time
}

type GeneratorOption func(*Generator)

// WithHistory records each map-phase answer through fn.
func WithHistory(fn HistoryFunc) GeneratorOption {
	return func(g *Generator) { g.history = fn }
}

func NewGenerator(p provider.Provider, meter tokens.Meter, set prompts.Set, opts ...GeneratorOption) *Generator {
	g := &Generator{
		provider: p,
		meter:    meter,
		chunker:  chunker.New(meter),
		prompts:  set,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs the document through the state machine
// Initialized -> MappingChunks -> Synthesizing -> Done, or Failed from any
// state. The returned Outcome carries the visited states even on failure.
func (g *Generator) Generate(ctx context.Context, doc models.Document) (models.Outcome, error) {
	logCtx := slog.With("document", doc.Name, "class", doc.Class, "provider", g.provider.Name())
	out := models.Outcome{
		Document:  doc,
		Provider:  g.provider.Name(),
		StartedAt: g.now(),
		States:    []models.BatchState{models.BatchInitialized},
	}
	fail := func(err error) (models.Outcome, error) {
		out.States = append(out.States, models.BatchFailed)
		out.Duration = g.now().Sub(out.StartedAt)
		logCtx.Error("Generation failed", "state", out.States[len(out.States)-2], "calls", out.Calls, "error", err)
		return out, err
	}

	budget := g.provider.TokenBudget()
	if budget <= 0 {
		return fail(fmt.Errorf("%w: provider %s has budget %d", models.ErrInvalidBudget, g.provider.Name(), budget))
	}
	if strings.TrimSpace(doc.Text) == "" {
		return fail(models.ErrEmptyDocument)
	}
	docTokens, err := g.meter.Count(doc.Text)
	if err != nil {
		return fail(fmt.Errorf("count document tokens: %w", err))
	}
	out.Document.Tokens = docTokens

	if docTokens <= budget {
		logCtx.Info("Document fits the budget; using a single request", "tokens", docTokens, "budget", budget)
		out.Mode = models.ModeSingleShot
		out.Chunks = 1
		out.Prompt = g.prompts.Single
		out.States = append(out.States, models.BatchSynthesizing)
		req := g.provider.BuildRequest("single", g.prompts.Role, prompts.Compose(g.prompts.Single, doc.Text))
		res, err := g.call(ctx, logCtx, req, &out.Calls)
		if err != nil {
			return fail(fmt.Errorf("single request: %w", err))
		}
		out.Text = res.Text
		out.Model = res.Model
		g.cite(ctx, logCtx, &out, doc.Text)
		return g.done(out), nil
	}

	chunks, err := g.chunker.Split(doc.Text, budget)
	if err != nil {
		return fail(fmt.Errorf("split document: %w", err))
	}
	out.Mode = models.ModeBatch
	out.Chunks = len(chunks)
	out.Prompt = g.prompts.Synthesis
	out.States = append(out.States, models.BatchMappingChunks)
	logCtx.Info("Document exceeds the budget; mapping over chunks", "tokens", docTokens, "budget", budget, "chunks", len(chunks))

	cached := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.Oversized {
			logCtx.Warn("Chunk is a single paragraph larger than the budget", "chunk", c.Index+1, "tokens", c.Tokens, "budget", budget)
		}
		label := fmt.Sprintf("chunk-%d/%d", c.Index+1, len(chunks))
		req := g.provider.BuildRequest(label, g.prompts.Role, prompts.Compose(g.prompts.Batch, c.Text))
		res, err := g.call(ctx, logCtx, req, &out.Calls)
		if err != nil {
			if provider.IsFatal(err) || ctx.Err() != nil {
				return fail(fmt.Errorf("chunk %d of %d: %w", c.Index+1, len(chunks), err))
			}
			out.Skipped++
			logCtx.Warn("Skipping chunk after failed attempts", "chunk", c.Index+1, "chunks", len(chunks), "error", err)
			continue
		}
		cached = append(cached, res.Text)
		out.Model = res.Model
		if g.history != nil {
			if err := g.history(doc.Name, c.Index+1, res.Text); err != nil {
				logCtx.Warn("Failed to record batch answer", "chunk", c.Index+1, "error", err)
			}
		}
		logCtx.Info("Chunk processed", "chunk", c.Index+1, "chunks", len(chunks))
	}
	if len(cached) == 0 {
		return fail(fmt.Errorf("%w: %d chunks skipped", models.ErrNoChunkSucceeded, out.Skipped))
	}

	out.States = append(out.States, models.BatchSynthesizing)
	joined := strings.Join(cached, "\n\n")
	if n, err := g.meter.Count(joined); err == nil && n > budget {
		logCtx.Warn("Synthesis input exceeds the budget", "tokens", n, "budget", budget)
	}
	req := g.provider.BuildRequest("synthesis", g.prompts.Role, prompts.Compose(g.prompts.Synthesis, joined))
	res, err := g.call(ctx, logCtx, req, &out.Calls)
	if err != nil {
		return fail(fmt.Errorf("synthesis: %w", err))
	}
	out.Text = res.Text
	out.Model = res.Model
	g.cite(ctx, logCtx, &out, chunks[0].Text)
	return g.done(out), nil
}

func (g *Generator) done(out models.Outcome) models.Outcome {
	out.States = append(out.States, models.BatchDone)
	out.Duration = g.now().Sub(out.StartedAt)
	slog.Info("Generation done",
		"document", out.Document.Name,
		"mode", out.Mode,
		"chunks", out.Chunks,
		"skipped", out.Skipped,
		"calls", out.Calls,
		"duration", out.Duration)
	return out
}

// call issues req under the provider's retry policy, counting every attempt.
func (g *Generator) call(ctx context.Context, logCtx *slog.Logger, req models.GenerationRequest, calls *int) (models.GenerationResult, error) {
	policy := g.provider.RetryPolicy()
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		logCtx.Warn("Provider call failed; retrying", "label", req.Label, "attempt", attempt, "wait", wait, "error", err)
	}
	return retry.Do(ctx, policy, func(ctx context.Context, attempt int) (models.GenerationResult, error) {
		*calls++
		return g.provider.Generate(ctx, req)
	})
}

// cite asks for a reference of the document. Its attempts are counted in
// CitationCalls, apart from the generation calls. Failures only log.
func (g *Generator) cite(ctx context.Context, logCtx *slog.Logger, out *models.Outcome, opening string) {
	if g.prompts.Citation == "" {
		return
	}
	req := g.provider.BuildRequest("citation", g.prompts.Role, prompts.Compose(g.prompts.Citation, opening))
	res, err := g.call(ctx, logCtx, req, &out.CitationCalls)
	if err != nil {
		var ex *retry.ExhaustedError
		logCtx.Warn("Citation request failed; continuing without one", "exhausted", errors.As(err, &ex), "error", err)
		return
	}
	line, _, _ := strings.Cut(strings.TrimSpace(res.Text), "\n")
	out.Citation = strings.TrimSpace(line)
}
