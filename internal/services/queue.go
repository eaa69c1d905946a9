package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pokoscribe/scribeflow/internal/models"
)

// DocumentGenerator produces the final text for one document.
type DocumentGenerator interface {
	Generate(ctx context.Context, doc models.Document) (models.Outcome, error)
}

// RunnerConfig names the folders of one document class.
type RunnerConfig struct {
	Class          string
	PendingDir     string
	CompletedDir   string
	FailedDir      string
	Extensions     []string
	InterItemDelay time.Duration
}

// Runner moves documents of one class from pending to completed or failed.
// Only one Run executes at a time per Runner.
type Runner struct {
	cfg       RunnerConfig
	extractor Extractor
	generator DocumentGenerator
	writer    *ArtifactWriter
	sinks     []ResultSink
	tracker   StatusTracker
	notifier  RunNotifier
	sessions  SessionSource

	mu    sync.Mutex
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

type RunnerOption func(*Runner)

func WithSinks(sinks ...ResultSink) RunnerOption {
	return func(r *Runner) { r.sinks = append(r.sinks, sinks...) }
}

func WithTracker(t StatusTracker) RunnerOption {
	return func(r *Runner) { r.tracker = t }
}

func WithNotifier(n RunNotifier) RunnerOption {
	return func(r *Runner) { r.notifier = n }
}

func WithSessions(s SessionSource) RunnerOption {
	return func(r *Runner) { r.sessions = s }
}

func NewRunner(cfg RunnerConfig, ex Extractor, gen DocumentGenerator, w *ArtifactWriter, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:       cfg,
		extractor: ex,
		generator: gen,
		writer:    w,
		sleep:     sleepCtx,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes every eligible file currently in the pending folder, in
// file name order. A failing document never stops the run; only ctx does.
func (r *Runner) Run(ctx context.Context) (models.RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logCtx := slog.With("class", r.cfg.Class)
	summary := models.RunSummary{Class: r.cfg.Class, StartedAt: r.now(), OutputFile: r.writer.Path()}

	for _, dir := range []string{r.cfg.CompletedDir, r.cfg.FailedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return summary, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	files, err := r.listPending()
	if err != nil {
		return summary, err
	}
	summary.SessionID = r.session(ctx)
	logCtx.Info("Starting run", "session", summary.SessionID, "pending", len(files))

	var runErr error
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		state, skipped := r.processOne(ctx, summary.SessionID, path)
		summary.SkippedChunks += skipped
		if state.Terminal() {
			summary.Processed++
		}
		switch state {
		case models.StateCompleted:
			summary.Completed = append(summary.Completed, filepath.Base(path))
			if i < len(files)-1 && r.cfg.InterItemDelay > 0 {
				if err := r.sleep(ctx, r.cfg.InterItemDelay); err != nil {
					runErr = err
				}
			}
		case models.StateFailed:
			summary.Failed = append(summary.Failed, filepath.Base(path))
		}
		if runErr != nil {
			break
		}
	}
	if runErr == nil {
		runErr = ctx.Err()
	}

	summary.FinishedAt = r.now()
	logCtx.Info("Run finished",
		"session", summary.SessionID,
		"processed", summary.Processed,
		"completed", len(summary.Completed),
		"failed", len(summary.Failed),
		"skipped_chunks", summary.SkippedChunks,
		"duration", summary.FinishedAt.Sub(summary.StartedAt))
	r.notify(summary)
	return summary, runErr
}

// RunFile generates once over a single source file and appends the result.
// The source file is never moved.
func (r *Runner) RunFile(ctx context.Context, path string) (models.RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := models.RunSummary{Class: r.cfg.Class, StartedAt: r.now(), OutputFile: r.writer.Path()}
	summary.SessionID = r.session(ctx)
	out, err := r.generateAndWrite(ctx, summary.SessionID, models.Document{Path: path, Name: filepath.Base(path), Class: r.cfg.Class})
	summary.Processed = 1
	summary.SkippedChunks = out.Skipped
	summary.FinishedAt = r.now()
	if err != nil {
		summary.Failed = []string{filepath.Base(path)}
		slog.Error("Source file failed", "class", r.cfg.Class, "document", filepath.Base(path), "code", Classify(err), "error", err)
		r.notify(summary)
		return summary, err
	}
	summary.Completed = []string{filepath.Base(path)}
	r.notify(summary)
	return summary, nil
}

// processOne returns the terminal state reached by path, or StatePending
// when the file was left in place: the run was interrupted, or no move out
// of pending succeeded.
func (r *Runner) processOne(ctx context.Context, session int64, path string) (models.WorkItemState, int) {
	name := filepath.Base(path)
	logCtx := slog.With("class", r.cfg.Class, "document", name, "session", session)

	doc := models.Document{Path: path, Name: name, Class: r.cfg.Class}
	hash, err := calculateFileHash(path)
	if err != nil {
		logCtx.Warn("Failed to hash file", "error", err)
	}
	doc.FileHash = hash
	created := r.now()
	r.track(ctx, logCtx, models.StatusRecord{FileHash: hash, FileName: name, Class: r.cfg.Class, Status: string(models.StatePending), SessionID: session, CreatedAt: created})

	out, err := r.generateAndWrite(ctx, session, doc)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			logCtx.Warn("Run interrupted; leaving file in pending", "error", err)
			return models.StatePending, 0
		}
		logCtx.Error("Document failed", "code", Classify(err), "error", err)
		if merr := moveFile(path, filepath.Join(r.cfg.FailedDir, name)); merr != nil {
			logCtx.Error("Failed to move file to failed folder; it stays in pending", "error", merr)
			return models.StatePending, out.Skipped
		}
		r.track(ctx, logCtx, models.StatusRecord{FileHash: hash, FileName: name, Status: string(models.StateFailed), ErrorDetails: Classify(err) + ": " + err.Error(), Chunks: out.Chunks, Skipped: out.Skipped})
		return models.StateFailed, out.Skipped
	}

	if err := moveFile(path, filepath.Join(r.cfg.CompletedDir, name)); err != nil {
		// The artifact already holds the result, so the file must leave pending
		// or the next run appends it again.
		logCtx.Error("Failed to move file to completed folder; moving it to failed", "error", err)
		if merr := moveFile(path, filepath.Join(r.cfg.FailedDir, name)); merr != nil {
			logCtx.Error("FILE STUCK IN PENDING after artifact write; a later run will append it again",
				"completed_error", err, "failed_error", merr)
			return models.StatePending, out.Skipped
		}
		r.track(ctx, logCtx, models.StatusRecord{FileHash: hash, FileName: name, Status: string(models.StateFailed), ErrorDetails: "move: " + err.Error()})
		return models.StateFailed, out.Skipped
	}
	r.track(ctx, logCtx, models.StatusRecord{FileHash: hash, FileName: name, Status: string(models.StateCompleted), Chunks: out.Chunks, Skipped: out.Skipped})
	logCtx.Info("Document completed", "mode", out.Mode, "chunks", out.Chunks, "skipped", out.Skipped)
	return models.StateCompleted, out.Skipped
}

// generateAndWrite runs extract, generate and the artifact append. Sinks are
// published only after the append succeeded and never fail the document.
func (r *Runner) generateAndWrite(ctx context.Context, session int64, doc models.Document) (models.Outcome, error) {
	text, err := r.extractor.Extract(ctx, doc.Path)
	if err != nil {
		return models.Outcome{Document: doc}, err
	}
	doc.Text = text

	out, err := r.generator.Generate(ctx, doc)
	if err != nil {
		return out, err
	}
	record, err := r.writer.Append(session, out)
	if err != nil {
		return out, err
	}
	r.publish(ctx, models.Publication{SessionID: session, Class: r.cfg.Class, Outcome: out, Record: record})
	return out, nil
}

func (r *Runner) publish(ctx context.Context, pub models.Publication) {
	if len(r.sinks) == 0 {
		return
	}
	var g errgroup.Group
	for _, sink := range r.sinks {
		g.Go(func() error {
			if err := sink.Publish(ctx, pub); err != nil {
				slog.Error("SINK FAILURE after artifact write; document state unchanged",
					"sink", sink.Name(), "document", pub.Outcome.Document.Name, "session", pub.SessionID, "error", err)
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Runner) track(ctx context.Context, logCtx *slog.Logger, rec models.StatusRecord) {
	if r.tracker == nil {
		return
	}
	if rec.Class == "" {
		rec.Class = r.cfg.Class
	}
	if err := r.tracker.Track(ctx, rec); err != nil {
		logCtx.Warn("Failed to update status tracker", "status", rec.Status, "error", err)
	}
}

func (r *Runner) notify(summary models.RunSummary) {
	if r.notifier == nil {
		return
	}
	// The run may have been cancelled; the notification still goes out.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.notifier.Notify(ctx, summary); err != nil {
		slog.Error("Failed to notify run completion", "class", summary.Class, "session", summary.SessionID, "error", err)
	}
}

func (r *Runner) session(ctx context.Context) int64 {
	if r.sessions == nil {
		return 1
	}
	id, err := r.sessions.NextSession(ctx)
	if err != nil {
		slog.Warn("Failed to read next session; using 1", "error", err)
		return 1
	}
	return id
}

// listPending returns eligible files sorted by name. Hidden files and
// directories are ignored.
func (r *Runner) listPending() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.PendingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending folder %s: %w", r.cfg.PendingDir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !r.eligible(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(r.cfg.PendingDir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (r *Runner) eligible(name string) bool {
	if len(r.cfg.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range r.cfg.Extensions {
		if strings.ToLower(want) == ext {
			return true
		}
	}
	return false
}

// moveFile renames src to dst, falling back to copy and remove across
// filesystems. An existing dst is replaced.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".move-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
