package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pokoscribe/scribeflow/internal/config"
	"github.com/pokoscribe/scribeflow/internal/models"
	"github.com/pokoscribe/scribeflow/internal/provider"
)

type queueFixture struct {
	root      string
	cfg       RunnerConfig
	output    string
	provider  *fakeProvider
	delays    []time.Duration
	extracted []string
}

var errFakeAuth = provider.NewError("fake", provider.KindAuth, errors.New("invalid key"))

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	root := t.TempDir()
	return &queueFixture{
		root:   root,
		output: filepath.Join(root, "history", "big_summary.txt"),
		cfg: RunnerConfig{
			Class:          config.ClassSummarizer,
			PendingDir:     filepath.Join(root, "pending"),
			CompletedDir:   filepath.Join(root, "completed"),
			FailedDir:      filepath.Join(root, "failed"),
			Extensions:     []string{".pdf", ".txt"},
			InterItemDelay: 5 * time.Second,
		},
		provider: newFakeProvider(100, func(req models.GenerationRequest, _ int) (string, error) {
			return "summary text", nil
		}),
	}
}

// extractor reads the file; names containing "broken" fail extraction.
func (f *queueFixture) extractor() Extractor {
	return ExtractorFunc(func(ctx context.Context, path string) (string, error) {
		f.extracted = append(f.extracted, filepath.Base(path))
		if strings.Contains(filepath.Base(path), "broken") {
			return "", fmt.Errorf("%w: %s: not a PDF", models.ErrExtraction, filepath.Base(path))
		}
		b, err := os.ReadFile(path)
		return string(b), err
	})
}

func (f *queueFixture) runner(opts ...RunnerOption) *Runner {
	w := NewArtifactWriter(config.ClassConfig{OutputFile: f.output, OutputFormat: config.FormatText, HeaderLabel: "Summary of"})
	r := NewRunner(f.cfg, f.extractor(), NewGenerator(f.provider, wordMeter, testPrompts), w, opts...)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		f.delays = append(f.delays, d)
		return ctx.Err()
	}
	return r
}

func (f *queueFixture) pending(t *testing.T, name, body string) {
	t.Helper()
	writeFile(t, f.cfg.PendingDir, name, body)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRunSuccessThenExtractionFailure(t *testing.T) {
	f := newQueueFixture(t)
	f.pending(t, "a_good.txt", "some words here")
	f.pending(t, "b_broken.pdf", "%PDF garbage")

	summary, err := f.runner().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(summary.Completed, []string{"a_good.txt"}) || !reflect.DeepEqual(summary.Failed, []string{"b_broken.pdf"}) {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := listDir(t, f.cfg.CompletedDir); !reflect.DeepEqual(got, []string{"a_good.txt"}) {
		t.Fatalf("completed = %v", got)
	}
	if got := listDir(t, f.cfg.FailedDir); !reflect.DeepEqual(got, []string{"b_broken.pdf"}) {
		t.Fatalf("failed = %v", got)
	}
	if got := listDir(t, f.cfg.PendingDir); len(got) != 0 {
		t.Fatalf("pending must be empty, got %v", got)
	}

	artifact, err := os.ReadFile(f.output)
	if err != nil {
		t.Fatal(err)
	}
	want := "Summary of a_good.txt:\nsummary text\n\n--------\n\n"
	if string(artifact) != want {
		t.Fatalf("artifact = %q, want %q", artifact, want)
	}
	if len(f.delays) != 1 || f.delays[0] != 5*time.Second {
		t.Fatalf("want one delay after the success, got %v", f.delays)
	}
}

func TestRunOrdersAndFiltersFiles(t *testing.T) {
	f := newQueueFixture(t)
	f.pending(t, "c.txt", "c")
	f.pending(t, "a.pdf", "a")
	f.pending(t, "notes.docx", "x")
	f.pending(t, ".hidden.txt", "x")
	f.pending(t, "b.TXT", "b")
	if err := os.MkdirAll(filepath.Join(f.cfg.PendingDir, "sub.txt"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := f.runner().Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := []string{"a.pdf", "b.TXT", "c.txt"}; !reflect.DeepEqual(f.extracted, want) {
		t.Fatalf("processing order = %v, want %v", f.extracted, want)
	}
	if got := listDir(t, f.cfg.PendingDir); !reflect.DeepEqual(got, []string{".hidden.txt", "notes.docx", "sub.txt"}) {
		t.Fatalf("ineligible entries must stay, got %v", got)
	}
	if len(f.delays) != 2 {
		t.Fatalf("no delay after the last item, got %v", f.delays)
	}
}

func TestRunExclusivityAndIdempotentRestart(t *testing.T) {
	f := newQueueFixture(t)
	f.pending(t, "one.txt", "first doc")
	f.pending(t, "two_broken.pdf", "x")
	r := f.runner()

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	f.pending(t, "three.txt", "third doc")
	f.extracted = nil
	second, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !reflect.DeepEqual(f.extracted, []string{"three.txt"}) {
		t.Fatalf("restart must only see new pending files, got %v", f.extracted)
	}
	if second.Processed != 1 {
		t.Fatalf("want 1 processed, got %d", second.Processed)
	}

	seen := map[string]int{}
	for _, dir := range []string{f.cfg.PendingDir, f.cfg.CompletedDir, f.cfg.FailedDir} {
		for _, name := range listDir(t, dir) {
			seen[name]++
		}
	}
	for _, name := range []string{"one.txt", "two_broken.pdf", "three.txt"} {
		if seen[name] != 1 {
			t.Fatalf("%s appears in %d folders", name, seen[name])
		}
	}
	artifact, _ := os.ReadFile(f.output)
	if strings.Count(string(artifact), "Summary of one.txt:") != 1 || strings.Count(string(artifact), "Summary of three.txt:") != 1 {
		t.Fatalf("each completed document must be written once: %q", artifact)
	}
}

func TestRunAuthFailureWritesNothing(t *testing.T) {
	f := newQueueFixture(t)
	f.provider = newFakeProvider(10, func(req models.GenerationRequest, _ int) (string, error) {
		if req.Label == "chunk-2/4" {
			return "", errFakeAuth
		}
		return "ok", nil
	})
	f.pending(t, "paper.txt", paragraphs(4, 10))

	summary, err := f.runner().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Failed) != 1 || len(listDir(t, f.cfg.FailedDir)) != 1 {
		t.Fatalf("document must be failed: %+v", summary)
	}
	if _, err := os.Stat(f.output); !os.IsNotExist(err) {
		t.Fatalf("no artifact may be written, stat err = %v", err)
	}
	if len(f.delays) != 0 {
		t.Fatalf("no delay after a failure")
	}
}

func TestRunPersistenceFailureFailsDocument(t *testing.T) {
	f := newQueueFixture(t)
	f.output = t.TempDir() // a directory cannot be opened for append
	f.pending(t, "a.txt", "words")

	summary, err := f.runner().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(summary.Failed, []string{"a.txt"}) {
		t.Fatalf("want a.txt failed, got %+v", summary)
	}
}

type recordingSink struct {
	name string
	err  error

	mu   sync.Mutex
	pubs []models.Publication
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(ctx context.Context, pub models.Publication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pubs = append(s.pubs, pub)
	return s.err
}

type recordingTracker struct{ records []models.StatusRecord }

func (r *recordingTracker) Track(ctx context.Context, rec models.StatusRecord) error {
	r.records = append(r.records, rec)
	return errors.New("tracker offline")
}

type recordingNotifier struct{ summaries []models.RunSummary }

func (n *recordingNotifier) Notify(ctx context.Context, s models.RunSummary) error {
	n.summaries = append(n.summaries, s)
	return nil
}

type fixedSessions int64

func (s fixedSessions) NextSession(ctx context.Context) (int64, error) { return int64(s), nil }

func TestRunSinksTrackerAndNotifier(t *testing.T) {
	f := newQueueFixture(t)
	f.pending(t, "a.txt", "alpha")
	f.pending(t, "b_broken.pdf", "x")

	good := &recordingSink{name: "good"}
	bad := &recordingSink{name: "bad", err: errors.New("bucket gone")}
	tracker := &recordingTracker{}
	notifier := &recordingNotifier{}
	r := f.runner(WithSinks(good, bad), WithTracker(tracker), WithNotifier(notifier), WithSessions(fixedSessions(9)))

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.SessionID != 9 || !reflect.DeepEqual(summary.Completed, []string{"a.txt"}) {
		t.Fatalf("sink failures must not change the terminal state: %+v", summary)
	}
	if len(good.pubs) != 1 || len(bad.pubs) != 1 {
		t.Fatalf("every sink must be called once per completed document")
	}
	pub := good.pubs[0]
	if pub.SessionID != 9 || pub.Class != config.ClassSummarizer || !strings.HasPrefix(pub.Record, "Summary of a.txt:") {
		t.Fatalf("unexpected publication %+v", pub)
	}

	var statuses []string
	for _, rec := range tracker.records {
		statuses = append(statuses, rec.FileName+":"+rec.Status)
	}
	want := []string{"a.txt:PENDING", "a.txt:COMPLETED", "b_broken.pdf:PENDING", "b_broken.pdf:FAILED"}
	if !reflect.DeepEqual(statuses, want) {
		t.Fatalf("tracked = %v, want %v", statuses, want)
	}
	if tracker.records[3].ErrorDetails == "" || !strings.HasPrefix(tracker.records[3].ErrorDetails, "extraction") {
		t.Fatalf("failure must carry its code, got %q", tracker.records[3].ErrorDetails)
	}
	if len(notifier.summaries) != 1 || notifier.summaries[0].SessionID != 9 {
		t.Fatalf("notifier not called with the summary")
	}
}

func TestRunCancellationLeavesFileInPending(t *testing.T) {
	f := newQueueFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.provider = newFakeProvider(100, func(req models.GenerationRequest, _ int) (string, error) {
		cancel()
		return "", context.Canceled
	})
	f.pending(t, "a.txt", "alpha")
	f.pending(t, "b.txt", "beta")

	summary, err := f.runner().Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if summary.Processed != 0 {
		t.Fatalf("interrupted items are not processed, got %+v", summary)
	}
	if got := listDir(t, f.cfg.PendingDir); !reflect.DeepEqual(got, []string{"a.txt", "b.txt"}) {
		t.Fatalf("both files must remain pending, got %v", got)
	}
	if !reflect.DeepEqual(f.extracted, []string{"a.txt"}) {
		t.Fatalf("loop must stop after cancellation, extracted %v", f.extracted)
	}
}

func TestRunMissingPendingFolder(t *testing.T) {
	f := newQueueFixture(t)
	if _, err := f.runner().Run(context.Background()); err == nil {
		t.Fatalf("want error for a missing pending folder")
	}
}

func TestRunFileAppendsWithoutMoving(t *testing.T) {
	f := newQueueFixture(t)
	f.cfg.Class = config.ClassOutliner
	src := writeFile(t, f.root, "paper.txt", "an outline source")

	summary, err := f.runner().RunFile(context.Background(), src)
	if err != nil {
		t.Fatalf("RunFile: %v", err)
	}
	if !reflect.DeepEqual(summary.Completed, []string{"paper.txt"}) {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source file must stay in place: %v", err)
	}
	artifact, _ := os.ReadFile(f.output)
	if !strings.HasPrefix(string(artifact), "Summary of paper.txt:\n") {
		t.Fatalf("unexpected artifact %q", artifact)
	}
}

func TestMoveFileReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "a.txt", "new")
	dst := writeFile(t, filepath.Join(dir, "done"), "a.txt", "old")
	if err := moveFile(src, dst); err != nil {
		t.Fatalf("moveFile: %v", err)
	}
	b, _ := os.ReadFile(dst)
	if string(b) != "new" {
		t.Fatalf("destination not replaced: %q", b)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source must be gone")
	}
}

func TestRunCompletedMoveFailureMovesToFailed(t *testing.T) {
	f := newQueueFixture(t)
	f.pending(t, "a.txt", "alpha")
	// A directory in the way makes the rename into completed fail.
	if err := os.MkdirAll(filepath.Join(f.cfg.CompletedDir, "a.txt"), 0o755); err != nil {
		t.Fatal(err)
	}
	r := f.runner()

	first, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !reflect.DeepEqual(first.Failed, []string{"a.txt"}) || len(first.Completed) != 0 {
		t.Fatalf("unexpected summary %+v", first)
	}
	if got := listDir(t, f.cfg.PendingDir); len(got) != 0 {
		t.Fatalf("file must leave pending, got %v", got)
	}
	if got := listDir(t, f.cfg.FailedDir); !reflect.DeepEqual(got, []string{"a.txt"}) {
		t.Fatalf("failed = %v", got)
	}

	second, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Processed != 0 {
		t.Fatalf("nothing is left to process, got %+v", second)
	}
	artifact, _ := os.ReadFile(f.output)
	if n := strings.Count(string(artifact), "Summary of a.txt:"); n != 1 {
		t.Fatalf("want one record for a.txt, got %d", n)
	}
}

func TestRunNoMovePossibleLeavesFilePending(t *testing.T) {
	f := newQueueFixture(t)
	f.pending(t, "a.txt", "alpha")
	for _, dir := range []string{f.cfg.CompletedDir, f.cfg.FailedDir} {
		if err := os.MkdirAll(filepath.Join(dir, "a.txt"), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	summary, err := f.runner().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 0 || len(summary.Failed) != 0 || len(summary.Completed) != 0 {
		t.Fatalf("a file still in pending is not reported as terminal: %+v", summary)
	}
	if got := listDir(t, f.cfg.PendingDir); !reflect.DeepEqual(got, []string{"a.txt"}) {
		t.Fatalf("pending = %v", got)
	}
}

func TestRunCancelledDuringExtractionLeavesFilePending(t *testing.T) {
	f := newQueueFixture(t)
	f.pending(t, "a.pdf", "%PDF-1.4")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fe := NewFileExtractor("", 0)
	ex := ExtractorFunc(func(ctx context.Context, path string) (string, error) {
		cancel()
		return fe.Extract(ctx, path)
	})
	w := NewArtifactWriter(config.ClassConfig{OutputFile: f.output})
	r := NewRunner(f.cfg, ex, NewGenerator(f.provider, wordMeter, testPrompts), w)

	summary, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if len(summary.Failed) != 0 {
		t.Fatalf("an interrupted extraction is not a failure: %+v", summary)
	}
	if got := listDir(t, f.cfg.PendingDir); !reflect.DeepEqual(got, []string{"a.pdf"}) {
		t.Fatalf("pending = %v", got)
	}
	if got := listDir(t, f.cfg.FailedDir); len(got) != 0 {
		t.Fatalf("failed = %v", got)
	}
}
