package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"

	"github.com/pokoscribe/scribeflow/internal/config"
	"github.com/pokoscribe/scribeflow/internal/gcp"
	"github.com/pokoscribe/scribeflow/internal/ledger"
	"github.com/pokoscribe/scribeflow/internal/models"
	"github.com/pokoscribe/scribeflow/internal/prompts"
	"github.com/pokoscribe/scribeflow/internal/tokens"
)

// Pipeline is one fully wired document class: provider, generator, artifact
// writer, runner and whichever optional sinks the configuration enables.
type Pipeline struct {
	Class  string
	Mode   string
	Source string
	Runner *Runner

	closers []func() error
}

// NewPipeline builds the runner for class. Clients opened here are released
// by Close.
func NewPipeline(ctx context.Context, cfg config.Config, class string) (*Pipeline, error) {
	cc, err := cfg.Class(class)
	if err != nil {
		return nil, err
	}
	logCtx := slog.With("class", class, "provider", cc.Provider)

	p, err := NewProvider(cc.Provider, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider: %w", err)
	}
	meter := tokens.NewTiktoken(cfg.Providers[cc.Provider].Encoding)
	set, err := prompts.Load(class, cc.Prompts)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	writer := NewArtifactWriter(cc)
	gen := NewGenerator(p, meter, set, WithHistory(writer.AppendHistory))
	pl := &Pipeline{Class: class, Mode: cc.Mode, Source: cc.SourceFile}

	var opts []RunnerOption
	if cfg.Ledger.Driver != "" {
		store, err := ledger.Open(cfg.Ledger.Driver, cfg.Ledger.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}
		pl.closers = append(pl.closers, store.Close)
		opts = append(opts,
			WithSessions(store),
			WithSinks(&LedgerSink{Recorder: store, ProjectName: cfg.ProjectName, PromptType: cc.PromptType, Meter: meter}))
		logCtx.Info("Ledger enabled", "driver", cfg.Ledger.Driver)
	}

	gopts, err := pl.cloudOptions(ctx, cfg.GCP)
	if err != nil {
		_ = pl.Close()
		return nil, err
	}
	opts = append(opts, gopts...)

	pl.Runner = NewRunner(RunnerConfig{
		Class:          class,
		PendingDir:     cc.PendingDir,
		CompletedDir:   cc.CompletedDir,
		FailedDir:      cc.FailedDir,
		Extensions:     cfg.Extensions,
		InterItemDelay: cfg.InterItemDelay,
	}, NewFileExtractor(cfg.Extract.PdfToTextPath, cfg.Extract.Timeout), gen, writer, opts...)
	return pl, nil
}

func (pl *Pipeline) cloudOptions(ctx context.Context, gc config.GCPConfig) ([]RunnerOption, error) {
	var opts []RunnerOption
	if gc.ArtifactBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		pl.closers = append(pl.closers, client.Close)
		opts = append(opts, WithSinks(gcp.NewArtifactMirror(client, gc.ArtifactBucket, gc.ArtifactPrefix)))
	}
	if gc.StatusCollection != "" {
		if gc.ProjectID == "" {
			return nil, errors.New("PROJECT_ID must be set to track status in Firestore")
		}
		client, err := gcp.NewFirestoreClient(ctx, gc.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		pl.closers = append(pl.closers, client.Close)
		opts = append(opts, WithTracker(gcp.NewStatusTracker(client, gc.StatusCollection)))
	}
	if gc.WorkflowID != "" {
		if gc.ProjectID == "" {
			return nil, errors.New("PROJECT_ID must be set to notify a workflow")
		}
		client, err := executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		pl.closers = append(pl.closers, client.Close)
		opts = append(opts, WithNotifier(gcp.NewWorkflowNotifier(client, gc.ProjectID, gc.WorkflowLocation, gc.WorkflowID)))
	}
	return opts, nil
}

// Run processes the class according to its mode. A non-empty source
// overrides the configured source file of a file-mode class.
func (pl *Pipeline) Run(ctx context.Context, source string) (models.RunSummary, error) {
	if pl.Mode == config.ModeFile {
		if source == "" {
			source = pl.Source
		}
		return pl.Runner.RunFile(ctx, source)
	}
	return pl.Runner.Run(ctx)
}

// Close releases every client opened by NewPipeline.
func (pl *Pipeline) Close() error {
	var errs []error
	for i := len(pl.closers) - 1; i >= 0; i-- {
		errs = append(errs, pl.closers[i]())
	}
	pl.closers = nil
	return errors.Join(errs...)
}
