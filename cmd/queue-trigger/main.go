package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/pokoscribe/scribeflow/internal/config"
	"github.com/pokoscribe/scribeflow/internal/gcp"
	"github.com/pokoscribe/scribeflow/internal/models"
	"github.com/pokoscribe/scribeflow/internal/services"
)

var (
	cfg           config.Config
	storageClient *storage.Client
	once          sync.Once
	initErr       error

	pipelinesMu sync.Mutex
	pipelines   = map[string]*services.Pipeline{}
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleRunQueue", handleRunQueue)
	functions.CloudEvent("IngestUpload", ingestUpload)
}

// main is required by the Go Functions Framework.
func main() {}

func setup() error {
	once.Do(func() {
		cfg, initErr = config.Load(config.GetEnv("SCRIBEFLOW_CONFIG", ""))
		if initErr != nil {
			return
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
		storageClient, initErr = storage.NewClient(context.Background())
		if initErr != nil {
			initErr = fmt.Errorf("failed to create Storage client: %w", initErr)
		}
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
	}
	return initErr
}

// pipeline returns the cached pipeline of class, building it on first use.
// Instances are reused across invocations like the other clients.
func pipeline(class string) (*services.Pipeline, error) {
	pipelinesMu.Lock()
	defer pipelinesMu.Unlock()
	if pl, ok := pipelines[class]; ok {
		return pl, nil
	}
	pl, err := services.NewPipeline(context.Background(), cfg, class)
	if err != nil {
		return nil, err
	}
	pipelines[class] = pl
	return pl, nil
}

func handleRunQueue(w http.ResponseWriter, r *http.Request) {
	if err := setup(); err != nil {
		http.Error(w, "Internal Server Error: function not initialized", http.StatusInternalServerError)
		return
	}
	var req models.RunQueueRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Error("Failed to decode request body", "error", err)
			http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.Class == "" {
		req.Class = cfg.GCP.IngestClass
	}
	logCtx := slog.With("class", req.Class, "executionId", req.ExecutionID)

	pl, err := pipeline(req.Class)
	if err != nil {
		logCtx.Error("Failed to build pipeline", "error", err)
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}
	summary, err := pl.Run(r.Context(), "")
	if err != nil {
		logCtx.Error("Run failed", "error", err)
		http.Error(w, "Internal Server Error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(models.NewRunQueueResponse(summary)); err != nil {
		logCtx.Error("Failed to encode response", "error", err)
	}
}

// ingestUpload copies a finalized upload into the pending folder of the
// ingest class, then runs that class when INGEST_RUN_QUEUE is set.
func ingestUpload(ctx context.Context, e cloudevents.Event) error {
	if err := setup(); err != nil {
		return err
	}
	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	logCtx := slog.With("bucket", gcsEvent.Bucket, "object", gcsEvent.Name)
	if strings.HasSuffix(gcsEvent.Name, "/") {
		logCtx.Info("Ignoring folder placeholder")
		return nil
	}

	class := cfg.GCP.IngestClass
	cc, err := cfg.Class(class)
	if err != nil {
		return err
	}
	if cc.Mode != config.ModeQueue {
		return fmt.Errorf("ingest class %s is not a queue class", class)
	}
	path, err := gcp.DownloadObject(ctx, storageClient, gcsEvent.Bucket, gcsEvent.Name, cc.PendingDir)
	if err != nil {
		logCtx.Error("Failed to ingest upload", "error", err)
		return err
	}
	logCtx.Info("Upload queued", "path", path, "class", class)

	if !config.Bool("INGEST_RUN_QUEUE", false) {
		return nil
	}
	pl, err := pipeline(class)
	if err != nil {
		return err
	}
	_, err = pl.Run(ctx, "")
	return err
}
