package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pokoscribe/scribeflow/internal/config"
	"github.com/pokoscribe/scribeflow/internal/models"
)

// RecordSeparator ends every text-format record.
const RecordSeparator = "--------"

// ArtifactWriter appends self-delimiting records to a class's output file
// and, optionally, per-batch answers to its history file.
type ArtifactWriter struct {
	mu          sync.Mutex
	path        string
	historyPath string
	format      string
	label       string

	now   func() time.Time
	newID func() string
}

func NewArtifactWriter(cc config.ClassConfig) *ArtifactWriter {
	format := cc.OutputFormat
	if format == "" {
		format = config.FormatText
	}
	label := cc.HeaderLabel
	if label == "" {
		label = "Summary of"
	}
	return &ArtifactWriter{
		path:        cc.OutputFile,
		historyPath: cc.HistoryFile,
		format:      format,
		label:       label,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

func (w *ArtifactWriter) Path() string { return w.path }

type artifactRecord struct {
	ID        string    `json:"id"`
	SessionID int64     `json:"sessionId"`
	Class     string    `json:"class"`
	Document  string    `json:"document"`
	Header    string    `json:"header"`
	Citation  string    `json:"citation,omitempty"`
	Text      string    `json:"text"`
	Mode      string    `json:"mode"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Chunks    int       `json:"chunks"`
	Skipped   int       `json:"skipped"`
	CreatedAt time.Time `json:"createdAt"`
}

type historyRecord struct {
	ID        string    `json:"id"`
	Document  string    `json:"document"`
	Batch     int       `json:"batch"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Append writes one record for out and returns exactly what was written.
// Failures wrap models.ErrPersistence.
func (w *ArtifactWriter) Append(sessionID int64, out models.Outcome) (string, error) {
	header := fmt.Sprintf("%s %s:", w.label, out.Document.Name)
	var record string
	switch w.format {
	case config.FormatJSONL:
		b, err := json.Marshal(artifactRecord{
			ID:        w.newID(),
			SessionID: sessionID,
			Class:     out.Document.Class,
			Document:  out.Document.Name,
			Header:    header,
			Citation:  out.Citation,
			Text:      out.Text,
			Mode:      string(out.Mode),
			Provider:  out.Provider,
			Model:     out.Model,
			Chunks:    out.Chunks,
			Skipped:   out.Skipped,
			CreatedAt: w.now().UTC(),
		})
		if err != nil {
			return "", fmt.Errorf("%w: encode record: %v", models.ErrPersistence, err)
		}
		record = string(b) + "\n"
	default:
		var b strings.Builder
		b.WriteString(header)
		b.WriteString("\n")
		if out.Citation != "" {
			b.WriteString("Reference: ")
			b.WriteString(out.Citation)
			b.WriteString("\n")
		}
		if out.Skipped > 0 {
			fmt.Fprintf(&b, "Skipped chunks: %d of %d\n", out.Skipped, out.Chunks)
		}
		b.WriteString(out.Text)
		b.WriteString("\n\n" + RecordSeparator + "\n\n")
		record = b.String()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := appendFile(w.path, record); err != nil {
		return "", err
	}
	return record, nil
}

// AppendHistory records one map-phase answer. It is a no-op without a
// history file.
func (w *ArtifactWriter) AppendHistory(document string, batch int, text string) error {
	if w.historyPath == "" {
		return nil
	}
	var record string
	switch w.format {
	case config.FormatJSONL:
		b, err := json.Marshal(historyRecord{
			ID:        w.newID(),
			Document:  document,
			Batch:     batch,
			Text:      text,
			CreatedAt: w.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("%w: encode history: %v", models.ErrPersistence, err)
		}
		record = string(b) + "\n"
	default:
		record = fmt.Sprintf("Answer for Batch %d:\n%s\n\n%s\n\n", batch, text, RecordSeparator)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return appendFile(w.historyPath, record)
}

// appendFile writes record with a single write on an O_APPEND handle.
func appendFile(path, record string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create %s: %v", models.ErrPersistence, dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", models.ErrPersistence, path, err)
	}
	if _, err := f.WriteString(record); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: write %s: %v", models.ErrPersistence, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", models.ErrPersistence, path, err)
	}
	return nil
}
