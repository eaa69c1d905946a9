package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	pdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/pokoscribe/scribeflow/internal/models"
)

// Extractor turns a source file into plain text.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, path string) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// FileExtractor reads .txt and .md files directly. PDFs are validated with
// pdfcpu and read in-process; pdftotext is only tried for PDFs the reader
// cannot handle or that yield no text.
type FileExtractor struct {
	PdfToText string
	Timeout   time.Duration
}

func NewFileExtractor(pdfToText string, timeout time.Duration) *FileExtractor {
	if pdfToText == "" {
		pdfToText = "pdftotext"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &FileExtractor{PdfToText: pdfToText, Timeout: timeout}
}

// Extract returns the normalized text of path. Every failure wraps
// models.ErrExtraction together with its cause.
func (e *FileExtractor) Extract(ctx context.Context, path string) (string, error) {
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = e.extractPDF(ctx, path)
	default:
		var b []byte
		b, err = os.ReadFile(path)
		text = string(b)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", models.ErrExtraction, filepath.Base(path), err)
	}
	text = normalizeText(text)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s: %w", models.ErrExtraction, filepath.Base(path), models.ErrEmptyDocument)
	}
	return text, nil
}

func (e *FileExtractor) extractPDF(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validatePDF(path); err != nil {
		return "", fmt.Errorf("invalid PDF: %w", err)
	}
	pageCount, err := api.PageCountFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to get page count: %w", err)
	}
	logCtx := slog.With("file", filepath.Base(path), "pages", pageCount)
	if pageCount == 0 {
		return "", models.ErrEmptyDocument
	}

	text, readErr := readPDFText(path)
	if readErr == nil && strings.TrimSpace(text) != "" {
		logCtx.Debug("PDF text extracted in-process")
		return text, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if readErr != nil {
		logCtx.Warn("In-process PDF reader failed; falling back to pdftotext", "error", readErr)
	} else {
		logCtx.Warn("In-process PDF reader found no text; falling back to pdftotext")
	}
	text, err = e.pdfToText(ctx, path)
	if err != nil {
		if readErr != nil {
			return "", fmt.Errorf("%w; fallback: %w", readErr, err)
		}
		return "", err
	}
	return text, nil
}

func validatePDF(path string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.ValidateFile(path, cfg)
}

// readPDFText returns the plain text of every page, pages separated by a
// form feed.
func readPDFText(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		plain, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("pdf page %d: %w", i, err)
		}
		if i > 1 {
			b.WriteString("\f")
		}
		b.WriteString(plain)
	}
	return b.String(), nil
}

func (e *FileExtractor) pdfToText(ctx context.Context, pdfPath string) (string, error) {
	if _, err := exec.LookPath(e.PdfToText); err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", e.PdfToText, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "scribeflow_pdftotext_*")
	if err != nil {
		return "", fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outPath := filepath.Join(tmpDir, "out.txt")
	cmd := exec.CommandContext(callCtx, e.PdfToText,
		"-enc", "UTF-8",
		"-q",
		pdfPath,
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("pdftotext: %w", ctx.Err())
		}
		if s := strings.TrimSpace(stderr.String()); s != "" {
			return "", fmt.Errorf("pdftotext: %w; stderr=%s", err, s)
		}
		return "", fmt.Errorf("pdftotext: %w", err)
	}

	b, err := os.ReadFile(outPath)
	if err != nil {
		return "", fmt.Errorf("read pdftotext output: %w", err)
	}
	return string(b), nil
}

// normalizeText unifies line endings and turns page breaks into paragraph
// breaks so the chunker never packs across a page boundary mid-paragraph.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\f", "\n\n")
	return strings.TrimSpace(s)
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
