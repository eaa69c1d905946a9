package gcp

import (
	"testing"
	"time"

	"github.com/pokoscribe/scribeflow/internal/models"
)

func TestArtifactObjectName(t *testing.T) {
	pub := models.Publication{
		SessionID: 7,
		Class:     "summarizer",
		Outcome:   models.Outcome{Document: models.Document{Name: "smith2020.pdf"}},
	}
	if got := ArtifactObjectName("artifacts", pub); got != "artifacts/summarizer/session-7/smith2020.txt" {
		t.Fatalf("unexpected object name %q", got)
	}
	if got := ArtifactObjectName("", pub); got != "summarizer/session-7/smith2020.txt" {
		t.Fatalf("unexpected object name without prefix %q", got)
	}
}

func TestStatusDocID(t *testing.T) {
	withHash := models.StatusRecord{FileHash: "abc", FileName: "a.pdf"}
	if StatusDocID(withHash) != "abc" {
		t.Fatalf("hash must be used as the document id")
	}
	a := StatusDocID(models.StatusRecord{Class: "summarizer", FileName: "a.pdf"})
	b := StatusDocID(models.StatusRecord{Class: "summarizer", FileName: "b.pdf"})
	if a == "" || a == b {
		t.Fatalf("fallback ids must be stable and distinct: %q %q", a, b)
	}
}

func TestStatusFieldsOmitsUnset(t *testing.T) {
	fields := statusFields(models.StatusRecord{Status: "FAILED", FileName: "a.pdf", ErrorDetails: "boom", UpdatedAt: time.Unix(1, 0)})
	if fields["status"] != "FAILED" || fields["errorDetails"] != "boom" || fields["fileName"] != "a.pdf" {
		t.Fatalf("unexpected fields %v", fields)
	}
	for _, key := range []string{"fileHash", "sessionId", "chunks", "createdAt"} {
		if _, ok := fields[key]; ok {
			t.Fatalf("unset field %s must be omitted", key)
		}
	}
}

func TestWorkflowParent(t *testing.T) {
	if got := WorkflowParent("p", "us-central1", "wf"); got != "projects/p/locations/us-central1/workflows/wf" {
		t.Fatalf("unexpected parent %q", got)
	}
}
