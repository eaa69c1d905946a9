package models

import "time"

// Document is one source file picked up from a pending folder, plus the text
// extracted from it. It is owned by the queue runner for the lifetime of one run.
type Document struct {
	Path     string
	Name     string
	Class    string
	Text     string
	FileHash string
	Tokens   int
}

// WorkItemState is the position of a document in the folder-based queue.
type WorkItemState string

const (
	StatePending   WorkItemState = "PENDING"
	StateCompleted WorkItemState = "COMPLETED"
	StateFailed    WorkItemState = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s WorkItemState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// StatusRecord is the Firestore shape used to mirror queue transitions.
// It tracks the overall status and metadata of the file.
type StatusRecord struct {
	FileHash     string    `firestore:"fileHash,omitempty"`
	FileName     string    `firestore:"fileName,omitempty"`
	Class        string    `firestore:"class,omitempty"`
	Status       string    `firestore:"status,omitempty"`
	ErrorDetails string    `firestore:"errorDetails,omitempty"`
	SessionID    int64     `firestore:"sessionId,omitempty"`
	Chunks       int       `firestore:"chunks,omitempty"`
	Skipped      int       `firestore:"skipped,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt,omitempty"`
}
