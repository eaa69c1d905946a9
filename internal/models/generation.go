package models

import "time"

// Message roles shared by every provider.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one role-tagged entry of a generation request.
type Message struct {
	Role    string
	Content string
}

// GenerationRequest carries the logical fields every provider understands.
// Providers translate it into their own wire shape; it is never mutated after
// BuildRequest returns it.
type GenerationRequest struct {
	Label            string
	Messages         []Message
	Model            string
	MaxOutputTokens  int
	Temperature      *float64
	TopP             *float64
	TopK             *int
	ResponseMIMEType string
}

// System returns the concatenated content of all system messages.
func (r GenerationRequest) System() string {
	return r.joined(RoleSystem)
}

// User returns the concatenated content of all user messages.
func (r GenerationRequest) User() string {
	return r.joined(RoleUser)
}

func (r GenerationRequest) joined(role string) string {
	out := ""
	for _, m := range r.Messages {
		if m.Role != role {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += m.Content
	}
	return out
}

// GenerationResult is the provider output for one request.
type GenerationResult struct {
	Label        string
	Provider     string
	Model        string
	Text         string
	PromptTokens int
	OutputTokens int
}

// BatchState is a step of the per-document map-reduce.
type BatchState string

const (
	BatchInitialized   BatchState = "initialized"
	BatchMappingChunks BatchState = "mapping_chunks"
	BatchSynthesizing  BatchState = "synthesizing"
	BatchDone          BatchState = "done"
	BatchFailed        BatchState = "failed"
)

// GenerationMode tells whether a document went through the chunked path.
type GenerationMode string

const (
	ModeSingleShot GenerationMode = "single"
	ModeBatch      GenerationMode = "batch"
)

// Outcome is the final artifact for one document together with the
// bookkeeping the runner and its sinks need.
type Outcome struct {
	Document Document
	Text     string
	Mode     GenerationMode
	Provider string
	Model    string
	Chunks   int
	Skipped  int
	// Calls counts generation attempts: chunks and synthesis, or the single request.
	Calls int
	// CitationCalls counts the attempts of the optional citation request.
	CitationCalls int
	States        []BatchState
	Citation      string
	Prompt        string
	StartedAt     time.Time
	Duration      time.Duration
}

// GenerationEvent is the flat row handed to the relational ledger after a
// document is done.
type GenerationEvent struct {
	ProjectName  string
	SessionID    int64
	Prompt       string
	FileName     string
	PromptTokens int
	Answer       string
	AnswerTokens int
	Model        string
	ModelDetails string
	PromptType   string
	Citation     string
	CreatedAt    time.Time
}

// RunSummary totals one pass over a pending folder.
type RunSummary struct {
	Class         string
	SessionID     int64
	Processed     int
	Completed     []string
	Failed        []string
	SkippedChunks int
	OutputFile    string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Publication is what the post-completion sinks receive for one document.
type Publication struct {
	SessionID int64
	Class     string
	Outcome   Outcome
	// Record is the exact artifact record appended for the document.
	Record string
}
