package models

// These structs define the JSON payloads accepted and returned by the
// queue-trigger functions.

// RunQueueRequest is the input for the HTTP run-queue function.
type RunQueueRequest struct {
	Class       string `json:"class"`
	ExecutionID string `json:"executionId,omitempty"`
}

// RunQueueResponse is the output of the HTTP run-queue function.
type RunQueueResponse struct {
	Status        string   `json:"status"`
	SessionID     int64    `json:"sessionId"`
	Completed     []string `json:"completed"`
	Failed        []string `json:"failed"`
	SkippedChunks int      `json:"skippedChunks"`
	OutputFile    string   `json:"outputFile"`
}

// GCSEvent is the storage-finalized event data delivered to the upload function.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// RunNotification is the argument passed to the downstream workflow when a
// run finishes.
type RunNotification struct {
	Class         string   `json:"class"`
	SessionID     int64    `json:"sessionId"`
	Completed     []string `json:"completed"`
	Failed        []string `json:"failed"`
	SkippedChunks int      `json:"skippedChunks"`
	OutputFile    string   `json:"outputFile"`
}

// NewRunQueueResponse maps a run summary onto the function response.
func NewRunQueueResponse(s RunSummary) *RunQueueResponse {
	return &RunQueueResponse{
		Status:        "success",
		SessionID:     s.SessionID,
		Completed:     nonNil(s.Completed),
		Failed:        nonNil(s.Failed),
		SkippedChunks: s.SkippedChunks,
		OutputFile:    s.OutputFile,
	}
}

// NewRunNotification maps a run summary onto the workflow argument.
func NewRunNotification(s RunSummary) RunNotification {
	return RunNotification{
		Class:         s.Class,
		SessionID:     s.SessionID,
		Completed:     nonNil(s.Completed),
		Failed:        nonNil(s.Failed),
		SkippedChunks: s.SkippedChunks,
		OutputFile:    s.OutputFile,
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
