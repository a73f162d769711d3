package models

import "time"

// ArtifactKind classifies an uploaded artifact.
type ArtifactKind string

const (
	KindImage   ArtifactKind = "image"
	KindPDF     ArtifactKind = "pdf"
	KindText    ArtifactKind = "text"
	KindAudio   ArtifactKind = "audio"
	KindVideo   ArtifactKind = "video"
	KindUnknown ArtifactKind = "unknown"
)

// Common requester roles.
const (
	RolePatient = "Patient"
	RoleDoctor  = "Doctor"
)

// Artifact is a submitted upload together with its classification
// parameters. AdditionalInfo is passed to the prompt only; it is not part of
// the cache key.
type Artifact struct {
	Kind           ArtifactKind `json:"kind"`
	FileName       string       `json:"file_name,omitempty"`
	Data           []byte       `json:"-"`
	Text           string       `json:"text,omitempty"`
	Category       string       `json:"category"`
	Role           string       `json:"role"`
	AdditionalInfo string       `json:"additional_info,omitempty"`
}

// Media is an inline binary payload sent alongside the prompt.
type Media struct {
	MIMEType string
	Data     []byte
}

// AnalyzerRequest is the input of the external analysis call.
type AnalyzerRequest struct {
	Kind   ArtifactKind
	Prompt string
	Media  *Media
}

// BatchStatus is the outcome of a single batch item.
type BatchStatus string

const (
	BatchCompleted BatchStatus = "Completed"
	BatchError     BatchStatus = "Error"
)

// BatchResult is the per-file result of a batch request.
type BatchResult struct {
	FileName string      `json:"fileName"`
	FileType string      `json:"fileType"`
	Status   BatchStatus `json:"status"`
	Result   string      `json:"result"`
	Cached   bool        `json:"cached,omitempty"`
}

// AnalysisRecord is a completed analysis kept in the history log.
type AnalysisRecord struct {
	ID          string       `json:"id"`
	Kind        ArtifactKind `json:"kind"`
	Category    string       `json:"reportType"`
	Role        string       `json:"userRole"`
	Fingerprint string       `json:"fingerprint"`
	Result      string       `json:"result"`
	Cached      bool         `json:"cached"`
	CreatedAt   time.Time    `json:"createdAt"`
}
