package artifact

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/runloom/runloom/engine/core"
)

var ErrNotFound = errors.New("workflow artifact not found")

// FileType classifies how an artifact should be presented.
type FileType string

const (
	FileTypeText  FileType = "text"
	FileTypeFile  FileType = "file"
	FileTypeImage FileType = "image"
)

// Artifact is one persisted output file of a run. A directory artifact
// expands into one row per contained file; rows are immutable once created.
type Artifact struct {
	ID       core.ID  `json:"id"                  db:"id"`
	RunID    core.ID  `json:"workflow_run_id"     db:"workflow_run_id"`
	StepID   core.ID  `json:"step_id,omitempty"   db:"step_id"`
	EventID  core.ID  `json:"event_id,omitempty"  db:"event_id"`
	Name     string   `json:"name"                db:"name"`
	FilePath string   `json:"file_path"           db:"file_path"`
	FileType FileType `json:"file_type"           db:"file_type"`
	MimeType string   `json:"mime_type"           db:"mime_type"`
	Size     int64    `json:"size_bytes"          db:"size_bytes"`
	Phase    string   `json:"phase"               db:"phase"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TypeForMime maps a detected mime type onto the artifact file type.
func TypeForMime(mime string) FileType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return FileTypeImage
	case strings.HasPrefix(mime, "text/"),
		strings.HasPrefix(mime, "application/json"),
		strings.HasPrefix(mime, "application/yaml"),
		strings.HasPrefix(mime, "application/xml"):
		return FileTypeText
	default:
		return FileTypeFile
	}
}

// Repository persists artifact rows. Implementations live in engine/infra.
type Repository interface {
	Create(ctx context.Context, a *Artifact) error
	ListByRun(ctx context.Context, runID core.ID) ([]*Artifact, error)
}
