package model

import (
	"time"

	"github.com/google/uuid"
)

// StagedUpload is a raw upload written to the staging area and waiting to be processed.
type StagedUpload struct {
	Path         string `json:"path"`          // location on the local filesystem
	OriginalName string `json:"original_name"` // filename as sent by the client
	MimeHint     string `json:"mime_hint"`     // Content-Type of the multipart part
	Size         int64  `json:"size"`
}

// Artifact is a processed image stored in the output store.
type Artifact struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`     // object name inside the output store
	Location  string       `json:"location"` // path reported to clients, e.g. processed/<name>
	Source    StagedUpload `json:"source"`   // the upload this artifact was produced from
	Format    string       `json:"format"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	Quality   int          `json:"quality"`
	Size      int64        `json:"size"`
	CreatedAt time.Time    `json:"created_at"`
}

// ProcessedEvent is published for every artifact the pipeline produces.
type ProcessedEvent struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Location     string    `json:"location"`
	OriginalName string    `json:"original_name"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewProcessedEvent builds the event describing a.
func NewProcessedEvent(a Artifact) ProcessedEvent {
	return ProcessedEvent{
		ID:           a.ID,
		Name:         a.Name,
		Location:     a.Location,
		OriginalName: a.Source.OriginalName,
		Width:        a.Width,
		Height:       a.Height,
		CreatedAt:    a.CreatedAt,
	}
}
