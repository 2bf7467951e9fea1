// Package recording holds the captured-session model: the finished
// screen/voice recordings this tool turns into work items, and their
// derived transcript, summary, and upload state.
package recording

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a recording id is not in the store.
var ErrNotFound = errors.New("recording not found")

// Recording is one finished capture plus everything derived from it as
// the pipeline progresses. Zero-valued derived fields mean that stage
// has not run.
type Recording struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	CapturedAt time.Time     `json:"captured_at"`
	Duration   time.Duration `json:"duration"`

	// Path is the local media file.
	Path string `json:"path"`

	// VideoURL is where the upload landed.
	VideoURL string `json:"video_url,omitempty"`

	// Transcript and Summary come from the transcription stage.
	Transcript string `json:"transcript,omitempty"`
	Summary    string `json:"summary,omitempty"`

	// RunID is the most recent orchestration run for this recording.
	RunID string `json:"run_id,omitempty"`
}

// FromFile builds a fresh recording around a local media file. The
// title comes from the file name and the capture time from its
// modification time.
func FromFile(path string) (*Recording, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, not a media file", path)
	}

	base := filepath.Base(abs)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	return &Recording{
		ID:         uuid.NewString(),
		Title:      title,
		CapturedAt: info.ModTime(),
		Path:       abs,
	}, nil
}

// Transcribed reports whether the transcription stage has run.
func (r *Recording) Transcribed() bool {
	return r.Transcript != "" || r.Summary != ""
}

// Uploaded reports whether the upload stage has run.
func (r *Recording) Uploaded() bool {
	return r.VideoURL != ""
}
