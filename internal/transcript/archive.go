package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanwires/sidekick/internal/model"
)

// Archiver writes finished-session transcripts to plain-text files for
// audit. The output is never read back into engine state.
type Archiver struct {
	dir string
}

// NewArchiver creates an archiver writing into dir. An empty dir disables
// archiving; Archive then reports an error.
func NewArchiver(dir string) *Archiver {
	return &Archiver{dir: dir}
}

// Archive writes one line per utterance, "[HH:MM:SS] speaker: text", and
// returns the file path.
func (a *Archiver) Archive(sessionID string, utterances []model.Utterance) (string, error) {
	if a.dir == "" {
		return "", fmt.Errorf("archive directory not configured")
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	var b strings.Builder
	for _, u := range utterances {
		fmt.Fprintf(&b, "[%s] %s: %s\n", u.At.Format("15:04:05"), u.Speaker, u.Text)
	}

	name := fmt.Sprintf("transcript_%s_%s.txt", sessionID, time.Now().Format("20060102_150405"))
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return path, nil
}
