package projector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/EKaterinaTR/winm/event"
)

// exportFile is the journal file name inside the export directory.
const exportFile = "events.jsonl"

// Exporter appends every projected event to a JSONL journal, one object per
// line, for offline inspection and replay. It is not read by any component.
type Exporter struct {
	mu   sync.Mutex
	path string
}

// NewExporter creates an exporter writing into dir. Returns nil when dir is
// empty, which disables the journal.
func NewExporter(dir string) (*Exporter, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &Exporter{path: filepath.Join(dir, exportFile)}, nil
}

// Append writes one event record to the journal.
func (e *Exporter) Append(ev event.Event) error {
	body, err := ev.Encode()
	if err != nil {
		return err
	}
	line, err := json.Marshal(struct {
		ProjectedAt time.Time       `json:"projected_at"`
		Event       json.RawMessage `json:"event"`
	}{ProjectedAt: time.Now().UTC(), Event: body})
	if err != nil {
		return fmt.Errorf("encode journal line: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}
