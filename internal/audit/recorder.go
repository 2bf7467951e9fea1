package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"recap/internal/events"
	"recap/internal/logging"
)

const (
	// defaultMaxEntries bounds the in-memory window and the on-disk
	// file after compaction.
	defaultMaxEntries = 1000
	// resultLimit caps stored tool output per entry.
	resultLimit = 2000
	// writeBuffer is how many completed entries may wait for the
	// writer goroutine before new ones are dropped.
	writeBuffer = 256
)

// Options tunes a Recorder.
type Options struct {
	// MaxEntries bounds how many entries are kept queryable. Zero
	// means the default.
	MaxEntries int
}

// Recorder assembles audit entries from the run event stream and
// appends them to a JSON-lines file under dir. It implements
// events.Sink; attach it to the broadcaster and every tool invocation
// in every run lands in the log.
type Recorder struct {
	path       string
	maxEntries int

	mu      sync.Mutex
	open    map[string]*Entry // keyed by run id + call id
	entries []Entry           // most recent last
	dropped int64

	writeCh chan Entry
	done    chan struct{}
}

// NewRecorder opens (or creates) the audit log under dir and loads the
// retained tail of any previous log.
func NewRecorder(dir string, opts Options) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	max := opts.MaxEntries
	if max <= 0 {
		max = defaultMaxEntries
	}

	r := &Recorder{
		path:       filepath.Join(dir, "audit.log"),
		maxEntries: max,
		open:       make(map[string]*Entry),
		writeCh:    make(chan Entry, writeBuffer),
		done:       make(chan struct{}),
	}
	if err := r.load(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	go r.writeLoop(f)
	return r, nil
}

// load reads the existing log into memory, keeping the last maxEntries
// and compacting the file when it has grown past that.
func (r *Recorder) load() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	var loaded []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// A truncated tail line from a crash is expected;
			// anything unreadable is skipped rather than fatal.
			continue
		}
		loaded = append(loaded, e)
	}

	if len(loaded) > r.maxEntries {
		loaded = loaded[len(loaded)-r.maxEntries:]
		if err := r.compact(loaded); err != nil {
			logging.Warn("audit log compaction failed", "error", err)
		}
	}
	r.entries = loaded
	return nil
}

// compact rewrites the file with just the retained entries.
func (r *Recorder) compact(entries []Entry) error {
	var buf bytes.Buffer
	for i := range entries {
		data, err := json.Marshal(&entries[i])
		if err != nil {
			continue
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

func (r *Recorder) writeLoop(f *os.File) {
	defer close(r.done)
	defer f.Close()
	for e := range r.writeCh {
		data, err := json.Marshal(&e)
		if err != nil {
			continue
		}
		data = append(data, '\n')
		if _, err := f.Write(data); err != nil {
			logging.Warn("audit log write failed", "error", err)
		}
	}
}

// Deliver consumes one run event. Tool call events open an entry; the
// matching result or denial completes it and sends it to disk. Run
// terminal events discard calls that never saw a result, which happens
// when a run is canceled mid-invocation.
func (r *Recorder) Deliver(ev events.Event) {
	switch ev.Type {
	case events.TypeToolCall:
		r.mu.Lock()
		r.open[ev.RunID+"\x00"+ev.CallID] = &Entry{
			ID:        uuid.New().String(),
			RunID:     ev.RunID,
			Step:      ev.Step,
			Server:    ev.Server,
			Tool:      ev.Tool,
			Args:      SanitizeArgs(ev.Args),
			Timestamp: ev.Timestamp,
		}
		r.mu.Unlock()

	case events.TypeToolResult:
		status := StatusOK
		if ev.IsError {
			status = StatusError
		}
		r.complete(ev, status, TruncateResult(ev.Result, resultLimit))

	case events.TypeToolDenied:
		r.complete(ev, StatusDenied, "")

	case events.TypeFinalResult, events.TypeError:
		r.mu.Lock()
		for key, e := range r.open {
			if e.RunID == ev.RunID {
				delete(r.open, key)
			}
		}
		r.mu.Unlock()
	}
}

func (r *Recorder) complete(ev events.Event, status Status, result string) {
	key := ev.RunID + "\x00" + ev.CallID
	r.mu.Lock()
	e, ok := r.open[key]
	if !ok {
		// The recorder was attached mid-run; keep what the event
		// carries rather than losing the invocation entirely.
		e = &Entry{
			ID:        uuid.New().String(),
			RunID:     ev.RunID,
			Step:      ev.Step,
			Tool:      ev.Tool,
			Timestamp: ev.Timestamp,
		}
	}
	delete(r.open, key)
	e.Status = status
	e.Result = result
	e.Duration = ev.Timestamp.Sub(e.Timestamp)
	if e.Duration < 0 {
		e.Duration = 0
	}

	r.entries = append(r.entries, *e)
	if len(r.entries) > r.maxEntries {
		r.entries = r.entries[len(r.entries)-r.maxEntries:]
	}
	r.mu.Unlock()

	select {
	case r.writeCh <- *e:
	default:
		r.mu.Lock()
		r.dropped++
		n := r.dropped
		r.mu.Unlock()
		if n == 1 || n%100 == 0 {
			logging.Warn("audit writer backlogged, dropping entries", "dropped", n)
		}
	}
}

// Entries returns entries matching the filter, newest first.
func (r *Recorder) Entries(f Filter) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if !r.entries[i].Matches(f) {
			continue
		}
		out = append(out, r.entries[i])
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Len reports how many entries are currently queryable.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close flushes pending writes and closes the log file. The recorder
// must be detached from the broadcaster first; Deliver after Close
// panics.
func (r *Recorder) Close() error {
	close(r.writeCh)
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("audit writer did not drain in time")
	}
	return nil
}
