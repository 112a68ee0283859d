// Package jsonl reads and appends newline-delimited JSON files. The bot
// appends decision events to a JSONL log; the backtester replays recorded
// market snapshots from one.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Writer appends one JSON object per line to a file. Safe for concurrent
// use. A nil *Writer discards everything, so callers can leave event logging
// unconfigured without guarding each call.
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  *bufio.Writer
}

// NewWriter returns a writer appending to path, or nil when path is blank.
func NewWriter(path string) *Writer {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &Writer{path: path}
}

// Append marshals v and writes it as one line, flushing so tailers see the
// record immediately.
func (w *Writer) Append(v any) error {
	if w == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("jsonl marshal: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		w.file = f
		w.buf = bufio.NewWriterSize(f, 64*1024)
	}

	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	return w.buf.Flush()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.buf.Flush()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	w.buf = nil
	return err
}

// ReadAll decodes every line of path into T, skipping blank lines. A decode
// failure reports the line number.
func ReadAll[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode[T](f)
}

// Decode reads records from r until EOF.
func Decode[T any](r io.Reader) ([]T, error) {
	var out []T
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("jsonl line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
