package postlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileLog appends entries as JSON lines. It is safe for concurrent use.
type FileLog struct {
	path   string
	file   *os.File
	out    io.Writer
	writer *bufio.Writer
	mu     sync.Mutex
}

// OpenFile opens or creates a JSONL post log.
func OpenFile(path string) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create post log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open post log: %w", err)
	}
	return &FileLog{
		path:   path,
		file:   file,
		out:    file,
		writer: bufio.NewWriter(file),
	}, nil
}

// Append writes one line and syncs it to disk.
func (l *FileLog) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal post log entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("post log %s is closed", l.path)
	}

	// A bufio.Writer keeps its first error forever; reset it so the next
	// Append starts clean and the unwritten part of this line is dropped.
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		l.writer.Reset(l.out)
		return fmt.Errorf("failed to write post log entry: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		l.writer.Reset(l.out)
		return fmt.Errorf("failed to flush post log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync post log: %w", err)
	}
	return nil
}

// Recent reads the file and returns the agent's latest entries.
func (l *FileLog) Recent(ctx context.Context, agent string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := ReadEntries(l.path)
	if err != nil {
		return nil, err
	}
	return lastN(forAgent(entries, agent), limit), nil
}

// Close flushes any remaining data and closes the file.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.writer.Flush(); err != nil {
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("failed to flush before close: %w", err)
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to close post log: %w", err)
	}
	return nil
}

// Path returns the path to the log file.
func (l *FileLog) Path() string {
	return l.path
}

// ReadEntries reads every entry from a JSONL post log. A missing file is an
// empty log.
func ReadEntries(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open post log: %w", err)
	}
	defer func() { _ = file.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	const maxLineSize = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("failed to parse post log line %d: %w", lineNum, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read post log: %w", err)
	}
	return entries, nil
}
