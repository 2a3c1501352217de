package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"paywallIndexer/internal/model"
)

// JsonlAuditSink appends ledger records to a JSONL file. The file is opened
// on the first batch and stays open until Close.
type JsonlAuditSink struct {
	path string

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

func NewJsonlAuditSink(path string) *JsonlAuditSink {
	return &JsonlAuditSink{path: path}
}

func (s *JsonlAuditSink) open() error {
	if s.file != nil {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create audit dir: %w", err)
		}
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	s.file = file
	s.writer = bufio.NewWriter(file)
	return nil
}

// PutEventBatch appends a batch of ledger records as JSON lines and flushes them.
func (s *JsonlAuditSink) PutEventBatch(records []model.ProcessedEvent) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.open(); err != nil {
		return err
	}
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal ledger record: %w", err)
		}
		if _, err := s.writer.Write(line); err != nil {
			return fmt.Errorf("write ledger record: %w", err)
		}
		if err := s.writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush audit file: %w", err)
	}
	return nil
}

// Close flushes and closes the file. A later batch reopens it.
func (s *JsonlAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	s.file, s.writer = nil, nil
	if flushErr != nil {
		return fmt.Errorf("flush audit file: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close audit file: %w", closeErr)
	}
	return nil
}
