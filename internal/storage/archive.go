package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Archive appends JSON lines to date-organized, size-rotated files:
// baseDir/<date>/<subDir>/har.jsonl.
type Archive struct {
	baseDir   string
	subDir    string
	maxSizeMB int

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
	now         func() time.Time
}

func NewArchive(baseDir, subDir string, maxSizeMB int) *Archive {
	return &Archive{
		baseDir:   baseDir,
		subDir:    subDir,
		maxSizeMB: maxSizeMB,
		now:       time.Now,
	}
}

// Append writes record as one JSON line.
func (a *Archive) Append(record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	date := a.now().UTC().Format("2006-01-02")
	if a.logger == nil || date != a.currentDate {
		if err := a.rotateLocked(date); err != nil {
			return err
		}
	}
	if _, err := a.logger.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("archive: write: %w", err)
	}
	return nil
}

func (a *Archive) rotateLocked(date string) error {
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			slog.Debug("archive close failed", "subdir", a.subDir, "error", err)
		}
		a.logger = nil
	}

	dir := filepath.Join(a.baseDir, date, a.subDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive: mkdir %s: %w", dir, err)
	}
	filename := filepath.Join(dir, "har.jsonl")
	a.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    a.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		LocalTime:  false,
	}
	a.currentDate = date
	slog.Info("opened har archive", "file", filename)
	return nil
}

func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.logger == nil {
		return nil
	}
	err := a.logger.Close()
	a.logger = nil
	return err
}
