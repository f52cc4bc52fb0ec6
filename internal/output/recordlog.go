package output

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sentinel1090/internal/consistency"
)

// RecordLog writes message and verdict records as JSON lines into daily
// files, compressing each file with gzip once its day has passed.
type RecordLog struct {
	logDir string
	useUTC bool
	logger *logrus.Logger

	mutex       sync.Mutex
	messageFile *os.File
	verdictFile *os.File
	currentDate string
}

// NewRecordLog creates the log directory and opens today's record files.
func NewRecordLog(logDir string, useUTC bool, logger *logrus.Logger) (*RecordLog, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	r := &RecordLog{
		logDir: logDir,
		useUTC: useUTC,
		logger: logger,
	}
	if err := r.rotate(); err != nil {
		return nil, fmt.Errorf("failed to open record files: %w", err)
	}
	return r, nil
}

// Start runs the rotation scheduler until the context is canceled.
func (r *RecordLog) Start(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Record log rotation stopping")
			return
		case <-ticker.C:
			r.checkRotation()
		}
	}
}

// WriteMessage appends one message record to today's message file.
func (r *RecordLog) WriteMessage(rec *MessageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal message record: %w", err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.messageFile == nil {
		return fmt.Errorf("record log is closed")
	}
	_, err = r.messageFile.Write(append(data, '\n'))
	return err
}

// WriteVerdict appends one verdict to today's verdict file.
func (r *RecordLog) WriteVerdict(v *consistency.Verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.verdictFile == nil {
		return fmt.Errorf("record log is closed")
	}
	_, err = r.verdictFile.Write(append(data, '\n'))
	return err
}

func (r *RecordLog) now() time.Time {
	if r.useUTC {
		return time.Now().UTC()
	}
	return time.Now()
}

func (r *RecordLog) checkRotation() {
	currentDate := r.now().Format("2006-01-02")

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.currentDate != currentDate {
		r.logger.WithFields(logrus.Fields{
			"old_date": r.currentDate,
			"new_date": currentDate,
		}).Info("Rotating record files")

		if err := r.rotate(); err != nil {
			r.logger.WithError(err).Error("Failed to rotate record files")
		}
	}
}

// rotate closes the current files, schedules their compression and opens
// today's files. Callers must hold the mutex except during construction.
func (r *RecordLog) rotate() error {
	newDate := r.now().Format("2006-01-02")

	if r.messageFile != nil {
		oldDate := r.currentDate
		if err := r.messageFile.Close(); err != nil {
			r.logger.WithError(err).Error("Failed to close old message file")
		}
		if err := r.verdictFile.Close(); err != nil {
			r.logger.WithError(err).Error("Failed to close old verdict file")
		}
		go r.compress(r.messagePath(oldDate))
		go r.compress(r.verdictPath(oldDate))
	}

	msgFile, err := os.OpenFile(r.messagePath(newDate), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open message file: %w", err)
	}
	vFile, err := os.OpenFile(r.verdictPath(newDate), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		msgFile.Close()
		return fmt.Errorf("failed to open verdict file: %w", err)
	}

	r.messageFile = msgFile
	r.verdictFile = vFile
	r.currentDate = newDate

	r.logger.WithFields(logrus.Fields{
		"messages": r.messagePath(newDate),
		"verdicts": r.verdictPath(newDate),
	}).Info("Opened record files")
	return nil
}

func (r *RecordLog) messagePath(date string) string {
	return filepath.Join(r.logDir, fmt.Sprintf("messages_%s.jsonl", date))
}

func (r *RecordLog) verdictPath(date string) string {
	return filepath.Join(r.logDir, fmt.Sprintf("verdicts_%s.jsonl", date))
}

// compress gzips a finished record file and removes the original.
func (r *RecordLog) compress(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}

	gzipPath := path + ".gz"
	r.logger.WithFields(logrus.Fields{
		"source": path,
		"target": gzipPath,
	}).Info("Compressing record file")

	src, err := os.Open(path)
	if err != nil {
		r.logger.WithError(err).WithField("file", path).Error("Failed to open file for compression")
		return
	}
	defer src.Close()

	dst, err := os.Create(gzipPath)
	if err != nil {
		r.logger.WithError(err).WithField("file", gzipPath).Error("Failed to create compressed file")
		return
	}
	defer dst.Close()

	gzWriter := gzip.NewWriter(dst)
	gzWriter.Name = filepath.Base(path)
	gzWriter.ModTime = time.Now()

	if _, err := io.Copy(gzWriter, src); err != nil {
		r.logger.WithError(err).Error("Failed to compress record file")
		return
	}
	if err := gzWriter.Close(); err != nil {
		r.logger.WithError(err).Error("Failed to flush compressed file")
		return
	}
	if err := dst.Close(); err != nil {
		r.logger.WithError(err).Error("Failed to close compressed file")
		return
	}

	if err := os.Remove(path); err != nil {
		r.logger.WithError(err).WithField("file", path).Error("Failed to remove original record file")
		return
	}
	r.logger.WithField("file", gzipPath).Info("Record file compressed")
}

// CleanupOldRecords removes record files older than maxDays.
func (r *RecordLog) CleanupOldRecords(maxDays int) error {
	if maxDays <= 0 {
		return fmt.Errorf("maxDays must be positive")
	}

	files, err := filepath.Glob(filepath.Join(r.logDir, "*.jsonl*"))
	if err != nil {
		return fmt.Errorf("failed to list record files: %w", err)
	}

	cutoff := r.now().AddDate(0, 0, -maxDays)
	removed := 0
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(file); err != nil {
				r.logger.WithError(err).WithField("file", file).Error("Failed to remove old record file")
			} else {
				removed++
			}
		}
	}
	if removed > 0 {
		r.logger.WithField("count", removed).Info("Cleaned up old record files")
	}
	return nil
}

// Close closes both record files. Further writes fail.
func (r *RecordLog) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var firstErr error
	if r.messageFile != nil {
		if err := r.messageFile.Close(); err != nil {
			firstErr = err
		}
		r.messageFile = nil
	}
	if r.verdictFile != nil {
		if err := r.verdictFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.verdictFile = nil
	}
	return firstErr
}
