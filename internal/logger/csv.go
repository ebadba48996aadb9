package logger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DailyCSV is an append-only CSV audit trail split into one file per UTC
// day: <dir>/<prefix>_YYYYMMDD.csv. The day is taken from each record's
// timestamp, so a long-running process rolls over at midnight without a
// restart. Records are buffered and flushed on an interval and on Close.
type DailyCSV struct {
	dir    string
	prefix string
	header []string
	logger *zap.Logger

	mu      sync.Mutex
	day     string
	file    *os.File
	w       *csv.Writer
	stats   CSVStats
	closed  bool
	stop    chan struct{}
	stopped chan struct{}
}

// CSVStats counts what a DailyCSV has done since it was opened.
type CSVStats struct {
	Records uint64
	Flushes uint64
	Files   int
}

// NewDailyCSV creates dir if needed. No file is opened until the first
// record arrives.
func NewDailyCSV(dir, prefix string, header []string, flushEvery time.Duration, logger *zap.Logger) (*DailyCSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}
	if flushEvery <= 0 {
		flushEvery = time.Second
	}
	d := &DailyCSV{
		dir:     dir,
		prefix:  prefix,
		header:  header,
		logger:  logger,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.flushLoop(flushEvery)
	return d, nil
}

// PathFor returns the file a record stamped at would land in.
func (d *DailyCSV) PathFor(at time.Time) string {
	return filepath.Join(d.dir, fmt.Sprintf("%s_%s.csv", d.prefix, at.UTC().Format("20060102")))
}

// Write appends record to the file for at's day.
func (d *DailyCSV) Write(at time.Time, record []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return os.ErrClosed
	}

	if day := at.UTC().Format("20060102"); day != d.day {
		if err := d.rollLocked(at, day); err != nil {
			return err
		}
	}
	if err := d.w.Write(record); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	d.stats.Records++
	return nil
}

func (d *DailyCSV) rollLocked(at time.Time, day string) error {
	if err := d.closeFileLocked(); err != nil {
		d.logger.Warn("Failed to close previous audit file", zap.String("day", d.day), zap.Error(err))
	}

	path := d.PathFor(at)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat audit file: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 && len(d.header) > 0 {
		if err := w.Write(d.header); err != nil {
			f.Close()
			return fmt.Errorf("failed to write audit header: %w", err)
		}
	}
	d.file, d.w, d.day = f, w, day
	d.stats.Files++
	d.logger.Debug("Audit file opened", zap.String("file", path))
	return nil
}

func (d *DailyCSV) flushLocked() error {
	if d.w == nil {
		return nil
	}
	d.w.Flush()
	if err := d.w.Error(); err != nil {
		return fmt.Errorf("audit flush: %w", err)
	}
	d.stats.Flushes++
	return nil
}

func (d *DailyCSV) closeFileLocked() error {
	if d.file == nil {
		return nil
	}
	ferr := d.flushLocked()
	cerr := d.file.Close()
	d.file, d.w, d.day = nil, nil, ""
	if ferr != nil {
		return ferr
	}
	return cerr
}

// Flush writes buffered records to the current file.
func (d *DailyCSV) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushLocked()
}

func (d *DailyCSV) flushLoop(every time.Duration) {
	defer close(d.stopped)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := d.Flush(); err != nil {
				d.logger.Error("Periodic audit flush failed", zap.Error(err))
			}
		case <-d.stop:
			return
		}
	}
}

// Close flushes and closes the current file. Later calls return nil.
func (d *DailyCSV) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.stop)
	err := d.closeFileLocked()
	stats := d.stats
	d.mu.Unlock()

	<-d.stopped
	d.logger.Info("Audit trail closed",
		zap.String("dir", d.dir),
		zap.Uint64("records", stats.Records),
		zap.Int("files", stats.Files))
	return err
}

// Stats returns a snapshot of the counters.
func (d *DailyCSV) Stats() CSVStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
