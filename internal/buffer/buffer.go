// Package buffer provides the durable local queue for measurements that could
// not be delivered. Records are kept as newline-delimited JSON in a single
// file so they survive crashes and restarts. Every mutation of the file and of
// the current failure session happens under one mutex; probers only ever
// append and the drainer is the only component that removes records.
//
// A Buffer holds an exclusive lock on <path>.lock for its whole lifetime, so
// a second process cannot open the same file for writing. Inspect reads the
// file without the lock and never modifies it.
package buffer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Guliveer/pingtel/internal/metrics"
	"github.com/Guliveer/pingtel/internal/models"
)

// retainRatio is the share of capacity kept after a rotation.
const retainRatio = 0.8

// maxLineSize bounds a single NDJSON line when reading the file back.
const maxLineSize = 1 << 20

// ErrLocked is returned by New when another Buffer, usually a running agent,
// holds the file.
var ErrLocked = errors.New("buffer file is in use by another process")

// SendFunc makes one delivery attempt for a buffered record.
type SendFunc func(ctx context.Context, m models.Measurement) error

// Buffer is a bounded, append-only file of undelivered measurements.
type Buffer struct {
	path       string
	maxRecords int
	logger     *zap.Logger
	newID      func() string
	lock       *flock.Flock

	// mu guards the file contents, count, session and discarded.
	mu        sync.Mutex
	count     int
	session   string
	discarded uint64

	// drainMu serializes drain passes.
	drainMu sync.Mutex
}

// New opens (or prepares) the buffer file at path and locks it. Records left
// by a previous run are loaded, corrupted lines are dropped and the failure
// session of the newest record is resumed so an outage spanning a restart
// keeps one id. It fails with ErrLocked when the file is already open
// elsewhere. Callers must Close the buffer to release the lock.
func New(path string, maxRecords int, logger *zap.Logger) (*Buffer, error) {
	if path == "" {
		return nil, errors.New("buffer path is required")
	}
	if maxRecords <= 0 {
		return nil, fmt.Errorf("max records must be positive, got %d", maxRecords)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating buffer directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking buffer file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	b := &Buffer{
		path:       path,
		maxRecords: maxRecords,
		logger:     logger.Named("buffer"),
		newID:      uuid.NewString,
		lock:       lock,
	}
	if err := b.load(); err != nil {
		lock.Unlock()
		return nil, err
	}
	return b, nil
}

// load reads the file left by a previous run.
func (b *Buffer) load() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	records, corrupted, err := b.readLocked()
	if err != nil {
		return err
	}
	if corrupted > 0 {
		b.logger.Warn("Dropping corrupted buffer lines", zap.Int("lines", corrupted))
		if err := b.replaceLocked(records); err != nil {
			return err
		}
	}
	b.count = len(records)
	if b.count > 0 {
		b.session = records[b.count-1].FailureSessionID()
		if b.session == "" {
			b.session = b.newID()
		}
		b.logger.Info("Resuming buffered records from previous run",
			zap.Int("records", b.count),
			zap.String("failure_id", b.session))
	}
	if b.count > b.maxRecords {
		if err := b.rotateLocked(); err != nil {
			return err
		}
	}
	metrics.BufferRecords.Set(float64(b.count))
	return nil
}

// Close releases the file lock. Buffered records stay on disk.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.lock.Unlock(); err != nil {
		return fmt.Errorf("unlocking buffer file: %w", err)
	}
	return nil
}

// Append stores m, stamping it with the current failure session. A new
// session is allocated when the buffer is empty. If the capacity is exceeded
// the oldest records are discarded. The stamped record is returned.
func (b *Buffer) Append(m models.Measurement) (models.Measurement, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 || b.session == "" {
		b.session = b.newID()
		b.logger.Info("Starting failure session", zap.String("failure_id", b.session))
	}
	stamped := m.WithFailureSession(b.session)

	line, err := json.Marshal(stamped)
	if err != nil {
		return stamped, fmt.Errorf("encoding record: %w", err)
	}
	line = append(line, '\n')

	if err := b.appendLocked(line); err != nil {
		if b.count == 0 {
			b.session = ""
		}
		return stamped, err
	}
	b.count++

	if b.count > b.maxRecords {
		if err := b.rotateLocked(); err != nil {
			return stamped, err
		}
	}
	metrics.BufferRecords.Set(float64(b.count))
	return stamped, nil
}

// DrainOnce tries to deliver every record present when it is called, in
// insertion order. Records that still fail are kept in their original order,
// followed by anything appended while the pass was running. When nothing is
// left the file is removed and the failure session is closed.
func (b *Buffer) DrainOnce(ctx context.Context, send SendFunc) (delivered, remaining int, err error) {
	b.drainMu.Lock()
	defer b.drainMu.Unlock()

	b.mu.Lock()
	snapshot, _, err := b.readLocked()
	mark := b.discarded
	if err == nil && len(snapshot) == 0 {
		b.resetLocked()
	}
	b.mu.Unlock()
	if err != nil {
		return 0, b.Count(), err
	}
	if len(snapshot) == 0 {
		return 0, 0, nil
	}

	metrics.DrainPassesTotal.Inc()

	// Uploads run without b.mu so appends are never held up by the network.
	failed := make([]bool, len(snapshot))
	for i, rec := range snapshot {
		if ctx.Err() != nil {
			failed[i] = true
			continue
		}
		if err := send(ctx, rec); err != nil {
			failed[i] = true
			b.logger.Debug("Buffered record still undeliverable",
				zap.String("target", rec.Target),
				zap.Error(err))
			continue
		}
		delivered++
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current, _, err := b.readLocked()
	if err != nil {
		return delivered, b.count, err
	}

	// Rotation may have dropped records from the head since the snapshot.
	lost := int(b.discarded - mark)
	survivors := make([]models.Measurement, 0, len(current))
	for i := lost; i < len(snapshot); i++ {
		if failed[i] {
			survivors = append(survivors, snapshot[i])
		}
	}
	tail := len(snapshot) - lost
	if tail < 0 {
		tail = 0
	}
	if tail < len(current) {
		survivors = append(survivors, current[tail:]...)
	}

	if len(survivors) == 0 {
		if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
			return delivered, b.count, fmt.Errorf("removing buffer file: %w", err)
		}
		b.logger.Info("Failure session closed", zap.String("failure_id", b.session))
		b.resetLocked()
		metrics.BufferRecords.Set(0)
		return delivered, 0, nil
	}

	if err := b.replaceLocked(survivors); err != nil {
		return delivered, b.count, err
	}
	b.count = len(survivors)
	metrics.BufferRecords.Set(float64(b.count))
	return delivered, b.count, nil
}

// Count returns the number of buffered records.
func (b *Buffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Session returns the current failure session id, or "" when the buffer is empty.
func (b *Buffer) Session() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Records returns a copy of the buffered records in insertion order.
func (b *Buffer) Records() ([]models.Measurement, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	records, _, err := b.readLocked()
	return records, err
}

// Path returns the backing file path.
func (b *Buffer) Path() string { return b.path }

// resetLocked closes the failure session. Must be called with b.mu held.
func (b *Buffer) resetLocked() {
	b.count = 0
	b.session = ""
}

// rotateLocked keeps only the newest records. Must be called with b.mu held.
func (b *Buffer) rotateLocked() error {
	records, _, err := b.readLocked()
	if err != nil {
		return err
	}
	keep := int(math.Ceil(float64(b.maxRecords) * retainRatio))
	if len(records) <= keep {
		b.count = len(records)
		return nil
	}
	dropped := len(records) - keep
	if err := b.replaceLocked(records[dropped:]); err != nil {
		return err
	}
	b.discarded += uint64(dropped)
	b.count = keep

	metrics.BufferRotationsTotal.Inc()
	metrics.BufferDiscardedTotal.Add(float64(dropped))
	b.logger.Warn("Buffer capacity exceeded, discarded oldest records",
		zap.Int("discarded", dropped),
		zap.Int("kept", keep),
		zap.Int("max_records", b.maxRecords))
	return nil
}

// appendLocked writes one encoded line. Must be called with b.mu held.
func (b *Buffer) appendLocked(line []byte) error {
	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("opening buffer file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("writing buffer file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing buffer file: %w", err)
	}
	return f.Close()
}

// replaceLocked atomically swaps the file for one holding exactly records.
// Must be called with b.mu held.
func (b *Buffer) replaceLocked(records []models.Measurement) error {
	var data bytes.Buffer
	enc := json.NewEncoder(&data)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}
	}

	f, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary buffer file: %w", err)
	}
	tmp := f.Name()
	if err := f.Chmod(0640); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("creating temporary buffer file: %w", err)
	}
	if _, err := f.Write(data.Bytes()); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temporary buffer file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing temporary buffer file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, b.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing buffer file: %w", err)
	}
	return nil
}

// readLocked parses the file, skipping lines that do not decode to a valid
// record. A missing file is an empty buffer. Must be called with b.mu held.
func (b *Buffer) readLocked() ([]models.Measurement, int, error) {
	return readFile(b.path, b.logger)
}

// Stats describes a buffer file as found on disk.
type Stats struct {
	Path      string
	Records   int
	Corrupted int
	Session   string
}

// Inspect counts the records in the file at path and reports the failure
// session of the newest one. It takes no lock and never writes, so it is safe
// to call while an agent owns the buffer.
func Inspect(path string) (Stats, error) {
	records, corrupted, err := readFile(path, zap.NewNop())
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Path: path, Records: len(records), Corrupted: corrupted}
	if n := len(records); n > 0 {
		st.Session = records[n-1].FailureSessionID()
	}
	return st, nil
}

func readFile(path string, logger *zap.Logger) ([]models.Measurement, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("opening buffer file: %w", err)
	}
	defer f.Close()
	return decode(f, logger)
}

// decode reads NDJSON records from r, counting lines it has to skip.
func decode(r io.Reader, logger *zap.Logger) ([]models.Measurement, int, error) {
	var (
		records   []models.Measurement
		corrupted int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var m models.Measurement
		if err := json.Unmarshal(line, &m); err != nil {
			corrupted++
			logger.Warn("Skipping unreadable buffer line", zap.Error(err))
			continue
		}
		if err := m.Validate(); err != nil {
			corrupted++
			logger.Warn("Skipping invalid buffer record", zap.Error(err))
			continue
		}
		records = append(records, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, corrupted, fmt.Errorf("reading buffer file: %w", err)
	}
	return records, corrupted, nil
}
