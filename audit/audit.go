// Package audit implements the append-only, retention-bounded audit log.
// An unauthorized request, a rate-limit trip, a pairing attempt, a data
// read: every security-relevant decision the engine makes is recorded
// here with a short dotted event type and a sanitized detail map. The
// store is goleveldb, keyed the same way the pairing nonce ledger this
// package is modeled on keys its own append-only records: a
// lexicographically sortable timestamp prefix followed by a unique id, so
// a retention sweep is a single ordered range scan.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/mneves75/ai-health-sync-ios-sub001/observability/logging"
)

const recordKeyPrefix = "record:"

// DefaultRetention is how long an audit record is kept before the
// retention sweep purges it.
const DefaultRetention = 90 * 24 * time.Hour

// purgeThrottle bounds how often an automatic purge sweep is allowed to
// run, so a hot request path calling purge_expired_if_needed on every
// record never turns into a full table scan per request.
const purgeThrottle = 24 * time.Hour

// recordQueueDepth bounds the non-blocking record() channel; a queue this
// deep absorbs bursts without record() ever blocking the request path it's
// instrumenting.
const recordQueueDepth = 1024

// Record is a single persisted, append-only audit entry.
type Record struct {
	ID        string            `json:"id"`
	EventType string            `json:"eventType"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// DroppedRecorder observes records dropped because the write queue was
// saturated. Its only implementation in this module is
// observability/metrics.Registry; tests and callers that don't care about
// the counter get noopDroppedRecorder.
type DroppedRecorder interface {
	IncAuditDropped()
}

type noopDroppedRecorder struct{}

func (noopDroppedRecorder) IncAuditDropped() {}

// Log is the append-only audit store. Writers call record(); a single
// background worker drains the queue so callers are never blocked by
// storage latency.
type Log struct {
	db        *leveldb.DB
	logger    *slog.Logger
	retention time.Duration
	dropped   DroppedRecorder

	queue chan queuedRecord
	done  chan struct{}

	mu          sync.Mutex
	lastPurgeAt time.Time
}

type queuedRecord struct {
	eventType string
	details   map[string]string
	at        time.Time
	requestID string
}

// Open creates or opens the audit log's goleveldb database under dir, with
// DefaultRetention as the window PurgeExpired applies. Opening does not
// purge anything by itself.
func Open(dir string, logger *slog.Logger) (*Log, error) {
	return OpenWithRetention(dir, logger, DefaultRetention)
}

// OpenWithRetention is Open with an operator-configured retention window in
// place of DefaultRetention.
func OpenWithRetention(dir string, logger *slog.Logger, retention time.Duration) (*Log, error) {
	return OpenWithOptions(dir, logger, retention, nil)
}

// OpenWithOptions is OpenWithRetention with a DroppedRecorder wired in so a
// saturated queue is visible on the metrics surface, not just the log.
// A nil recorder falls back to a no-op.
func OpenWithOptions(dir string, logger *slog.Logger, retention time.Duration, dropped DroppedRecorder) (*Log, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("audit: resolve path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("audit: open leveldb: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if dropped == nil {
		dropped = noopDroppedRecorder{}
	}

	l := &Log{
		db:        db,
		logger:    logger,
		retention: retention,
		dropped:   dropped,
		queue:     make(chan queuedRecord, recordQueueDepth),
		done:      make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Close stops the background worker and releases the database handle.
func (l *Log) Close() error {
	close(l.queue)
	<-l.done
	return l.db.Close()
}

// Record persists an AuditEventRecord with the current instant. It never
// blocks on storage: the record is handed to a buffered queue and written
// by a background worker. Callers must pre-sanitize details; the audit
// log never inspects or redacts them beyond the allowlist check applied
// to the structured log line the worker emits, alongside the durable
// write, when a requestId is present.
func (l *Log) Record(eventType string, details map[string]string) {
	requestID := details["requestId"]
	select {
	case l.queue <- queuedRecord{eventType: eventType, details: details, at: time.Now(), requestID: requestID}:
	default:
		// Queue saturated: drop rather than block the request path, but
		// still surface it so an operator notices the backlog.
		l.logger.Warn("audit queue saturated, dropping record", slog.String("eventType", eventType))
		l.dropped.IncAuditDropped()
	}
}

func (l *Log) run() {
	defer close(l.done)
	for q := range l.queue {
		l.write(q)
	}
}

func (l *Log) write(q queuedRecord) {
	record := Record{
		ID:        uuid.NewString(),
		EventType: q.eventType,
		Timestamp: q.at,
		Details:   q.details,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		l.logger.Error("audit: marshal record", slog.String("error", err.Error()))
		return
	}
	key := []byte(recordKey(q.at.UnixNano(), record.ID))
	if err := l.db.Put(key, payload, nil); err != nil {
		l.logger.Error("audit: persist record", slog.String("error", err.Error()))
	}

	if q.requestID != "" {
		attrs := []any{slog.String("eventType", q.eventType), slog.String("requestId", q.requestID)}
		for k, v := range q.details {
			if k == "requestId" {
				continue
			}
			attrs = append(attrs, logging.MaskField(k, v))
		}
		l.logger.Info("audit event", attrs...)
	}
}

// PurgeExpired deletes every record older than the log's retention window,
// regardless of when it last ran.
func (l *Log) PurgeExpired() error {
	return l.purgeBefore(time.Now().Add(-l.retention))
}

// PurgeExpiredIfNeeded runs a retention sweep only if purgeThrottle has
// elapsed since the last sweep, so callers on a hot path (e.g. after every
// write) can call this unconditionally without turning every request into
// a full range scan.
func (l *Log) PurgeExpiredIfNeeded() error {
	l.mu.Lock()
	now := time.Now()
	if now.Sub(l.lastPurgeAt) < purgeThrottle {
		l.mu.Unlock()
		return nil
	}
	l.lastPurgeAt = now
	l.mu.Unlock()

	return l.PurgeExpired()
}

func (l *Log) purgeBefore(cutoff time.Time) error {
	cutoffKey := []byte(recordKey(cutoff.UnixNano(), ""))
	iter := l.db.NewIterator(util.BytesPrefix([]byte(recordKeyPrefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		if compareKeys(iter.Key(), cutoffKey) >= 0 {
			break
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("audit: iterate records: %w", err)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("audit: purge records: %w", err)
	}
	return nil
}

// List returns every record in ascending timestamp order. It exists for
// tests and diagnostic tooling; request handling never reads the audit
// log back.
func (l *Log) List() ([]Record, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(recordKeyPrefix)), nil)
	defer iter.Release()

	var out []Record
	for iter.Next() {
		var r Record
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("audit: iterate records: %w", err)
	}
	return out, nil
}

func recordKey(nanos int64, id string) string {
	return fmt.Sprintf("%s%020d:%s", recordKeyPrefix, nanos, id)
}

func compareKeys(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
