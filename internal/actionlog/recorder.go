// Package actionlog writes the device audit trail off the request path.
package actionlog

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/xelth-com/dongled/internal/metrics"
	"github.com/xelth-com/dongled/internal/models"
)

// DefaultBuffer is the queue depth used when none is configured
const DefaultBuffer = 1024

const writeTimeout = 5 * time.Second

// Store is the persistence the recorder writes through
type Store interface {
	Append(ctx context.Context, entry *models.ActionLogEntry) error
	SaveReturnedData(ctx context.Context, data *models.ReturnedData) error
}

type record struct {
	entry *models.ActionLogEntry
	reply *models.ReturnedData
}

// Recorder queues audit rows and persists them from a single worker. A full
// queue or a failed write drops the row; commands never wait on the audit.
type Recorder struct {
	store Store
	queue chan record

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRecorder starts the worker. A non-positive buffer uses DefaultBuffer.
func NewRecorder(store Store, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	r := &Recorder{
		store: store,
		queue: make(chan record, buffer),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Append queues an audit row
func (r *Recorder) Append(entry *models.ActionLogEntry) {
	r.enqueue(record{entry: entry})
}

// SaveReturnedData queues a device reply
func (r *Recorder) SaveReturnedData(data *models.ReturnedData) {
	r.enqueue(record{reply: data})
}

func (r *Recorder) enqueue(rec record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop("recorder closed")
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.drop("queue full")
	}
}

func (r *Recorder) drop(reason string) {
	metrics.ActionLogDropped.Inc()
	log.Printf("⚠️ Action log row dropped: %s", reason)
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		r.write(rec)
	}
}

func (r *Recorder) write(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	if rec.entry != nil {
		err = r.store.Append(ctx, rec.entry)
	} else {
		err = r.store.SaveReturnedData(ctx, rec.reply)
	}
	if err != nil {
		metrics.ActionLogDropped.Inc()
		log.Printf("❌ Action log write failed: %v", err)
	}
}

// Close stops accepting rows and waits for the queue to drain
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}
