package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Registry defaults.
const (
	DefaultQueueSize = 256
	writeTimeout     = 2 * time.Second
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// pendingWrite carries exactly one of reading or signal.
type pendingWrite struct {
	reading *Reading
	signal  *Signal
}

// Stats counts registry writes since start.
type Stats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Registry records node activity without blocking the caller.
//
// WriteReading and WriteSignal enqueue; a goroutine started by Start
// persists the queue through the Repository. When the queue is full the
// write is dropped and counted.
//
// All public methods are thread-safe.
type Registry struct {
	repo   Repository
	now    func() time.Time
	logger Logger
	queue  chan pendingWrite

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
	closed  atomic.Bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewRegistry creates a registry on repo with a queue of queueSize writes.
// A non-positive queueSize selects DefaultQueueSize.
func NewRegistry(repo Repository, queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Registry{
		repo:   repo,
		now:    time.Now,
		logger: noopLogger{},
		queue:  make(chan pendingWrite, queueSize),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Start launches the background writer. It stops when ctx is done or
// Close is called, persisting whatever is still queued.
func (r *Registry) Start(ctx context.Context) error {
	if r.closed.Load() {
		return ErrRegistryClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return fmt.Errorf("node registry already started")
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.run(ctx, r.stop, r.done)
	return nil
}

// WriteReading records the latest value of one device.
func (r *Registry) WriteReading(node, device int, class, text string) {
	r.enqueue(pendingWrite{reading: &Reading{
		Node:      node,
		Device:    device,
		Class:     class,
		Value:     text,
		UpdatedAt: r.now(),
	}})
}

// WriteSignal records the signal strength of the node's last packet.
func (r *Registry) WriteSignal(node, rssi int) {
	r.enqueue(pendingWrite{signal: &Signal{Node: node, RSSI: rssi, At: r.now()}})
}

func (r *Registry) enqueue(w pendingWrite) {
	if r.closed.Load() {
		r.dropped.Inc()
		return
	}
	select {
	case r.queue <- w:
	default:
		if r.dropped.Inc() == 1 {
			r.logger.Warn("node registry queue full, dropping writes", "capacity", cap(r.queue))
		}
	}
}

func (r *Registry) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case w := <-r.queue:
			r.persist(w)
		case <-ctx.Done():
			r.drain()
			return
		case <-stop:
			r.drain()
			return
		}
	}
}

func (r *Registry) drain() {
	for {
		select {
		case w := <-r.queue:
			r.persist(w)
		default:
			return
		}
	}
}

func (r *Registry) persist(w pendingWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch {
	case w.reading != nil:
		err = r.repo.SaveReading(ctx, *w.reading)
	case w.signal != nil:
		err = r.repo.SaveSignal(ctx, *w.signal)
	default:
		return
	}
	if err != nil {
		r.failed.Inc()
		r.logger.Error("node registry write failed", "error", err)
		return
	}
	r.written.Inc()
}

// Close stops the writer after it has persisted the queue. Later writes
// are dropped.
func (r *Registry) Close() error {
	r.closed.Store(true)

	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop = nil
	r.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

// List returns every node heard so far.
func (r *Registry) List(ctx context.Context) ([]Node, error) {
	return r.repo.List(ctx)
}

// Get returns one node, or ErrNodeNotFound.
func (r *Registry) Get(ctx context.Context, id int) (*Node, error) {
	return r.repo.Get(ctx, id)
}

// Stats returns write counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}
