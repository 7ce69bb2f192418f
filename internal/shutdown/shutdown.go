// Package shutdown cancels a run on SIGINT/SIGTERM and waits, bounded by a
// timeout, for registered cleanups to finish.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Callback is called during shutdown with a context bounded by the timeout.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout         time.Duration
	Signals         []os.Signal
	OnShutdownStart func()
	OnShutdownDone  func(elapsed time.Duration, errors []error)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Handler manages graceful shutdown.
type Handler struct {
	mu        sync.Mutex
	callbacks []Callback
	names     []string

	shuttingDown atomic.Bool
	done         chan struct{}
	timeout      time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	sigChan chan os.Signal
	closed  chan struct{}
	once    sync.Once

	onStart func()
	onDone  func(elapsed time.Duration, errors []error)
}

// New creates a handler and starts catching the configured signals.
func New(cfg Config) *Handler {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = def.Signals
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
		closed:  make(chan struct{}),
		onStart: cfg.OnShutdownStart,
		onDone:  cfg.OnShutdownDone,
	}
	signal.Notify(h.sigChan, cfg.Signals...)
	go h.listen()
	return h
}

func (h *Handler) listen() {
	select {
	case <-h.sigChan:
		h.Shutdown()
	case <-h.closed:
	}
}

// Context is cancelled when shutdown begins.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Register adds a cleanup. Cleanups run in reverse registration order.
func (h *Handler) Register(name string, cb Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, cb)
	h.names = append(h.names, name)
}

// IsShuttingDown reports whether shutdown has begun.
func (h *Handler) IsShuttingDown() bool {
	return h.shuttingDown.Load()
}

// Done is closed once shutdown completes.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Shutdown cancels the context and runs the cleanups. Only the first call
// has any effect.
func (h *Handler) Shutdown() {
	if !h.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	start := time.Now()

	if h.onStart != nil {
		h.onStart()
	}
	h.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	callbacks := append([]Callback(nil), h.callbacks...)
	names := append([]string(nil), h.names...)
	h.mu.Unlock()

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		if err := run(ctx, names[i], callbacks[i]); err != nil {
			errs = append(errs, err)
		}
	}

	if h.onDone != nil {
		h.onDone(time.Since(start), errs)
	}
	close(h.done)
}

// Close stops catching signals without running the cleanups. Call it once
// the run has finished on its own.
func (h *Handler) Close() {
	h.once.Do(func() {
		signal.Stop(h.sigChan)
		close(h.closed)
		h.cancel()
	})
}

func run(ctx context.Context, name string, cb Callback) error {
	done := make(chan error, 1)
	go func() {
		done <- cb(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{CallbackName: name}
	}
}

// TimeoutError is returned when a cleanup outlives the shutdown timeout.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}
