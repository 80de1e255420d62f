package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// NetWatcher polls the remote endpoint to track connectivity. State
// starts optimistic (online) so the first pass is not blocked waiting
// for a probe; the first failed probe flips it.
type NetWatcher struct {
	ping     func(ctx context.Context) error
	interval time.Duration
	log      *zap.Logger

	online atomic.Bool

	mu       sync.Mutex
	onChange func(online bool)
	stop     chan struct{}
	done     chan struct{}
	running  bool
}

// NewNetWatcher creates a watcher around a ping probe. Start arms it.
func NewNetWatcher(ping func(ctx context.Context) error, interval time.Duration, log *zap.Logger) *NetWatcher {
	if log == nil {
		log = zap.NewNop()
	}
	w := &NetWatcher{
		ping:     ping,
		interval: interval,
		log:      log,
	}
	w.online.Store(true)
	return w
}

// Online reports the last observed connectivity state.
func (w *NetWatcher) Online() bool { return w.online.Load() }

// OnChange registers the transition callback. Must be called before
// Start.
func (w *NetWatcher) OnChange(fn func(online bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Start begins probing in the background.
func (w *NetWatcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true
	go w.loop(w.stop, w.done)
}

// Stop halts probing and waits for the loop to exit.
func (w *NetWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	stop, done := w.stop, w.done
	w.running = false
	w.mu.Unlock()

	close(stop)
	<-done
}

func (w *NetWatcher) loop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.probe()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.probe()
		}
	}
}

func (w *NetWatcher) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	online := w.ping(ctx) == nil
	was := w.online.Swap(online)
	if online == was {
		return
	}

	if online {
		w.log.Info("network is back online")
	} else {
		w.log.Warn("network appears offline")
	}

	w.mu.Lock()
	fn := w.onChange
	w.mu.Unlock()
	if fn != nil {
		fn(online)
	}
}
