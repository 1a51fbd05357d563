package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ConversationRefresher refreshes conversation summaries from the backend.
// Conversations synthesized from a live message's sender carry stale
// participant metadata until a full list refresh runs.
type ConversationRefresher interface {
	RefreshConversations(ctx context.Context) error
}

// Refresher periodically refreshes the conversation list.
type Refresher struct {
	refresher ConversationRefresher
	interval  time.Duration
	logger    *slog.Logger
	stopCh    chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

// New creates a new conversation list refresher
func New(refresher ConversationRefresher, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	return &Refresher{
		refresher: refresher,
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start starts the refresher
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	stopCh := r.stopCh
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.logger.Info("conversation refresher started", "interval", r.interval)

	r.wg.Add(1)
	go r.run(ctx, stopCh)
}

// Stop stops the refresher and waits for the in-flight refresh to finish
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	stopCh := r.stopCh
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	close(stopCh)
	r.wg.Wait()
	r.logger.Info("conversation refresher stopped")
}

// run is the main refresher loop
func (r *Refresher) run(ctx context.Context, stopCh <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.process(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// process runs one refresh pass
func (r *Refresher) process(ctx context.Context) {
	if err := r.refresher.RefreshConversations(ctx); err != nil {
		r.logger.Error("conversation refresh failed", "error", err)
		return
	}
	r.logger.Debug("conversation list refreshed")
}
