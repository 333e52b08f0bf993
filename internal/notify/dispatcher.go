package notify

import (
	"context"
	"sync"
	"time"

	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/lalith-99/circlecast/internal/models"
	"go.uber.org/zap"
)

// deliverTimeout bounds one Notify call made in the background.
const deliverTimeout = 10 * time.Second

// Notifier is what a dispatcher delivers to. *Aggregator implements it.
type Notifier interface {
	Notify(ctx context.Context, req Request) (*models.Notification, error)
}

// Dispatcher hands notifications off after the triggering write has
// committed. Dispatch must not block on delivery; delivery may fail on its
// own without affecting the write.
type Dispatcher interface {
	Dispatch(ctx context.Context, reqs []Request) error
}

// Pool is the in-process Dispatcher: a bounded queue drained by a fixed
// number of workers. When the queue is full the batch is dropped and
// Unavailable returned.
type Pool struct {
	notifier Notifier
	queue    chan []Request
	workers  int
	logger   *zap.Logger

	mu      sync.RWMutex
	stopped bool
}

var _ Dispatcher = (*Pool)(nil)

func NewPool(notifier Notifier, workers, buffer int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		notifier: notifier,
		queue:    make(chan []Request, buffer),
		workers:  workers,
		logger:   logger,
	}
}

func (p *Pool) Dispatch(ctx context.Context, reqs []Request) error {
	if len(reqs) == 0 {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return apperr.Unavailable("notification pool stopped", nil)
	}

	select {
	case p.queue <- reqs:
		return nil
	default:
		p.logger.Warn("notification queue full, dropping batch", zap.Int("size", len(reqs)))
		return apperr.Unavailable("notification queue full", nil)
	}
}

// Run starts the workers and blocks until ctx is cancelled. Batches already
// queued are delivered before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range p.queue {
				p.deliver(batch)
			}
		}()
	}

	<-ctx.Done()

	p.mu.Lock()
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	wg.Wait()
	return nil
}

func (p *Pool) deliver(batch []Request) {
	for _, req := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		if _, err := p.notifier.Notify(ctx, req); err != nil {
			p.logger.Error("notification delivery failed",
				zap.Stringer("recipient_id", req.RecipientID),
				zap.String("type", string(req.Type)),
				zap.Error(err))
		}
		cancel()
	}
}
