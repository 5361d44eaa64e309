package email

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MetricsRecordFunc is an optional callback invoked after each delivery attempt.
type MetricsRecordFunc func(tag string, success bool)

// Dispatcher sends messages in the background so that a slow or failing
// provider never delays the caller. Failures are logged and dropped.
type Dispatcher struct {
	sender    EmailSender
	timeout   time.Duration
	wg        sync.WaitGroup
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// NewDispatcher creates a Dispatcher. Each send gets its own timeout,
// detached from the request that triggered it.
func NewDispatcher(sender EmailSender, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{sender: sender, timeout: timeout, logger: logger}
}

// SetMetricsRecord configures the metrics recording callback.
func (d *Dispatcher) SetMetricsRecord(fn MetricsRecordFunc) {
	d.onMetrics = fn
}

// Dispatch queues msg for delivery and returns immediately.
func (d *Dispatcher) Dispatch(msg Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		err := d.sender.Send(ctx, msg)
		if d.onMetrics != nil {
			d.onMetrics(msg.Tag, err == nil)
		}
		if err != nil {
			d.logger.Warn("email delivery failed",
				zap.String("to", msg.To),
				zap.String("tag", msg.Tag),
				zap.Error(err),
			)
			return
		}
		d.logger.Debug("email delivered", zap.String("to", msg.To), zap.String("tag", msg.Tag))
	}()
}

// Wait blocks until in-flight sends finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
