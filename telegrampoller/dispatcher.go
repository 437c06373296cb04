package telegrampoller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// dispatcher drains the buffer of one polling session and calls the handler
// once per update, strictly in order.
type dispatcher struct {
	buffer  *Buffer
	handler UpdateHandler
	logger  *slog.Logger
	metrics *Metrics
}

// run delivers updates until ctx is cancelled or the buffer is closed.
func (d *dispatcher) run(ctx context.Context) {
	d.logger.Info("dispatcher started")

	for {
		batch := d.buffer.DrainAll()
		if len(batch) == 0 {
			if err := d.buffer.AwaitNonEmpty(ctx); err != nil {
				d.logger.Info("dispatcher stopped", "reason", err)
				return
			}
			continue
		}
		d.metrics.bufferDepth.Set(float64(d.buffer.Len()))

		for i, update := range batch {
			if ctx.Err() != nil {
				discarded := len(batch) - i
				d.metrics.updatesDiscarded.Add(float64(discarded))
				d.logger.Info("dispatcher stopped, discarding drained updates",
					"discarded", discarded,
					"reason", context.Cause(ctx),
				)
				return
			}
			d.deliver(ctx, update)
		}
	}
}

// deliver invokes the handler for a single update. Errors and panics are
// logged and never stop the dispatcher; the update is not retried.
// The handler context survives session cancellation so that an in-flight
// invocation can finish.
func (d *dispatcher) deliver(ctx context.Context, update Update) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.handlerErrors.Inc()
			d.logger.Error("update handler panicked",
				"update_id", update.UpdateID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	d.metrics.updatesDispatched.Inc()
	if err := d.handler.HandleUpdate(context.WithoutCancel(ctx), update); err != nil {
		d.metrics.handlerErrors.Inc()
		d.logger.Error("update handler failed",
			"update_id", update.UpdateID,
			"update_type", update.Type(),
			"error", err,
		)
		return
	}

	d.logger.Debug("update handled",
		"update_id", update.UpdateID,
		"update_type", update.Type(),
	)
}
