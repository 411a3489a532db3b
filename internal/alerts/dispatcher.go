// Package alerts fans classification verdicts out to the configured alert
// channels. Sinks run asynchronously and are isolated from each other: one
// sink failing (or panicking) never affects the others or the caller.
package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/scrapewall/backend/internal/eventlog"
	"github.com/scrapewall/backend/internal/events"
	"github.com/scrapewall/backend/internal/metrics"
)

// sinkTimeout bounds one sink delivery, detached from the request context.
const sinkTimeout = 30 * time.Second

// Sink delivers one alert to a channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, v events.Verdict) error
}

// Dispatcher applies the severity gate and dispatches to every sink.
type Dispatcher struct {
	sinks       []Sink
	minSeverity int
	alertLog    *eventlog.Logger
	metrics     *metrics.Store
}

// NewDispatcher builds a dispatcher. alertLog may be nil (no on-disk alert
// trail); an empty sink list disables alerting entirely.
func NewDispatcher(sinks []Sink, minSeverity int, alertLog *eventlog.Logger, m *metrics.Store) *Dispatcher {
	return &Dispatcher{
		sinks:       sinks,
		minSeverity: minSeverity,
		alertLog:    alertLog,
		metrics:     m,
	}
}

// Dispatch evaluates the severity gate for a verdict and, when it passes,
// hands the alert to every sink asynchronously. The bool reports whether
// the gate admitted the verdict; the error covers only the synchronous part
// (the on-disk alert trail). Sink failures surface in counters, not here.
func (d *Dispatcher) Dispatch(v events.Verdict) (bool, error) {
	severity := events.Severity(v.Reason)
	if severity < d.minSeverity || len(d.sinks) == 0 {
		d.metrics.Inc("alerts_gated_out")
		return false, nil
	}

	d.metrics.Inc("alerts_dispatched")
	var logErr error
	if d.alertLog != nil {
		if err := d.alertLog.Append(map[string]interface{}{
			"reason":     v.Reason,
			"severity":   severity,
			"ip_address": v.Details.SourceAddress,
			"user_agent": v.Details.UserAgent,
			"score":      v.Score,
		}); err != nil {
			slog.Error("alert event log append failed", "error", err)
			d.metrics.Inc("alert_log_errors_write")
			logErr = err
		}
	}

	for _, sink := range d.sinks {
		go d.deliver(sink, v)
	}
	return true, logErr
}

// deliver runs one sink with its own deadline and panic isolation.
func (d *Dispatcher) deliver(sink Sink, v events.Verdict) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("alert sink panic", "sink", sink.Name(), "panic", rec)
			d.metrics.Inc("alert_errors_" + sink.Name())
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	if err := sink.Send(ctx, v); err != nil {
		slog.Error("alert delivery failed", "sink", sink.Name(), "error", err)
		d.metrics.Inc("alert_errors_" + sink.Name())
		return
	}
	d.metrics.Inc("alerts_sent_" + sink.Name())
}
