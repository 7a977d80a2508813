package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/havenpoint/crisis-response-platform/internal/audit"
	"github.com/havenpoint/crisis-response-platform/internal/observability/metrics"
	"github.com/havenpoint/crisis-response-platform/pkg/logging"
)

const defaultParallelism = 4

// Dispatcher fans an escalation out to every subscribed target. Each
// target is best-effort: one failed notification never blocks or fails
// the others, and Trigger itself only errors on invalid input. No
// configured targets is a no-op.
type Dispatcher struct {
	targets     []Target
	notifiers   map[Channel]Notifier
	parallelism int
	timeout     time.Duration
	logger      *logging.Logger
	metrics     *metrics.CrisisMetrics
	auditor     audit.Emitter
	tracer      trace.Tracer
}

// DispatcherOption customizes dispatcher construction.
type DispatcherOption func(*Dispatcher)

// WithParallelism bounds concurrent target notifications.
func WithParallelism(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.parallelism = n
		}
	}
}

// WithTimeout bounds each target notification.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher wires targets to channel notifiers. Targets whose
// channel has no notifier are dropped with a warning at construction.
func NewDispatcher(targets []Target, notifiers map[Channel]Notifier, m *metrics.CrisisMetrics, auditor audit.Emitter, logger *logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("escalation")

	d := &Dispatcher{
		notifiers:   notifiers,
		parallelism: defaultParallelism,
		timeout:     30 * time.Second,
		logger:      logger,
		metrics:     m,
		auditor:     auditor,
		tracer:      otel.Tracer("crisis.internal.escalation"),
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, target := range targets {
		if _, ok := notifiers[target.Channel]; !ok {
			logger.Warn("escalation target dropped, no notifier for channel",
				"target", target.Name, "channel", target.Channel)
			continue
		}
		d.targets = append(d.targets, target)
	}
	return d
}

// Trigger dispatches the request to every target subscribed to its
// level, concurrently with bounded parallelism. Returns an error only
// for an invalid request, never for delivery failures.
func (d *Dispatcher) Trigger(ctx context.Context, req Request) error {
	if d == nil {
		return nil
	}
	if !req.Level.IsValid() {
		return fmt.Errorf("escalation: invalid level %q", req.Level)
	}

	ctx, span := d.tracer.Start(ctx, "escalation.trigger",
		trace.WithAttributes(
			attribute.String("escalation.level", string(req.Level)),
			attribute.String("escalation.user_id", req.UserID),
		))
	defer span.End()

	var matched []Target
	for _, target := range d.targets {
		if target.Accepts(req.Level) {
			matched = append(matched, target)
		}
	}
	if len(matched) == 0 {
		d.logger.Info("escalation with no subscribed targets",
			"level", req.Level, "reason", req.Reason)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism)
	for _, target := range matched {
		g.Go(func() error {
			d.notifyTarget(gctx, target, req)
			return nil
		})
	}
	_ = g.Wait()

	if d.auditor != nil {
		d.auditor.Emit(audit.Event{
			Kind:         audit.EventEscalationTriggered,
			UserID:       req.UserID,
			AssessmentID: req.AssessmentID,
			InstanceID:   req.InstanceID,
			Payload: map[string]any{
				"level":   string(req.Level),
				"reason":  req.Reason,
				"targets": len(matched),
			},
		})
	}
	return nil
}

func (d *Dispatcher) notifyTarget(ctx context.Context, target Target, req Request) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	notifier := d.notifiers[target.Channel]
	err := notifier.Notify(ctx, target, req)
	status := "ok"
	if err != nil {
		status = "error"
		d.logger.Error("escalation notification failed",
			"target", target.Name,
			"channel", target.Channel,
			"level", req.Level,
			"error", err,
		)
	}
	d.metrics.ObserveEscalation(string(req.Level), string(target.Channel), status)
}

// ParseTargets decodes the JSON target list from configuration.
func ParseTargets(raw string) ([]Target, error) {
	if raw == "" {
		return nil, nil
	}
	var targets []Target
	if err := json.Unmarshal([]byte(raw), &targets); err != nil {
		return nil, fmt.Errorf("escalation: parse targets: %w", err)
	}
	for i, t := range targets {
		if t.Name == "" || t.Channel == "" {
			return nil, fmt.Errorf("escalation: target %d missing name or channel", i)
		}
		for _, l := range t.Levels {
			if !l.IsValid() {
				return nil, fmt.Errorf("escalation: target %q has invalid level %q", t.Name, l)
			}
		}
	}
	return targets, nil
}
