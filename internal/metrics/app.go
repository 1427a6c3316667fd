package metrics

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the hub instruments.
type AppMetrics struct {
	metric.Meter

	ConnectedSessions metric.Int64UpDownCounter
	LocationUpdates   metric.Int64Counter
	InvalidPayloads   metric.Int64Counter
	Deliveries        metric.Int64Counter
	DeliveryFailures  metric.Int64Counter
	DroppedFrames     metric.Int64Counter
	RateLimitedFrames metric.Int64Counter
	RejectedRegisters metric.Int64Counter
}

func NewAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	connected, err := meter.Int64UpDownCounter("connected_sessions",
		metric.WithDescription("Number of sessions currently registered"))
	if err != nil {
		return nil, err
	}

	updates, err := meter.Int64Counter("location_updates_total",
		metric.WithDescription("Accepted send-location frames"))
	if err != nil {
		return nil, err
	}

	invalid, err := meter.Int64Counter("invalid_payloads_total",
		metric.WithDescription("Inbound frames discarded as malformed"))
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("deliveries_total",
		metric.WithDescription("Frames handed to a session's outbound queue"))
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("delivery_failures_total",
		metric.WithDescription("Frames that could not be handed to a session"))
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter("dropped_frames_total",
		metric.WithDescription("Queued frames evicted because a client was too slow"))
	if err != nil {
		return nil, err
	}

	limited, err := meter.Int64Counter("rate_limited_frames_total",
		metric.WithDescription("Inbound frames discarded by the per-connection rate limit"))
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter("rejected_registrations_total",
		metric.WithDescription("Connections closed because their id was already live"))
	if err != nil {
		return nil, err
	}

	return &AppMetrics{
		Meter:             meter,
		ConnectedSessions: connected,
		LocationUpdates:   updates,
		InvalidPayloads:   invalid,
		Deliveries:        deliveries,
		DeliveryFailures:  failures,
		DroppedFrames:     dropped,
		RateLimitedFrames: limited,
		RejectedRegisters: rejected,
	}, nil
}

// SessionAdded implements session.Observer.
func (m *AppMetrics) SessionAdded() {
	m.ConnectedSessions.Add(context.Background(), 1)
}

// SessionRemoved implements session.Observer.
func (m *AppMetrics) SessionRemoved() {
	m.ConnectedSessions.Add(context.Background(), -1)
}

func (m *AppMetrics) FrameDropped() {
	m.DroppedFrames.Add(context.Background(), 1)
}

func (m *AppMetrics) FrameRateLimited() {
	m.RateLimitedFrames.Add(context.Background(), 1)
}
