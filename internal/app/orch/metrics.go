package orch

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the coordinator's counters. Without a configured meter
// provider they are no-ops. A nil *Metrics is valid.
type Metrics struct {
	callsCreated  metric.Int64Counter
	callsEnded    metric.Int64Counter
	activeMembers metric.Int64UpDownCounter
	leaves        metric.Int64Counter
	errors        metric.Int64Counter
	dropped       metric.Int64Counter
	presence      metric.Int64Counter
}

// NewMetrics registers the counters on mp; nil means the global provider.
func NewMetrics(mp metric.MeterProvider) *Metrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("callsignal")
	m := &Metrics{}
	m.callsCreated, _ = meter.Int64Counter("calls_created_total",
		metric.WithDescription("Total calls created"))
	m.callsEnded, _ = meter.Int64Counter("calls_ended_total",
		metric.WithDescription("Total calls ended, by last leave or pending expiry"))
	m.activeMembers, _ = meter.Int64UpDownCounter("call_participants",
		metric.WithDescription("Participants currently in calls"))
	m.leaves, _ = meter.Int64Counter("call_leaves_total",
		metric.WithDescription("Participants removed from calls, by reason"))
	m.errors, _ = meter.Int64Counter("signal_errors_total",
		metric.WithDescription("call_error replies, by code"))
	m.dropped, _ = meter.Int64Counter("broadcast_dropped_total",
		metric.WithDescription("Frames not queued because of backpressure"))
	m.presence, _ = meter.Int64Counter("presence_updates_total",
		metric.WithDescription("Presence set changes"))
	return m
}

func (m *Metrics) callCreated() {
	if m == nil || m.callsCreated == nil {
		return
	}
	m.callsCreated.Add(context.Background(), 1)
}

func (m *Metrics) callEnded() {
	if m == nil || m.callsEnded == nil {
		return
	}
	m.callsEnded.Add(context.Background(), 1)
}

func (m *Metrics) participantJoined() {
	if m == nil || m.activeMembers == nil {
		return
	}
	m.activeMembers.Add(context.Background(), 1)
}

func (m *Metrics) participantLeft(reason leaveReason) {
	if m == nil || m.activeMembers == nil || m.leaves == nil {
		return
	}
	m.activeMembers.Add(context.Background(), -1)
	m.leaves.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}

func (m *Metrics) signalError(code string) {
	if m == nil || m.errors == nil {
		return
	}
	m.errors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("code", code)))
}

func (m *Metrics) broadcastDropped() {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.Add(context.Background(), 1)
}

func (m *Metrics) presenceChanged() {
	if m == nil || m.presence == nil {
		return
	}
	m.presence.Add(context.Background(), 1)
}
