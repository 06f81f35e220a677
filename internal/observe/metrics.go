package observe

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/yok-tottii/delayloop/internal/loopback"
)

// meterName is the instrumentation scope of all delayloop metrics
const meterName = "github.com/yok-tottii/delayloop"

// StatsSource is anything that can snapshot loopback counters
type StatsSource interface {
	Stats() loopback.Stats
}

// RegisterEngine registers observable instruments that read src on every
// collection. The audio callbacks only touch atomics; nothing is recorded
// from the real-time threads. Unregister the returned registration before
// src goes away.
func RegisterEngine(mp metric.MeterProvider, src StatsSource) (metric.Registration, error) {
	m := mp.Meter(meterName)

	captured, err := m.Int64ObservableCounter("delayloop.frames.captured",
		metric.WithDescription("Frames delivered by the input stream."),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, err
	}
	played, err := m.Int64ObservableCounter("delayloop.frames.played",
		metric.WithDescription("Frames handed to the output stream, silence included."),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, err
	}
	underruns, err := m.Int64ObservableCounter("delayloop.underruns",
		metric.WithDescription("Playback callbacks that found the delay queue empty."),
	)
	if err != nil {
		return nil, err
	}
	overruns, err := m.Int64ObservableCounter("delayloop.overruns",
		metric.WithDescription("Captured frames dropped because the delay queue was full."),
	)
	if err != nil {
		return nil, err
	}
	depth, err := m.Int64ObservableGauge("delayloop.queue.depth",
		metric.WithDescription("Frames currently waiting in the delay queue."),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, err
	}

	return m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := src.Stats()
		o.ObserveInt64(captured, int64(st.Captured))
		o.ObserveInt64(played, int64(st.Played))
		o.ObserveInt64(underruns, int64(st.Underruns))
		o.ObserveInt64(overruns, int64(st.Overruns))
		o.ObserveInt64(depth, int64(st.Depth))
		return nil
	}, captured, played, underruns, overruns, depth)
}
