package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/matryer/is"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yok-tottii/delayloop/internal/loopback"
)

type fakeSource struct {
	mu    sync.Mutex
	stats loopback.Stats
}

func (f *fakeSource) Stats() loopback.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeSource) set(st loopback.Stats) {
	f.mu.Lock()
	f.stats = st
	f.mu.Unlock()
}

func newTestReader(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return mp, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// value returns the single int64 data point of the named metric
func value(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) != 1 {
					t.Fatalf("%s: expected 1 data point, got %d", name, len(data.DataPoints))
				}
				return data.DataPoints[0].Value
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) != 1 {
					t.Fatalf("%s: expected 1 data point, got %d", name, len(data.DataPoints))
				}
				return data.DataPoints[0].Value
			default:
				t.Fatalf("%s: unexpected data type %T", name, m.Data)
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestRegisterEngine_ObservesStats(t *testing.T) {
	is := is.New(t)
	mp, reader := newTestReader(t)

	src := &fakeSource{}
	src.set(loopback.Stats{Captured: 10, Played: 33, Underruns: 2, Overruns: 1, Depth: 23, Capacity: 46})

	reg, err := RegisterEngine(mp, src)
	is.NoErr(err)
	defer reg.Unregister()

	rm := collect(t, reader)
	is.Equal(value(t, rm, "delayloop.frames.captured"), int64(10))
	is.Equal(value(t, rm, "delayloop.frames.played"), int64(33))
	is.Equal(value(t, rm, "delayloop.underruns"), int64(2))
	is.Equal(value(t, rm, "delayloop.overruns"), int64(1))
	is.Equal(value(t, rm, "delayloop.queue.depth"), int64(23))

	src.set(loopback.Stats{Captured: 11, Played: 34, Underruns: 2, Overruns: 1, Depth: 23, Capacity: 46})
	rm = collect(t, reader)
	is.Equal(value(t, rm, "delayloop.frames.captured"), int64(11))
}

func TestRegisterEngine_CountersAreMonotonic(t *testing.T) {
	is := is.New(t)
	mp, reader := newTestReader(t)

	reg, err := RegisterEngine(mp, &fakeSource{})
	is.NoErr(err)
	defer reg.Unregister()

	rm := collect(t, reader)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				is.True(sum.IsMonotonic)
			}
		}
	}
}

func TestRegisterEngine_Unregister(t *testing.T) {
	is := is.New(t)
	mp, reader := newTestReader(t)

	src := &fakeSource{}
	reg, err := RegisterEngine(mp, src)
	is.NoErr(err)
	is.NoErr(reg.Unregister())

	rm := collect(t, reader)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				is.Equal(len(data.DataPoints), 0)
			case metricdata.Gauge[int64]:
				is.Equal(len(data.DataPoints), 0)
			}
		}
	}
}

// exposes reports whether the scrape contains the metric under either the
// escaped or the UTF-8 Prometheus name
func exposes(body, name string) bool {
	return strings.Contains(body, strings.ReplaceAll(name, ".", "_")) || strings.Contains(body, name)
}

func TestProvider_Handler(t *testing.T) {
	is := is.New(t)

	p, err := NewProvider("test")
	is.NoErr(err)
	defer p.Shutdown(context.Background())

	reg, err := RegisterEngine(p.MeterProvider(), &fakeSource{stats: loopback.Stats{Captured: 7}})
	is.NoErr(err)
	defer reg.Unregister()

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	is.Equal(rec.Code, 200)

	body, err := io.ReadAll(rec.Body)
	is.NoErr(err)
	is.True(exposes(string(body), "delayloop.frames.captured"))
	is.True(exposes(string(body), "delayloop.queue.depth"))
}

func TestProvider_ShutdownTwice(t *testing.T) {
	is := is.New(t)

	p, err := NewProvider("test")
	is.NoErr(err)
	is.NoErr(p.Shutdown(context.Background()))
	is.NoErr(p.Shutdown(context.Background()))
}

func TestNewProvider_ServiceResource(t *testing.T) {
	is := is.New(t)

	p, err := NewProvider("1.2.3")
	is.NoErr(err)
	defer p.Shutdown(context.Background())

	reg, err := RegisterEngine(p.MeterProvider(), &fakeSource{})
	is.NoErr(err)
	defer reg.Unregister()

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	is.Equal(rec.Code, 200)

	// target_info carries the service resource
	body := rec.Body.String()
	is.True(strings.Contains(body, "target_info"))
	is.True(strings.Contains(body, `"1.2.3"`))
}
