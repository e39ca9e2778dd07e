package discovery

import (
	"context"
	"time"
)

// MonitoredTransport wraps a Transport and feeds every broadcast
// outcome into a HealthMonitor. Receive-side health is not tracked: a
// quiet topic is indistinguishable from a healthy idle one.
type MonitoredTransport struct {
	inner   Transport
	monitor *HealthMonitor
}

// NewMonitoredTransport wraps inner so its broadcasts drive monitor.
func NewMonitoredTransport(inner Transport, monitor *HealthMonitor) *MonitoredTransport {
	return &MonitoredTransport{inner: inner, monitor: monitor}
}

// Broadcast implements Transport, recording the attempt's latency or
// failure in the health monitor.
func (t *MonitoredTransport) Broadcast(ctx context.Context, data []byte) error {
	start := time.Now()
	if err := t.inner.Broadcast(ctx, data); err != nil {
		t.monitor.RecordFailure(err)
		return err
	}
	t.monitor.RecordSuccess(time.Since(start))
	return nil
}

// Messages implements Transport.
func (t *MonitoredTransport) Messages() <-chan Incoming {
	return t.inner.Messages()
}

// Mode implements Transport.
func (t *MonitoredTransport) Mode() string {
	return t.inner.Mode()
}

// Close implements Transport.
func (t *MonitoredTransport) Close() error {
	return t.inner.Close()
}

// Health returns the monitor driven by this transport.
func (t *MonitoredTransport) Health() *HealthMonitor {
	return t.monitor
}
