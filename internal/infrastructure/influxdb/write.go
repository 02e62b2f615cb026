package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by this package.
const (
	MeasurementAuthEvents  = "auth_events"
	MeasurementAPIRequests = "api_requests"
)

// WriteAuthEvent records one account event. Only the event kind and the
// role are tagged; user ids stay out of the series to keep cardinality low.
func (c *Client) WriteAuthEvent(kind, role string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(authEventPoint(kind, role, at))
}

// WriteRequestMetric records the outcome and latency of one HTTP request.
func (c *Client) WriteRequestMetric(method, route string, status int, elapsed time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(requestPoint(method, route, status, elapsed, time.Now()))
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func authEventPoint(kind, role string, at time.Time) *write.Point {
	tags := map[string]string{"kind": kind}
	if role != "" {
		tags["role"] = role
	}
	return write.NewPoint(MeasurementAuthEvents, tags, map[string]any{"count": 1}, at)
}

func requestPoint(method, route string, status int, elapsed time.Duration, at time.Time) *write.Point {
	if route == "" {
		route = "unmatched"
	}
	return write.NewPoint(
		MeasurementAPIRequests,
		map[string]string{
			"method": method,
			"route":  route,
			"status": strconv.Itoa(status),
		},
		map[string]any{
			"duration_ms": float64(elapsed.Microseconds()) / 1000,
		},
		at,
	)
}
