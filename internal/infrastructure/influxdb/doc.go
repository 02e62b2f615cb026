// Package influxdb writes karaoke core metrics to InfluxDB v2.
//
// Two measurements are produced: auth_events, one point per account event
// (login, logout, lock, role change and so on) tagged by kind and role, and
// api_requests, one point per HTTP request tagged by method, route pattern
// and status with the latency in milliseconds.
//
// The integration is optional. Connect returns ErrDisabled when it is
// switched off, and write methods silently drop points once the client is
// closed. Write failures are reported asynchronously through SetOnError.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteAuthEvent("login", "user", time.Now())
package influxdb
