// Package mqtt connects karaoke core to an MQTT broker.
//
// The broker carries two flows. Outbound, every account event is published
// to karaoke/auth/event/{kind} so other services (moderation dashboards,
// room servers) can react to logins, locks and role changes. Inbound,
// operators can publish {"user_id": "..."} to karaoke/auth/command/revoke to
// end a user's session without going through the HTTP API.
//
// A retained message on karaoke/system/status reports online, offline on
// graceful shutdown, and offline via the last will on a crash.
//
// Subscriptions are tracked and replayed after a reconnect. Handlers run with
// panic recovery; their errors are logged through SetLogger.
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.AuthEvent("login"), ev)
package mqtt
