package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/karaoke-core/internal/auth"
	"github.com/nerrad567/karaoke-core/internal/infrastructure/logging"
	"github.com/nerrad567/karaoke-core/internal/infrastructure/mqtt"
)

const (
	// eventQueueSize buffers account events waiting for the broker.
	eventQueueSize = 256

	// commandQueueSize buffers operator commands waiting for the database.
	commandQueueSize = 32

	// revokeCommandTimeout bounds one operator revoke command.
	revokeCommandTimeout = 5 * time.Second
)

var (
	errMissingUserID    = errors.New("revoke command: user_id is required")
	errEventQueueFull   = errors.New("mqtt event queue full")
	errCommandQueueFull = errors.New("operator command queue full")
)

// jsonPublisher is the part of the MQTT client the event sink needs.
type jsonPublisher interface {
	PublishJSON(topic string, v any) error
}

// authEventWriter is the part of the InfluxDB client the event bridge needs.
type authEventWriter interface {
	WriteAuthEvent(kind, role string, at time.Time)
}

// operatorRevoker ends every session of a user on behalf of an operator.
type operatorRevoker interface {
	RevokeByOperator(ctx context.Context, userID string) (int64, error)
}

// mqttEventSink forwards account events to karaoke/auth/event/{kind}.
// PublishEvent only queues; a single goroutine started by Run waits on the
// broker, so requests never block on a PUBACK.
type mqttEventSink struct {
	client jsonPublisher
	ch     chan auth.Event
	log    *logging.Logger
}

func newMQTTEventSink(client jsonPublisher, size int, log *logging.Logger) *mqttEventSink {
	return &mqttEventSink{
		client: client,
		ch:     make(chan auth.Event, size),
		log:    log,
	}
}

// PublishEvent queues ev. It implements auth.EventPublisher.
func (s *mqttEventSink) PublishEvent(ev auth.Event) error {
	select {
	case s.ch <- ev:
		return nil
	default:
		s.log.Warn("mqtt event queue full, dropping event", "kind", ev.Kind)
		return errEventQueueFull
	}
}

// Run publishes queued events until ctx is cancelled, then drains the queue.
func (s *mqttEventSink) Run(ctx context.Context) {
	for {
		select {
		case ev := <-s.ch:
			s.publish(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-s.ch:
					s.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *mqttEventSink) publish(ev auth.Event) {
	topic := mqtt.Topics{}.AuthEvent(string(ev.Kind))
	if err := s.client.PublishJSON(topic, ev); err != nil {
		s.log.Warn("publishing account event", "kind", ev.Kind, "topic", topic, "error", err)
	}
}

// influxEventPublisher records one auth_events point per account event.
// The InfluxDB write API is already non-blocking.
func influxEventPublisher(writer authEventWriter) auth.EventPublisher {
	return auth.EventPublisherFunc(func(ev auth.Event) error {
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}
		writer.WriteAuthEvent(string(ev.Kind), string(ev.Role), at)
		return nil
	})
}

// revokeCommand is the payload published to karaoke/auth/command/revoke.
type revokeCommand struct {
	UserID string `json:"user_id"`
}

// parseRevokeCommand decodes and validates a revoke payload.
func parseRevokeCommand(payload []byte) (revokeCommand, error) {
	var cmd revokeCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("decoding revoke command: %w", err)
	}
	if cmd.UserID == "" {
		return cmd, errMissingUserID
	}
	return cmd, nil
}

// revokeWorker executes operator revoke commands received over MQTT.
// Handle runs on paho's router goroutine and only parses and queues; the
// database work happens in Run.
type revokeWorker struct {
	revoker operatorRevoker
	ch      chan revokeCommand
	log     *logging.Logger
}

func newRevokeWorker(revoker operatorRevoker, size int, log *logging.Logger) *revokeWorker {
	return &revokeWorker{
		revoker: revoker,
		ch:      make(chan revokeCommand, size),
		log:     log,
	}
}

// Handle is the mqtt.MessageHandler for the revoke command topic.
func (w *revokeWorker) Handle(_ string, payload []byte) error {
	cmd, err := parseRevokeCommand(payload)
	if err != nil {
		return err
	}
	select {
	case w.ch <- cmd:
		return nil
	default:
		return fmt.Errorf("%w: dropping revoke for %s", errCommandQueueFull, cmd.UserID)
	}
}

// Run executes queued commands until ctx is cancelled. Commands still queued
// at shutdown are dropped; operators can resend them.
func (w *revokeWorker) Run(ctx context.Context) {
	for {
		select {
		case cmd := <-w.ch:
			if err := w.revoke(ctx, cmd); err != nil {
				w.log.Error("operator revoke failed", "user_id", cmd.UserID, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *revokeWorker) revoke(ctx context.Context, cmd revokeCommand) error {
	reqCtx, cancel := context.WithTimeout(ctx, revokeCommandTimeout)
	defer cancel()

	n, err := w.revoker.RevokeByOperator(reqCtx, cmd.UserID)
	if err != nil {
		return fmt.Errorf("revoking sessions for %s: %w", cmd.UserID, err)
	}
	w.log.Info("operator revoked sessions", "user_id", cmd.UserID, "revoked", n)
	return nil
}
