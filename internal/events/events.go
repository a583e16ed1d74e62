// Package events publishes best-effort instance/session lifecycle events to
// NATS (SPEC_FULL.md "Event publication"). Publication failures never
// surface to the caller — this is an observability side-channel, never a
// correctness dependency for provisioning or session handling.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jaewoo-rain/webide-broker/internal/logger"
)

// Subject constants, grounded on the teacher's "streamspace.<domain>.<action>"
// naming convention (internal/events/subjects.go), adapted to this domain.
const (
	SubjectInstanceCreate  = "sandbox.instance.create"
	SubjectInstanceDestroy = "sandbox.instance.destroy"
	SubjectSessionAttach   = "sandbox.session.attach"
	SubjectSessionDetach   = "sandbox.session.detach"
)

// InstanceEvent is published on instance provisioning and teardown.
type InstanceEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	InstanceID string    `json:"instanceId"`
	Owner      string    `json:"owner"`
	ProjectName string   `json:"projectName,omitempty"`
}

// SessionEvent is published on PTY Broker attach and detach.
type SessionEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	InstanceID string    `json:"instanceId"`
	SessionID  string    `json:"sessionId"`
}

// Publisher publishes lifecycle events to NATS. A Publisher with no live
// connection (NATS_URL unset, or the broker unreachable at startup) is
// still safe to call — every Publish method becomes a no-op.
type Publisher struct {
	conn    *nats.Conn
	enabled bool
}

// NewPublisher connects to url. An empty url or a connection failure
// returns a disabled-but-functional Publisher rather than an error, so
// startup never fails because of an optional dependency.
func NewPublisher(url string) *Publisher {
	log := logger.Broker()
	if url == "" {
		log.Info().Msg("NATS_URL not configured, lifecycle event publication disabled")
		return &Publisher{enabled: false}
	}

	conn, err := nats.Connect(url,
		nats.Name("webide-broker"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(10),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn().Err(err).Msg("nats error")
		}),
	)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to NATS, lifecycle event publication disabled")
		return &Publisher{enabled: false}
	}

	log.Info().Str("url", conn.ConnectedUrl()).Msg("connected to NATS")
	return &Publisher{conn: conn, enabled: true}
}

// Close flushes and closes the underlying connection, if any.
func (p *Publisher) Close() {
	if p.enabled {
		p.conn.Close()
	}
}

func (p *Publisher) publish(subject string, payload any) {
	if !p.enabled {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Broker().Warn().Err(err).Str("subject", subject).Msg("failed to encode event")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		logger.Broker().Warn().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}

// InstanceCreated publishes SubjectInstanceCreate.
func (p *Publisher) InstanceCreated(instanceID, owner, projectName string) {
	p.publish(SubjectInstanceCreate, InstanceEvent{
		Timestamp: time.Now(), InstanceID: instanceID, Owner: owner, ProjectName: projectName,
	})
}

// InstanceDestroyed publishes SubjectInstanceDestroy.
func (p *Publisher) InstanceDestroyed(instanceID, owner string) {
	p.publish(SubjectInstanceDestroy, InstanceEvent{
		Timestamp: time.Now(), InstanceID: instanceID, Owner: owner,
	})
}

// SessionAttached publishes SubjectSessionAttach.
func (p *Publisher) SessionAttached(instanceID, sessionID string) {
	p.publish(SubjectSessionAttach, SessionEvent{
		Timestamp: time.Now(), InstanceID: instanceID, SessionID: sessionID,
	})
}

// SessionDetached publishes SubjectSessionDetach.
func (p *Publisher) SessionDetached(instanceID, sessionID string) {
	p.publish(SubjectSessionDetach, SessionEvent{
		Timestamp: time.Now(), InstanceID: instanceID, SessionID: sessionID,
	})
}
