// Package messaging provides a NATS client wrapper for pub/sub messaging
// between the API server and the realtime servers. The API server publishes
// push events keyed by user; every realtime server subscribes to the push
// wildcard and forwards events for its locally connected users.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across marketplace services.
const (
	SubjectPushMessage      = "push.message"      // + .<user_id>
	SubjectPushNotification = "push.notification" // + .<user_id>
	SubjectPushSession      = "push.session"      // + .<user_id>
	SubjectPushWildcard     = "push.>"
)

// PushEvent is the wire format carried on push subjects. Payload is the
// opaque JSON forwarded to the client unchanged.
type PushEvent struct {
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "marketplace",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// publishPush marshals a PushEvent and publishes it on base.<userID>.
func (c *NATSClient) publishPush(base, userID string, payload json.RawMessage) error {
	data, err := json.Marshal(PushEvent{UserID: userID, Payload: payload})
	if err != nil {
		return fmt.Errorf("nats: marshal push event: %w", err)
	}
	return c.Publish(base+"."+userID, data)
}

// PublishMessage publishes a chat message push for a user.
func (c *NATSClient) PublishMessage(userID string, payload json.RawMessage) error {
	return c.publishPush(SubjectPushMessage, userID, payload)
}

// PublishNotification publishes a notification push for a user.
func (c *NATSClient) PublishNotification(userID string, payload json.RawMessage) error {
	return c.publishPush(SubjectPushNotification, userID, payload)
}

// PublishSessionUpdate publishes a session state change push for a user.
func (c *NATSClient) PublishSessionUpdate(userID string, payload json.RawMessage) error {
	return c.publishPush(SubjectPushSession, userID, payload)
}

// PushKind identifies which push family a subject belongs to.
type PushKind string

const (
	PushMessage      PushKind = "message"
	PushNotification PushKind = "notification"
	PushSession      PushKind = "session"
)

// SubscribePush subscribes to the push wildcard. The handler receives the
// push kind and the decoded event for every push published by the API
// server; events for users not connected to this server are simply undeliverable
// and the handler drops them.
func (c *NATSClient) SubscribePush(handler func(kind PushKind, ev PushEvent)) error {
	return c.Subscribe(SubjectPushWildcard, func(msg *nats.Msg) {
		kind, ok := pushKindFromSubject(msg.Subject)
		if !ok {
			log.Printf("[nats] ignoring push on unexpected subject %s", msg.Subject)
			return
		}

		var ev PushEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] malformed push on %s: %v", msg.Subject, err)
			return
		}
		handler(kind, ev)
	})
}

// pushKindFromSubject maps push.<kind>.<user_id> to its PushKind.
func pushKindFromSubject(subject string) (PushKind, bool) {
	parts := strings.SplitN(subject, ".", 3)
	if len(parts) != 3 || parts[0] != "push" {
		return "", false
	}
	switch parts[1] {
	case "message":
		return PushMessage, true
	case "notification":
		return PushNotification, true
	case "session":
		return PushSession, true
	}
	return "", false
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
