// Package messaging wraps the NATS connection used by the partner engine:
// trip change events in, match requests answered, overlap and notification
// events out.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cragmate/partner-engine/internal/logger"
	"github.com/cragmate/partner-engine/internal/model"
)

// NATS subjects.
const (
	SubjectTripChanged     = "trip.changed"
	SubjectMatchRequest    = "match.request"
	SubjectOverlapDetected = "overlap.detected" // + .<user_id>
	SubjectNotify          = "notify"           // + .<user_id>
)

// TripChanged is published by the trip owner's service when a trip is
// created or its dates, destination or visibility changed.
type TripChanged struct {
	TripID model.TripID `json:"trip_id"`
	UserID model.UserID `json:"user_id,omitempty"`
}

// MatchRequest asks for the ranked partner list of a trip. An empty TripID
// means the viewer's current active trip.
type MatchRequest struct {
	UserID model.UserID `json:"user_id"`
	TripID model.TripID `json:"trip_id,omitempty"`
	Limit  int          `json:"limit,omitempty"`
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	log  *logger.Logger
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	MaxReconnects int           `yaml:"max_reconnects"` // -1 for infinite
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "partner-engine",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, log *logger.Logger) (*NATSClient, error) {
	log = log.With("component", "nats")
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected", "error", err)
			} else {
				log.Warn("disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Info("connected", "url", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		log:  log,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishJSON marshals v and publishes it to subject.
func (c *NATSClient) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nats marshal %s: %w", subject, err)
	}
	return c.Publish(subject, data)
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

// QueueSubscribe is Subscribe with a queue group, so that several engine
// instances share the work instead of each handling every message.
func (c *NATSClient) QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishTripChanged announces a trip change.
func (c *NATSClient) PublishTripChanged(ev TripChanged) error {
	return c.PublishJSON(SubjectTripChanged, ev)
}

// SubscribeTripChanged delivers decoded trip change events. Malformed payloads
// are logged and dropped.
func (c *NATSClient) SubscribeTripChanged(queue string, handler func(TripChanged)) error {
	return c.QueueSubscribe(SubjectTripChanged, queue, func(msg *nats.Msg) {
		var ev TripChanged
		if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.TripID == "" {
			c.log.Warn("bad trip.changed payload", "error", err, "size", len(msg.Data))
			return
		}
		handler(ev)
	})
}

// HandleMatchRequests answers match.request messages with the JSON encoding of
// whatever handler returns. Errors are replied as {"error": "..."}.
func (c *NATSClient) HandleMatchRequests(queue string, handler func(MatchRequest) (any, error)) error {
	return c.QueueSubscribe(SubjectMatchRequest, queue, func(msg *nats.Msg) {
		var req MatchRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.UserID == "" {
			c.reply(msg, map[string]string{"error": "invalid match request"})
			return
		}
		out, err := handler(req)
		if err != nil {
			c.reply(msg, map[string]string{"error": err.Error()})
			return
		}
		c.reply(msg, out)
	})
}

// RequestMatches sends a match request and decodes the reply into out.
func (c *NATSClient) RequestMatches(ctx context.Context, req MatchRequest, out any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("nats marshal match request: %w", err)
	}
	msg, err := c.conn.RequestWithContext(ctx, SubjectMatchRequest, data)
	if err != nil {
		return fmt.Errorf("nats request %s: %w", SubjectMatchRequest, err)
	}
	return json.Unmarshal(msg.Data, out)
}

// PublishOverlapDetected tells a user's listeners about a new overlap.
func (c *NATSClient) PublishOverlapDetected(user model.UserID, o *model.Overlap) error {
	return c.PublishJSON(SubjectOverlapDetected+"."+string(user), o)
}

// PublishNotify publishes a notification payload for a user.
func (c *NATSClient) PublishNotify(user model.UserID, data []byte) error {
	return c.Publish(SubjectNotify+"."+string(user), data)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Warn("drain subscription", "subject", subject, "error", err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.Warn("connection drain", "error", err)
	}

	c.log.Info("client closed")
}

func (c *NATSClient) reply(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("marshal reply", "subject", msg.Subject, "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		c.log.Warn("respond", "subject", msg.Subject, "error", err)
	}
}
