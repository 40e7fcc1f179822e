// Package messaging provides a NATS client wrapper for the moderation
// services. It handles connection lifecycle, subject-based subscriptions, and
// convenience methods for the analyze request/reply and per-request result
// channels.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATS subjects used across moderation services.
const (
	SubjectAnalyze       = "moderation.analyze"
	SubjectAnalyzeResult = "moderation.result" // + .<request_id>

	// QueueModerators load-balances analyze requests across workers.
	QueueModerators = "moderators"
)

// ResultSubject returns the subject results for requestID are published on.
func ResultSubject(requestID string) string {
	return SubjectAnalyzeResult + "." + requestID
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	log  *logrus.Entry
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
		URL:           nats.DefaultURL,
		Name:          "moderation",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, logger logrus.FieldLogger) (*NATSClient, error) {
	log := logger.WithField("component", "nats")
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.WithField("url", nc.ConnectedUrl()).Info("connected")

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

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.track(subject, sub)
	return nil
}

// SubscribeAnalyze joins the moderators queue group on the analyze subject.
// Each request is delivered to exactly one worker in the group.
func (c *NATSClient) SubscribeAnalyze(handler func(msg *nats.Msg)) error {
	sub, err := c.conn.QueueSubscribe(SubjectAnalyze, QueueModerators, handler)
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s: %w", SubjectAnalyze, err)
	}
	c.track(SubjectAnalyze, sub)
	return nil
}

// RequestAnalyze sends an analyze request and waits for the worker's reply.
func (c *NATSClient) RequestAnalyze(ctx context.Context, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, SubjectAnalyze, data)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", SubjectAnalyze, err)
	}
	return msg.Data, nil
}

// AwaitResult publishes an analyze request without a reply inbox and waits
// for the worker's answer on ResultSubject(requestID). ctx must carry a
// deadline.
func (c *NATSClient) AwaitResult(ctx context.Context, requestID string, data []byte) ([]byte, error) {
	got := make(chan []byte, 1)
	err := c.SubscribeResult(requestID, func(b []byte) {
		select {
		case got <- b:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := c.UnsubscribeResult(requestID); err != nil {
			c.log.WithError(err).WithField("request_id", requestID).Debug("result unsubscribe failed")
		}
	}()

	// The result subscription must reach the server before the request
	// does, or a fast worker's answer is lost.
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	if err := c.Publish(SubjectAnalyze, data); err != nil {
		return nil, fmt.Errorf("nats publish %s: %w", SubjectAnalyze, err)
	}

	select {
	case b := <-got:
		return b, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("nats await %s: %w", ResultSubject(requestID), ctx.Err())
	}
}

// PublishResult publishes an analyze result for a specific request.
func (c *NATSClient) PublishResult(requestID string, data []byte) error {
	return c.Publish(ResultSubject(requestID), data)
}

// SubscribeResult subscribes to results for a specific request.
func (c *NATSClient) SubscribeResult(requestID string, handler func(data []byte)) error {
	return c.Subscribe(ResultSubject(requestID), func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeResult unsubscribes from results for a request.
func (c *NATSClient) UnsubscribeResult(requestID string) error {
	return c.unsubscribe(ResultSubject(requestID))
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.WithError(err).WithField("subject", subject).Warn("drain failed")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.WithError(err).Warn("connection drain failed")
	}

	c.log.Info("client closed")
}

func (c *NATSClient) track(subject string, sub *nats.Subscription) {
	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
