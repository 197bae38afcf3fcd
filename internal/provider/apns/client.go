// Package apns wraps github.com/sideshow/apns2 as the APNS-like
// ProviderClient (spec component C2). Submission is asynchronous: Post
// returns immediately and the Completion Handler finds out the outcome via
// the CompletionFunc passed to NewClient.
package apns

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// APNSClient is the subset of apns2.Client this package depends on, so
// tests can substitute a fake without standing up real credentials.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the token-based signing credentials and topic APNS requires.
type Config struct {
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyContent string
	Production   bool // selects the production endpoint; false selects sandbox
	PoolSize     int  // bounded concurrent in-flight pushes; <=0 selects a default
}

const defaultPoolSize = 8

// Client is a push.ProviderClient and a push.FeedbackSource: permanently
// invalid device tokens surface as synthesized feedback events, since the
// out-of-band legacy APNS feedback service this protocol originally
// described has been retired by Apple.
type Client struct {
	client APNSClient
	topic  string
	logger *slog.Logger

	completion push.CompletionFunc
	sem        chan struct{}

	feedback chan push.FeedbackEvent
	errs     chan error
}

// NewClient parses the P8 key immediately so bad credentials fail fast at
// startup rather than on the first push.
func NewClient(cfg Config, completion push.CompletionFunc, logger *slog.Logger) (*Client, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("apns: parse p8 key: %w", err)
	}

	tok := &token.Token{AuthKey: authKey, KeyID: cfg.KeyID, TeamID: cfg.TeamID}
	raw := apns2.NewTokenClient(tok)
	if cfg.Production {
		raw.Production()
	} else {
		raw.Development()
	}

	return newClientWithBackend(raw, cfg, completion, logger), nil
}

func newClientWithBackend(backend APNSClient, cfg Config, completion push.CompletionFunc, logger *slog.Logger) *Client {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	return &Client{
		client:     backend,
		topic:      cfg.BundleID,
		logger:     logger.With("component", "APNSClient"),
		completion: completion,
		sem:        make(chan struct{}, poolSize),
		feedback:   make(chan push.FeedbackEvent, 64),
		errs:       make(chan error, 8),
	}
}

// Post submits payload for deviceToken asynchronously, bounded by the
// configured pool size. The completion func is always invoked exactly
// once. ctx is not consulted: apns2.Client.Push has no context parameter,
// and a cancelled ctx neither stops a new submission nor one in flight.
func (c *Client) Post(ctx context.Context, deviceToken []byte, payload []byte, expiry time.Time, correlationID uint32) {
	c.sem <- struct{}{}
	go func() {
		defer func() { <-c.sem }()

		n := &apns2.Notification{
			DeviceToken: hex.EncodeToString(deviceToken),
			Topic:       c.topic,
			Payload:     json.RawMessage(payload),
		}
		if !expiry.IsZero() {
			n.Expiration = expiry
		}

		res, err := c.client.Push(n)
		if err != nil {
			c.completion(err, correlationID)
			return
		}

		if res.Sent() {
			c.completion(nil, correlationID)
			return
		}

		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			c.synthesizeFeedback(deviceToken)
		}
		c.completion(fmt.Errorf("apns: rejected: %s", res.Reason), correlationID)
	}()
}

func (c *Client) synthesizeFeedback(deviceToken []byte) {
	event := push.FeedbackEvent{Token: deviceToken, Time: time.Now().UTC()}
	select {
	case c.feedback <- event:
	default:
		c.logger.Warn("feedback channel full, dropping event", "device_token_hex", hex.EncodeToString(deviceToken))
	}
}

// Feedback implements push.FeedbackSource.
func (c *Client) Feedback() <-chan push.FeedbackEvent { return c.feedback }

// Errors implements push.FeedbackSource. It never emits today: apns2's
// synchronous HTTP/2 client has no connection-level shutdown notion the way
// the legacy binary feedback protocol did.
func (c *Client) Errors() <-chan error { return c.errs }

var (
	_ push.ProviderClient = (*Client)(nil)
	_ push.FeedbackSource = (*Client)(nil)
)
