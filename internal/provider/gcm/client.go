// Package gcm wraps the legacy GCM/FCM HTTP API (github.com/google/go-gcm)
// as the GCM-like ProviderClient (spec component C2). The legacy HTTP
// surface, not the modern Firebase Admin SDK, is the one that matches the
// spec's per-call correlation id contract.
package gcm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	gogcm "github.com/google/go-gcm"

	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// sender is the subset of go-gcm's package-level SendHttp this package
// depends on, so tests can substitute a fake transport.
type sender interface {
	SendHttp(apiKey string, m gogcm.HttpMessage) (*gogcm.HttpResponse, error)
}

type httpSender struct{}

func (httpSender) SendHttp(apiKey string, m gogcm.HttpMessage) (*gogcm.HttpResponse, error) {
	return gogcm.SendHttp(apiKey, m)
}

// Config holds the GCM/FCM legacy server API key.
type Config struct {
	APIKey   string
	PoolSize int // bounded concurrent in-flight pushes; <=0 selects a default
}

const defaultPoolSize = 8

// Client is a push.ProviderClient. GCM's legacy HTTP surface carries no
// out-of-band feedback channel, so Client does not implement
// push.FeedbackSource.
type Client struct {
	apiKey     string
	sender     sender
	logger     *slog.Logger
	completion push.CompletionFunc
	sem        chan struct{}
}

func NewClient(cfg Config, completion push.CompletionFunc, logger *slog.Logger) *Client {
	return newClientWithSender(httpSender{}, cfg, completion, logger)
}

func newClientWithSender(s sender, cfg Config, completion push.CompletionFunc, logger *slog.Logger) *Client {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	return &Client{
		apiKey:     cfg.APIKey,
		sender:     s,
		logger:     logger.With("component", "GCMClient"),
		completion: completion,
		sem:        make(chan struct{}, poolSize),
	}
}

// Post submits payload for deviceToken asynchronously. deviceToken is the
// GCM/FCM registration id, stored and passed around as raw bytes.
func (c *Client) Post(ctx context.Context, deviceToken []byte, payload []byte, expiry time.Time, correlationID uint32) {
	c.sem <- struct{}{}
	go func() {
		defer func() { <-c.sem }()

		// payload is the JSON object BuildPayload produced; its fields other
		// than registration_ids travel as the message's data.
		var data map[string]interface{}
		if err := json.Unmarshal(payload, &data); err != nil {
			c.completion(fmt.Errorf("gcm: payload is not a json object: %w", err), correlationID)
			return
		}
		delete(data, "registration_ids")

		registrationID := string(deviceToken)
		msg := gogcm.HttpMessage{RegistrationIds: []string{registrationID}, Data: data}
		if ttl := ttlSeconds(expiry); ttl != nil {
			msg.TimeToLive = ttl
		}

		res, err := c.sender.SendHttp(c.apiKey, msg)
		if err != nil {
			c.completion(fmt.Errorf("gcm: transport: %w", err), correlationID)
			return
		}

		if len(res.Results) == 0 {
			c.completion(fmt.Errorf("gcm: empty result set for 1 registration id"), correlationID)
			return
		}

		result := res.Results[0]
		if result.Error != "" {
			c.completion(fmt.Errorf("gcm: rejected: %s", result.Error), correlationID)
			return
		}

		c.completion(nil, correlationID)
	}()
}

func ttlSeconds(expiry time.Time) *uint {
	if expiry.IsZero() {
		return nil
	}
	d := time.Until(expiry)
	if d <= 0 {
		return nil
	}
	secs := uint(d.Seconds())
	return &secs
}

var _ push.ProviderClient = (*Client)(nil)
