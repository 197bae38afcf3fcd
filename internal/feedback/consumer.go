// Package feedback implements the Feedback Consumer (spec component C7):
// it drains a provider's feedback channel and retires or marks dead the
// devices it names.
package feedback

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"

	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// Consumer drains a single FeedbackSource. The gateway runs one per
// provider kind that supports feedback (APNS today; GCM's legacy HTTP
// surface carries no out-of-band feedback channel).
type Consumer struct {
	store          push.Store
	source         push.FeedbackSource
	logger         *slog.Logger
	autoDeregister bool
}

func New(store push.Store, source push.FeedbackSource, logger *slog.Logger, autoDeregister bool) *Consumer {
	return &Consumer{
		store:          store,
		source:         source,
		logger:         logger.With("component", "FeedbackConsumer"),
		autoDeregister: autoDeregister,
	}
}

// Run drains source's feedback and error channels until ctx is cancelled or
// both channels close. It is stateless across reconnects: a shutdown error
// is logged and the loop simply keeps waiting for the transport to resume
// sending on the same channels.
func (c *Consumer) Run(ctx context.Context) {
	feedback := c.source.Feedback()
	errs := c.source.Errors()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-feedback:
			if !ok {
				feedback = nil
				if errs == nil {
					return
				}
				continue
			}
			c.handle(ctx, event)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				if feedback == nil {
					return
				}
				continue
			}
			c.handleError(err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, event push.FeedbackEvent) {
	tokenB64 := base64.StdEncoding.EncodeToString(event.Token)

	deviceUUID, ok, err := c.store.FindDeviceByTokenB64(ctx, tokenB64)
	if err != nil {
		c.logger.Error("find_device_by_token_b64 failed", "error", err)
		return
	}
	if !ok {
		c.logger.Debug("feedback for unknown device token, dropping", "token_b64", tokenB64)
		return
	}

	if c.autoDeregister {
		if err := c.store.DropDevice(ctx, deviceUUID); err != nil {
			c.logger.Error("drop_device failed", "device", deviceUUID, "error", err)
			return
		}
		c.logger.Debug("event=device_dropped", "device", deviceUUID)
		return
	}

	if err := c.store.MarkDeviceDead(ctx, deviceUUID, event.Time); err != nil {
		c.logger.Error("mark_device_dead failed", "device", deviceUUID, "error", err)
		return
	}
	c.logger.Debug("event=device_marked_unsubscribed", "device", deviceUUID)
}

func (c *Consumer) handleError(err error) {
	if errors.Is(err, push.ErrFeedbackChannelShutdown) {
		c.logger.Info("event=socket_shutdown", "error", err)
		return
	}
	c.logger.Error("feedback channel error", "error", err)
}
