// Package gateway wires the Store Adapter, Correlation Tables, Dispatcher,
// Completion Handler, Redelivery Loop and Feedback Consumer into a single
// runnable unit, and exposes the Control API operations spec section 6
// names.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-push-gateway/internal/completion"
	"github.com/tinywideclouds/go-push-gateway/internal/config"
	"github.com/tinywideclouds/go-push-gateway/internal/correlation"
	"github.com/tinywideclouds/go-push-gateway/internal/dispatch"
	"github.com/tinywideclouds/go-push-gateway/internal/feedback"
	apnsprovider "github.com/tinywideclouds/go-push-gateway/internal/provider/apns"
	gcmprovider "github.com/tinywideclouds/go-push-gateway/internal/provider/gcm"
	"github.com/tinywideclouds/go-push-gateway/internal/redeliver"
	storeredis "github.com/tinywideclouds/go-push-gateway/internal/store/redis"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// Gateway is the assembled core: every Control API operation in spec
// section 6 is a method here, and Start/Shutdown own the background
// components' lifecycle (the redelivery loop and feedback consumers).
type Gateway struct {
	store      push.Store
	dispatcher *dispatch.Dispatcher
	redeliver  *redeliver.Loop
	handler    *completion.Handler
	tables     *correlation.Tables
	consumers  []*feedback.Consumer
	logger     *slog.Logger

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New assembles a Gateway from cfg. It constructs the store adapter,
// correlation tables, completion handler, provider clients (each
// constructed with a completion func closing over the handler, per design
// note 9.2) and the redelivery loop and feedback consumers they need.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	store, err := storeredis.NewStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("gateway: store: %w", err)
	}

	tables := correlation.NewTables()
	handler := completion.New(store, tables, logger, cfg.AutoRedeliver, cfg.RedeliverAttempts)

	providers := map[push.Kind]push.ProviderClient{}
	var consumers []*feedback.Consumer

	if cfg.APNS.Enabled {
		apnsClient, err := apnsprovider.NewClient(apnsprovider.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8KeyContent,
			Production:   cfg.APNS.Production,
			PoolSize:     cfg.APNS.PoolSize,
		}, handler.ForKind(push.KindAPNS), logger)
		if err != nil {
			return nil, fmt.Errorf("gateway: apns client: %w", err)
		}
		providers[push.KindAPNS] = apnsClient
		consumers = append(consumers, feedback.New(store, apnsClient, logger, cfg.AutoDeregister))
	}

	if cfg.GCM.Enabled {
		gcmClient := gcmprovider.NewClient(gcmprovider.Config{
			APIKey:   cfg.GCM.APIKey,
			PoolSize: cfg.GCM.PoolSize,
		}, handler.ForKind(push.KindGCM), logger)
		providers[push.KindGCM] = gcmClient
	}

	redeliverLoop := redeliver.New(store, providers, tables, logger, cfg.RetryInterval())

	return &Gateway{
		store:      store,
		dispatcher: dispatch.New(store, providers, tables, logger),
		redeliver:  redeliverLoop,
		handler:    handler,
		tables:     tables,
		consumers:  consumers,
		logger:     logger.With("component", "Gateway"),
	}, nil
}

// Start arms the redelivery loop and feedback consumers. It returns
// immediately; background work runs until Shutdown is called.
func (g *Gateway) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	group, gctx := errgroup.WithContext(ctx)
	g.group = group

	g.redeliver.Start(gctx)

	for _, c := range g.consumers {
		c := c
		group.Go(func() error {
			c.Run(gctx)
			return nil
		})
	}

	g.logger.Info("gateway started")
	return nil
}

// Shutdown cancels the redelivery loop and feedback consumers and waits for
// them to finish.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("gateway shutting down")
	if g.redeliver != nil {
		g.redeliver.Stop()
	}
	if g.cancel != nil {
		g.cancel()
	}
	if g.group != nil {
		return g.group.Wait()
	}
	return nil
}

// --- Control API (spec section 6) ---

func (g *Gateway) RegisterAPNSDevice(ctx context.Context, tokenBytes []byte) (uuid.UUID, error) {
	return g.store.RegisterDevice(ctx, push.KindAPNS, tokenBytes)
}

func (g *Gateway) RegisterGCMDevice(ctx context.Context, tokenString string) (uuid.UUID, error) {
	return g.store.RegisterDevice(ctx, push.KindGCM, []byte(tokenString))
}

func (g *Gateway) DropDevice(ctx context.Context, device uuid.UUID) error {
	return g.store.DropDevice(ctx, device)
}

func (g *Gateway) Push(ctx context.Context, device uuid.UUID, message, tag string) (uuid.UUID, error) {
	return g.dispatcher.Push(ctx, device, message, tag)
}

// Redeliver re-submits each of the given message UUIDs using the shared
// redeliver operation (spec section 4.5). A message's device and kind are
// re-fetched from the store, since this operation may be invoked long
// after the message was written.
func (g *Gateway) Redeliver(ctx context.Context, messageUUIDs []uuid.UUID) error {
	for _, msgUUID := range messageUUIDs {
		msg, err := g.store.GetMessage(ctx, msgUUID)
		if err != nil {
			g.logger.Warn("redeliver: could not fetch message, skipping", "message", msgUUID, "error", err)
			continue
		}
		if err := g.redeliver.Redeliver(ctx, msgUUID, msg.Device, msg.Kind); err != nil {
			g.logger.Error("redeliver: failed", "message", msgUUID, "error", err)
		}
	}
	return nil
}

func (g *Gateway) ListDeadDevices(ctx context.Context) ([]push.DeadDeviceEntry, error) {
	return g.store.GetDeadDevices(ctx)
}

// ListFailedMessages implements the optional-kind union described in
// SPEC_FULL.md's supplemented features: kind == nil means "all kinds".
func (g *Gateway) ListFailedMessages(ctx context.Context, kind *push.Kind) ([]push.FailedMessageEntry, error) {
	if kind != nil {
		return g.store.GetFailedMessages(ctx, *kind)
	}
	var all []push.FailedMessageEntry
	for _, k := range []push.Kind{push.KindAPNS, push.KindGCM} {
		entries, err := g.store.GetFailedMessages(ctx, k)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}
