// Package redeliver implements the Redelivery Loop (spec component C6): a
// periodic sweep of each provider kind's failed-message set, plus the
// redeliver operation it shares with the API-surfaced manual redeliver call.
package redeliver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-gateway/internal/correlation"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

const defaultInterval = 5 * time.Second

// Loop owns the periodic timer and the redeliver operation. Both the timer
// tick and an externally triggered redeliver (the Control API's "redeliver
// these message UUIDs" operation) go through Redeliver, so the claim
// protocol in spec section 4.5 is enforced exactly once.
type Loop struct {
	store     push.Store
	providers map[push.Kind]push.ProviderClient
	tables    *correlation.Tables
	logger    *slog.Logger
	interval  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Loop. interval <= 0 selects the default of 5 seconds.
func New(store push.Store, providers map[push.Kind]push.ProviderClient, tables *correlation.Tables, logger *slog.Logger, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Loop{
		store:     store,
		providers: providers,
		tables:    tables,
		logger:    logger.With("component", "RedeliveryLoop"),
		interval:  interval,
	}
}

// Start arms the timer and begins ticking in a background goroutine. It is
// restartable: calling Stop followed by Start again rearms a fresh timer.
func (l *Loop) Start(ctx context.Context) {
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.run()
}

// Stop cancels the running timer without rearming it and waits for the
// in-flight tick, if any, to finish. This is the operation_aborted wake
// spec section 4.5 describes.
func (l *Loop) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.wg.Wait()
}

func (l *Loop) run() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			l.logger.Debug("redelivery loop stopping", "reason", "operation_aborted")
			return
		case <-ticker.C:
			l.sweep(l.ctx)
		}
	}
}

func (l *Loop) sweep(ctx context.Context) {
	for _, kind := range []push.Kind{push.KindAPNS, push.KindGCM} {
		if _, ok := l.providers[kind]; !ok {
			continue
		}
		failed, err := l.store.GetFailedMessages(ctx, kind)
		if err != nil {
			l.logger.Error("get_failed_messages failed", "kind", kind, "error", err)
			continue
		}
		for _, entry := range failed {
			if err := l.Redeliver(ctx, entry.MessageUUID, entry.DeviceUUID, kind); err != nil {
				l.logger.Error("redeliver failed", "message", entry.MessageUUID, "kind", kind, "error", err)
			}
		}
	}
}

// Redeliver implements the shared redeliver(message_uuid, device_uuid,
// kind) operation from spec section 4.5. It is exported so the Control
// API's manual redeliver call can invoke the identical claim protocol the
// timer uses.
func (l *Loop) Redeliver(ctx context.Context, messageUUID, deviceUUID uuid.UUID, kind push.Kind) error {
	claimed, err := l.store.RemoveFromFailedSet(ctx, messageUUID)
	if err != nil {
		return fmt.Errorf("redeliver: %w", err)
	}
	if !claimed {
		l.logger.Debug("redeliver: message already claimed elsewhere", "message", messageUUID)
		return nil
	}

	payload, err := l.store.GetMessagePayload(ctx, messageUUID)
	if err != nil {
		return fmt.Errorf("redeliver: %w", err)
	}

	deviceToken, err := l.store.GetDeviceToken(ctx, deviceUUID)
	if err != nil {
		return fmt.Errorf("redeliver: %w", err)
	}

	client, ok := l.providers[kind]
	if !ok {
		return fmt.Errorf("redeliver: kind %s: %w", kind, push.ErrProviderNotConfigured)
	}

	table := l.tables.For(kind)
	id := table.NextID()
	table.Put(id, messageUUID)

	client.Post(ctx, deviceToken, payload, time.Time{}, id)

	l.logger.Debug("redelivered message", "message", messageUUID, "device", deviceUUID, "kind", kind, "correlation_id", id)
	return nil
}
