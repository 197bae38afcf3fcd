// Package dispatch implements the Dispatcher (spec component C4): resolve a
// device's provider, persist a new message record, allocate a correlation
// id, and submit the payload to the provider client.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-gateway/internal/correlation"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// Dispatcher is safe for concurrent use by multiple caller contexts; see
// spec section 5 for the concurrency discipline its correlation Tables
// enforce.
type Dispatcher struct {
	store     push.Store
	providers map[push.Kind]push.ProviderClient
	tables    *correlation.Tables
	logger    *slog.Logger
}

func New(store push.Store, providers map[push.Kind]push.ProviderClient, tables *correlation.Tables, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		providers: providers,
		tables:    tables,
		logger:    logger.With("component", "Dispatcher"),
	}
}

// Push resolves device's provider kind, writes the message record, allocates
// and publishes a correlation id, and submits to the provider client. It
// returns as soon as submission is underway; completion arrives later via
// the Completion Handler.
func (d *Dispatcher) Push(ctx context.Context, device uuid.UUID, message string, tag string) (uuid.UUID, error) {
	kind, err := d.store.GetDeviceKind(ctx, device)
	if err != nil {
		return uuid.Nil, fmt.Errorf("dispatch: push: %w", err)
	}
	if kind == push.KindInvalid {
		return uuid.Nil, fmt.Errorf("dispatch: push: device %s: %w", device, push.ErrUnknownDevice)
	}

	client, ok := d.providers[kind]
	if !ok {
		return uuid.Nil, fmt.Errorf("dispatch: push: device %s kind %s: %w", device, kind, push.ErrProviderNotConfigured)
	}

	deviceToken, err := d.store.GetDeviceToken(ctx, device)
	if err != nil {
		return uuid.Nil, fmt.Errorf("dispatch: push: %w", err)
	}

	payload, err := push.BuildPayload(kind, message, string(deviceToken))
	if err != nil {
		return uuid.Nil, fmt.Errorf("dispatch: push: building payload: %w", err)
	}

	msgUUID, err := d.store.WriteMessage(ctx, device, kind, payload, tag)
	if err != nil {
		return uuid.Nil, fmt.Errorf("dispatch: push: %w", err)
	}

	table := d.tables.For(kind)
	id := table.NextID()
	// Publish before submit: the completion can arrive on another
	// goroutine the instant Post returns, and it must already find this id.
	table.Put(id, msgUUID)

	client.Post(ctx, deviceToken, payload, time.Time{}, id)

	d.logger.Debug("dispatched message", "message", msgUUID, "device", device, "kind", kind, "correlation_id", id)
	return msgUUID, nil
}
