// Package completion implements the Completion Handler (spec component C5):
// the callback target every provider client invokes once per submitted
// message, closing the loop the Dispatcher opened.
package completion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-gateway/internal/correlation"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// Handler is constructed once and shared by every provider client: each
// client closes over a kind-specific completion func that forwards into
// Handle with its own Kind.
type Handler struct {
	store  push.Store
	tables *correlation.Tables
	logger *slog.Logger

	autoRedeliver bool
	attemptsCap   int
}

func New(store push.Store, tables *correlation.Tables, logger *slog.Logger, autoRedeliver bool, attemptsCap int) *Handler {
	return &Handler{
		store:         store,
		tables:        tables,
		logger:        logger.With("component", "CompletionHandler"),
		autoRedeliver: autoRedeliver,
		attemptsCap:   attemptsCap,
	}
}

// ForKind returns a push.CompletionFunc bound to kind, suitable for handing
// straight to a provider client's constructor.
func (h *Handler) ForKind(kind push.Kind) push.CompletionFunc {
	return func(err error, correlationID uint32) {
		h.Handle(context.Background(), kind, correlationID, err)
	}
}

// Handle never returns an error to its caller — the provider client has no
// use for one — but it logs and panics on a missing correlation entry,
// since that means the in-process bookkeeping this whole gateway depends
// on is already broken.
func (h *Handler) Handle(ctx context.Context, kind push.Kind, correlationID uint32, deliveryErr error) {
	table := h.tables.For(kind)
	if table == nil {
		panic(fmt.Sprintf("completion: unknown provider kind %s for correlation id %d", kind, correlationID))
	}

	messageUUID, ok := table.PopLookup(correlationID)
	if !ok {
		h.logger.Error("correlation invariant violation: no entry for completion",
			"kind", kind, "correlation_id", correlationID, "error", push.ErrCorrelationInvariantViolation)
		panic(fmt.Sprintf("completion: %s: kind=%s id=%d", push.ErrCorrelationInvariantViolation, kind, correlationID))
	}

	logger := h.logger.With("message", messageUUID, "kind", kind, "correlation_id", correlationID)

	if deliveryErr == nil {
		if err := h.store.DropMessage(ctx, messageUUID); err != nil {
			logger.Error("drop_message failed after successful delivery", "error", err)
			return
		}
		logger.Debug("event=sent")
		return
	}

	attempts, err := h.store.MarkMessageFailed(ctx, messageUUID, deliveryErr.Error())
	if err != nil {
		logger.Error("mark_message_failed failed", "error", err, "delivery_error", deliveryErr)
		return
	}

	if h.autoRedeliver && attempts >= h.attemptsCap {
		claimed, err := h.store.RemoveFromFailedSet(ctx, messageUUID)
		if err != nil {
			logger.Error("remove_from_failed_set failed", "error", err)
			return
		}
		if !claimed {
			logger.Debug("event=already_claimed", "attempts", attempts)
			return
		}
		if err := h.store.DropMessage(ctx, messageUUID); err != nil {
			logger.Error("drop_message failed after retiring message", "error", err)
			return
		}
		logger.Debug("event=permanent_failure", "attempts", attempts, "reason", deliveryErr.Error())
		return
	}

	logger.Debug("event=redeliverable_failure", "attempts", attempts, "reason", deliveryErr.Error())
}
