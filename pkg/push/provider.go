package push

import (
	"context"
	"time"
)

// CompletionFunc is the asynchronous completion contract a provider client
// invokes after submitting a payload: err is nil on success, or a
// ProviderDeliveryError-shaped error describing the provider's rejection.
// correlationID is the value the caller passed to Post.
//
// Per design note 9.2, the gateway constructs each provider client with a
// CompletionFunc that closes over the shared completion handler; the client
// never holds a reference back to the handler or the dispatcher.
type CompletionFunc func(err error, correlationID uint32)

// ProviderClient is the capability both APNS-like and GCM-like clients
// expose to the dispatch/redelivery machinery: submit a payload for a
// device token with a caller-assigned correlation id, asynchronously. The
// device token is whatever GetDeviceToken returned for that device's kind.
type ProviderClient interface {
	Post(ctx context.Context, deviceToken []byte, payload []byte, expiry time.Time, correlationID uint32)
}

// FeedbackSource is the out-of-band stream an APNS-like client exposes:
// successive (token, time) unsubscribe tuples, plus a side channel for
// channel-level errors (chiefly ErrFeedbackChannelShutdown on disconnect).
type FeedbackSource interface {
	Feedback() <-chan FeedbackEvent
	Errors() <-chan error
}
