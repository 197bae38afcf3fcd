package push

import "errors"

// Error taxonomy from the design's error handling section. These are
// sentinels, not types: callers compare with errors.Is against a wrapped
// error returned from the store adapter, dispatcher or completion handler.
var (
	// ErrUnknownDevice: dispatch targeted a device UUID with no record.
	ErrUnknownDevice = errors.New("push: unknown device")

	// ErrProviderNotConfigured: dispatch targeted a kind with no client set up.
	ErrProviderNotConfigured = errors.New("push: provider not configured")

	// ErrStoreError: a key/value-store operation failed.
	ErrStoreError = errors.New("push: store error")

	// ErrStoreCorruption: a provider-kind integer outside {0,1} was read back
	// from the store. Distinct log tag from ErrStoreError; never coerced.
	ErrStoreCorruption = errors.New("push: store corruption")

	// ErrCorrelationInvariantViolation: a completion arrived for a
	// correlation id with no live entry. Fatal: indicates a bug or a rogue
	// provider response, never a retry condition.
	ErrCorrelationInvariantViolation = errors.New("push: correlation id has no live entry")

	// ErrFeedbackChannelShutdown: the feedback channel was closed by the
	// remote end. Expected; the transport's reconnection policy takes over.
	ErrFeedbackChannelShutdown = errors.New("push: feedback channel shutdown")

	// ErrMessageNotFound / ErrDeviceNotFound: store lookup misses that are
	// not themselves protocol violations (e.g. a redelivery race against a
	// peer that already dropped the record).
	ErrMessageNotFound = errors.New("push: message not found")
	ErrDeviceNotFound  = errors.New("push: device not found")
)
