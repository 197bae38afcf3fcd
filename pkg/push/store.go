package push

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the narrow, typed interface over the shared key/value store
// described in spec section 4.1 and the key layout in section 6. It holds
// no business logic: the numeric provider-kind values it returns must
// already be validated (see ParseKind); everything else is a direct
// operation against devices, messages, the per-kind failed-message sets and
// the dead-device set.
//
// remove_from_failed_set is the one cross-process mutex the whole system
// relies on: its bool return is authoritative and exactly one concurrent
// caller racing the same message observes true.
type Store interface {
	RegisterDevice(ctx context.Context, kind Kind, token []byte) (uuid.UUID, error)
	DropDevice(ctx context.Context, device uuid.UUID) error
	MarkDeviceDead(ctx context.Context, device uuid.UUID, at time.Time) error
	GetDeadDevices(ctx context.Context) ([]DeadDeviceEntry, error)

	// GetDeviceKind returns KindInvalid with a nil error when the device is
	// unknown. It returns a wrapped ErrStoreCorruption when the stored kind
	// integer is outside {0,1}.
	GetDeviceKind(ctx context.Context, device uuid.UUID) (Kind, error)
	GetDeviceToken(ctx context.Context, device uuid.UUID) ([]byte, error)
	FindDeviceByTokenB64(ctx context.Context, tokenB64 string) (uuid.UUID, bool, error)

	WriteMessage(ctx context.Context, device uuid.UUID, kind Kind, payload []byte, tag string) (uuid.UUID, error)
	GetMessage(ctx context.Context, message uuid.UUID) (Message, error)
	GetMessagePayload(ctx context.Context, message uuid.UUID) ([]byte, error)

	// MarkMessageFailed sets the failure reason, adds the message to its
	// kind's failed set and returns the post-increment attempts counter. A
	// fresh message therefore transitions 0 -> 1 on its first failure.
	MarkMessageFailed(ctx context.Context, message uuid.UUID, reason string) (int, error)

	// RemoveFromFailedSet is the sole cross-process claim primitive.
	RemoveFromFailedSet(ctx context.Context, message uuid.UUID) (claimed bool, err error)

	DropMessage(ctx context.Context, message uuid.UUID) error
	GetFailedMessages(ctx context.Context, kind Kind) ([]FailedMessageEntry, error)
}
