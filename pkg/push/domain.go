package push

import (
	"time"

	"github.com/google/uuid"
)

// Device is a registered push target. Token holds the provider-native
// representation returned by GetDeviceToken: raw bytes for APNS, the
// registration id string (as bytes) for GCM.
type Device struct {
	UUID      uuid.UUID
	Kind      Kind
	Token     []byte
	DeathTime *time.Time
}

// Message is a single push attempt record. Attempts is 0/absent before the
// first completion and becomes non-zero only once mark_message_failed has
// run at least once; GetMessage reports 1 when the underlying field is
// absent, per the store contract in spec section 4.1.
type Message struct {
	UUID      uuid.UUID
	Device    uuid.UUID
	Kind      Kind
	Payload   []byte
	Tag       string
	Timestamp time.Time
	Attempts  int
	Reason    string
}

// FailedMessageEntry is one row of get_failed_messages(kind).
type FailedMessageEntry struct {
	MessageUUID uuid.UUID
	DeviceUUID  uuid.UUID
	Reason      string
	Attempts    int
}

// DeadDeviceEntry is one row of get_dead_devices().
type DeadDeviceEntry struct {
	DeviceUUID uuid.UUID
	Time       time.Time
}

// FeedbackEvent is a single (token, time) unsubscribe tuple emitted by an
// APNS-like feedback channel.
type FeedbackEvent struct {
	Token []byte
	Time  time.Time
}
