// Package push contains the public domain model and contracts shared by the
// dispatch, redelivery and feedback engine: provider kinds, devices, messages
// and the narrow interfaces the store adapter and provider clients implement.
package push

import "fmt"

// Kind is the tagged provider-kind enumeration. Its integer value is the
// wire/storage encoding described in the store key layout: APNS=0, GCM=1.
// KindInvalid is an in-memory sentinel only; it is never persisted.
type Kind int

const (
	KindAPNS    Kind = 0
	KindGCM     Kind = 1
	KindInvalid Kind = 127
)

func (k Kind) String() string {
	switch k {
	case KindAPNS:
		return "apns"
	case KindGCM:
		return "gcm"
	default:
		return "invalid"
	}
}

// ParseKind validates a raw integer read back from the store. Only 0 and 1
// are legal; anything else is store corruption and must not be silently
// coerced into a Kind.
func ParseKind(raw int) (Kind, error) {
	switch raw {
	case int(KindAPNS):
		return KindAPNS, nil
	case int(KindGCM):
		return KindGCM, nil
	default:
		return KindInvalid, fmt.Errorf("push: stored provider-kind %d is not in {0,1}: %w", raw, ErrStoreCorruption)
	}
}
