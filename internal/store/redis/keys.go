package redis

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// Key layout, authoritative per spec section 6: peer instances of this
// service interoperate purely through these key names, so they must not
// drift from the documented scheme even as the adapter's Go shape changes.
const (
	keyDeadDevices = "dead_devices"

	setFailedAPNS = "failed_messages.apns"
	setFailedGCM  = "failed_messages.gcm"
)

func deviceKey(id uuid.UUID) string {
	return "device." + id.String()
}

func deviceTokenKey(tokenB64 string) string {
	return "device_token." + tokenB64
}

func messageKey(id uuid.UUID) string {
	return "message." + id.String()
}

func failedSetKey(kind push.Kind) (string, error) {
	switch kind {
	case push.KindAPNS:
		return setFailedAPNS, nil
	case push.KindGCM:
		return setFailedGCM, nil
	default:
		return "", fmt.Errorf("redis store: %w", push.ErrStoreCorruption)
	}
}
