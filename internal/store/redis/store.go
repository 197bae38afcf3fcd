// Package redis implements the device/message store over a shared Redis
// instance.
package redis

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// tsLayout is the ISO microsecond UTC timestamp format the key layout
// documents for message.<uuid>.timestamp and device.<uuid>.death_time.
const tsLayout = "2006-01-02T15:04:05.000000Z"

// Store is the Redis-backed implementation of push.Store.
type Store struct {
	rdb    *goredis.Client
	logger *slog.Logger

	dropDeviceScript *goredis.Script
}

// NewStore dials addr and fails fast if the connection is bad.
func NewStore(addr, password string, db int, logger *slog.Logger) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis store: ping failed: %w", err)
	}

	return NewStoreFromClient(rdb, logger), nil
}

// NewStoreFromClient builds a Store over an already-connected client, for
// callers (and tests) that manage the connection lifecycle themselves.
func NewStoreFromClient(rdb *goredis.Client, logger *slog.Logger) *Store {
	return &Store{
		rdb:    rdb,
		logger: logger.With("component", "RedisStore"),
		// The device drop must be a single atomic action: remove the device
		// hash, its reverse-index entry and its dead-set membership, or
		// none of them. Keys are passed explicitly (KEYS[1..3]) rather than
		// via redis.call('keys', ...) globbing, which the original C++
		// service used and which does not scale past a handful of keys.
		dropDeviceScript: goredis.NewScript(`
			redis.call('del', KEYS[1])
			redis.call('del', KEYS[2])
			redis.call('srem', KEYS[3], ARGV[1])
			return 1
		`),
	}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func storeErr(op string, err error) error {
	return fmt.Errorf("redis store: %s: %w: %w", op, push.ErrStoreError, err)
}

func (s *Store) RegisterDevice(ctx context.Context, kind push.Kind, token []byte) (uuid.UUID, error) {
	id := uuid.New()
	tokenB64 := base64.StdEncoding.EncodeToString(token)

	tokenField := string(token)
	if kind == push.KindAPNS {
		tokenField = tokenB64
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, deviceKey(id), map[string]any{
		"type":  int(kind),
		"token": tokenField,
	})
	pipe.Set(ctx, deviceTokenKey(tokenB64), id.String(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return uuid.Nil, storeErr("register_device", err)
	}

	s.logger.Debug("registered device", "device", id, "kind", kind)
	return id, nil
}

func (s *Store) DropDevice(ctx context.Context, device uuid.UUID) error {
	tokenField, err := s.rdb.HGet(ctx, deviceKey(device), "token").Result()
	if errors.Is(err, goredis.Nil) {
		// Already gone. Idempotent no-op.
		return nil
	}
	if err != nil {
		return storeErr("drop_device", err)
	}

	kindRaw, err := s.rdb.HGet(ctx, deviceKey(device), "type").Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return storeErr("drop_device", err)
	}

	tokenB64 := tokenField
	if kindRaw != "" {
		n, convErr := strconv.Atoi(kindRaw)
		if convErr == nil && push.Kind(n) == push.KindGCM {
			tokenB64 = base64.StdEncoding.EncodeToString([]byte(tokenField))
		}
	}

	err = s.dropDeviceScript.Run(ctx, s.rdb,
		[]string{deviceTokenKey(tokenB64), deviceKey(device), keyDeadDevices},
		device.String(),
	).Err()
	if err != nil {
		return storeErr("drop_device", err)
	}

	s.logger.Debug("dropped device", "device", device)
	return nil
}

func (s *Store) MarkDeviceDead(ctx context.Context, device uuid.UUID, at time.Time) error {
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, keyDeadDevices, device.String())
	pipe.HSet(ctx, deviceKey(device), "death_time", at.UTC().Format(tsLayout))
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("mark_device_dead", err)
	}
	return nil
}

func (s *Store) GetDeadDevices(ctx context.Context) ([]push.DeadDeviceEntry, error) {
	ids, err := s.rdb.SMembers(ctx, keyDeadDevices).Result()
	if err != nil {
		return nil, storeErr("get_dead_devices", err)
	}

	entries := make([]push.DeadDeviceEntry, 0, len(ids))
	for _, idStr := range ids {
		id, err := uuid.Parse(idStr)
		if err != nil {
			s.logger.Warn("dead_devices contains non-uuid member", "value", idStr)
			continue
		}

		raw, err := s.rdb.HGet(ctx, deviceKey(id), "death_time").Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, storeErr("get_dead_devices", err)
		}

		ts, err := time.Parse(tsLayout, raw)
		if err != nil {
			s.logger.Warn("malformed death_time", "device", id, "value", raw)
			continue
		}

		entries = append(entries, push.DeadDeviceEntry{DeviceUUID: id, Time: ts})
	}

	return entries, nil
}

func (s *Store) GetDeviceKind(ctx context.Context, device uuid.UUID) (push.Kind, error) {
	exists, err := s.rdb.Exists(ctx, deviceKey(device)).Result()
	if err != nil {
		return push.KindInvalid, storeErr("get_device_kind", err)
	}
	if exists == 0 {
		return push.KindInvalid, nil
	}

	raw, err := s.rdb.HGet(ctx, deviceKey(device), "type").Result()
	if err != nil {
		return push.KindInvalid, storeErr("get_device_kind", err)
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return push.KindInvalid, fmt.Errorf("redis store: get_device_kind: stored type %q not numeric: %w", raw, push.ErrStoreCorruption)
	}

	return push.ParseKind(n)
}

func (s *Store) GetDeviceToken(ctx context.Context, device uuid.UUID) ([]byte, error) {
	vals, err := s.rdb.HMGet(ctx, deviceKey(device), "type", "token").Result()
	if err != nil {
		return nil, storeErr("get_device_token", err)
	}
	if vals[0] == nil || vals[1] == nil {
		return nil, fmt.Errorf("redis store: get_device_token: %w", push.ErrDeviceNotFound)
	}

	n, err := strconv.Atoi(vals[0].(string))
	if err != nil {
		return nil, fmt.Errorf("redis store: get_device_token: stored type not numeric: %w", push.ErrStoreCorruption)
	}
	kind, err := push.ParseKind(n)
	if err != nil {
		return nil, err
	}

	tokenField := vals[1].(string)
	if kind == push.KindAPNS {
		raw, err := base64.StdEncoding.DecodeString(tokenField)
		if err != nil {
			return nil, fmt.Errorf("redis store: get_device_token: malformed base64 apns token: %w", push.ErrStoreCorruption)
		}
		return raw, nil
	}
	return []byte(tokenField), nil
}

func (s *Store) FindDeviceByTokenB64(ctx context.Context, tokenB64 string) (uuid.UUID, bool, error) {
	idStr, err := s.rdb.Get(ctx, deviceTokenKey(tokenB64)).Result()
	if errors.Is(err, goredis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, storeErr("find_device_by_token_b64", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redis store: find_device_by_token_b64: malformed device uuid %q: %w", idStr, push.ErrStoreCorruption)
	}
	return id, true, nil
}

func (s *Store) WriteMessage(ctx context.Context, device uuid.UUID, kind push.Kind, payload []byte, tag string) (uuid.UUID, error) {
	id := uuid.New()
	err := s.rdb.HSet(ctx, messageKey(id), map[string]any{
		"payload":   string(payload),
		"type":      int(kind),
		"device":    device.String(),
		"timestamp": time.Now().UTC().Format(tsLayout),
		"tag":       tag,
	}).Err()
	if err != nil {
		return uuid.Nil, storeErr("write_message", err)
	}

	s.logger.Debug("wrote message record", "message", id, "device", device, "kind", kind)
	return id, nil
}

func (s *Store) GetMessage(ctx context.Context, message uuid.UUID) (push.Message, error) {
	fields, err := s.rdb.HGetAll(ctx, messageKey(message)).Result()
	if err != nil {
		return push.Message{}, storeErr("get_message", err)
	}
	if len(fields) == 0 {
		return push.Message{}, fmt.Errorf("redis store: get_message: %w", push.ErrMessageNotFound)
	}

	deviceID, err := uuid.Parse(fields["device"])
	if err != nil {
		return push.Message{}, fmt.Errorf("redis store: get_message: malformed device uuid: %w", push.ErrStoreCorruption)
	}

	typeN, err := strconv.Atoi(fields["type"])
	if err != nil {
		return push.Message{}, fmt.Errorf("redis store: get_message: stored type not numeric: %w", push.ErrStoreCorruption)
	}
	kind, err := push.ParseKind(typeN)
	if err != nil {
		return push.Message{}, err
	}

	ts, err := time.Parse(tsLayout, fields["timestamp"])
	if err != nil {
		return push.Message{}, fmt.Errorf("redis store: get_message: malformed timestamp: %w", push.ErrStoreCorruption)
	}

	// Fresh messages carry no attempts field; the read contract defaults it
	// to 1 here. The counter itself only starts moving on the first
	// mark_message_failed, which increments the absent field from 0.
	attempts := 1
	if raw, ok := fields["attempts"]; ok && raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return push.Message{}, fmt.Errorf("redis store: get_message: stored attempts not numeric: %w", push.ErrStoreCorruption)
		}
		attempts = n
	}

	return push.Message{
		UUID:      message,
		Device:    deviceID,
		Kind:      kind,
		Payload:   []byte(fields["payload"]),
		Tag:       fields["tag"],
		Timestamp: ts,
		Attempts:  attempts,
		Reason:    fields["reason"],
	}, nil
}

func (s *Store) GetMessagePayload(ctx context.Context, message uuid.UUID) ([]byte, error) {
	raw, err := s.rdb.HGet(ctx, messageKey(message), "payload").Result()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redis store: get_message_payload: %w", push.ErrMessageNotFound)
	}
	if err != nil {
		return nil, storeErr("get_message_payload", err)
	}
	return []byte(raw), nil
}

func (s *Store) messageKind(ctx context.Context, message uuid.UUID) (push.Kind, error) {
	raw, err := s.rdb.HGet(ctx, messageKey(message), "type").Result()
	if errors.Is(err, goredis.Nil) {
		return push.KindInvalid, fmt.Errorf("redis store: %w", push.ErrMessageNotFound)
	}
	if err != nil {
		return push.KindInvalid, storeErr("messageKind", err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return push.KindInvalid, fmt.Errorf("redis store: stored type not numeric: %w", push.ErrStoreCorruption)
	}
	return push.ParseKind(n)
}

func (s *Store) MarkMessageFailed(ctx context.Context, message uuid.UUID, reason string) (int, error) {
	kind, err := s.messageKind(ctx, message)
	if err != nil {
		return 0, err
	}
	setKey, err := failedSetKey(kind)
	if err != nil {
		return 0, err
	}

	if err := s.rdb.HSet(ctx, messageKey(message), "reason", reason).Err(); err != nil {
		return 0, storeErr("mark_message_failed", err)
	}
	if err := s.rdb.SAdd(ctx, setKey, message.String()).Err(); err != nil {
		return 0, storeErr("mark_message_failed", err)
	}

	attempts, err := s.rdb.HIncrBy(ctx, messageKey(message), "attempts", 1).Result()
	if err != nil {
		return 0, storeErr("mark_message_failed", err)
	}

	return int(attempts), nil
}

func (s *Store) RemoveFromFailedSet(ctx context.Context, message uuid.UUID) (bool, error) {
	kind, err := s.messageKind(ctx, message)
	if errors.Is(err, push.ErrMessageNotFound) {
		// The record is already gone: a peer beat us to the claim and
		// finished dropping it. We did not claim it.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	setKey, err := failedSetKey(kind)
	if err != nil {
		return false, err
	}

	removed, err := s.rdb.SRem(ctx, setKey, message.String()).Result()
	if err != nil {
		return false, storeErr("remove_from_failed_set", err)
	}
	return removed == 1, nil
}

func (s *Store) DropMessage(ctx context.Context, message uuid.UUID) error {
	// A message has a single key pattern, so a plain DEL already satisfies
	// "all keys belonging to X are gone, or none are" without a script.
	if err := s.rdb.Del(ctx, messageKey(message)).Err(); err != nil {
		return storeErr("drop_message", err)
	}
	return nil
}

func (s *Store) GetFailedMessages(ctx context.Context, kind push.Kind) ([]push.FailedMessageEntry, error) {
	setKey, err := failedSetKey(kind)
	if err != nil {
		return nil, err
	}

	ids, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, storeErr("get_failed_messages", err)
	}

	entries := make([]push.FailedMessageEntry, 0, len(ids))
	for _, idStr := range ids {
		msgID, err := uuid.Parse(idStr)
		if err != nil {
			s.logger.Warn("failed set contains non-uuid member", "value", idStr)
			continue
		}

		vals, err := s.rdb.HMGet(ctx, messageKey(msgID), "device", "reason", "attempts").Result()
		if err != nil {
			return nil, storeErr("get_failed_messages", err)
		}
		if vals[0] == nil {
			// Raced against a peer's claim-and-drop between SMEMBERS and
			// here. Skip; the set membership will be reconciled by the
			// claimant's SREM.
			continue
		}

		devID, err := uuid.Parse(vals[0].(string))
		if err != nil {
			continue
		}

		reason := ""
		if vals[1] != nil {
			reason = vals[1].(string)
		}

		attempts := 0
		if vals[2] != nil {
			attempts, _ = strconv.Atoi(vals[2].(string))
		}

		entries = append(entries, push.FailedMessageEntry{
			MessageUUID: msgID,
			DeviceUUID:  devID,
			Reason:      reason,
			Attempts:    attempts,
		})
	}

	return entries, nil
}

var _ push.Store = (*Store)(nil)
