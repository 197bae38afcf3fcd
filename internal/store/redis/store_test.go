package redis_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storeredis "github.com/tinywideclouds/go-push-gateway/internal/store/redis"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

func newTestStore(t *testing.T) *storeredis.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return storeredis.NewStoreFromClient(client, logger)
}

func TestRegisterDeviceRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	devID, err := s.RegisterDevice(ctx, push.KindAPNS, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.NoError(t, err)

	kind, err := s.GetDeviceKind(ctx, devID)
	require.NoError(t, err)
	assert.Equal(t, push.KindAPNS, kind)

	token, err := s.GetDeviceToken(ctx, devID)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, token)
}

func TestFindDeviceByTokenB64(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	devID, err := s.RegisterDevice(ctx, push.KindGCM, []byte("reg-id-123"))
	require.NoError(t, err)

	tokenB64 := "cmVnLWlkLTEyMw=="
	found, ok, err := s.FindDeviceByTokenB64(ctx, tokenB64)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, devID, found)
}

func TestGetDeviceKindUnknownIsInvalidNotError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	kind, err := s.GetDeviceKind(ctx, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, push.KindInvalid, kind)
}

func TestWriteMessageAndGetMessage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	devID, err := s.RegisterDevice(ctx, push.KindAPNS, []byte("tok"))
	require.NoError(t, err)

	payload := []byte(`{"alert":"hi"}`)
	msgID, err := s.WriteMessage(ctx, devID, push.KindAPNS, payload, "tag-1")
	require.NoError(t, err)

	msg, err := s.GetMessage(ctx, msgID)
	require.NoError(t, err)
	assert.Equal(t, devID, msg.Device)
	assert.Equal(t, push.KindAPNS, msg.Kind)
	assert.Equal(t, "tag-1", msg.Tag)
	// Fresh message, never failed: attempts defaults to 1 on read.
	assert.Equal(t, 1, msg.Attempts)

	gotPayload, err := s.GetMessagePayload(ctx, msgID)
	require.NoError(t, err)
	assert.Equal(t, payload, gotPayload)
}

func TestFreshMessageFirstFailureSetsAttemptsToOne(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	devID, err := s.RegisterDevice(ctx, push.KindAPNS, []byte("tok"))
	require.NoError(t, err)
	msgID, err := s.WriteMessage(ctx, devID, push.KindAPNS, []byte("p"), "")
	require.NoError(t, err)

	attempts, err := s.MarkMessageFailed(ctx, msgID, "bad token")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	attempts, err = s.MarkMessageFailed(ctx, msgID, "bad token again")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestMarkFailedThenListThenClaim(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	devID, err := s.RegisterDevice(ctx, push.KindAPNS, []byte("tok"))
	require.NoError(t, err)
	msgID, err := s.WriteMessage(ctx, devID, push.KindAPNS, []byte("p"), "")
	require.NoError(t, err)

	_, err = s.MarkMessageFailed(ctx, msgID, "transport error")
	require.NoError(t, err)

	failed, err := s.GetFailedMessages(ctx, push.KindAPNS)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, msgID, failed[0].MessageUUID)
	assert.Equal(t, "transport error", failed[0].Reason)

	claimed, err := s.RemoveFromFailedSet(ctx, msgID)
	require.NoError(t, err)
	assert.True(t, claimed)

	failed, err = s.GetFailedMessages(ctx, push.KindAPNS)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestRemoveFromFailedSetIsExclusiveAcrossRacers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	devID, err := s.RegisterDevice(ctx, push.KindGCM, []byte("tok"))
	require.NoError(t, err)
	msgID, err := s.WriteMessage(ctx, devID, push.KindGCM, []byte("p"), "")
	require.NoError(t, err)
	_, err = s.MarkMessageFailed(ctx, msgID, "err")
	require.NoError(t, err)

	type result struct{ claimed bool }
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			claimed, err := s.RemoveFromFailedSet(ctx, msgID)
			require.NoError(t, err)
			results <- result{claimed: claimed}
		}()
	}

	trueCount := 0
	for i := 0; i < 2; i++ {
		r := <-results
		if r.claimed {
			trueCount++
		}
	}
	assert.Equal(t, 1, trueCount)
}

func TestAttemptsCapOneRetiresOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	devID, err := s.RegisterDevice(ctx, push.KindAPNS, []byte("tok"))
	require.NoError(t, err)
	msgID, err := s.WriteMessage(ctx, devID, push.KindAPNS, []byte("p"), "")
	require.NoError(t, err)

	attempts, err := s.MarkMessageFailed(ctx, msgID, "fatal")
	require.NoError(t, err)
	require.Equal(t, 1, attempts)

	const attemptsCap = 1
	if attempts >= attemptsCap {
		claimed, err := s.RemoveFromFailedSet(ctx, msgID)
		require.NoError(t, err)
		require.True(t, claimed)
		require.NoError(t, s.DropMessage(ctx, msgID))
	}

	_, err = s.GetMessage(ctx, msgID)
	assert.ErrorIs(t, err, push.ErrMessageNotFound)
}

func TestDropDeviceIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	devID, err := s.RegisterDevice(ctx, push.KindAPNS, []byte{0x01, 0x02})
	require.NoError(t, err)

	require.NoError(t, s.DropDevice(ctx, devID))
	require.NoError(t, s.DropDevice(ctx, devID))

	kind, err := s.GetDeviceKind(ctx, devID)
	require.NoError(t, err)
	assert.Equal(t, push.KindInvalid, kind)
}

func TestDropDeviceRemovesReverseIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	devID, err := s.RegisterDevice(ctx, push.KindGCM, []byte("reg-xyz"))
	require.NoError(t, err)

	require.NoError(t, s.DropDevice(ctx, devID))

	_, ok, err := s.FindDeviceByTokenB64(ctx, "cmVnLXh5eg==")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkDeviceDeadAndListDead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	devID, err := s.RegisterDevice(ctx, push.KindAPNS, []byte("tok"))
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, s.MarkDeviceDead(ctx, devID, now))

	dead, err := s.GetDeadDevices(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, devID, dead[0].DeviceUUID)
	assert.WithinDuration(t, now, dead[0].Time, time.Millisecond)

	// Device still exists and is still queryable; only explicit drop removes it.
	kind, err := s.GetDeviceKind(ctx, devID)
	require.NoError(t, err)
	assert.Equal(t, push.KindAPNS, kind)
}
