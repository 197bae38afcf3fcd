package feedback_test

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-gateway/internal/feedback"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) RegisterDevice(ctx context.Context, kind push.Kind, token []byte) (uuid.UUID, error) {
	args := m.Called(ctx, kind, token)
	return args.Get(0).(uuid.UUID), args.Error(1)
}
func (m *mockStore) DropDevice(ctx context.Context, device uuid.UUID) error {
	return m.Called(ctx, device).Error(0)
}
func (m *mockStore) MarkDeviceDead(ctx context.Context, device uuid.UUID, at time.Time) error {
	return m.Called(ctx, device, at).Error(0)
}
func (m *mockStore) GetDeadDevices(ctx context.Context) ([]push.DeadDeviceEntry, error) {
	args := m.Called(ctx)
	return args.Get(0).([]push.DeadDeviceEntry), args.Error(1)
}
func (m *mockStore) GetDeviceKind(ctx context.Context, device uuid.UUID) (push.Kind, error) {
	args := m.Called(ctx, device)
	return args.Get(0).(push.Kind), args.Error(1)
}
func (m *mockStore) GetDeviceToken(ctx context.Context, device uuid.UUID) ([]byte, error) {
	args := m.Called(ctx, device)
	return args.Get(0).([]byte), args.Error(1)
}
func (m *mockStore) FindDeviceByTokenB64(ctx context.Context, tokenB64 string) (uuid.UUID, bool, error) {
	args := m.Called(ctx, tokenB64)
	return args.Get(0).(uuid.UUID), args.Bool(1), args.Error(2)
}
func (m *mockStore) WriteMessage(ctx context.Context, device uuid.UUID, kind push.Kind, payload []byte, tag string) (uuid.UUID, error) {
	args := m.Called(ctx, device, kind, payload, tag)
	return args.Get(0).(uuid.UUID), args.Error(1)
}
func (m *mockStore) GetMessage(ctx context.Context, message uuid.UUID) (push.Message, error) {
	args := m.Called(ctx, message)
	return args.Get(0).(push.Message), args.Error(1)
}
func (m *mockStore) GetMessagePayload(ctx context.Context, message uuid.UUID) ([]byte, error) {
	args := m.Called(ctx, message)
	return args.Get(0).([]byte), args.Error(1)
}
func (m *mockStore) MarkMessageFailed(ctx context.Context, message uuid.UUID, reason string) (int, error) {
	args := m.Called(ctx, message, reason)
	return args.Int(0), args.Error(1)
}
func (m *mockStore) RemoveFromFailedSet(ctx context.Context, message uuid.UUID) (bool, error) {
	args := m.Called(ctx, message)
	return args.Bool(0), args.Error(1)
}
func (m *mockStore) DropMessage(ctx context.Context, message uuid.UUID) error {
	return m.Called(ctx, message).Error(0)
}
func (m *mockStore) GetFailedMessages(ctx context.Context, kind push.Kind) ([]push.FailedMessageEntry, error) {
	args := m.Called(ctx, kind)
	return args.Get(0).([]push.FailedMessageEntry), args.Error(1)
}

type fakeSource struct {
	feedback chan push.FeedbackEvent
	errs     chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		feedback: make(chan push.FeedbackEvent, 4),
		errs:     make(chan error, 4),
	}
}
func (f *fakeSource) Feedback() <-chan push.FeedbackEvent { return f.feedback }
func (f *fakeSource) Errors() <-chan error                { return f.errs }

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFeedbackAutoDeregisterDropsDevice(t *testing.T) {
	devID := uuid.New()
	token := []byte("devtoken")
	tokenB64 := base64.StdEncoding.EncodeToString(token)

	store := new(mockStore)
	store.On("FindDeviceByTokenB64", mock.Anything, tokenB64).Return(devID, true, nil)
	store.On("DropDevice", mock.Anything, devID).Return(nil)

	src := newFakeSource()
	c := feedback.New(store, src, newLogger(), true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	src.feedback <- push.FeedbackEvent{Token: token, Time: time.Now()}
	require.Eventually(t, func() bool {
		return len(store.Calls) >= 2
	}, time.Second, time.Millisecond)

	cancel()
	<-done
	store.AssertExpectations(t)
}

func TestFeedbackWithoutAutoDeregisterMarksDead(t *testing.T) {
	devID := uuid.New()
	token := []byte("devtoken2")
	tokenB64 := base64.StdEncoding.EncodeToString(token)
	at := time.Now()

	store := new(mockStore)
	store.On("FindDeviceByTokenB64", mock.Anything, tokenB64).Return(devID, true, nil)
	store.On("MarkDeviceDead", mock.Anything, devID, at).Return(nil)

	src := newFakeSource()
	c := feedback.New(store, src, newLogger(), false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	src.feedback <- push.FeedbackEvent{Token: token, Time: at}
	require.Eventually(t, func() bool {
		return len(store.Calls) >= 2
	}, time.Second, time.Millisecond)

	cancel()
	<-done
	store.AssertExpectations(t)
}

func TestFeedbackUnknownTokenDropsEventSilently(t *testing.T) {
	token := []byte("unknown")
	tokenB64 := base64.StdEncoding.EncodeToString(token)

	store := new(mockStore)
	store.On("FindDeviceByTokenB64", mock.Anything, tokenB64).Return(uuid.Nil, false, nil)

	src := newFakeSource()
	c := feedback.New(store, src, newLogger(), true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	src.feedback <- push.FeedbackEvent{Token: token, Time: time.Now()}
	require.Eventually(t, func() bool {
		return len(store.Calls) >= 1
	}, time.Second, time.Millisecond)

	cancel()
	<-done
	store.AssertNotCalled(t, "DropDevice", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "MarkDeviceDead", mock.Anything, mock.Anything, mock.Anything)
}

func TestFeedbackShutdownErrorIsNonFatal(t *testing.T) {
	store := new(mockStore)
	src := newFakeSource()
	c := feedback.New(store, src, newLogger(), true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	src.errs <- push.ErrFeedbackChannelShutdown
	time.Sleep(10 * time.Millisecond)

	cancel()
	<-done
}
