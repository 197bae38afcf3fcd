package gcm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	gogcm "github.com/google/go-gcm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct{ mock.Mock }

func (m *mockSender) SendHttp(apiKey string, msg gogcm.HttpMessage) (*gogcm.HttpResponse, error) {
	args := m.Called(apiKey, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gogcm.HttpResponse), args.Error(1)
}

func newLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type completionRecorder struct {
	done chan struct {
		err error
		id  uint32
	}
}

func newCompletionRecorder() *completionRecorder {
	return &completionRecorder{done: make(chan struct {
		err error
		id  uint32
	}, 8)}
}

func (c *completionRecorder) fn(err error, id uint32) {
	c.done <- struct {
		err error
		id  uint32
	}{err, id}
}

func (c *completionRecorder) wait(t *testing.T) (error, uint32) {
	t.Helper()
	select {
	case r := <-c.done:
		return r.err, r.id
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
		return nil, 0
	}
}

func TestPostSuccessInvokesCompletionWithNilError(t *testing.T) {
	sender := new(mockSender)
	sender.On("SendHttp", "api-key", mock.MatchedBy(func(m gogcm.HttpMessage) bool {
		return len(m.RegistrationIds) == 1 && m.RegistrationIds[0] == "reg-id-1"
	})).Return(&gogcm.HttpResponse{
		Success: 1,
		Results: []gogcm.HttpResult{{}},
	}, nil)

	rec := newCompletionRecorder()
	client := newClientWithSender(sender, Config{APIKey: "api-key"}, rec.fn, newLogger())

	client.Post(context.Background(), []byte("reg-id-1"), []byte(`{"msg":"hi"}`), time.Time{}, 5)
	err, id := rec.wait(t)
	assert.NoError(t, err)
	assert.Equal(t, uint32(5), id)
	sender.AssertExpectations(t)
}

func TestPostTransportErrorInvokesCompletionWithError(t *testing.T) {
	sender := new(mockSender)
	sender.On("SendHttp", mock.Anything, mock.Anything).Return(nil, errors.New("dial failed"))

	rec := newCompletionRecorder()
	client := newClientWithSender(sender, Config{APIKey: "k"}, rec.fn, newLogger())

	client.Post(context.Background(), []byte("reg-id"), []byte(`{}`), time.Time{}, 1)
	err, _ := rec.wait(t)
	require.Error(t, err)
}

func TestPostRejectionInvokesCompletionWithError(t *testing.T) {
	sender := new(mockSender)
	sender.On("SendHttp", mock.Anything, mock.Anything).Return(&gogcm.HttpResponse{
		Failure: 1,
		Results: []gogcm.HttpResult{{Error: "NotRegistered"}},
	}, nil)

	rec := newCompletionRecorder()
	client := newClientWithSender(sender, Config{APIKey: "k"}, rec.fn, newLogger())

	client.Post(context.Background(), []byte("reg-id"), []byte(`{}`), time.Time{}, 9)
	err, id := rec.wait(t)
	require.Error(t, err)
	assert.Equal(t, uint32(9), id)
}

func TestPostDefaultsPoolSize(t *testing.T) {
	sender := new(mockSender)
	sender.On("SendHttp", mock.Anything, mock.Anything).Return(&gogcm.HttpResponse{
		Success: 1,
		Results: []gogcm.HttpResult{{}},
	}, nil)

	client := newClientWithSender(sender, Config{APIKey: "k"}, func(error, uint32) {}, newLogger())
	assert.Equal(t, defaultPoolSize, cap(client.sem))
}
