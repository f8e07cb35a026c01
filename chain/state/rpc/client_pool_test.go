package rpc

import (
	"context"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crytic/medusa-geth/rpc"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testService is served under the "test" namespace.
type testService struct {
	echoCalls atomic.Int64
	failCalls atomic.Int64

	// release, when set, holds Slow calls until it is closed.
	release chan struct{}
	entered chan struct{}
}

func (s *testService) Echo(value string) string {
	s.echoCalls.Add(1)
	return value
}

func (s *testService) Fail() error {
	s.failCalls.Add(1)
	return errors.New("always fails")
}

func (s *testService) Slow(ctx context.Context, value string) (string, error) {
	s.echoCalls.Add(1)
	s.entered <- struct{}{}
	select {
	case <-s.release:
		return value, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *testService) Object() map[string]any {
	return map[string]any{"hash": "0x01", "number": 5}
}

func startTestServer(t *testing.T) (*testService, string) {
	service := &testService{
		release: make(chan struct{}),
		entered: make(chan struct{}, 16),
	}
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("test", service))
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		httpServer.Close()
		server.Stop()
	})
	return service, httpServer.URL
}

func TestClientPoolRequests(t *testing.T) {
	ctx := context.Background()
	service, url := startTestServer(t)

	_, err := NewClientPool(ctx, url, 0, DefaultMaxRetries)
	assert.Error(t, err)

	pool, err := NewClientPool(ctx, url, 3, DefaultMaxRetries)
	require.NoError(t, err)
	defer pool.Close()
	assert.Equal(t, url, pool.Endpoint())

	// String results
	for i := 0; i < 5; i++ {
		var result string
		require.NoError(t, pool.ExecuteRequestBlocking(ctx, &result, "test_echo", "hello"))
		assert.Equal(t, "hello", result)
	}
	// Completed requests are not memoized
	assert.EqualValues(t, 5, service.echoCalls.Load())
	assert.Equal(t, 0, pool.InflightCount())

	// Object results
	var object struct {
		Hash   string `json:"hash"`
		Number int    `json:"number"`
	}
	require.NoError(t, pool.ExecuteRequestBlocking(ctx, &object, "test_object"))
	assert.Equal(t, "0x01", object.Hash)
	assert.Equal(t, 5, object.Number)

	// Errors reported by the node are not retried
	var ignored any
	err = pool.ExecuteRequestBlocking(ctx, &ignored, "test_fail")
	assert.Error(t, err)
	assert.EqualValues(t, 1, service.failCalls.Load())
}

func TestClientPoolDeduplication(t *testing.T) {
	ctx := context.Background()
	service, url := startTestServer(t)

	pool, err := NewClientPool(ctx, url, 2, DefaultMaxRetries)
	require.NoError(t, err)
	defer pool.Close()

	first, err := pool.ExecuteRequestAsync(ctx, "test_slow", "value")
	require.NoError(t, err)
	<-service.entered

	// Identical requests join the one in flight, different ones don't
	second, err := pool.ExecuteRequestAsync(ctx, "test_slow", "value")
	require.NoError(t, err)
	assert.Equal(t, 1, pool.InflightCount())
	other, err := pool.ExecuteRequestAsync(ctx, "test_slow", "other")
	require.NoError(t, err)
	<-service.entered
	assert.Equal(t, 2, pool.InflightCount())

	close(service.release)

	var wg sync.WaitGroup
	wg.Add(3)
	for _, pending := range []struct {
		result   *PendingResult
		expected string
	}{{first, "value"}, {second, "value"}, {other, "other"}} {
		go func(pending *PendingResult, expected string) {
			defer wg.Done()
			var result string
			assert.NoError(t, pending.GetResultBlocking(ctx, &result))
			assert.Equal(t, expected, result)
		}(pending.result, pending.expected)
	}
	wg.Wait()

	assert.EqualValues(t, 2, service.echoCalls.Load())
	assert.Eventually(t, func() bool {
		return pool.InflightCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestClientPoolCancellation(t *testing.T) {
	service, url := startTestServer(t)

	pool, err := NewClientPool(context.Background(), url, 1, DefaultMaxRetries)
	require.NoError(t, err)
	defer pool.Close()

	// A waiter gives up on its own context
	pending, err := pool.ExecuteRequestAsync(context.Background(), "test_slow", "value")
	require.NoError(t, err)
	<-service.entered

	waitCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var result string
	err = pending.GetResultBlocking(waitCtx, &result)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The request itself completes for the other waiters
	close(service.release)
	require.NoError(t, pending.GetResultBlocking(context.Background(), &result))
	assert.Equal(t, "value", result)

	// A request whose context is cancelled fails without retries
	ctx, cancelRequest := context.WithCancel(context.Background())
	cancelRequest()
	err = pool.ExecuteRequestBlocking(ctx, &result, "test_echo", "late")
	assert.Error(t, err)
}

func TestMakeRequestKey(t *testing.T) {
	a, err := makeRequestKey("eth_getBalance", "0x01", "0x64")
	require.NoError(t, err)
	b, err := makeRequestKey("eth_getBalance", "0x01", "0x64")
	require.NoError(t, err)
	c, err := makeRequestKey("eth_getCode", "0x01", "0x64")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = makeRequestKey("eth_call", make(chan int))
	assert.Error(t, err)
}
