package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/crytic/forkstate/logging"
	"github.com/crytic/medusa-geth/rpc"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// DefaultMaxRetries is the number of attempts made for a request before its error is returned.
	DefaultMaxRetries = 3

	// retryDelay is the base delay between attempts. The n-th retry waits n times this delay.
	retryDelay = 100 * time.Millisecond
)

/*
ClientPool spreads JSON-RPC requests over a fixed set of connections to one endpoint. Identical requests (same method
and arguments) that are in flight at the same time are sent only once and share their result. A request is forgotten
as soon as it completes, so later identical requests are sent again.
*/
type ClientPool struct {
	rpcClients       []*rpc.Client
	currentClientIdx int
	clientLock       sync.Mutex

	inflightRequests map[requestKey]*inflightRequest
	inflightLock     sync.Mutex

	endpoint   string
	maxRetries int

	logger *logging.Logger
}

// NewClientPool dials poolSize connections to endpoint. maxRetries below one is treated as a single attempt.
func NewClientPool(ctx context.Context, endpoint string, poolSize uint, maxRetries int) (*ClientPool, error) {
	if poolSize == 0 {
		return nil, errors.New("the rpc client pool size must be at least one")
	}
	if maxRetries < 1 {
		maxRetries = 1
	}

	pool := &ClientPool{
		rpcClients:       make([]*rpc.Client, 0, poolSize),
		inflightRequests: make(map[requestKey]*inflightRequest),
		endpoint:         endpoint,
		maxRetries:       maxRetries,
		logger:           logging.GlobalLogger.NewSubLogger("module", logging.RPC_SERVICE),
	}

	// dial out
	for i := uint(0); i < poolSize; i++ {
		client, err := rpc.DialContext(ctx, endpoint)
		if err != nil {
			pool.Close()
			return nil, errors.Wrapf(err, "failed to dial %s", endpoint)
		}
		pool.rpcClients = append(pool.rpcClients, client)
	}

	return pool, nil
}

// Endpoint returns the URL the pool is connected to.
func (c *ClientPool) Endpoint() string {
	return c.endpoint
}

// Close closes every connection of the pool.
func (c *ClientPool) Close() {
	c.clientLock.Lock()
	defer c.clientLock.Unlock()
	for _, client := range c.rpcClients {
		client.Close()
	}
}

// ExecuteRequestBlocking sends a request and decodes its result into result, which must be a pointer.
func (c *ClientPool) ExecuteRequestBlocking(ctx context.Context, result any, method string, args ...any) error {
	pending, err := c.ExecuteRequestAsync(ctx, method, args...)
	if err != nil {
		return err
	}
	return pending.GetResultBlocking(ctx, result)
}

// ExecuteRequestAsync sends a request, or joins an identical one in flight, and returns a handle to its result.
// ctx governs the network request itself when a new one is sent.
func (c *ClientPool) ExecuteRequestAsync(ctx context.Context, method string, args ...any) (*PendingResult, error) {
	key, err := makeRequestKey(method, args...)
	if err != nil {
		return nil, err
	}

	c.inflightLock.Lock()
	if inflight, exists := c.inflightRequests[key]; exists {
		c.inflightLock.Unlock()
		return newPendingResult(inflight), nil
	}
	inflight := &inflightRequest{
		ID:      uuid.NewString(),
		Done:    make(chan struct{}),
		Context: ctx,
	}
	c.inflightRequests[key] = inflight
	c.inflightLock.Unlock()

	go c.launchRequest(c.getClient(), key, inflight, method, args...)
	return newPendingResult(inflight), nil
}

// InflightCount returns the number of requests currently traversing the network.
func (c *ClientPool) InflightCount() int {
	c.inflightLock.Lock()
	defer c.inflightLock.Unlock()
	return len(c.inflightRequests)
}

func (c *ClientPool) getClient() *rpc.Client {
	c.clientLock.Lock()
	defer c.clientLock.Unlock()

	client := c.rpcClients[c.currentClientIdx]
	c.currentClientIdx = (c.currentClientIdx + 1) % len(c.rpcClients)

	return client
}

// launchRequest performs the request with retries, then publishes the outcome to every waiter.
func (c *ClientPool) launchRequest(client *rpc.Client, key requestKey, request *inflightRequest, method string, args ...any) {
	defer func() {
		c.inflightLock.Lock()
		delete(c.inflightRequests, key)
		c.inflightLock.Unlock()
		close(request.Done)
	}()

	var err error
retries:
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		c.logger.Trace("Sending rpc request ", method, " (id ", request.ID, ", attempt ", attempt+1, ")")

		var result json.RawMessage
		err = client.CallContext(request.Context, &result, method, args...)
		if err == nil {
			request.Result = result
			return
		}

		// Errors reported by the node itself and cancellation are final.
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) || request.Context.Err() != nil {
			break retries
		}

		if attempt+1 < c.maxRetries {
			select {
			case <-time.After(time.Duration(attempt+1) * retryDelay):
			case <-request.Context.Done():
				err = request.Context.Err()
				break retries
			}
		}
	}

	c.logger.Debug("Rpc request ", method, " (id ", request.ID, ") failed", err)
	request.Error = errors.Wrapf(err, "rpc request %s failed", method)
}
