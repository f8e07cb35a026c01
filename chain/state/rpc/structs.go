package rpc

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

/*
PendingResult is returned when calling the RPC asynchronously. It's kind of like a promise as seen in other languages.
Several PendingResult objects may share one underlying request.
*/
type PendingResult struct {
	request *inflightRequest
}

func newPendingResult(request *inflightRequest) *PendingResult {
	return &PendingResult{
		request: request,
	}
}

/*
GetResultBlocking blocks until the result or an error is available, or until ctx is done. Callers must pass a pointer
to their data through result. A JSON null result leaves result untouched.
*/
func (p *PendingResult) GetResultBlocking(ctx context.Context, result any) error {
	select {
	case <-p.request.Done:
		if p.request.Error != nil {
			return p.request.Error
		}
		return errors.WithStack(json.Unmarshal(p.request.Result, result))
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// requestKey uniquely identifies a JSON-RPC request for request deduplication purposes.
type requestKey struct {
	Method string
	Args   string
}

func makeRequestKey(method string, args ...any) (requestKey, error) {
	serialized, err := json.Marshal(args)
	if err != nil {
		return requestKey{}, errors.Wrapf(err, "failed to serialize the arguments of %s", method)
	}
	return requestKey{Method: method, Args: string(serialized)}, nil
}

// inflightRequest represents a JSON-RPC request that is currently traversing the network.
type inflightRequest struct {
	// ID identifies the request in logs.
	ID string

	// Done is closed once the request completed (possibly with error). Result and Error are set before.
	Done chan struct{}

	Error   error
	Result  json.RawMessage
	Context context.Context
}
