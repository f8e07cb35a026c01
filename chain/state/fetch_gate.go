package state

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// FetchMode selects how remote fetches are serialized.
type FetchMode string

const (
	// FetchModeKeyed serializes fetches per key: concurrent callers for the same key share one remote fetch, while
	// fetches for unrelated keys proceed in parallel.
	FetchModeKeyed FetchMode = "keyed"

	// FetchModeGlobal serializes every fetch, for any key, through one lock.
	FetchModeGlobal FetchMode = "global"
)

// fetchGate runs a fetch with exclusive access to a key.
type fetchGate interface {
	// do runs fn while holding the gate for key. In keyed mode, callers arriving while fn runs for the same key
	// receive the result of that run instead of running fn themselves. Returns the context error if ctx is done
	// before the caller obtains a result.
	do(ctx context.Context, key string, fn func() (any, error)) (any, error)
}

// newFetchGate creates the gate for the given mode. An empty mode selects FetchModeKeyed.
func newFetchGate(mode FetchMode) (fetchGate, error) {
	switch mode {
	case FetchModeKeyed, "":
		return &keyedGate{}, nil
	case FetchModeGlobal:
		return newGlobalGate(), nil
	default:
		return nil, errors.Wrapf(ErrUnknownFetchMode, "%q", mode)
	}
}

// globalGate is a context-aware lock of capacity one shared by all keys.
type globalGate struct {
	sem chan struct{}
}

func newGlobalGate() *globalGate {
	return &globalGate{sem: make(chan struct{}, 1)}
}

func (g *globalGate) do(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
	defer func() { <-g.sem }()
	return fn()
}

// keyedGate deduplicates concurrent fetches of the same key.
type keyedGate struct {
	group singleflight.Group
}

func (g *keyedGate) do(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	ch := g.group.DoChan(key, fn)
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}
