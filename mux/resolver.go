package mux

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/singleflight"
)

// lookupTimeout bounds a shared lookup, independently of the caller that
// started it.
const lookupTimeout = 10 * time.Second

// LookupFunc resolves a host name to its addresses.
type LookupFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

// Resolver resolves searchd host names. Concurrent lookups of the same host
// share one DNS query. Results are not cached here: each Multiplexer keeps
// the addresses it resolved for its own lifetime.
type Resolver struct {
	lookup LookupFunc
	group  singleflight.Group
}

// NewResolver returns a Resolver backed by net.DefaultResolver.
func NewResolver() *Resolver {
	return NewResolverFunc(net.DefaultResolver.LookupIPAddr)
}

// NewResolverFunc returns a Resolver backed by lookup.
func NewResolverFunc(lookup LookupFunc) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve returns the addresses of host. An empty result is an error.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]net.IPAddr, error) {
	ch := r.group.DoChan(host, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return r.lookup(lctx, host)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		addrs := res.Val.([]net.IPAddr)
		if len(addrs) == 0 {
			return nil, fmt.Errorf("no address found for %q", host)
		}
		return addrs, nil
	}
}
