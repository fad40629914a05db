// Package sphinx is a client for searchd, the Sphinx search daemon.
package sphinx

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/pior/sphinx/mux"
	"github.com/pior/sphinx/searchd"
	"github.com/pior/sphinx/wire"
)

// DefaultMaxConcurrentCalls is the pool size used when
// Config.MaxConcurrentCalls is zero.
const DefaultMaxConcurrentCalls = 4

// Querier is the searchd API implemented by Client.
type Querier interface {
	Query(ctx context.Context, query string, cfg *searchd.SearchConfig) (*searchd.Response, error)
	QueryBatch(ctx context.Context, q *MultiQuery) ([]*searchd.Response, error)
	QueryOptimized(ctx context.Context, q *OptimizedQuery) ([]*searchd.Response, error)
	UpdateAttributes(ctx context.Context, index string, u *searchd.AttributeUpdates) error
	GetKeywords(ctx context.Context, index, query string, withStats bool) ([]searchd.KeywordResult, error)
}

// Client is a searchd client. It is safe for concurrent use.
//
// Every call runs on an engine (a mux.Multiplexer) taken from a pool, so
// concurrent calls never share a connection. Calls that return a
// *searchd.Warning also return complete results.
type Client struct {
	config Config
	addr   string

	pool     Pool
	resolver *mux.Resolver
	breaker  CircuitBreaker // nil if not configured
	limiter  *rate.Limiter  // nil if not configured
	logger   *slog.Logger

	// Health check management
	stopHealthCheck chan struct{}

	stats *clientStatsCollector
}

var _ Querier = (*Client)(nil)

// NewClient creates a client for the server of config.
func NewClient(config Config) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	maxSize := config.MaxConcurrentCalls
	if maxSize == 0 {
		maxSize = DefaultMaxConcurrentCalls
	}

	poolFactory := config.Pool
	if poolFactory == nil {
		poolFactory = NewChannelPool
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	client := &Client{
		config:          config,
		addr:            net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		resolver:        mux.NewResolver(),
		logger:          logger,
		stopHealthCheck: make(chan struct{}),
		stats:           newClientStatsCollector(),
	}

	muxConfig := config.muxConfig()
	constructor := func(ctx context.Context) (*mux.Multiplexer, error) {
		return mux.New(muxConfig, mux.WithResolver(client.resolver), mux.WithLogger(logger)), nil
	}

	pool, err := poolFactory(constructor, maxSize)
	if err != nil {
		return nil, err
	}
	client.pool = pool

	if config.NewCircuitBreaker != nil {
		client.breaker = config.NewCircuitBreaker(client.addr)
	}

	if config.QueriesPerSecond > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(config.QueriesPerSecond), max(config.Burst, 1))
	}

	if config.HealthCheckInterval > 0 {
		go client.healthCheckLoop()
	}

	return client, nil
}

// Addr returns the host:port of the server.
func (c *Client) Addr() string { return c.addr }

// Close closes the client and destroys every idle engine.
func (c *Client) Close() {
	if c.config.HealthCheckInterval > 0 {
		close(c.stopHealthCheck)
	}
	c.pool.Close()
}

// Query runs one search query.
func (c *Client) Query(ctx context.Context, query string, cfg *searchd.SearchConfig) (*searchd.Response, error) {
	c.stats.recordQuery()

	req, err := searchd.NewSearchRequest(query, cfg)
	if err != nil {
		return nil, c.fail(err)
	}

	replies, err := c.execRequests(ctx, req)
	if err != nil {
		return nil, c.fail(err)
	}

	resp, err := searchd.DecodeResponse(replies[0].body, cfg.Version)
	if err != nil {
		return nil, c.fail(err)
	}

	var w warnings
	w.set(replies[0].warning)
	w.set(resp.Warning)
	return resp, c.warn(w.last)
}

// QueryBatch runs every query of q as one multiquery. Results are in the
// order queries were added.
//
// A warning on any query is returned as a *searchd.Warning naming the
// 1-based position of the query, after every result is decoded. When
// several queries warn, the last one is returned.
func (c *Client) QueryBatch(ctx context.Context, q *MultiQuery) ([]*searchd.Response, error) {
	c.stats.recordBatch(q.Len())

	req, err := q.request()
	if err != nil {
		return nil, c.fail(err)
	}

	replies, err := c.execRequests(ctx, req)
	if err != nil {
		return nil, c.fail(err)
	}

	var w warnings
	w.set(replies[0].warning)

	out := make([]*searchd.Response, q.Len())
	for i := range out {
		resp, err := searchd.DecodeResponse(replies[0].body, q.version)
		if err != nil {
			return nil, c.fail(fmt.Errorf("query %d: %w", i+1, err))
		}
		w.query(i+1, resp.Warning)
		out[i] = resp
	}
	return out, c.warn(w.last)
}

// QueryOptimized groups the queries of q, then sends one multiquery per
// group on parallel connections. Results are in the order queries were
// added. Warnings are reported as by QueryBatch.
func (c *Client) QueryOptimized(ctx context.Context, q *OptimizedQuery) ([]*searchd.Response, error) {
	c.stats.recordOptimized(q.Len())

	if q.Len() == 0 {
		return nil, c.fail(&searchd.ClientUsageError{Message: "optimized query is empty"})
	}

	q.Optimise()
	groups := q.Groups()

	requests := make([]*wire.Buffer, len(groups))
	for i, g := range groups {
		req, err := q.request(g)
		if err != nil {
			return nil, c.fail(err)
		}
		requests[i] = req
	}

	replies, err := c.execRequests(ctx, requests...)
	if err != nil {
		return nil, c.fail(err)
	}

	var w warnings
	out := make([]*searchd.Response, q.Len())
	for i, g := range groups {
		w.set(replies[i].warning)
		for pos := g.Start; pos < g.Start+g.Count; pos++ {
			seq := q.ResponseIndex(pos)
			resp, err := searchd.DecodeResponse(replies[i].body, q.version)
			if err != nil {
				return nil, c.fail(fmt.Errorf("query %d: %w", seq+1, err))
			}
			w.query(seq+1, resp.Warning)
			out[seq] = resp
		}
	}
	return out, c.warn(w.last)
}

// UpdateAttributes changes attribute values of documents in index. It
// fails with a *searchd.ClientUsageError when searchd updated fewer
// documents than were sent, usually because of an unknown id.
func (c *Client) UpdateAttributes(ctx context.Context, index string, u *searchd.AttributeUpdates) error {
	c.stats.recordUpdate()

	body := wire.NewBuffer(0, true)
	if err := searchd.EncodeUpdate(body, index, u); err != nil {
		return c.fail(err)
	}
	req := searchd.BuildRequest(searchd.CommandUpdate, searchd.UpdateVersion, body, 1)

	replies, err := c.execRequests(ctx, req)
	if err != nil {
		return c.fail(err)
	}

	updated, err := searchd.DecodeUpdateResponse(replies[0].body)
	if err != nil {
		return c.fail(err)
	}
	if int(updated) != u.Len() {
		return c.fail(&searchd.ClientUsageError{
			Message: fmt.Sprintf("some documents were not updated (%d of %d), probably an invalid id", updated, u.Len()),
		})
	}
	return c.warn(replies[0].warning)
}

// GetKeywords returns the keywords searchd extracts from query using the
// settings of index. withStats adds per-keyword document and hit counts.
func (c *Client) GetKeywords(ctx context.Context, index, query string, withStats bool) ([]searchd.KeywordResult, error) {
	c.stats.recordKeywords()

	body := wire.NewBuffer(0, true)
	searchd.EncodeKeywords(body, index, query, withStats)
	req := searchd.BuildRequest(searchd.CommandKeywords, searchd.KeywordsVersion, body, 1)

	replies, err := c.execRequests(ctx, req)
	if err != nil {
		return nil, c.fail(err)
	}

	keywords, err := searchd.DecodeKeywordsResponse(replies[0].body, withStats)
	if err != nil {
		return nil, c.fail(err)
	}
	return keywords, c.warn(replies[0].warning)
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// PoolStats returns a snapshot of the engine pool statistics.
func (c *Client) PoolStats() PoolStats {
	return c.pool.Stats()
}

// BreakerState returns the state of the circuit breaker. Without a
// circuit breaker it is always closed.
func (c *Client) BreakerState() gobreaker.State {
	if c.breaker == nil {
		return gobreaker.StateClosed
	}
	return c.breaker.State()
}

func (c *Client) fail(err error) error {
	c.stats.recordError()
	return err
}

func (c *Client) warn(msg string) error {
	if msg == "" {
		return nil
	}
	c.stats.recordWarning()
	c.logger.Warn("searchd warning", "server", c.addr, "warning", msg)
	return &searchd.Warning{Message: msg}
}

// warnings keeps the last warning of a call.
type warnings struct {
	last string
}

func (w *warnings) set(msg string) {
	if msg != "" {
		w.last = msg
	}
}

func (w *warnings) query(n int, msg string) {
	if msg != "" {
		w.last = fmt.Sprintf("Query %d: %s", n, msg)
	}
}

// reply is the response body of one request. The message of a WARNING
// header status is moved out of the body into warning.
type reply struct {
	body    *wire.Buffer
	warning string
}

// execRequests waits for the rate limiter, then runs requests through the
// circuit breaker if one is configured.
func (c *Client) execRequests(ctx context.Context, requests ...*wire.Buffer) ([]reply, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if c.breaker == nil {
		return c.execRequestsDirect(ctx, requests)
	}

	var replies []reply
	_, err := c.breaker.Execute(func() (bool, error) {
		var err error
		replies, err = c.execRequestsDirect(ctx, requests)
		return err == nil, err
	})
	return replies, err
}

// execRequestsDirect runs requests on one engine, at most
// mux.MaxParallelConnections at a time. The engine is destroyed after a
// transport error, so that the next one resolves the server again.
func (c *Client) execRequestsDirect(ctx context.Context, requests []*wire.Buffer) ([]reply, error) {
	resource, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	engine := resource.Value()

	replies := make([]reply, 0, len(requests))
	for chunk := range slices.Chunk(requests, mux.MaxParallelConnections) {
		replies, err = launch(engine, chunk, replies)
		engine.Reset()
		if err != nil {
			if searchd.IsTransport(err) {
				resource.Destroy()
			} else {
				resource.Release()
			}
			return nil, err
		}
	}

	resource.Release()
	return replies, nil
}

func launch(engine *mux.Multiplexer, requests []*wire.Buffer, replies []reply) ([]reply, error) {
	for _, req := range requests {
		if _, err := engine.Add(req); err != nil {
			return replies, err
		}
	}
	if err := engine.Launch(); err != nil {
		return replies, err
	}

	for i := range requests {
		body, err := engine.Response(i)
		if err != nil {
			return replies, err
		}
		r := reply{body: body}
		if engine.Status(i) == searchd.StatusWarning {
			r.warning = searchd.StatusMessage(body)
		}
		replies = append(replies, r)
	}
	return replies, nil
}

// healthCheckLoop periodically destroys idle engines past their lifetime
// or idle time.
func (c *Client) healthCheckLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			c.checkPoolEngines()
		}
	}
}

// checkPoolEngines destroys idle engines that are too old or idle for too
// long. Engines hold no open connection between calls, so there is nothing
// else to check.
func (c *Client) checkPoolEngines() {
	now := time.Now()

	for _, res := range c.pool.AcquireAllIdle() {
		if c.config.MaxEngineLifetime > 0 && now.Sub(res.CreationTime()) > c.config.MaxEngineLifetime {
			res.Destroy()
			continue
		}

		if c.config.MaxEngineIdleTime > 0 && res.IdleDuration() > c.config.MaxEngineIdleTime {
			res.Destroy()
			continue
		}

		res.ReleaseUnused()
	}
}
