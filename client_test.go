package sphinx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/sphinx/internal/testutils"
	"github.com/pior/sphinx/searchd"
	"github.com/pior/sphinx/wire"
)

func testConfig(host string, port int) Config {
	config := DefaultConfig()
	config.Host = host
	config.Port = port
	config.ConnectTimeout = time.Second
	config.ReadTimeout = time.Second
	config.WriteTimeout = time.Second
	return config
}

func newTestClient(t *testing.T, srv *testutils.Server, configure ...func(*Config)) *Client {
	t.Helper()

	config := testConfig(srv.Host(), srv.Port())
	for _, fn := range configure {
		fn(&config)
	}

	client, err := NewClient(config)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

// closedPort returns a local port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// found answers every query with TotalFound set to the query offset, so
// tests can tell results apart.
func found(query string, cfg *searchd.SearchConfig) *searchd.Response {
	return &searchd.Response{
		Version:    cfg.Version,
		Fields:     []string{"title"},
		Attributes: []searchd.Attribute{{Name: "price", Type: searchd.AttrInteger}},
		Matches: []searchd.Match{
			{DocID: 7, Weight: 1, Attrs: map[string]searchd.Value{"price": searchd.Uint32Value(42)}},
		},
		Total:      1,
		TotalFound: cfg.Offset,
		Words:      []searchd.WordStats{{Word: query, Docs: 1, Hits: 1}},
	}
}

func searchConfig(offset uint32) *searchd.SearchConfig {
	cfg := searchd.NewSearchConfig(searchd.SearchVersion099)
	cfg.Offset = offset
	cfg.Indexes = "products"
	return cfg
}

func TestClient_Query(t *testing.T) {
	received := make(chan string, 2)
	srv := testutils.NewServer(t, testutils.Search(func(query string, cfg *searchd.SearchConfig) *searchd.Response {
		received <- query
		received <- cfg.Indexes
		return found(query, cfg)
	}))
	client := newTestClient(t, srv)

	resp, err := client.Query(context.Background(), "red shoes", searchConfig(3))
	require.NoError(t, err)

	assert.Equal(t, "red shoes", <-received)
	assert.Equal(t, "products", <-received)
	assert.Equal(t, uint32(3), resp.TotalFound)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, uint64(7), resp.Matches[0].DocID)
	price, err := resp.Matches[0].Attrs["price"].Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), price)

	stats := client.Stats()
	assert.Equal(t, uint64(1), stats.Queries)
	assert.Equal(t, uint64(1), stats.SubQueries)
	assert.Zero(t, stats.Errors)
}

func TestClient_Query_HeaderWarning(t *testing.T) {
	srv := testutils.NewServer(t, func(req testutils.Request) testutils.Reply {
		query, cfg, err := searchd.DecodeSearchRequest(req.Body, req.Header.Version)
		if err != nil {
			return testutils.Reply{Close: true}
		}

		body := wire.NewBuffer(0, true)
		body.PutString("slow query")
		if err := searchd.EncodeResponse(body, found(query, cfg), req.Header.Version); err != nil {
			return testutils.Reply{Close: true}
		}
		return testutils.Reply{Status: searchd.StatusWarning, Body: body.Bytes()}
	})
	client := newTestClient(t, srv)

	resp, err := client.Query(context.Background(), "red", searchConfig(5))

	var warning *searchd.Warning
	require.ErrorAs(t, err, &warning)
	assert.Equal(t, "slow query", warning.Message)
	assert.False(t, searchd.IsFatal(err))

	require.NotNil(t, resp)
	assert.Equal(t, uint32(5), resp.TotalFound)
	assert.Len(t, resp.Matches, 1)

	assert.Equal(t, uint64(1), client.Stats().Warnings)
}

func TestClient_Query_ResponseWarning(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(func(query string, cfg *searchd.SearchConfig) *searchd.Response {
		r := found(query, cfg)
		r.Status = searchd.StatusWarning
		r.Warning = "slow query"
		return r
	}))
	client := newTestClient(t, srv)

	resp, err := client.Query(context.Background(), "red", searchConfig(0))

	var warning *searchd.Warning
	require.ErrorAs(t, err, &warning)
	assert.Equal(t, "slow query", warning.Message)
	require.NotNil(t, resp)
	assert.Equal(t, "slow query", resp.Warning)
	assert.Len(t, resp.Matches, 1)
}

func TestClient_Query_ErrorStatus(t *testing.T) {
	srv := testutils.NewServer(t, testutils.StatusReply(searchd.StatusError, "unknown index products"))
	client := newTestClient(t, srv)

	_, err := client.Query(context.Background(), "red", searchConfig(0))

	var msgErr *searchd.MessageError
	require.ErrorAs(t, err, &msgErr)
	assert.Contains(t, err.Error(), "unknown index products")
	assert.False(t, searchd.IsTransport(err))

	// The engine is still usable.
	assert.Zero(t, client.PoolStats().DestroyedEngines)
	assert.Equal(t, uint64(1), client.Stats().Errors)
}

func TestClient_Query_ConnectionRefused(t *testing.T) {
	client, err := NewClient(testConfig("127.0.0.1", closedPort(t)))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Query(context.Background(), "red", searchConfig(0))

	var connErr *searchd.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.True(t, searchd.IsTransport(err))

	stats := client.PoolStats()
	assert.Equal(t, uint64(1), stats.CreatedEngines)
	assert.Equal(t, uint64(1), stats.DestroyedEngines)
	assert.Zero(t, stats.TotalEngines)
}

func TestClient_Query_UnsupportedFilter(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(found))
	client := newTestClient(t, srv)

	cfg := searchd.NewSearchConfig(searchd.SearchVersion097)
	cfg.AddFloatRangeFilter("rating", 1, 2, false)

	_, err := client.Query(context.Background(), "red", cfg)

	var usageErr *searchd.ClientUsageError
	require.ErrorAs(t, err, &usageErr)
	assert.Zero(t, srv.Requests())
}

func TestClient_QueryBatch(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(func(query string, cfg *searchd.SearchConfig) *searchd.Response {
		r := found(query, cfg)
		if query == "slow" {
			r.Status = searchd.StatusWarning
			r.Warning = "query took too long"
		}
		return r
	}))
	client := newTestClient(t, srv)

	batch := NewMultiQuery(searchd.SearchVersion099)
	require.NoError(t, batch.Add("red", searchConfig(10)))
	require.NoError(t, batch.Add("slow", searchConfig(20)))
	require.NoError(t, batch.Add("blue", searchConfig(30)))

	results, err := client.QueryBatch(context.Background(), batch)

	var warning *searchd.Warning
	require.ErrorAs(t, err, &warning)
	assert.Equal(t, "Query 2: query took too long", warning.Message)

	require.Len(t, results, 3)
	for i, want := range []uint32{10, 20, 30} {
		assert.Equal(t, want, results[i].TotalFound)
	}

	// One request, one connection.
	assert.Equal(t, 1, srv.Requests())
	assert.Equal(t, 1, srv.Connections())

	stats := client.Stats()
	assert.Equal(t, uint64(1), stats.Batches)
	assert.Equal(t, uint64(3), stats.SubQueries)
}

func TestClient_QueryBatch_LastWarningWins(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(func(query string, cfg *searchd.SearchConfig) *searchd.Response {
		r := found(query, cfg)
		r.Status = searchd.StatusWarning
		r.Warning = "warning on " + query
		return r
	}))
	client := newTestClient(t, srv)

	batch := NewMultiQuery(searchd.SearchVersion099)
	require.NoError(t, batch.Add("a", searchConfig(0)))
	require.NoError(t, batch.Add("b", searchConfig(0)))

	results, err := client.QueryBatch(context.Background(), batch)
	require.Len(t, results, 2)
	assert.EqualError(t, err, "warning: Query 2: warning on b")
	assert.Equal(t, "warning on a", results[0].Warning)
}

func TestClient_QueryBatch_Empty(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(found))
	client := newTestClient(t, srv)

	_, err := client.QueryBatch(context.Background(), NewMultiQuery(searchd.SearchVersion099))

	var usageErr *searchd.ClientUsageError
	require.ErrorAs(t, err, &usageErr)
	assert.Zero(t, srv.Connections())
}

func TestClient_QueryBatch_QueryError(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(func(query string, cfg *searchd.SearchConfig) *searchd.Response {
		r := found(query, cfg)
		if query == "bad" {
			r.Status = searchd.StatusError
			r.Warning = "syntax error"
		}
		return r
	}))
	client := newTestClient(t, srv)

	batch := NewMultiQuery(searchd.SearchVersion099)
	require.NoError(t, batch.Add("good", searchConfig(0)))
	require.NoError(t, batch.Add("bad", searchConfig(0)))

	results, err := client.QueryBatch(context.Background(), batch)
	assert.Nil(t, results)

	var msgErr *searchd.MessageError
	require.ErrorAs(t, err, &msgErr)
	assert.Contains(t, err.Error(), "query 2")
	assert.Contains(t, err.Error(), "syntax error")
}

func TestClient_QueryOptimized(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(found))
	client := newTestClient(t, srv)

	q := NewOptimizedQuery(searchd.SearchVersion099)
	texts := []string{"red", "blue", "red", "green", "blue"}
	for i, text := range texts {
		require.NoError(t, q.Add(text, searchConfig(uint32(100+i))))
	}

	results, err := client.QueryOptimized(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, results, len(texts))

	for i, r := range results {
		assert.Equal(t, uint32(100+i), r.TotalFound, "result %d", i)
		_, ok := r.Word(texts[i])
		assert.True(t, ok, "result %d", i)
	}

	// One multiquery per distinct text.
	assert.Equal(t, 3, srv.Requests())
	assert.Len(t, q.Groups(), 3)
	assert.Equal(t, uint64(5), client.Stats().SubQueries)
}

func TestClient_QueryOptimized_ReusedConfig(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(found))
	client := newTestClient(t, srv)

	cfg := searchConfig(10)
	q := NewOptimizedQuery(searchd.SearchVersion099)
	require.NoError(t, q.Add("shoes", cfg))
	cfg.Offset = 20
	require.NoError(t, q.Add("shoes", cfg))
	cfg.Offset = 30

	results, err := client.QueryOptimized(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint32(10), results[0].TotalFound)
	assert.Equal(t, uint32(20), results[1].TotalFound)
	assert.Equal(t, 1, srv.Requests())
}

func TestClient_QueryOptimized_MoreGroupsThanConnections(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(found))
	client := newTestClient(t, srv)

	q := NewOptimizedQuery(searchd.SearchVersion099)
	for i := range 13 {
		require.NoError(t, q.Add(fmt.Sprintf("word%d", i), searchConfig(uint32(i))))
	}

	results, err := client.QueryOptimized(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, results, 13)
	for i, r := range results {
		assert.Equal(t, uint32(i), r.TotalFound)
	}
	assert.Equal(t, 13, srv.Requests())
	assert.Equal(t, uint64(1), client.PoolStats().CreatedEngines)
}

func TestClient_QueryOptimized_Warning(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(func(query string, cfg *searchd.SearchConfig) *searchd.Response {
		r := found(query, cfg)
		if cfg.Offset == 1 {
			r.Status = searchd.StatusWarning
			r.Warning = "partial result"
		}
		return r
	}))
	client := newTestClient(t, srv)

	q := NewOptimizedQuery(searchd.SearchVersion099)
	require.NoError(t, q.Add("zebra", searchConfig(0)))
	require.NoError(t, q.Add("apple", searchConfig(1)))

	results, err := client.QueryOptimized(context.Background(), q)
	require.Len(t, results, 2)
	assert.EqualError(t, err, "warning: Query 2: partial result")
}

func TestClient_QueryOptimized_Empty(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(found))
	client := newTestClient(t, srv)

	_, err := client.QueryOptimized(context.Background(), NewOptimizedQuery(searchd.SearchVersion099))

	var usageErr *searchd.ClientUsageError
	require.ErrorAs(t, err, &usageErr)
}

func TestClient_UpdateAttributes(t *testing.T) {
	received := make(chan *searchd.AttributeUpdates, 1)
	srv := testutils.NewServer(t, testutils.Update(func(index string, u *searchd.AttributeUpdates) uint32 {
		if index == "products" {
			received <- u
		}
		return uint32(u.Len())
	}))
	client := newTestClient(t, srv)

	u := searchd.NewAttributeUpdates("price", "stock")
	require.NoError(t, u.AddDocument(1, searchd.Uint32Value(10), searchd.Uint32Value(3)))
	require.NoError(t, u.AddDocument(2, searchd.Uint32Value(20), searchd.Uint32Value(0)))

	require.NoError(t, client.UpdateAttributes(context.Background(), "products", u))
	u2 := <-received
	assert.Equal(t, []string{"price", "stock"}, u2.Attributes)
	assert.Equal(t, []searchd.Value{searchd.Uint32Value(20), searchd.Uint32Value(0)}, u2.Docs[2])
	assert.Equal(t, uint64(1), client.Stats().Updates)
}

func TestClient_UpdateAttributes_NotAllUpdated(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Update(func(string, *searchd.AttributeUpdates) uint32 {
		return 1
	}))
	client := newTestClient(t, srv)

	u := searchd.NewAttributeUpdates("price")
	require.NoError(t, u.AddDocument(1, searchd.Uint32Value(10)))
	require.NoError(t, u.AddDocument(99, searchd.Uint32Value(20)))

	err := client.UpdateAttributes(context.Background(), "products", u)

	var usageErr *searchd.ClientUsageError
	require.ErrorAs(t, err, &usageErr)
	assert.Contains(t, err.Error(), "1 of 2")
}

func TestClient_GetKeywords(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Keywords(func(index, query string) []searchd.KeywordResult {
		return []searchd.KeywordResult{
			{Tokenized: "running", Normalized: "run", Docs: 4, Hits: 9},
			{Tokenized: index, Normalized: query},
		}
	}))
	client := newTestClient(t, srv)

	keywords, err := client.GetKeywords(context.Background(), "products", "running shoes", true)
	require.NoError(t, err)
	require.Len(t, keywords, 2)
	assert.Equal(t, searchd.KeywordResult{Tokenized: "running", Normalized: "run", Docs: 4, Hits: 9}, keywords[0])
	assert.Equal(t, "products", keywords[1].Tokenized)
	assert.Equal(t, "running shoes", keywords[1].Normalized)

	keywords, err = client.GetKeywords(context.Background(), "products", "running", false)
	require.NoError(t, err)
	assert.Zero(t, keywords[0].Docs)
	assert.Equal(t, uint64(2), client.Stats().Keywords)
}

func TestClient_Route(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Route(map[searchd.Command]testutils.Handler{
		searchd.CommandSearch: testutils.Search(found),
		searchd.CommandKeywords: testutils.Keywords(func(index, query string) []searchd.KeywordResult {
			return []searchd.KeywordResult{{Tokenized: query, Normalized: query}}
		}),
	}))
	client := newTestClient(t, srv)
	ctx := context.Background()

	_, err := client.Query(ctx, "red", searchConfig(0))
	require.NoError(t, err)

	_, err = client.GetKeywords(ctx, "products", "red", false)
	require.NoError(t, err)

	err = client.UpdateAttributes(ctx, "products", searchd.NewAttributeUpdates("price"))
	var msgErr *searchd.MessageError
	require.ErrorAs(t, err, &msgErr)
	assert.Contains(t, err.Error(), "unknown command update")
}

func TestClient_EngineReuse(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(found))
	client := newTestClient(t, srv)

	for range 5 {
		_, err := client.Query(context.Background(), "red", searchConfig(0))
		require.NoError(t, err)
	}

	stats := client.PoolStats()
	assert.Equal(t, uint64(1), stats.CreatedEngines)
	assert.Equal(t, int32(1), stats.IdleEngines)
	assert.Equal(t, uint64(5), stats.AcquireCount)
	assert.Equal(t, 5, srv.Connections())
}

func TestClient_Concurrent(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(found))
	client := newTestClient(t, srv, func(c *Config) {
		c.MaxConcurrentCalls = 2
	})

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 5 {
				resp, err := client.Query(context.Background(), "red", searchConfig(uint32(i*5+j)))
				if err != nil {
					errs <- err
					return
				}
				if resp.TotalFound != uint32(i*5+j) {
					errs <- fmt.Errorf("got result %d for query %d", resp.TotalFound, i*5+j)
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.LessOrEqual(t, client.PoolStats().CreatedEngines, uint64(2))
	assert.Equal(t, 40, srv.Requests())
}

func TestClient_PuddlePool(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(found))
	client := newTestClient(t, srv, func(c *Config) {
		c.Pool = NewPuddlePool
	})

	for range 3 {
		_, err := client.Query(context.Background(), "red", searchConfig(0))
		require.NoError(t, err)
	}

	stats := client.PoolStats()
	assert.Equal(t, uint64(1), stats.CreatedEngines)
	assert.Equal(t, uint64(3), stats.AcquireCount)
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	config := testConfig("127.0.0.1", closedPort(t))
	config.NewCircuitBreaker = NewCircuitBreakerConfig(1, time.Minute, time.Minute)

	client, err := NewClient(config)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, gobreaker.StateClosed, client.BreakerState())

	for range 3 {
		_, err := client.Query(context.Background(), "red", searchConfig(0))
		var connErr *searchd.ConnectionError
		require.ErrorAs(t, err, &connErr)
	}
	assert.Equal(t, gobreaker.StateOpen, client.BreakerState())

	_, err = client.Query(context.Background(), "red", searchConfig(0))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestClient_CircuitBreakerIgnoresServerMessages(t *testing.T) {
	srv := testutils.NewServer(t, testutils.StatusReply(searchd.StatusError, "unknown index"))
	client := newTestClient(t, srv, func(c *Config) {
		c.NewCircuitBreaker = NewCircuitBreakerConfig(1, time.Minute, time.Minute)
	})

	for range 5 {
		_, err := client.Query(context.Background(), "red", searchConfig(0))
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, client.BreakerState())
}

func TestClient_RateLimit(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(found))
	client := newTestClient(t, srv, func(c *Config) {
		c.QueriesPerSecond = 1
		c.Burst = 1
	})

	_, err := client.Query(context.Background(), "red", searchConfig(0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Query(ctx, "red", searchConfig(0))
	require.Error(t, err)
	assert.Equal(t, 1, srv.Requests())
}

func TestClient_HealthCheckDestroysOldEngines(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(found))
	client := newTestClient(t, srv, func(c *Config) {
		c.MaxEngineLifetime = time.Millisecond
		c.HealthCheckInterval = 10 * time.Millisecond
	})

	_, err := client.Query(context.Background(), "red", searchConfig(0))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		stats := client.PoolStats()
		return stats.DestroyedEngines == 1 && stats.TotalEngines == 0
	}, time.Second, 10*time.Millisecond)
}

func TestClient_Closed(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(found))
	client, err := NewClient(testConfig(srv.Host(), srv.Port()))
	require.NoError(t, err)
	client.Close()

	_, err = client.Query(context.Background(), "red", searchConfig(0))
	assert.True(t, errors.Is(err, ErrPoolClosed))
}

func TestClient_ZeroTimeoutsUseDefaults(t *testing.T) {
	srv := testutils.NewServer(t, testutils.Search(found))

	client, err := NewClient(Config{Host: srv.Host(), Port: srv.Port()})
	require.NoError(t, err)
	defer client.Close()

	for i := range 5 {
		resp, err := client.Query(context.Background(), "shoes", searchConfig(uint32(i)))
		require.NoError(t, err)
		assert.Equal(t, uint32(i), resp.TotalFound)
	}

	mc := Config{}.muxConfig()
	assert.Equal(t, DefaultConnectTimeout, mc.ConnectTimeout)
	assert.Equal(t, DefaultReadTimeout, mc.ReadTimeout)
	assert.Equal(t, DefaultWriteTimeout, mc.WriteTimeout)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*Config)
	}{
		{"no host", func(c *Config) { c.Host = "" }},
		{"zero port", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"negative timeout", func(c *Config) { c.ReadTimeout = -time.Second }},
		{"negative retries", func(c *Config) { c.ConnectRetries = -1 }},
		{"negative pool size", func(c *Config) { c.MaxConcurrentCalls = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.configure(&config)
			_, err := NewClient(config)
			assert.Error(t, err)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, "localhost", config.Host)
	assert.Equal(t, 3312, config.Port)
	assert.True(t, config.KeepAlive)
	assert.Equal(t, 5*time.Second, config.ConnectTimeout)
	assert.Equal(t, 3*time.Second, config.ReadTimeout)
	assert.Equal(t, 3*time.Second, config.WriteTimeout)
	assert.Zero(t, config.ConnectRetries)
	assert.Zero(t, config.RetryDelay)
}
