package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pior/sphinx"
	"github.com/pior/sphinx/metrics"
	"github.com/pior/sphinx/searchd"
)

type session struct {
	client *sphinx.Client
	index  string
	limit  uint32
}

func main() {
	var (
		host        = flag.String("host", sphinx.DefaultHost, "searchd host")
		port        = flag.Int("port", sphinx.DefaultPort, "searchd port")
		index       = flag.String("index", "*", "Indexes to search")
		metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
		debug       = flag.Bool("debug", false, "Log connection state changes")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	config := sphinx.DefaultConfig()
	config.Host = *host
	config.Port = *port
	config.Logger = logger

	client, err := sphinx.NewClient(config)
	if err != nil {
		fmt.Printf("Failed to create client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if *metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(metrics.NewCollector(client))

		go func() {
			handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
			if err := http.ListenAndServe(*metricsAddr, handler); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	s := &session{client: client, index: *index, limit: 20}

	fmt.Println("Sphinx CLI Tool")
	fmt.Println("===============")
	fmt.Printf("Connected to %s. Type 'help' for available commands.\n", client.Addr())
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		command, args, _ := strings.Cut(line, " ")
		command = strings.ToLower(command)
		args = strings.TrimSpace(args)
		ctx := context.Background()

		switch command {
		case "query", "q":
			s.handleQuery(ctx, args)

		case "batch":
			if args == "" {
				fmt.Println("Usage: batch <query1> | <query2> ...")
				continue
			}
			s.handleBatch(ctx, splitQueries(args))

		case "optimized", "opt":
			if args == "" {
				fmt.Println("Usage: optimized <query1> | <query2> ...")
				continue
			}
			s.handleOptimized(ctx, splitQueries(args))

		case "keywords", "kw":
			if args == "" {
				fmt.Println("Usage: keywords <text>")
				continue
			}
			s.handleKeywords(ctx, args)

		case "index":
			if args == "" {
				fmt.Printf("Index: %s\n", s.index)
				continue
			}
			s.index = args

		case "limit":
			n, err := strconv.ParseUint(args, 10, 32)
			if err != nil || n == 0 {
				fmt.Println("Usage: limit <n>")
				continue
			}
			s.limit = uint32(n)

		case "stats":
			s.handleStats()

		case "help":
			fmt.Println("Commands:")
			fmt.Println("  query <text>                - Search the current index")
			fmt.Println("  batch <q1> | <q2> ...       - Send several queries in one request")
			fmt.Println("  optimized <q1> | <q2> ...   - Send queries grouped by matching stage")
			fmt.Println("  keywords <text>             - Show how the index tokenizes text")
			fmt.Println("  index [name]                - Show or set the indexes to search")
			fmt.Println("  limit <n>                   - Set the number of matches to show")
			fmt.Println("  stats                       - Show client statistics")
			fmt.Println("  quit                        - Exit the CLI")

		case "quit", "exit":
			fmt.Println("Goodbye!")
			return

		default:
			fmt.Printf("Unknown command: %s. Type 'help' for available commands.\n", command)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}

func splitQueries(args string) []string {
	parts := strings.Split(args, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (s *session) searchConfig() *searchd.SearchConfig {
	cfg := searchd.NewSearchConfig(searchd.SearchVersion099)
	cfg.Indexes = s.index
	cfg.Limit = s.limit
	return cfg
}

// report prints err and reports whether results can still be shown.
func report(err error, duration time.Duration) bool {
	if err == nil {
		return true
	}
	var warning *searchd.Warning
	if errors.As(err, &warning) {
		fmt.Printf("Warning: %s\n", warning.Message)
		return true
	}
	fmt.Printf("Error: %v (took %v)\n", err, duration)
	return false
}

func (s *session) handleQuery(ctx context.Context, text string) {
	start := time.Now()
	resp, err := s.client.Query(ctx, text, s.searchConfig())
	duration := time.Since(start)

	if !report(err, duration) {
		return
	}
	printResponse(resp)
	fmt.Printf("(took %v)\n", duration)
}

func (s *session) handleBatch(ctx context.Context, texts []string) {
	q := sphinx.NewMultiQuery(searchd.SearchVersion099)
	for _, text := range texts {
		if err := q.Add(text, s.searchConfig()); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
	}

	start := time.Now()
	responses, err := s.client.QueryBatch(ctx, q)
	duration := time.Since(start)

	if !report(err, duration) {
		return
	}
	for i, resp := range responses {
		fmt.Printf("Query %d (%q):\n", i+1, texts[i])
		printResponse(resp)
	}
	fmt.Printf("(took %v)\n", duration)
}

func (s *session) handleOptimized(ctx context.Context, texts []string) {
	q := sphinx.NewOptimizedQuery(searchd.SearchVersion099)
	for _, text := range texts {
		if err := q.Add(text, s.searchConfig()); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
	}
	q.Optimise()

	start := time.Now()
	responses, err := s.client.QueryOptimized(ctx, q)
	duration := time.Since(start)

	if !report(err, duration) {
		return
	}
	for i, resp := range responses {
		fmt.Printf("Query %d (%q):\n", i+1, texts[i])
		printResponse(resp)
	}
	fmt.Printf("%d queries in %d requests (took %v)\n", q.Len(), len(q.Groups()), duration)
}

func (s *session) handleKeywords(ctx context.Context, text string) {
	start := time.Now()
	keywords, err := s.client.GetKeywords(ctx, s.index, text, true)
	duration := time.Since(start)

	if !report(err, duration) {
		return
	}
	for _, kw := range keywords {
		fmt.Printf("  %-20s %-20s docs=%d hits=%d\n", kw.Tokenized, kw.Normalized, kw.Docs, kw.Hits)
	}
	fmt.Printf("%d keywords (took %v)\n", len(keywords), duration)
}

func (s *session) handleStats() {
	stats := s.client.Stats()
	pool := s.client.PoolStats()

	fmt.Printf("Server %s:\n", s.client.Addr())
	fmt.Printf("  Queries: %d\n", stats.Queries)
	fmt.Printf("  Batches: %d\n", stats.Batches)
	fmt.Printf("  Optimized: %d\n", stats.Optimized)
	fmt.Printf("  Search Queries Sent: %d\n", stats.SubQueries)
	fmt.Printf("  Keywords: %d\n", stats.Keywords)
	fmt.Printf("  Warnings: %d\n", stats.Warnings)
	fmt.Printf("  Errors: %d\n", stats.Errors)
	fmt.Printf("  Engines: %d (%d active, %d idle)\n", pool.TotalEngines, pool.ActiveEngines, pool.IdleEngines)
	fmt.Printf("  Circuit Breaker: %s\n", s.client.BreakerState())
}

func printResponse(resp *searchd.Response) {
	if resp.Warning != "" {
		fmt.Printf("  warning: %s\n", resp.Warning)
	}
	fmt.Printf("  %d of %d matches in %dms\n", resp.Total, resp.TotalFound, resp.TimeMs)
	for _, m := range resp.Matches {
		attrs := make([]string, 0, len(resp.Attributes))
		for _, attr := range resp.Attributes {
			attrs = append(attrs, fmt.Sprintf("%s=%s", attr.Name, m.Attrs[attr.Name]))
		}
		fmt.Printf("  #%d weight=%d %s\n", m.DocID, m.Weight, strings.Join(attrs, " "))
	}
	for _, w := range resp.Words {
		fmt.Printf("  word %q: %d docs, %d hits\n", w.Word, w.Docs, w.Hits)
	}
}
