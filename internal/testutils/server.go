// Package testutils provides a fake searchd server for package tests.
package testutils

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pior/sphinx/searchd"
	"github.com/pior/sphinx/wire"
)

// Request is a request received by the fake server.
type Request struct {
	Header searchd.RequestHeader
	Body   *wire.Buffer
}

// Reply is what the fake server sends back for a request.
type Reply struct {
	Status  searchd.Status
	Version searchd.Version
	Body    []byte

	Delay time.Duration // Pause before replying
	Hang  bool          // Never reply, keep the connection open
	Close bool          // Close the connection instead of replying
}

// Handler builds the reply of a request.
type Handler func(req Request) Reply

// Option configures a Server.
type Option func(*Server)

// WithProtocolVersion sets the version sent during the handshake.
func WithProtocolVersion(v uint32) Option {
	return func(s *Server) { s.protocolVersion = v }
}

// WithoutHandshake makes the server accept connections and never speak.
func WithoutHandshake() Option {
	return func(s *Server) { s.silent = true }
}

// WithListener serves on ln instead of a new listener on 127.0.0.1.
func WithListener(ln net.Listener) Option {
	return func(s *Server) { s.ln = ln }
}

// Server is a fake searchd listening on 127.0.0.1. It serves one request
// per connection.
type Server struct {
	ln      net.Listener
	handler Handler

	protocolVersion uint32
	silent          bool

	requests    atomic.Int64
	connections atomic.Int64

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer starts a server. It is closed when the test ends.
func NewServer(t testing.TB, handler Handler, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		handler:         handler,
		protocolVersion: 1,
		conns:           make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.ln == nil {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("failed to listen: %v", err)
		}
		s.ln = ln
	}

	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Host returns the listening IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Requests returns the number of requests handled.
func (s *Server) Requests() int { return int(s.requests.Load()) }

// Connections returns the number of connections accepted.
func (s *Server) Connections() int { return int(s.connections.Load()) }

// Open returns the number of connections still being served.
func (s *Server) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops the server and closes open connections.
func (s *Server) Close() {
	s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.connections.Add(1)

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				conn.Close()
			}()
			s.serve(conn)
		}()
	}
}

func (s *Server) serve(conn net.Conn) {
	if s.silent {
		io.Copy(io.Discard, conn)
		return
	}

	if err := binary.Write(conn, binary.BigEndian, s.protocolVersion); err != nil {
		return
	}

	var clientVersion uint32
	if err := binary.Read(conn, binary.BigEndian, &clientVersion); err != nil {
		return
	}

	head := make([]byte, 8)
	if _, err := io.ReadFull(conn, head); err != nil {
		return
	}
	length := binary.BigEndian.Uint32(head[4:])
	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return
	}

	req := wire.FromBytes(append(head, body...))
	header, err := searchd.ParseRequestHeader(req)
	if err != nil {
		return
	}
	s.requests.Add(1)

	reply := s.handler(Request{Header: header, Body: req})
	if reply.Delay > 0 {
		time.Sleep(reply.Delay)
	}
	if reply.Close {
		return
	}
	if reply.Hang {
		io.Copy(io.Discard, conn)
		return
	}
	if reply.Version == 0 {
		reply.Version = header.Version
	}

	out := wire.NewBuffer(searchd.HeaderSize+len(reply.Body), true)
	searchd.PutHeader(out, searchd.Header{Status: reply.Status, Version: reply.Version, Length: uint32(len(reply.Body))})
	out.PutBytes(reply.Body)
	conn.Write(out.Bytes())
}

// Echo replies with the request body, after the query count word if any.
func Echo(req Request) Reply {
	return Reply{Body: req.Body.Bytes()}
}

// StatusReply replies with a non-OK status and its message.
func StatusReply(status searchd.Status, msg string) Handler {
	return func(Request) Reply {
		b := wire.NewBuffer(0, true)
		b.PutString(msg)
		return Reply{Status: status, Body: b.Bytes()}
	}
}

// SearchFunc answers one query of a search request.
type SearchFunc func(query string, cfg *searchd.SearchConfig) *searchd.Response

// Search decodes every query of a search request and replies with the
// encoded results of fn, concatenated in query order.
func Search(fn SearchFunc) Handler {
	return func(req Request) Reply {
		v := req.Header.Version
		out := wire.NewBuffer(0, true)
		for range req.Header.QueryCount {
			query, cfg, err := searchd.DecodeSearchRequest(req.Body, v)
			if err != nil {
				return errorReply(err)
			}
			if err := searchd.EncodeResponse(out, fn(query, cfg), v); err != nil {
				return errorReply(err)
			}
		}
		return Reply{Body: out.Bytes()}
	}
}

// Update answers an update request with the number of documents updated
// as returned by fn.
func Update(fn func(index string, u *searchd.AttributeUpdates) uint32) Handler {
	return func(req Request) Reply {
		index, u, err := searchd.DecodeUpdate(req.Body)
		if err != nil {
			return errorReply(err)
		}
		out := wire.NewBuffer(4, true)
		out.PutUint32(fn(index, u))
		return Reply{Body: out.Bytes()}
	}
}

// Keywords answers a keywords request with the result of fn.
func Keywords(fn func(index, query string) []searchd.KeywordResult) Handler {
	return func(req Request) Reply {
		index, query, withStats, err := searchd.DecodeKeywords(req.Body)
		if err != nil {
			return errorReply(err)
		}
		out := wire.NewBuffer(0, true)
		searchd.EncodeKeywordsResponse(out, fn(index, query), withStats)
		return Reply{Body: out.Bytes()}
	}
}

// Route dispatches requests on their command.
func Route(handlers map[searchd.Command]Handler) Handler {
	return func(req Request) Reply {
		h, ok := handlers[req.Header.Command]
		if !ok {
			return errorReply(errors.New("unknown command " + req.Header.Command.String()))
		}
		return h(req)
	}
}

func errorReply(err error) Reply {
	b := wire.NewBuffer(0, true)
	b.PutString(err.Error())
	return Reply{Status: searchd.StatusError, Body: b.Bytes()}
}
