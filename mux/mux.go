//go:build unix

// Package mux drives several searchd requests in parallel on one goroutine.
//
// Each request gets a slot with its own non-blocking TCP connection. Launch
// polls every slot descriptor and advances each ready slot by one recv or
// send, until all slots have read their response or one of them fails. A
// single failure aborts the whole batch.
package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pior/sphinx/searchd"
	"github.com/pior/sphinx/wire"
)

// MaxParallelConnections is the number of slots a Multiplexer accepts.
const MaxParallelConnections = 10

// noTimeout disables the countdown of a slot.
const noTimeout = math.MaxInt32

var (
	// ErrTimeout is wrapped in the ConnectionError of a slot whose read or
	// write timed out.
	ErrTimeout = errors.New("timed out")

	// ErrConnectTimeout is wrapped in the ConnectionError of a slot whose
	// connect timed out with no retries left.
	ErrConnectTimeout = errors.New("connection timed out, no retries left")
)

// Config holds the connection settings shared by every slot.
type Config struct {
	Host      string
	Port      int
	KeepAlive bool

	// A zero timeout expires on the next poll.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// ConnectRetries is the number of new connection attempts after a
	// connect timeout. RetryDelay is the pause before each of them.
	ConnectRetries int
	RetryDelay     time.Duration
}

// Option configures a Multiplexer.
type Option func(*Multiplexer)

// WithResolver shares a resolver between multiplexers.
func WithResolver(r *Resolver) Option {
	return func(m *Multiplexer) { m.resolver = r }
}

// WithLogger sets the logger. State transitions are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(m *Multiplexer) { m.logger = l }
}

// Multiplexer runs a batch of requests, one connection per request.
//
// A Multiplexer is not safe for concurrent use. It can be reused after
// Reset; the resolved server addresses are kept for its whole lifetime.
type Multiplexer struct {
	cfg      Config
	resolver *Resolver
	logger   *slog.Logger

	addrs []unix.Sockaddr

	slots    []*slot
	reg      *registry
	ready    []readyEvent
	launched bool
}

type readyEvent struct {
	slot    int
	revents int16
}

// New returns an empty Multiplexer.
func New(cfg Config, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		cfg: cfg,
		reg: newRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.resolver == nil {
		m.resolver = NewResolver()
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	return m
}

// Add registers a complete request (header and body) and starts connecting
// for it. It returns the slot index used to fetch the response.
func (m *Multiplexer) Add(request *wire.Buffer) (int, error) {
	if len(m.slots) >= MaxParallelConnections {
		return -1, &searchd.ClientUsageError{
			Message: fmt.Sprintf("too many parallel connections, at most %d are allowed", MaxParallelConnections),
		}
	}
	if m.launched {
		return -1, &searchd.ClientUsageError{Message: "cannot add a request to a launched multiplexer, call Reset first"}
	}

	s := &slot{
		index:   len(m.slots),
		fd:      -1,
		request: request,
		retries: m.cfg.ConnectRetries,
	}
	if err := m.connect(s); err != nil {
		return -1, err
	}
	m.slots = append(m.slots, s)
	return s.index, nil
}

// Len returns the number of slots.
func (m *Multiplexer) Len() int { return len(m.slots) }

// Launch runs every slot to completion. It returns the first fatal error,
// after closing every open connection.
func (m *Multiplexer) Launch() error {
	if m.launched {
		return &searchd.ClientUsageError{Message: "multiplexer already launched, call Reset first"}
	}

	clock := msClock{last: time.Now()}
	for m.pending() > 0 {
		n, err := unix.Poll(m.reg.fds, m.minCountdown())

		m.elapse(clock.tick(time.Now()))

		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return m.fail(nil, &searchd.ConnectionError{Op: "poll", Err: err})
		}

		if n > 0 {
			// Handlers may remove descriptors from the poll list, so the
			// ready set is copied before any of them runs.
			m.ready = m.ready[:0]
			for pos, pfd := range m.reg.fds {
				if pfd.Revents != 0 {
					m.ready = append(m.ready, readyEvent{slot: m.reg.pollToSlot[pos], revents: pfd.Revents})
				}
			}
			for _, ev := range m.ready {
				s := m.slots[ev.slot]
				if err := m.step(s, ev.revents); err != nil {
					return m.fail(s, err)
				}
			}
		}

		for _, s := range m.slots {
			if s.countdown > 0 && !(n == 0 && s.countdown <= 1) {
				continue
			}
			if err := m.expire(s); err != nil {
				return m.fail(s, err)
			}
		}
	}

	m.launched = true
	return nil
}

// Response returns the response body of slot i. It is only available after
// a successful Launch.
func (m *Multiplexer) Response(i int) (*wire.Buffer, error) {
	if !m.launched {
		return nil, &searchd.ClientUsageError{Message: "responses are only available after a successful launch"}
	}
	if i < 0 || i >= len(m.slots) {
		return nil, &searchd.ClientUsageError{Message: fmt.Sprintf("response index %d out of range [0,%d)", i, len(m.slots))}
	}
	return m.slots[i].response, nil
}

// Status returns the header status received by slot i.
func (m *Multiplexer) Status(i int) searchd.Status { return m.slots[i].status }

// Version returns the header version received by slot i.
func (m *Multiplexer) Version(i int) searchd.Version { return m.slots[i].version }

// State returns the current state of slot i.
func (m *Multiplexer) State(i int) State { return m.slots[i].state }

// Reset closes every connection and drops all slots.
func (m *Multiplexer) Reset() {
	m.closeAll()
	m.slots = m.slots[:0]
	m.reg.reset()
	m.launched = false
}

// Close releases every connection. The Multiplexer must not be used after.
func (m *Multiplexer) Close() error {
	m.Reset()
	m.addrs = nil
	return nil
}

func (m *Multiplexer) pending() int {
	n := 0
	for _, s := range m.slots {
		if s.state != StateFinished {
			n++
		}
	}
	return n
}

// minCountdown returns the poll timeout in milliseconds.
func (m *Multiplexer) minCountdown() int {
	least := noTimeout
	for _, s := range m.slots {
		least = min(least, s.countdown)
	}
	if least == noTimeout {
		return -1
	}
	return max(least, 0)
}

// msClock counts elapsed whole milliseconds. The sub-millisecond remainder
// is carried to the next tick.
type msClock struct {
	last time.Time
}

func (c *msClock) tick(now time.Time) int {
	ms := now.Sub(c.last).Milliseconds()
	c.last = c.last.Add(time.Duration(ms) * time.Millisecond)
	return int(ms)
}

func (m *Multiplexer) elapse(ms int) {
	if ms <= 0 {
		return
	}
	for _, s := range m.slots {
		if s.countdown != noTimeout {
			s.countdown -= ms
		}
	}
}

// fail closes every connection and returns err. s is the slot that failed,
// nil when the failure is not tied to a slot.
func (m *Multiplexer) fail(s *slot, err error) error {
	if s != nil {
		s.state = StateFailed
		var connErr *searchd.ConnectionError
		if errors.As(err, &connErr) && connErr.Query == 0 {
			connErr.Query = s.index + 1
		}
		m.logger.Warn("searchd request failed", "slot", s.index, "error", err)
	}
	m.closeAll()
	m.reg.reset()
	return err
}

func (m *Multiplexer) closeAll() {
	for _, s := range m.slots {
		s.close()
	}
}

// resolve returns the server addresses, looking them up on first use.
func (m *Multiplexer) resolve() ([]unix.Sockaddr, error) {
	if m.addrs != nil {
		return m.addrs, nil
	}

	ctx := context.Background()
	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}

	ips, err := m.resolver.Resolve(ctx, m.cfg.Host)
	if err != nil {
		return nil, &searchd.ConnectionError{Op: "resolve " + m.cfg.Host, Err: err}
	}

	addrs := make([]unix.Sockaddr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, sockaddr(ip, m.cfg.Port))
	}
	m.addrs = addrs
	return addrs, nil
}

func sockaddr(ip net.IPAddr, port int) unix.Sockaddr {
	if ip4 := ip.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa
	}

	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.IP.To16())
	if ip.Zone != "" {
		if ifi, err := net.InterfaceByName(ip.Zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return sa
}

func family(sa unix.Sockaddr) int {
	if _, ok := sa.(*unix.SockaddrInet4); ok {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

// connect opens a non-blocking socket for s and starts connecting it. The
// first address that accepts a socket and a connect attempt is used.
func (m *Multiplexer) connect(s *slot) error {
	addrs, err := m.resolve()
	if err != nil {
		return err
	}

	var lastErr error
	for _, sa := range addrs {
		fd, err := m.dial(sa)
		if err != nil {
			lastErr = err
			continue
		}

		s.fd = fd
		s.enter(StateWaitConnect, m.cfg.ConnectTimeout)
		m.reg.add(s.index, fd, unix.POLLOUT)
		m.logger.Debug("connecting", "slot", s.index, "host", m.cfg.Host, "port", m.cfg.Port)
		return nil
	}
	return &searchd.ConnectionError{Op: "connect", Err: lastErr}
}

func (m *Multiplexer) dial(sa unix.Sockaddr) (int, error) {
	fd, err := unix.Socket(family(sa), unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set non-blocking: %w", err)
	}
	if m.cfg.KeepAlive {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("set keepalive: %w", err)
		}
	}

	err = unix.Connect(fd, sa)
	switch {
	case err == nil,
		errors.Is(err, unix.EINPROGRESS),
		errors.Is(err, unix.EALREADY),
		errors.Is(err, unix.EAGAIN),
		errors.Is(err, unix.EINTR):
		return fd, nil
	}
	unix.Close(fd)
	return -1, err
}

// step advances s by one I/O operation on a poll event.
func (m *Multiplexer) step(s *slot, revents int16) error {
	switch {
	case revents&(unix.POLLIN|unix.POLLPRI) != 0:
		return m.handleRead(s)
	case revents&unix.POLLOUT != 0:
		return m.handleWrite(s)
	}
	return &searchd.ConnectionError{
		Op:  s.state.String(),
		Err: fmt.Errorf("unexpected poll event 0x%x", uint16(revents)),
	}
}

// transition moves s to state, re-arming its countdown with timeout and
// updating the poll events it waits for.
func (m *Multiplexer) transition(s *slot, state State, timeout time.Duration) {
	m.logger.Debug("slot state", "slot", s.index, "from", s.state, "to", state)
	s.enter(state, timeout)

	switch {
	case state.waitsForRead():
		m.reg.setEvents(s.index, unix.POLLIN|unix.POLLPRI)
	case state.waitsForWrite():
		m.reg.setEvents(s.index, unix.POLLOUT)
	}
}

func (m *Multiplexer) handleRead(s *slot) error {
	if !s.state.waitsForRead() {
		return &searchd.ConnectionError{Op: s.state.String(), Err: errors.New("unexpected readable event")}
	}

	var buf *wire.Buffer
	switch s.state {
	case StateReadVersion:
		buf = s.handshake
	case StateReadHeader:
		buf = s.header
	default:
		buf = s.response
	}

	progress, err := buf.ProgressRead(s.fd, &s.remaining)
	if err != nil {
		return &searchd.ConnectionError{Op: s.state.String(), Err: err}
	}
	switch progress {
	case wire.WouldBlock:
		return nil
	case wire.Progressed:
		s.arm(m.cfg.ReadTimeout)
		return nil
	}

	switch s.state {
	case StateReadVersion:
		v := s.handshake.Uint32()
		if v < 1 {
			return &searchd.ServerError{Message: fmt.Sprintf("expected searchd protocol version 1+, got version %d", v)}
		}
		s.handshake.Reset()
		s.handshake.PutUint32(searchd.ClientProtocolVersion)
		s.sent = 0
		m.transition(s, StateWriteVersion, m.cfg.WriteTimeout)

	case StateReadHeader:
		h, err := searchd.ParseHeader(s.header)
		if err != nil {
			return err
		}
		s.status = h.Status
		s.version = h.Version
		s.remaining = int(h.Length)
		s.response = wire.NewBuffer(int(h.Length), s.request.ConvertEndian())
		if h.Length == 0 {
			return m.finish(s)
		}
		m.transition(s, StateReadResponse, m.cfg.ReadTimeout)

	case StateReadResponse:
		return m.finish(s)
	}
	return nil
}

func (m *Multiplexer) handleWrite(s *slot) error {
	switch s.state {
	case StateWaitConnect:
		soErr, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return &searchd.ConnectionError{Op: "connect", Err: err}
		}
		if soErr != 0 {
			return &searchd.ConnectionError{Op: "connect", Err: unix.Errno(soErr)}
		}
		s.handshake = wire.NewBuffer(4, s.request.ConvertEndian())
		s.remaining = 4
		m.transition(s, StateReadVersion, m.cfg.ReadTimeout)
		return nil

	case StateWriteVersion, StateWriteRequest:
		buf := s.request
		if s.state == StateWriteVersion {
			buf = s.handshake
		}

		progress, err := buf.ProgressWrite(s.fd, &s.sent)
		if err != nil {
			return &searchd.ConnectionError{Op: s.state.String(), Err: err}
		}
		switch progress {
		case wire.WouldBlock:
			return nil
		case wire.Progressed:
			s.arm(m.cfg.WriteTimeout)
			return nil
		}

		if s.state == StateWriteVersion {
			s.sent = 0
			m.transition(s, StateWriteRequest, m.cfg.WriteTimeout)
			return nil
		}
		s.header = wire.NewBuffer(searchd.HeaderSize, s.request.ConvertEndian())
		s.remaining = searchd.HeaderSize
		m.transition(s, StateReadHeader, m.cfg.ReadTimeout)
		return nil
	}

	return &searchd.ConnectionError{Op: s.state.String(), Err: errors.New("unexpected writable event")}
}

// finish closes the connection of a slot that read its whole response.
// An ERROR or RETRY status fails the batch with the server message; a
// WARNING status is left for the response decoder.
func (m *Multiplexer) finish(s *slot) error {
	m.reg.remove(s.index)
	s.close()
	m.logger.Debug("slot state", "slot", s.index, "from", s.state, "to", StateFinished)
	s.enter(StateFinished, 0)

	if s.status == searchd.StatusOK || s.status == searchd.StatusWarning {
		return nil
	}

	body := wire.FromBytes(s.response.Bytes())
	body.SetConvertEndian(s.response.ConvertEndian())
	return &searchd.MessageError{
		Message: fmt.Sprintf("searchd returned status %s: %s", s.status, searchd.StatusMessage(body)),
	}
}

// expire handles a slot whose countdown ran out.
func (m *Multiplexer) expire(s *slot) error {
	switch s.state {
	case StateFinished:
		return nil

	case StateWaitConnect:
		m.reg.remove(s.index)
		s.close()
		if s.retries <= 0 {
			return &searchd.ConnectionError{Op: "connect", Err: ErrConnectTimeout}
		}
		s.retries--
		m.logger.Debug("connect timed out, retrying", "slot", s.index, "retries_left", s.retries, "delay", m.cfg.RetryDelay)
		s.enter(StateWaitRetry, m.cfg.RetryDelay)
		return nil

	case StateWaitRetry:
		s.sent = 0
		return m.connect(s)
	}

	return &searchd.ConnectionError{Op: s.state.String(), Err: ErrTimeout}
}
