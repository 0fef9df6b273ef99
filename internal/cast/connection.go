package cast

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used across the cast core.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ConnState is the lifecycle state of a device connection.
type ConnState int

// Connection states.
const (
	StateAbsent ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StatusHandler receives every successful receiver status poll.
type StatusHandler func(deviceID string, status ReceiverStatus)

// ConnectionOptions configures a ConnectionManager.
type ConnectionOptions struct {
	// DialTimeout bounds a connect attempt and each status poll.
	DialTimeout time.Duration

	// PollInterval is the receiver status poll period while open.
	// Zero disables polling.
	PollInterval time.Duration

	OnStatus StatusHandler
	Logger   Logger
}

// ConnStats describes one device connection.
type ConnStats struct {
	DeviceID string    `json:"device_id"`
	Endpoint string    `json:"endpoint"`
	State    ConnState `json:"state"`
	Leases   int       `json:"leases"`
}

// ConnectionManager owns at most one transport connection per device and
// reference-counts its users through leases.
type ConnectionManager struct {
	dialer Dialer
	opts   ConnectionOptions
	logger Logger

	mu       sync.Mutex
	conns    map[string]*deviceConn
	shutdown bool
	wg       sync.WaitGroup
}

// deviceConn is one connect cycle. A new one is created for every cycle so
// lease sets never leak across reconnects.
type deviceConn struct {
	device Device
	state  ConnState
	conn   Conn
	err    error

	// ready is closed when the dial finishes, successfully or not.
	ready chan struct{}
	// closed is closed once the transport is fully closed.
	closed chan struct{}

	leases   map[*Lease]struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// NewConnectionManager creates a connection manager.
func NewConnectionManager(dialer Dialer, opts ConnectionOptions) *ConnectionManager {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &ConnectionManager{
		dialer: dialer,
		opts:   opts,
		logger: logger,
		conns:  make(map[string]*deviceConn),
	}
}

// Lease is one holder's claim on a device connection.
type Lease struct {
	id   string
	m    *ConnectionManager
	dc   *deviceConn
	once sync.Once
}

// ID returns the lease identifier, for logging.
func (l *Lease) ID() string { return l.id }

// DeviceID returns the device the lease belongs to.
func (l *Lease) DeviceID() string { return l.dc.device.ID }

// Conn returns the leased connection.
func (l *Lease) Conn() Conn { return l.dc.conn }

// Release gives the lease back. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() { l.m.release(l) })
}

// Acquire returns a lease on an open connection to d, dialing if needed.
//
// Concurrent callers share a single dial. If the current connection is
// closing, Acquire waits for the close to finish and opens a fresh one.
//
// Parameters:
//   - ctx: Bounds the wait for the dial; cancelling it gives up this caller's lease only
//   - d: The resolved device; its first address and port are dialed
//
// Returns:
//   - *Lease: Holds the connection open until Release is called
//   - error: ErrConnectionFailed if the dial fails, ErrClosed after Close, or ctx.Err()
func (m *ConnectionManager) Acquire(ctx context.Context, d Device) (*Lease, error) {
	for {
		m.mu.Lock()
		if m.shutdown {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ErrClosed)
		}

		dc := m.conns[d.ID]
		if dc != nil && dc.state == StateClosing {
			closed := dc.closed
			m.mu.Unlock()
			select {
			case <-closed:
				continue
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
			}
		}

		if dc == nil {
			dc = &deviceConn{
				device: d,
				state:  StateConnecting,
				ready:  make(chan struct{}),
				closed: make(chan struct{}),
				leases: make(map[*Lease]struct{}),
			}
			m.conns[d.ID] = dc
			m.wg.Add(1)
			go m.open(dc)
		}

		lease := &Lease{id: uuid.NewString(), m: m, dc: dc}
		dc.leases[lease] = struct{}{}
		ready := dc.ready
		m.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			lease.Release()
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		}

		m.mu.Lock()
		dialErr := dc.err
		_, held := dc.leases[lease]
		state := dc.state
		m.mu.Unlock()

		if dialErr != nil {
			return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, d.Endpoint(), dialErr)
		}
		if !held || state != StateOpen {
			lease.Release()
			return nil, fmt.Errorf("%w: connection to %s lost", ErrConnectionFailed, d.Endpoint())
		}
		return lease, nil
	}
}

// open dials and moves the cycle to open, or tears it down when the dial
// fails or every lease was released while connecting.
func (m *ConnectionManager) open(dc *deviceConn) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	conn, err := m.dialer.Dial(ctx, dc.device.Address, dc.device.Port)
	cancel()

	m.mu.Lock()
	if err != nil {
		dc.err = err
		dc.state = StateAbsent
		if m.conns[dc.device.ID] == dc {
			delete(m.conns, dc.device.ID)
		}
		close(dc.ready)
		close(dc.closed)
		m.mu.Unlock()
		m.logger.Warn("cast connect failed", "device", dc.device.ID, "endpoint", dc.device.Endpoint(), "error", err)
		return
	}

	dc.conn = conn
	if len(dc.leases) == 0 || m.shutdown {
		dc.state = StateClosing
		close(dc.ready)
		m.mu.Unlock()
		m.finishClose(dc)
		return
	}

	dc.state = StateOpen
	dc.stop = make(chan struct{})
	close(dc.ready)
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Debug("cast connected", "device", dc.device.ID, "endpoint", dc.device.Endpoint())
	go m.monitor(dc)
}

// monitor polls receiver status while the connection is open and fails the
// connection on a poll error or transport close.
func (m *ConnectionManager) monitor(dc *deviceConn) {
	defer m.wg.Done()

	var tick <-chan time.Time
	if m.opts.PollInterval > 0 {
		ticker := time.NewTicker(m.opts.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-dc.stop:
			return
		case <-dc.conn.Done():
			err := dc.conn.Err()
			if err == nil {
				err = ErrClosed
			}
			m.fail(dc, err)
			return
		case <-tick:
			if err := m.poll(dc); err != nil {
				m.fail(dc, err)
				return
			}
		}
	}
}

func (m *ConnectionManager) poll(dc *deviceConn) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	defer cancel()

	status, err := dc.conn.Status(ctx)
	if err != nil {
		return fmt.Errorf("status poll: %w", err)
	}
	if m.opts.OnStatus != nil {
		m.opts.OnStatus(dc.device.ID, status)
	}
	return nil
}

// fail force-closes an open connection and drops every lease.
func (m *ConnectionManager) fail(dc *deviceConn, err error) {
	m.mu.Lock()
	if dc.state != StateOpen {
		m.mu.Unlock()
		return
	}
	dc.state = StateClosing
	dropped := len(dc.leases)
	clear(dc.leases)
	m.mu.Unlock()

	m.logger.Warn("cast connection failed", "device", dc.device.ID, "leases_dropped", dropped, "error", err)
	m.finishClose(dc)
}

func (m *ConnectionManager) release(l *Lease) {
	dc := l.dc

	m.mu.Lock()
	if _, ok := dc.leases[l]; !ok {
		m.mu.Unlock()
		return
	}
	delete(dc.leases, l)
	if len(dc.leases) > 0 || dc.state != StateOpen {
		m.mu.Unlock()
		return
	}
	dc.state = StateClosing
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.finishClose(dc)
	}()
}

// finishClose closes the transport of a closing cycle and returns the
// device to absent.
func (m *ConnectionManager) finishClose(dc *deviceConn) {
	if dc.stop != nil {
		dc.stopOnce.Do(func() { close(dc.stop) })
	}
	if err := dc.conn.Close(); err != nil {
		m.logger.Debug("cast close error", "device", dc.device.ID, "error", err)
	}

	m.mu.Lock()
	dc.state = StateAbsent
	if m.conns[dc.device.ID] == dc {
		delete(m.conns, dc.device.ID)
	}
	close(dc.closed)
	m.mu.Unlock()

	m.logger.Debug("cast disconnected", "device", dc.device.ID)
}

// State returns the connection state of a device.
func (m *ConnectionManager) State(deviceID string) ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dc, ok := m.conns[deviceID]; ok {
		return dc.state
	}
	return StateAbsent
}

// Stats returns a snapshot of every live connection ordered by device id.
func (m *ConnectionManager) Stats() []ConnStats {
	m.mu.Lock()
	stats := make([]ConnStats, 0, len(m.conns))
	for id, dc := range m.conns {
		stats = append(stats, ConnStats{
			DeviceID: id,
			Endpoint: dc.device.Endpoint(),
			State:    dc.state,
			Leases:   len(dc.leases),
		})
	}
	m.mu.Unlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].DeviceID < stats[j].DeviceID })
	return stats
}

// Close drops every lease, closes every connection and waits for the
// background goroutines to finish.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	m.shutdown = true
	var closing []*deviceConn
	for _, dc := range m.conns {
		if dc.state == StateOpen {
			dc.state = StateClosing
			clear(dc.leases)
			closing = append(closing, dc)
		}
	}
	m.mu.Unlock()

	for _, dc := range closing {
		m.finishClose(dc)
	}
	m.wg.Wait()
	return nil
}
