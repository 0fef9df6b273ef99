package cast

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

type appKey struct {
	deviceID string
	appID    string
}

// appEntry is the single in-flight or resolved application for a
// (device, app) pair. done is closed once ch or err is set.
type appEntry struct {
	dc   *deviceConn
	done chan struct{}
	ch   Channel
	err  error
}

func (e *appEntry) stale() bool {
	select {
	case <-e.dc.closed:
		return true
	default:
	}
	select {
	case <-e.done:
	default:
		return false
	}
	if e.err != nil {
		return true
	}
	select {
	case <-e.ch.Done():
		return true
	default:
		return false
	}
}

// SessionManager resolves receiver applications on top of leased
// connections. Concurrent callers for the same reusable application on the
// same live connection share one join or launch.
type SessionManager struct {
	conns   *ConnectionManager
	timeout time.Duration
	logger  Logger

	mu      sync.Mutex
	entries map[appKey]*appEntry
}

// NewSessionManager creates a session manager. timeout bounds a single
// join-or-launch resolution.
func NewSessionManager(conns *ConnectionManager, timeout time.Duration) *SessionManager {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SessionManager{
		conns:   conns,
		timeout: timeout,
		logger:  noopLogger{},
		entries: make(map[appKey]*appEntry),
	}
}

// SetLogger sets the logger for the session manager.
func (s *SessionManager) SetLogger(logger Logger) {
	s.logger = logger
}

// Handle is one caller's use of a receiver application. Disconnect must be
// called when done.
type Handle struct {
	app   AppSpec
	ch    Channel
	lease *Lease
	owned bool
	once  sync.Once
}

// App returns the application the handle is attached to.
func (h *Handle) App() AppSpec { return h.app }

// Channel returns the application channel.
func (h *Handle) Channel() Channel { return h.ch }

// Session returns the receiver session the channel is joined to.
func (h *Handle) Session() Session { return h.ch.Session() }

// Conn returns the underlying device connection.
func (h *Handle) Conn() Conn { return h.lease.Conn() }

// Disconnect releases the caller's lease and, for handles that are not
// shared through the cache, closes the channel. It is idempotent.
func (h *Handle) Disconnect() {
	h.once.Do(func() {
		if h.owned {
			_ = h.ch.Close()
		}
		h.lease.Release()
	})
}

// GetApplication returns a handle on app, joining a running instance or
// launching a new one.
//
// Reusable applications are cached per device while the connection that
// resolved them stays open and the application stays alive. Non-reusable
// applications are always freshly launched.
//
// Parameters:
//   - ctx: Bounds connecting, joining and launching
//   - d: The resolved device
//   - app: The receiver application to join or launch
//
// Returns:
//   - *Handle: Must be released with Disconnect
//   - error: ErrConnectionFailed if connecting, joining or launching fails
func (s *SessionManager) GetApplication(ctx context.Context, d Device, app AppSpec) (*Handle, error) {
	lease, err := s.conns.Acquire(ctx, d)
	if err != nil {
		return nil, err
	}

	if !app.Reusable {
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		ch, err := s.launch(rctx, lease.Conn(), app)
		cancel()
		if err != nil {
			lease.Release()
			return nil, fmt.Errorf("%w: launch %s: %w", ErrConnectionFailed, app.Name, err)
		}
		return &Handle{app: app, ch: ch, lease: lease, owned: true}, nil
	}

	key := appKey{deviceID: d.ID, appID: app.ID}

	s.mu.Lock()
	e := s.entries[key]
	if e == nil || e.dc != lease.dc || e.stale() {
		e = &appEntry{dc: lease.dc, done: make(chan struct{})}
		s.entries[key] = e
		go s.resolve(key, e, lease.Conn(), app)
	}
	s.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		lease.Release()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}

	if e.err != nil {
		lease.Release()
		return nil, e.err
	}
	return &Handle{app: app, ch: e.ch, lease: lease}, nil
}

func (s *SessionManager) resolve(key appKey, e *appEntry, conn Conn, app AppSpec) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	ch, err := s.joinOrLaunch(ctx, conn, app)
	cancel()

	s.mu.Lock()
	if err != nil {
		e.err = fmt.Errorf("%w: %s: %w", ErrConnectionFailed, app.Name, err)
		s.invalidateLocked(key, e)
	} else {
		e.ch = ch
	}
	close(e.done)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("cast application unavailable", "device", key.deviceID, "app", app.Name, "error", err)
		return
	}

	s.logger.Debug("cast application ready", "device", key.deviceID, "app", app.Name, "session", ch.Session().SessionID)

	select {
	case <-ch.Done():
	case <-e.dc.closed:
	}
	s.mu.Lock()
	s.invalidateLocked(key, e)
	s.mu.Unlock()
	s.logger.Debug("cast application closed", "device", key.deviceID, "app", app.Name)
}

// invalidateLocked removes e only if it is still the cached entry, so a
// newer entry created during a race is left alone.
func (s *SessionManager) invalidateLocked(key appKey, e *appEntry) {
	if s.entries[key] == e {
		delete(s.entries, key)
	}
}

func (s *SessionManager) joinOrLaunch(ctx context.Context, conn Conn, app AppSpec) (Channel, error) {
	status, err := conn.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("receiver status: %w", err)
	}

	for _, sess := range status.Applications {
		if sess.AppID != app.ID {
			continue
		}
		ch, err := conn.Join(ctx, sess)
		if err == nil {
			return ch, nil
		}
		s.logger.Debug("cast join failed, launching", "app", app.Name, "error", err)
		break
	}
	return s.launch(ctx, conn, app)
}

func (s *SessionManager) launch(ctx context.Context, conn Conn, app AppSpec) (Channel, error) {
	sess, err := conn.Launch(ctx, app.ID)
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}
	ch, err := conn.Join(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("join launched session: %w", err)
	}
	return ch, nil
}

// JoinApplication attaches to whichever candidate application is already
// running. Sessions are matched in the order the receiver reports them.
// Non-reusable candidates are ignored.
//
// Parameters:
//   - ctx: Bounds connecting and joining
//   - d: The resolved device
//   - apps: Candidate applications; the first one found running wins
//
// Returns:
//   - *Handle: Must be released with Disconnect
//   - error: ErrNoActiveSession when nothing matches, ErrConnectionFailed on transport errors
func (s *SessionManager) JoinApplication(ctx context.Context, d Device, apps ...AppSpec) (*Handle, error) {
	candidates := make([]AppSpec, 0, len(apps))
	for _, app := range apps {
		if app.Reusable {
			candidates = append(candidates, app)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoActiveSession
	}

	lease, err := s.conns.Acquire(ctx, d)
	if err != nil {
		return nil, err
	}

	status, err := lease.Conn().Status(ctx)
	if err != nil {
		lease.Release()
		return nil, fmt.Errorf("%w: receiver status: %w", ErrConnectionFailed, err)
	}

	for _, sess := range status.Applications {
		i := slices.IndexFunc(candidates, func(a AppSpec) bool { return a.ID == sess.AppID })
		if i < 0 {
			continue
		}
		ch, err := lease.Conn().Join(ctx, sess)
		if err != nil {
			lease.Release()
			return nil, fmt.Errorf("%w: join %s: %w", ErrConnectionFailed, candidates[i].Name, err)
		}
		return &Handle{app: candidates[i], ch: ch, lease: lease, owned: true}, nil
	}

	lease.Release()
	return nil, ErrNoActiveSession
}

// Sessions lists the sessions running on d over a short-lived lease.
func (s *SessionManager) Sessions(ctx context.Context, d Device) ([]Session, *Lease, error) {
	lease, err := s.conns.Acquire(ctx, d)
	if err != nil {
		return nil, nil, err
	}
	status, err := lease.Conn().Status(ctx)
	if err != nil {
		lease.Release()
		return nil, nil, fmt.Errorf("%w: receiver status: %w", ErrConnectionFailed, err)
	}
	return status.Applications, lease, nil
}
