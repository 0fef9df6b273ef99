package cast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/debounce"
)

// Prober inspects remote content before it is cast.
type Prober interface {
	// Head issues a HEAD request and returns the status code and content type.
	Head(ctx context.Context, url string) (status int, contentType string, err error)

	// FirstLine fetches url and returns its first non-empty line.
	FirstLine(ctx context.Context, url string) (string, error)
}

// PrefStore persists per-device playback preferences.
type PrefStore interface {
	Prefs(ctx context.Context, deviceID string) (Prefs, error)
	SetLoop(ctx context.Context, deviceID string, loop bool) error
	SetShuffle(ctx context.Context, deviceID string, shuffle bool) error
}

// ControllerOptions wires a Controller.
type ControllerOptions struct {
	Registry     *Registry
	Connections  *ConnectionManager
	Sessions     *SessionManager
	Capabilities *Capabilities
	Apps         Apps
	Prober       Prober
	Prefs        PrefStore

	// ResolveTimeout bounds waiting for an unseen device to be discovered.
	ResolveTimeout time.Duration
	// CommandTimeout bounds a whole command.
	CommandTimeout time.Duration
	// ProbeTimeout bounds HEAD probes and playlist fetches.
	ProbeTimeout time.Duration
	// SpeakerPollInterval is the media status poll period of an active speaker.
	SpeakerPollInterval time.Duration

	Logger Logger
}

// Controller is the typed command façade over the cast core.
type Controller struct {
	registry *Registry
	conns    *ConnectionManager
	sessions *SessionManager
	caps     *Capabilities
	apps     Apps
	prober   Prober
	prefs    PrefStore
	logger   Logger

	resolveTimeout time.Duration
	commandTimeout time.Duration
	probeTimeout   time.Duration
	speakerPoll    time.Duration

	speakerMu sync.Mutex
	tracks    map[string]*debounce.Func[trackRequest, Track]
	pollers   map[string]*speakerPoller
	wg        sync.WaitGroup
}

// NewController validates opts and creates a Controller.
func NewController(opts ControllerOptions) (*Controller, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("cast: controller requires a registry")
	case opts.Connections == nil:
		return nil, errors.New("cast: controller requires a connection manager")
	case opts.Sessions == nil:
		return nil, errors.New("cast: controller requires a session manager")
	case opts.Prober == nil:
		return nil, errors.New("cast: controller requires a prober")
	}
	if opts.Apps == (Apps{}) {
		opts.Apps = NewApps(DefaultAppIDs())
	}
	if opts.Capabilities == nil {
		opts.Capabilities = NewCapabilities()
	}
	if opts.Prefs == nil {
		opts.Prefs = NewMemoryPrefs()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Controller{
		registry:       opts.Registry,
		conns:          opts.Connections,
		sessions:       opts.Sessions,
		caps:           opts.Capabilities,
		apps:           opts.Apps,
		prober:         opts.Prober,
		prefs:          opts.Prefs,
		logger:         opts.Logger,
		resolveTimeout: durationOr(opts.ResolveTimeout, 10*time.Second),
		commandTimeout: durationOr(opts.CommandTimeout, 15*time.Second),
		probeTimeout:   durationOr(opts.ProbeTimeout, 2*time.Second),
		speakerPoll:    durationOr(opts.SpeakerPollInterval, 5*time.Second),
		tracks:         make(map[string]*debounce.Func[trackRequest, Track]),
		pollers:        make(map[string]*speakerPoller),
	}, nil
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// Capabilities returns the capability cache.
func (c *Controller) Capabilities() *Capabilities { return c.caps }

// Registry returns the device registry.
func (c *Controller) Registry() *Registry { return c.registry }

// Connections returns the connection manager.
func (c *Controller) Connections() *ConnectionManager { return c.conns }

// Close stops every speaker poller.
func (c *Controller) Close() {
	c.speakerMu.Lock()
	for id, p := range c.pollers {
		p.stop()
		delete(c.pollers, id)
	}
	c.speakerMu.Unlock()
	c.wg.Wait()
}

func (c *Controller) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.commandTimeout)
}

// device resolves id, waiting up to the resolve timeout for discovery, and
// checks the device class supports cmd.
func (c *Controller) device(ctx context.Context, id string, cmd Command) (Device, error) {
	rctx, cancel := context.WithTimeout(ctx, c.resolveTimeout)
	defer cancel()

	d, err := c.registry.AwaitResolve(rctx, id)
	if err != nil {
		return Device{}, err
	}
	if !Supports(d.Class, cmd) {
		return Device{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, cmd, d.Class)
	}
	return d, nil
}

func (c *Controller) loadPrefs(ctx context.Context, id string) Prefs {
	p, err := c.prefs.Prefs(ctx, id)
	if err != nil {
		c.logger.Debug("using default prefs", "device", id, "error", err)
		return Prefs{}
	}
	return p
}

// MemoryPrefs is an in-memory PrefStore.
type MemoryPrefs struct {
	mu    sync.Mutex
	prefs map[string]Prefs
}

// NewMemoryPrefs creates an empty in-memory PrefStore.
func NewMemoryPrefs() *MemoryPrefs {
	return &MemoryPrefs{prefs: make(map[string]Prefs)}
}

// Prefs implements PrefStore.
func (m *MemoryPrefs) Prefs(_ context.Context, id string) (Prefs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs[id], nil
}

// SetLoop implements PrefStore.
func (m *MemoryPrefs) SetLoop(_ context.Context, id string, loop bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.prefs[id]
	p.Loop = loop
	m.prefs[id] = p
	return nil
}

// SetShuffle implements PrefStore.
func (m *MemoryPrefs) SetShuffle(_ context.Context, id string, shuffle bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.prefs[id]
	p.Shuffle = shuffle
	m.prefs[id] = p
	return nil
}
