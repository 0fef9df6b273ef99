// Package discovery feeds mDNS advertisements of cast receivers into the
// device registry.
//
// A Feed browses for the cast service in cycles. Every entry is converted
// into a cast.Advertisement and upserted; the registry does validation,
// classification and de-duplication. A cycle that fails or finds nothing
// stretches the delay before the next one by the back-off factor, up to
// the configured maximum. The delay is never shortened again: devices that
// are already known keep working without discovery, and a quiet network
// does not need to be hammered.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/nerrad567/gray-logic-cast/internal/cast"
)

// Defaults applied to zero Options fields.
const (
	DefaultService       = "_googlecast._tcp"
	DefaultDomain        = "local"
	DefaultInterval      = 10 * time.Second
	DefaultMaxInterval   = 5 * time.Minute
	DefaultQueryTimeout  = 3 * time.Second
	DefaultBackoffFactor = 1.5

	entryBuffer = 32
)

// ErrNoDevices is reported for a cycle that produced no usable advertisement.
var ErrNoDevices = errors.New("discovery: no devices found")

// Upserter receives advertisements. *cast.Registry implements it.
type Upserter interface {
	Upsert(adv cast.Advertisement) (cast.Device, bool, error)
}

// QueryFunc performs one mDNS query, streaming entries to params.Entries.
type QueryFunc func(ctx context.Context, params *mdns.QueryParam) error

// Options configures a Feed.
type Options struct {
	Service       string
	Domain        string
	Interval      time.Duration
	MaxInterval   time.Duration
	QueryTimeout  time.Duration
	BackoffFactor float64
	DisableIPv6   bool
}

func (o *Options) applyDefaults() {
	if o.Service == "" {
		o.Service = DefaultService
	}
	if o.Domain == "" {
		o.Domain = DefaultDomain
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxInterval < o.Interval {
		o.MaxInterval = max(DefaultMaxInterval, o.Interval)
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.BackoffFactor < 1 {
		o.BackoffFactor = DefaultBackoffFactor
	}
}

// Stats describes the feed's progress.
type Stats struct {
	Cycles   int           `json:"cycles"`
	Failures int           `json:"failures"`
	LastSeen int           `json:"last_seen"`
	Delay    time.Duration `json:"delay"`
	LastRun  time.Time     `json:"last_run,omitzero"`
}

// Feed periodically browses mDNS and upserts what it finds.
//
// Thread Safety:
//   - Run must be called at most once at a time.
//   - Stats and SetLogger are safe for concurrent use.
type Feed struct {
	registry Upserter
	opts     Options
	query    QueryFunc
	now      func() time.Time

	mu     sync.Mutex
	logger cast.Logger
	stats  Stats
}

// NewFeed creates a Feed upserting into registry.
func NewFeed(registry Upserter, opts Options) *Feed {
	opts.applyDefaults()
	return &Feed{
		registry: registry,
		opts:     opts,
		query:    mdns.QueryContext,
		now:      time.Now,
		logger:   nopLogger{},
		stats:    Stats{Delay: opts.Interval},
	}
}

// SetLogger sets the logger used for cycle reporting.
func (f *Feed) SetLogger(logger cast.Logger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logger = logger
}

func (f *Feed) log() cast.Logger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logger
}

// Stats returns a snapshot of the feed counters.
func (f *Feed) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Run browses immediately and then after every delay until ctx is done.
//
// A cycle that errors or finds nothing grows the delay by the backoff
// factor, capped at the max interval. The delay never shrinks.
//
// Parameters:
//   - ctx: Stops the loop; an in-flight query is abandoned
//
// Returns:
//   - error: Always ctx.Err()
func (f *Feed) Run(ctx context.Context) error {
	f.log().Info("mdns discovery started", "service", f.opts.Service, "domain", f.opts.Domain)
	for {
		delay := f.step(ctx)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			f.log().Info("mdns discovery stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// step runs one cycle and returns the delay before the next one.
func (f *Feed) step(ctx context.Context) time.Duration {
	seen, err := f.Cycle(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.stats.Cycles++
	f.stats.LastSeen = seen
	f.stats.LastRun = f.now()
	if err != nil && ctx.Err() == nil {
		f.stats.Failures++
		next := time.Duration(float64(f.stats.Delay) * f.opts.BackoffFactor)
		f.stats.Delay = min(max(next, f.stats.Delay), f.opts.MaxInterval)
		f.logger.Debug("mdns cycle failed", "error", err, "next", f.stats.Delay)
	}
	return f.stats.Delay
}

// Cycle performs one browse and upserts every entry. It returns the number
// of advertisements the registry accepted.
func (f *Feed) Cycle(ctx context.Context) (int, error) {
	entries := make(chan *mdns.ServiceEntry, entryBuffer)
	var (
		collected []*mdns.ServiceEntry
		wg        sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range entries {
			collected = append(collected, e)
		}
	}()

	qctx, cancel := context.WithTimeout(ctx, f.opts.QueryTimeout+time.Second)
	err := f.query(qctx, &mdns.QueryParam{
		Service:     f.opts.Service,
		Domain:      f.opts.Domain,
		Timeout:     f.opts.QueryTimeout,
		Entries:     entries,
		DisableIPv6: f.opts.DisableIPv6,
	})
	cancel()
	close(entries)
	wg.Wait()

	if err != nil {
		return 0, fmt.Errorf("mdns query: %w", err)
	}

	logger := f.log()
	accepted := 0
	for _, e := range collected {
		adv := f.advertisement(e)
		dev, changed, err := f.registry.Upsert(adv)
		if err != nil {
			if !errors.Is(err, cast.ErrFiltered) {
				logger.Debug("mdns entry ignored", "name", e.Name, "error", err)
			}
			continue
		}
		accepted++
		if changed {
			logger.Info("cast device discovered", "device_id", dev.ID, "name", dev.Name, "class", dev.Class, "address", dev.Endpoint())
		}
	}

	if accepted == 0 {
		return 0, ErrNoDevices
	}
	return accepted, nil
}

// advertisement converts an mDNS entry.
func (f *Feed) advertisement(e *mdns.ServiceEntry) cast.Advertisement {
	adv := cast.Advertisement{
		Name:    instanceName(e.Name, f.opts.Service, f.opts.Domain),
		Service: f.opts.Service,
		Port:    e.Port,
		TXT:     parseTXT(e.InfoFields),
	}
	if e.AddrV4 != nil {
		adv.Addresses = append(adv.Addresses, e.AddrV4)
	}
	if e.AddrV6 != nil && !f.opts.DisableIPv6 {
		adv.Addresses = append(adv.Addresses, e.AddrV6)
	}
	if len(adv.Addresses) == 0 && e.Host != "" {
		if ip := net.ParseIP(strings.TrimSuffix(e.Host, ".")); ip != nil {
			adv.Addresses = append(adv.Addresses, ip)
		}
	}
	return adv
}

// instanceName strips the service and domain suffix from a full entry name
// and unescapes DNS label escapes.
func instanceName(full, service, domain string) string {
	name := strings.TrimSuffix(full, ".")
	name = strings.TrimSuffix(name, "."+strings.Trim(domain, "."))
	name = strings.TrimSuffix(name, "."+strings.Trim(service, "."))
	return strings.ReplaceAll(name, `\ `, " ")
}

// parseTXT turns "k=v" fields into a map. Keys without '=' map to "".
func parseTXT(fields []string) map[string]string {
	txt := make(map[string]string, len(fields))
	for _, field := range fields {
		k, v, _ := strings.Cut(field, "=")
		if k == "" {
			continue
		}
		txt[k] = v
	}
	return txt
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
