package cast

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// Required TXT keys.
const (
	txtID    = "id"
	txtModel = "md"
	txtName  = "fn"
)

// IDLength is the length of a canonical device identifier.
const IDLength = 32

// ClassFilter decides whether an advertised model belongs to a class.
//
// A filter with an Allow list accepts exactly the listed models. A filter
// with a Deny list accepts every model not listed. Service, when set, must
// equal the advertised service type.
type ClassFilter struct {
	Class   Class
	Allow   []string
	Deny    []string
	Service string
}

// Match reports whether the filter accepts model advertised on service.
func (f ClassFilter) Match(model, service string) bool {
	if f.Service != "" && !sameService(f.Service, service) {
		return false
	}
	if len(f.Allow) > 0 {
		return slices.Contains(f.Allow, model)
	}
	if len(f.Deny) > 0 {
		return !slices.Contains(f.Deny, model)
	}
	return false
}

func sameService(a, b string) bool {
	trim := func(s string) string { return strings.TrimSuffix(strings.TrimSuffix(s, "."), ".local") }
	return trim(a) == trim(b)
}

// DefaultClassFilters returns the stock classification.
func DefaultClassFilters() []ClassFilter {
	return []ClassFilter{
		{Class: ClassChromecast, Allow: []string{"Chromecast"}},
		{Class: ClassChromecastAudio, Allow: []string{"Chromecast Audio"}},
		{Class: ClassChromecastGroup, Allow: []string{"Google Cast Group"}},
		{
			Class:   ClassCastEnabled,
			Deny:    []string{"Google Cast Group", "Chromecast Audio", "Chromecast", "Chromecast Ultra"},
			Service: "_googlecast._tcp",
		},
	}
}

// CanonicalID strips separators from an advertised id. The second return is
// false when the result is not IDLength characters long.
func CanonicalID(raw string) (string, bool) {
	id := strings.ReplaceAll(raw, "-", "")
	return id, len(id) == IDLength
}

// Registry is the canonical, deduplicated view of discovered devices.
//
// Upsert is idempotent for an unchanged address and port. Waiters blocked in
// AwaitResolve and OnDeviceKnown callbacks are notified on every change.
type Registry struct {
	filters []ClassFilter
	warmup  time.Duration
	started time.Time
	now     func() time.Time

	mu        sync.RWMutex
	devices   map[string]Device
	waiters   map[string][]chan struct{}
	listeners []func(Device)
}

// NewRegistry creates a registry. List waits until warmup has passed since
// this call.
func NewRegistry(filters []ClassFilter, warmup time.Duration) *Registry {
	if len(filters) == 0 {
		filters = DefaultClassFilters()
	}
	return &Registry{
		filters: filters,
		warmup:  warmup,
		started: time.Now(),
		now:     time.Now,
		devices: make(map[string]Device),
		waiters: make(map[string][]chan struct{}),
	}
}

// OnDeviceKnown registers fn to be called, outside any lock, whenever
// Upsert stores a new or moved device.
func (r *Registry) OnDeviceKnown(fn func(Device)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Classify returns the class of the first filter that accepts the model.
func (r *Registry) Classify(model, service string) (Class, bool) {
	for _, f := range r.filters {
		if f.Match(model, service) {
			return f.Class, true
		}
	}
	return "", false
}

// Upsert merges an advertisement.
//
// An advertisement with the same first address and port as the stored entry
// does not notify. Name and model are still refreshed in place.
//
// Parameters:
//   - adv: A resolved mDNS entry; TXT id, md and fn are required
//
// Returns:
//   - Device: The stored device
//   - bool: True when the location changed and "device known" was notified
//   - error: ErrInvalidAdvertisement or ErrFiltered
func (r *Registry) Upsert(adv Advertisement) (Device, bool, error) {
	rawID, model, name := adv.TXT[txtID], adv.TXT[txtModel], adv.TXT[txtName]
	if rawID == "" || model == "" || name == "" {
		return Device{}, false, fmt.Errorf("%w: missing id, md or fn", ErrInvalidAdvertisement)
	}
	if len(adv.Addresses) == 0 {
		return Device{}, false, fmt.Errorf("%w: no addresses", ErrInvalidAdvertisement)
	}

	class, ok := r.Classify(model, adv.Service)
	if !ok {
		return Device{}, false, fmt.Errorf("%w: model %q", ErrFiltered, model)
	}

	id, ok := CanonicalID(rawID)
	if !ok {
		return Device{}, false, fmt.Errorf("%w: id %q", ErrInvalidAdvertisement, rawID)
	}

	addrs := make([]string, 0, len(adv.Addresses))
	for _, ip := range adv.Addresses {
		addrs = append(addrs, ip.String())
	}

	r.mu.Lock()
	existing, known := r.devices[id]
	if known && existing.Address == addrs[0] && existing.Port == adv.Port {
		existing.Name, existing.Model, existing.Class = name, model, class
		existing.Addresses, existing.TXT = addrs, adv.TXT
		existing.LastSeen = r.now()
		r.devices[id] = existing
		r.mu.Unlock()
		return existing, false, nil
	}

	d := Device{
		ID:        id,
		Name:      name,
		Model:     model,
		Class:     class,
		Address:   addrs[0],
		Addresses: addrs,
		Port:      adv.Port,
		TXT:       adv.TXT,
		LastSeen:  r.now(),
	}
	r.devices[id] = d

	waiters := r.waiters[id]
	delete(r.waiters, id)
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	for _, fn := range listeners {
		fn(d)
	}
	return d, true, nil
}

// Resolve returns the current entry for id.
func (r *Registry) Resolve(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// AwaitResolve returns the device as soon as it is known. It re-arms on
// every notification for id and gives up with ErrUnknownDevice when ctx ends.
func (r *Registry) AwaitResolve(ctx context.Context, id string) (Device, error) {
	for {
		r.mu.Lock()
		if d, ok := r.devices[id]; ok {
			r.mu.Unlock()
			return d, nil
		}
		ch := make(chan struct{})
		r.waiters[id] = append(r.waiters[id], ch)
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			r.dropWaiter(id, ch)
			return Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
		}
	}
}

func (r *Registry) dropWaiter(id string, ch chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.waiters[id]
	for i, w := range list {
		if w == ch {
			list = slices.Delete(list, i, i+1)
			break
		}
	}
	if len(list) == 0 {
		delete(r.waiters, id)
		return
	}
	r.waiters[id] = list
}

// List returns every known device ordered by name. The first calls block
// until the pairing warm-up has passed so discovery has time to fill in.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	if wait := r.started.Add(r.warmup).Sub(r.now()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.Snapshot(), nil
}

// Snapshot returns every known device ordered by name without waiting.
func (r *Registry) Snapshot() []Device {
	r.mu.RLock()
	devices := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	r.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
	return devices
}
