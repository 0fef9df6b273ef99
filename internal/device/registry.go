package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
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

// Registry caches the paired device list in front of a Repository.
//
// The cache is populated by RefreshCache and kept in sync by every write.
// All methods are safe for concurrent use.
type Registry struct {
	repo    Repository
	cache   map[string]Device
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a device registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	r.cache = make(map[string]Device, len(devices))
	for _, d := range devices {
		r.cache[d.ID] = d
	}
	r.cacheMu.Unlock()

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice returns a paired device or ErrDeviceNotFound.
func (r *Registry) GetDevice(ctx context.Context, id string) (Device, error) {
	r.cacheMu.RLock()
	d, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return d, nil
	}

	loaded, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return Device{}, err
	}

	r.cacheMu.Lock()
	r.cache[id] = *loaded
	r.cacheMu.Unlock()
	return *loaded, nil
}

// ListDevices returns every paired device ordered by name.
func (r *Registry) ListDevices() []Device {
	r.cacheMu.RLock()
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, d)
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
	return devices
}

// IDs returns the IDs of every paired device.
func (r *Registry) IDs() []string {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	ids := make([]string, 0, len(r.cache))
	for id := range r.cache {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Pair validates and persists a new device.
func (r *Registry) Pair(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = *d
	r.cacheMu.Unlock()

	r.logger.Info("device paired", "id", d.ID, "name", d.Name, "class", d.Class)
	return nil
}

// UpdateDevice persists name, class and model changes.
func (r *Registry) UpdateDevice(ctx context.Context, d *Device) error {
	existing, err := r.GetDevice(ctx, d.ID)
	if err != nil {
		return err
	}
	if err := ValidateDevice(d); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, d); err != nil {
		return err
	}

	d.Loop, d.Shuffle = existing.Loop, existing.Shuffle
	d.CreatedAt = existing.CreatedAt

	r.cacheMu.Lock()
	r.cache[d.ID] = *d
	r.cacheMu.Unlock()
	return nil
}

// Unpair removes a device.
func (r *Registry) Unpair(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device unpaired", "id", id)
	return nil
}

// Prefs returns the playback preferences of a paired device.
func (r *Registry) Prefs(ctx context.Context, id string) (Prefs, error) {
	d, err := r.GetDevice(ctx, id)
	if err != nil {
		return Prefs{}, err
	}
	return d.Prefs(), nil
}

// SetLoop persists the loop preference.
func (r *Registry) SetLoop(ctx context.Context, id string, loop bool) error {
	return r.updatePrefs(ctx, id, func(p *Prefs) { p.Loop = loop })
}

// SetShuffle persists the shuffle preference.
func (r *Registry) SetShuffle(ctx context.Context, id string, shuffle bool) error {
	return r.updatePrefs(ctx, id, func(p *Prefs) { p.Shuffle = shuffle })
}

func (r *Registry) updatePrefs(ctx context.Context, id string, mutate func(*Prefs)) error {
	d, err := r.GetDevice(ctx, id)
	if err != nil {
		return err
	}

	prefs := d.Prefs()
	mutate(&prefs)
	if err := r.repo.UpdatePrefs(ctx, id, prefs); err != nil {
		return err
	}

	d.Loop, d.Shuffle = prefs.Loop, prefs.Shuffle
	r.cacheMu.Lock()
	r.cache[id] = d
	r.cacheMu.Unlock()

	r.logger.Debug("device prefs updated", "id", id, "loop", prefs.Loop, "shuffle", prefs.Shuffle)
	return nil
}
