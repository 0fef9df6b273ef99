package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-cast/internal/cast"
	"github.com/nerrad567/gray-logic-cast/internal/cast/discovery"
	"github.com/nerrad567/gray-logic-cast/internal/cast/transport"
	"github.com/nerrad567/gray-logic-cast/internal/device"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cast/internal/probe"
)

// castCore groups the cast components that share a lifecycle.
type castCore struct {
	registry   *cast.Registry
	caps       *cast.Capabilities
	conns      *cast.ConnectionManager
	sessions   *cast.SessionManager
	controller *cast.Controller
	feed       *discovery.Feed
}

// newCastCore wires registry, connections, sessions and controller from cfg.
func newCastCore(cfg config.CastConfig, devices *device.Registry, log *logging.Logger) (*castCore, error) {
	registry := cast.NewRegistry(classFilters(cfg.Classes), cfg.PairingWarmup)
	caps := cast.NewCapabilities()

	dialer := transport.NewDialer(transport.Options{Logger: log})
	conns := cast.NewConnectionManager(dialer, cast.ConnectionOptions{
		DialTimeout:  cfg.DialTimeout,
		PollInterval: cfg.StatusPollInterval,
		OnStatus:     caps.ApplyReceiverStatus,
		Logger:       log,
	})

	sessions := cast.NewSessionManager(conns, cfg.CommandTimeout)
	sessions.SetLogger(log)

	controller, err := cast.NewController(cast.ControllerOptions{
		Registry:     registry,
		Connections:  conns,
		Sessions:     sessions,
		Capabilities: caps,
		Apps: cast.NewApps(cast.AppIDs{
			DefaultMediaReceiver: cfg.Apps.DefaultMediaReceiver,
			YouTube:              cfg.Apps.YouTube,
			Browser:              cfg.Apps.Browser,
			Media:                cfg.Apps.Media,
		}),
		Prober:              probe.New(probe.Options{RetryMax: 1}),
		Prefs:               newPrefStore(devices),
		ResolveTimeout:      cfg.ResolveTimeout,
		CommandTimeout:      cfg.CommandTimeout,
		ProbeTimeout:        cfg.ProbeTimeout,
		SpeakerPollInterval: cfg.SpeakerPollInterval,
		Logger:              log,
	})
	if err != nil {
		//nolint:errcheck // nothing is connected yet
		conns.Close()
		return nil, fmt.Errorf("creating controller: %w", err)
	}

	feed := discovery.NewFeed(registry, discovery.Options{
		Service:       cfg.Discovery.Service,
		Domain:        cfg.Discovery.Domain,
		Interval:      cfg.Discovery.Interval,
		MaxInterval:   cfg.Discovery.MaxInterval,
		QueryTimeout:  cfg.Discovery.QueryTimeout,
		BackoffFactor: cfg.Discovery.BackoffFactor,
		DisableIPv6:   cfg.Discovery.DisableIPv6,
	})
	feed.SetLogger(log)

	return &castCore{
		registry:   registry,
		caps:       caps,
		conns:      conns,
		sessions:   sessions,
		controller: controller,
		feed:       feed,
	}, nil
}

// Close stops speaker pollers and closes every receiver connection.
func (c *castCore) Close() {
	c.controller.Close()
	//nolint:errcheck // shutdown is best-effort
	c.conns.Close()
}

// classFilters converts configured classes into registry filters.
func classFilters(classes []config.ClassConfig) []cast.ClassFilter {
	if len(classes) == 0 {
		return cast.DefaultClassFilters()
	}
	filters := make([]cast.ClassFilter, 0, len(classes))
	for _, c := range classes {
		filters = append(filters, cast.ClassFilter{
			Class:   cast.Class(c.Name),
			Allow:   c.Allow,
			Deny:    c.Deny,
			Service: c.Service,
		})
	}
	return filters
}

// recordTelemetry writes capability changes and discovery events to InfluxDB.
func recordTelemetry(core *castCore, influx *influxdb.Client) {
	core.caps.OnChange(func(ch cast.CapabilityChange) {
		influx.WriteCapability(ch.DeviceID, string(ch.Capability), ch.Value, ch.At)
	})
	core.registry.OnDeviceKnown(func(d cast.Device) {
		influx.WriteDiscovery(influxdb.DiscoveryPoint{
			DeviceID: d.ID,
			Name:     d.Name,
			Class:    string(d.Class),
			Model:    d.Model,
			Address:  d.Address,
			Port:     d.Port,
			Seen:     d.LastSeen,
		})
	})
}

// prefStore exposes device preferences to the controller. Paired devices
// keep them in the database; receivers that were never paired keep them in
// memory until restart.
type prefStore struct {
	devices  *device.Registry
	unpaired *cast.MemoryPrefs
}

func newPrefStore(devices *device.Registry) *prefStore {
	return &prefStore{devices: devices, unpaired: cast.NewMemoryPrefs()}
}

func (p *prefStore) Prefs(ctx context.Context, id string) (cast.Prefs, error) {
	prefs, err := p.devices.Prefs(ctx, id)
	if errors.Is(err, device.ErrDeviceNotFound) {
		return p.unpaired.Prefs(ctx, id)
	}
	if err != nil {
		return cast.Prefs{}, err
	}
	return cast.Prefs{Loop: prefs.Loop, Shuffle: prefs.Shuffle}, nil
}

func (p *prefStore) SetLoop(ctx context.Context, id string, loop bool) error {
	err := p.devices.SetLoop(ctx, id, loop)
	if errors.Is(err, device.ErrDeviceNotFound) {
		return p.unpaired.SetLoop(ctx, id, loop)
	}
	return err
}

func (p *prefStore) SetShuffle(ctx context.Context, id string, shuffle bool) error {
	err := p.devices.SetShuffle(ctx, id, shuffle)
	if errors.Is(err, device.ErrDeviceNotFound) {
		return p.unpaired.SetShuffle(ctx, id, shuffle)
	}
	return err
}
