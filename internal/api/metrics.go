package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/bridges/chromecast"
	"github.com/nerrad567/gray-logic-cast/internal/cast"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string                    `json:"timestamp"`
	Version       string                    `json:"version"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Runtime       RuntimeMetrics            `json:"runtime"`
	WebSocket     WSMetrics                 `json:"websocket"`
	Bridge        *chromecast.BridgeMetrics `json:"bridge,omitempty"`
	Devices       DeviceMetrics             `json:"devices"`
	Connections   ConnectionMetrics         `json:"connections"`
	Database      *DatabaseMetrics          `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int            `json:"connected_clients"`
	Subscribers      map[string]int `json:"subscribers"`
	DroppedEvents    uint64         `json:"dropped_events"`
}

// DeviceMetrics counts paired and discovered receivers.
type DeviceMetrics struct {
	Paired     int            `json:"paired"`
	Discovered int            `json:"discovered"`
	ByClass    map[string]int `json:"by_class"`
}

// ConnectionMetrics counts receiver connections by state.
type ConnectionMetrics struct {
	ByState map[string]int `json:"by_state"`
	Leases  int            `json:"leases"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			Subscribers: map[string]int{
				ChannelCapability: s.hub.Subscribers(ChannelCapability),
				ChannelDiscovery:  s.hub.Subscribers(ChannelDiscovery),
			},
			DroppedEvents: s.hub.Dropped(),
		},
		Connections: ConnectionMetrics{ByState: make(map[string]int)},
	}

	if s.bridge != nil {
		bm := s.bridge.GetMetrics()
		metrics.Bridge = &bm
	}

	discovered := s.registry.Snapshot()
	metrics.Devices = DeviceMetrics{
		Paired:     len(s.devices.ListDevices()),
		Discovered: len(discovered),
		ByClass:    make(map[string]int),
	}
	for _, d := range discovered {
		metrics.Devices.ByClass[string(d.Class)]++
	}

	if s.connections != nil {
		for _, st := range s.connections.Stats() {
			metrics.Connections.ByState[st.State.String()]++
			metrics.Connections.Leases += st.Leases
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

// handleListConnections returns the current receiver connections.
func (s *Server) handleListConnections(w http.ResponseWriter, _ *http.Request) {
	stats := []cast.ConnStats{}
	if s.connections != nil {
		stats = append(stats, s.connections.Stats()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": stats,
		"count":       len(stats),
	})
}
