package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-cast/internal/audit"
	"github.com/nerrad567/gray-logic-cast/internal/cast"
	"github.com/nerrad567/gray-logic-cast/internal/device"
	"github.com/nerrad567/gray-logic-cast/internal/search"
)

// Search limits.
const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// deviceView is a paired device merged with its live discovery state.
type deviceView struct {
	device.Device
	Online       bool                    `json:"online"`
	Address      string                  `json:"address,omitempty"`
	Port         int                     `json:"port,omitempty"`
	Capabilities map[cast.Capability]any `json:"capabilities,omitempty"`
}

// discoveredView is a discovered receiver with its pairing status.
type discoveredView struct {
	cast.Device
	Paired bool `json:"paired"`
}

// pairRequest is the request body for POST /devices.
type pairRequest struct {
	ID    string       `json:"id"`
	Name  string       `json:"name,omitempty"`
	Class device.Class `json:"class,omitempty"`
	Model string       `json:"model,omitempty"`
}

func (s *Server) viewOf(d device.Device) deviceView {
	v := deviceView{Device: d}
	if live, ok := s.registry.Resolve(d.ID); ok {
		v.Online = true
		v.Address = live.Address
		v.Port = live.Port
	}
	if snap := s.caps.Snapshot(d.ID); len(snap) > 0 {
		v.Capabilities = snap
	}
	return v
}

// handleListDevices returns all paired devices.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	paired := s.devices.ListDevices()
	views := make([]deviceView, 0, len(paired))
	for _, d := range paired {
		views = append(views, s.viewOf(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleGetDevice returns a single paired device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.devices.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(d))
}

// handleListDiscovered returns receivers seen on the network. The first call
// after startup waits for the discovery warm-up to finish.
func (s *Server) handleListDiscovered(w http.ResponseWriter, r *http.Request) {
	found, err := s.registry.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	paired := make(map[string]struct{})
	for _, id := range s.devices.IDs() {
		paired[id] = struct{}{}
	}

	views := make([]discoveredView, 0, len(found))
	for _, d := range found {
		_, ok := paired[d.ID]
		views = append(views, discoveredView{Device: d, Paired: ok})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })

	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handlePairDevice pairs a receiver. Fields missing from the request are
// filled from the receiver's advertisement when it has been discovered.
func (s *Server) handlePairDevice(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d := device.Device{ID: req.ID, Name: req.Name, Class: req.Class, Model: req.Model}
	if live, ok := s.registry.Resolve(req.ID); ok {
		if d.Name == "" {
			d.Name = live.Name
		}
		if d.Class == "" {
			d.Class = device.Class(live.Class)
		}
		if d.Model == "" {
			d.Model = live.Model
		}
	}

	err := s.devices.Pair(r.Context(), &d)
	s.auditPairing(r, audit.ActionPair, d.ID, err)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.viewOf(d))
}

// handleUnpairDevice removes a paired device.
func (s *Server) handleUnpairDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.devices.Unpair(r.Context(), id)
	s.auditPairing(r, audit.ActionUnpair, id, err)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCommand runs a cast command. The request body, if any, holds the
// command parameters.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cmd := cast.Command(chi.URLParam(r, "command"))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.controller.Execute(r.Context(), id, cmd, body)
	s.auditCommand(r, id, string(cmd), err)
	if err != nil {
		s.logger.Debug("command failed", "device_id", id, "command", cmd, "error", err)
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{"device_id": id, "command": cmd, "status": "ok"}
	if result != nil {
		resp["result"] = result
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetVolume queries the receiver's volume.
func (s *Server) handleGetVolume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := s.controller.Execute(r.Context(), id, cast.CmdGetVolume, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "volume": v})
}

// handleGetPlaying reports whether the receiver is playing.
func (s *Server) handleGetPlaying(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	playing, err := s.controller.Execute(r.Context(), id, cast.CmdGetPlaying, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "playing": playing})
}

// handleGetCapabilities returns the cached capability values of a receiver.
// With refresh=true the volume and playing capabilities are re-read first.
func (s *Server) handleGetCapabilities(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if r.URL.Query().Get("refresh") == "true" {
		for _, c := range []cast.Capability{cast.CapVolumeSet, cast.CapSpeakerPlaying} {
			if _, err := s.controller.CapabilityGet(r.Context(), id, c); err != nil {
				writeDomainError(w, err)
				return
			}
		}
	}

	snap := s.caps.Snapshot(id)
	if snap == nil {
		snap = map[cast.Capability]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "capabilities": snap})
}

// handleSearchYouTube searches YouTube. Calls are debounced: a newer query
// supersedes one still waiting, and the superseded caller receives 409.
func (s *Server) handleSearchYouTube(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeDomainError(w, search.ErrDisabled)
		return
	}

	q := searchQuery{Query: r.URL.Query().Get("q"), Limit: defaultSearchLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchLimit {
			writeBadRequest(w, "limit must be between 1 and "+strconv.Itoa(maxSearchLimit))
			return
		}
		q.Limit = n
	}

	results, err := s.search.Call(r.Context(), q)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}
