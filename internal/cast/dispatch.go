package cast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Command parameter shapes accepted by Execute.
type (
	urlParams struct {
		URL string `json:"url"`
	}
	youtubeParams struct {
		ID         string `json:"id"`
		VideoID    string `json:"video_id"`
		PlaylistID string `json:"playlist_id"`
	}
	toggleParams struct {
		Enabled *bool `json:"enabled"`
	}
	trackParams struct {
		Track        Track `json:"track"`
		DelayMS      int64 `json:"delay_ms"`
		PositionMS   int64 `json:"position_ms"`
		StartPlaying bool  `json:"start_playing"`
	}
	positionParams struct {
		PositionMS *int64 `json:"position_ms"`
	}
	activeParams struct {
		Active *bool `json:"active"`
	}
	capabilityParams struct {
		Capability Capability `json:"capability"`
		Value      any        `json:"value"`
	}
)

// Execute runs a named command with JSON parameters. It is the single entry
// point for the MQTT bridge and the HTTP API.
//
// Parameters:
//   - ctx: Bounds the command together with the configured command timeout
//   - id: The 32-character receiver id
//   - cmd: The command name (e.g., CmdCastYoutube, CmdSetVolume)
//   - params: The command's JSON parameters; may be empty
//
// Returns:
//   - any: The command result, or nil for commands that return nothing
//   - error: Always one of the package's domain errors under errors.Is
func (c *Controller) Execute(ctx context.Context, id string, cmd Command, params json.RawMessage) (any, error) {
	switch cmd {
	case CmdCastMediaURL, CmdCastURL:
		var p urlParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.URL == "" {
			return nil, fmt.Errorf("%w: url is required", ErrInvalidParameters)
		}
		if cmd == CmdCastURL {
			return nil, c.CastURL(ctx, id, p.URL)
		}
		return nil, c.CastMediaURL(ctx, id, p.URL)

	case CmdCastYoutube:
		var p youtubeParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		videoID, ok := YouTubeVideoID(firstNonEmpty(p.VideoID, p.ID))
		if !ok {
			return nil, fmt.Errorf("%w: invalid youtube video id", ErrInvalidParameters)
		}
		return nil, c.CastYoutube(ctx, id, videoID)

	case CmdCastYoutubePlaylist:
		var p youtubeParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		playlistID, ok := YouTubePlaylistID(firstNonEmpty(p.PlaylistID, p.ID))
		if !ok {
			return nil, fmt.Errorf("%w: invalid youtube playlist id", ErrInvalidParameters)
		}
		return nil, c.CastYoutubePlaylist(ctx, id, playlistID)

	case CmdCastRadio:
		var st Station
		if err := decodeParams(params, &st); err != nil {
			return nil, err
		}
		if st.URL == "" {
			return nil, fmt.Errorf("%w: url is required", ErrInvalidParameters)
		}
		return nil, c.CastRadio(ctx, id, st)

	case CmdPlay:
		return nil, c.Play(ctx, id)
	case CmdPause:
		return nil, c.Pause(ctx, id)
	case CmdStop:
		return nil, c.Stop(ctx, id)
	case CmdNext:
		return nil, c.Next(ctx, id)
	case CmdPrevious:
		return nil, c.Previous(ctx, id)

	case CmdSetVolume:
		var change VolumeChange
		if err := decodeParams(params, &change); err != nil {
			return nil, err
		}
		return nil, c.SetVolume(ctx, id, change)

	case CmdGetVolume:
		return c.GetVolume(ctx, id)

	case CmdGetPlaying:
		return c.Playing(ctx, id)

	case CmdSetLoop, CmdSetShuffle:
		var p toggleParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Enabled == nil {
			return nil, fmt.Errorf("%w: enabled is required", ErrInvalidParameters)
		}
		if cmd == CmdSetLoop {
			return nil, c.SetLoop(ctx, id, *p.Enabled)
		}
		return nil, c.SetShuffle(ctx, id, *p.Enabled)

	case CmdSetTrack:
		var p trackParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return c.SetTrack(ctx, id, p.Track, TrackOptions{
			Delay:        time.Duration(p.DelayMS) * time.Millisecond,
			Position:     time.Duration(p.PositionMS) * time.Millisecond,
			StartPlaying: p.StartPlaying,
		})

	case CmdSetPosition:
		var p positionParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.PositionMS == nil {
			return nil, fmt.Errorf("%w: position_ms is required", ErrInvalidParameters)
		}
		return nil, c.SetPosition(ctx, id, time.Duration(*p.PositionMS)*time.Millisecond)

	case CmdSetActive:
		var p activeParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Active == nil {
			return nil, fmt.Errorf("%w: active is required", ErrInvalidParameters)
		}
		return nil, c.SetActive(ctx, id, *p.Active)

	case CmdSetCapability:
		var p capabilityParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return nil, c.CapabilitySet(ctx, id, p.Capability, p.Value)

	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidParameters, cmd)
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// CapabilityGet reads a capability from the device. On failure it logs and
// returns the cached value, or the zero value when nothing is cached, so
// dashboards never see an error.
func (c *Controller) CapabilityGet(ctx context.Context, id string, capability Capability) (any, error) {
	var (
		value any
		err   error
		zero  any
	)
	switch capability {
	case CapVolumeSet:
		zero = 0.0
		var v Volume
		if v, err = c.GetVolume(ctx, id); err == nil {
			value = roundLevel(v.Level)
		}
	case CapVolumeMute:
		zero = false
		var v Volume
		if v, err = c.GetVolume(ctx, id); err == nil {
			value = v.Muted
		}
	case CapSpeakerPlaying:
		zero = false
		value, err = c.Playing(ctx, id)
	case CapSpeakerPosition:
		if v, ok := c.caps.Get(id, capability); ok {
			return v, nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("%w: capability %q is not readable", ErrInvalidParameters, capability)
	}

	if err == nil {
		return value, nil
	}
	c.logger.Debug("capability read failed", "device", id, "capability", capability, "error", err)
	if cached, ok := c.caps.Get(id, capability); ok {
		return cached, nil
	}
	return zero, nil
}

// CapabilitySet writes a capability value to the device.
func (c *Controller) CapabilitySet(ctx context.Context, id string, capability Capability, value any) error {
	switch capability {
	case CapVolumeSet:
		level, ok := value.(float64)
		if !ok {
			return fmt.Errorf("%w: volume_set needs a number", ErrInvalidParameters)
		}
		return c.SetVolume(ctx, id, VolumeChange{Level: &level})
	case CapVolumeMute:
		muted, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: volume_mute needs a boolean", ErrInvalidParameters)
		}
		return c.SetVolume(ctx, id, VolumeChange{Muted: &muted})
	case CapSpeakerPlaying:
		playing, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: speaker_playing needs a boolean", ErrInvalidParameters)
		}
		if playing {
			return c.Play(ctx, id)
		}
		return c.Pause(ctx, id)
	case CapSpeakerPrev:
		return c.Previous(ctx, id)
	case CapSpeakerNext:
		return c.Next(ctx, id)
	default:
		return fmt.Errorf("%w: capability %q is not writable", ErrInvalidParameters, capability)
	}
}
