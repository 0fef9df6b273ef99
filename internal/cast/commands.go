package cast

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Command names a Controller operation.
type Command string

// Commands.
const (
	CmdCastMediaURL        Command = "cast_media_url"
	CmdCastYoutube         Command = "cast_youtube"
	CmdCastYoutubePlaylist Command = "cast_youtube_playlist"
	CmdCastRadio           Command = "cast_radio"
	CmdCastURL             Command = "cast_url"
	CmdPlay                Command = "play"
	CmdPause               Command = "pause"
	CmdStop                Command = "stop"
	CmdNext                Command = "next"
	CmdPrevious            Command = "previous"
	CmdSetVolume           Command = "set_volume"
	CmdGetVolume           Command = "get_volume"
	CmdSetLoop             Command = "set_loop"
	CmdSetShuffle          Command = "set_shuffle"
	CmdGetPlaying          Command = "get_playing"
	CmdSetTrack            Command = "set_track"
	CmdSetPosition         Command = "set_position"
	CmdSetActive           Command = "set_active"
	CmdSetCapability       Command = "set_capability"
)

// videoCommands need a screen.
var videoCommands = map[Command]bool{
	CmdCastYoutube:         true,
	CmdCastYoutubePlaylist: true,
	CmdCastURL:             true,
}

// Supports reports whether devices of class can run cmd.
func Supports(class Class, cmd Command) bool {
	switch class {
	case ClassChromecastAudio, ClassChromecastGroup:
		return !videoCommands[cmd]
	default:
		return true
	}
}

// CastMediaURL casts a URL. YouTube links are handed to CastYoutube without
// probing; anything else is probed with HEAD and loaded into the default
// media receiver with the reported content type.
func (c *Controller) CastMediaURL(ctx context.Context, id, rawURL string) error {
	if videoID, ok := YouTubeVideoID(rawURL); ok {
		return c.CastYoutube(ctx, id, videoID)
	}

	u, err := SanitizeURL(rawURL)
	if err != nil {
		return err
	}

	ctx, cancel := c.commandContext(ctx)
	defer cancel()

	d, err := c.device(ctx, id, CmdCastMediaURL)
	if err != nil {
		return err
	}

	contentType, err := c.probe(ctx, u)
	if err != nil {
		return err
	}

	h, err := c.sessions.GetApplication(ctx, d, c.apps.DefaultMediaReceiver)
	if err != nil {
		return classify(err)
	}
	defer h.Disconnect()

	media := MediaInfo{ContentID: u, ContentType: contentType, StreamType: StreamBuffered}
	if _, err := loadMedia(ctx, h.Channel(), media, true, 0); err != nil {
		return classify(fmt.Errorf("loading %s: %w", u, err))
	}
	c.logger.Info("media cast", "device", id, "url", u, "content_type", contentType)
	return nil
}

func (c *Controller) probe(ctx context.Context, u string) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	status, contentType, err := c.prober.Head(pctx, u)
	if err != nil {
		return "", fmt.Errorf("%w: probing %s: %w", ErrInvalidURL, u, err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w: probing %s: status %d", ErrInvalidURL, u, status)
	}
	return contentType, nil
}

// CastYoutube loads a video into the YouTube app with autoplay and the
// device's loop preference.
func (c *Controller) CastYoutube(ctx context.Context, id, videoID string) error {
	ctx, cancel := c.commandContext(ctx)
	defer cancel()

	d, err := c.device(ctx, id, CmdCastYoutube)
	if err != nil {
		return err
	}
	prefs := c.loadPrefs(ctx, id)

	return c.youtube(ctx, d, &youtubeLoad{
		Header:   Header{Type: msgLoadVideo},
		VideoID:  videoID,
		Autoplay: true,
		Loop:     prefs.Loop,
	})
}

// CastYoutubePlaylist loads a playlist into the YouTube app with autoplay
// and the device's shuffle and loop preferences.
func (c *Controller) CastYoutubePlaylist(ctx context.Context, id, playlistID string) error {
	ctx, cancel := c.commandContext(ctx)
	defer cancel()

	d, err := c.device(ctx, id, CmdCastYoutubePlaylist)
	if err != nil {
		return err
	}
	prefs := c.loadPrefs(ctx, id)

	return c.youtube(ctx, d, &youtubeLoad{
		Header:     Header{Type: msgLoadPlaylist},
		PlaylistID: playlistID,
		Autoplay:   true,
		Loop:       prefs.Loop,
		Shuffle:    prefs.Shuffle,
	})
}

func (c *Controller) youtube(ctx context.Context, d Device, req *youtubeLoad) error {
	h, err := c.sessions.GetApplication(ctx, d, c.apps.YouTube)
	if err != nil {
		return classify(err)
	}
	defer h.Disconnect()

	if _, err := h.Channel().Request(ctx, NamespaceYouTube, req); err != nil {
		return classify(fmt.Errorf("%s: %w", req.Type, err))
	}
	c.logger.Info("youtube cast", "device", d.ID, "video", req.VideoID, "playlist", req.PlaylistID)
	return nil
}

// radioFallbackSuffix works around stream servers that only serve audio
// on this path.
const radioFallbackSuffix = "/;stream.mp3"

// CastRadio plays an internet radio station. The stream URL is the first
// line of the station playlist. If the receiver refuses it, the load is
// retried once with radioFallbackSuffix appended.
func (c *Controller) CastRadio(ctx context.Context, id string, station Station) error {
	playlist, err := SanitizeURL(station.URL)
	if err != nil {
		return err
	}

	ctx, cancel := c.commandContext(ctx)
	defer cancel()

	d, err := c.device(ctx, id, CmdCastRadio)
	if err != nil {
		return err
	}

	pctx, pcancel := context.WithTimeout(ctx, c.probeTimeout)
	line, err := c.prober.FirstLine(pctx, playlist)
	pcancel()
	if err != nil {
		return fmt.Errorf("%w: fetching playlist %s: %w", ErrInvalidURL, playlist, err)
	}
	stream := strings.TrimSpace(line)
	if stream == "" {
		return fmt.Errorf("%w: empty playlist %s", ErrInvalidURL, playlist)
	}

	h, err := c.sessions.GetApplication(ctx, d, c.apps.DefaultMediaReceiver)
	if err != nil {
		return classify(err)
	}
	defer h.Disconnect()

	media := MediaInfo{
		ContentID:   stream,
		ContentType: "audio/mpeg",
		StreamType:  StreamLive,
		Metadata:    &MediaMetadata{Title: station.Name},
	}
	if station.Image != "" {
		media.Metadata.Images = []Image{{URL: station.Image}}
	}

	_, err = loadMedia(ctx, h.Channel(), media, true, 0)
	if err != nil {
		c.logger.Info("radio stream refused, trying fallback", "device", id, "stream", stream, "error", err)
		media.ContentID = stream + radioFallbackSuffix
		_, err = loadMedia(ctx, h.Channel(), media, true, 0)
	}
	if err != nil {
		return classify(fmt.Errorf("loading radio %s: %w", stream, err))
	}
	c.logger.Info("radio cast", "device", id, "station", station.Name, "stream", media.ContentID)
	return nil
}

// CastURL opens a web page in a freshly launched browser app.
func (c *Controller) CastURL(ctx context.Context, id, rawURL string) error {
	u, err := SanitizeURL(rawURL)
	if err != nil {
		return err
	}

	ctx, cancel := c.commandContext(ctx)
	defer cancel()

	d, err := c.device(ctx, id, CmdCastURL)
	if err != nil {
		return err
	}

	h, err := c.sessions.GetApplication(ctx, d, c.apps.Browser)
	if err != nil {
		return classify(err)
	}
	defer h.Disconnect()

	if err := h.Channel().Send(ctx, NamespaceBrowser, &browserRedirect{Header: Header{Type: msgRedirect}, URL: u}); err != nil {
		return classify(fmt.Errorf("redirect: %w", err))
	}
	c.logger.Info("url cast", "device", id, "url", u)
	return nil
}

// mediaApps are the apps play, pause and state queries attach to.
func (c *Controller) mediaApps() []AppSpec {
	return []AppSpec{c.apps.YouTube, c.apps.DefaultMediaReceiver, c.apps.Media}
}

// Play resumes whichever media app is running.
func (c *Controller) Play(ctx context.Context, id string) error {
	return c.playPause(ctx, id, CmdPlay)
}

// Pause pauses whichever media app is running. On the speaker app it also
// drops a queued track.
func (c *Controller) Pause(ctx context.Context, id string) error {
	return c.playPause(ctx, id, CmdPause)
}

func (c *Controller) playPause(ctx context.Context, id string, cmd Command) error {
	ctx, cancel := c.commandContext(ctx)
	defer cancel()

	d, err := c.device(ctx, id, cmd)
	if err != nil {
		return err
	}

	h, err := c.sessions.JoinApplication(ctx, d, c.mediaApps()...)
	if err != nil {
		return classify(err)
	}
	defer h.Disconnect()

	msgType, playing := msgPlay, true
	if cmd == CmdPause {
		msgType, playing = msgPause, false
		if h.App().ID == c.apps.Media.ID {
			c.cancelQueuedTrack(id)
		}
	}

	if err := mediaCommand(ctx, h.Channel(), msgType); err != nil {
		return classify(fmt.Errorf("%s: %w", cmd, err))
	}
	c.caps.Set(id, CapSpeakerPlaying, playing)
	return nil
}

// Next skips forward in the YouTube app.
func (c *Controller) Next(ctx context.Context, id string) error {
	return c.youtubeControl(ctx, id, CmdNext, &Header{Type: msgNext})
}

// Previous skips back in the YouTube app.
func (c *Controller) Previous(ctx context.Context, id string) error {
	return c.youtubeControl(ctx, id, CmdPrevious, &Header{Type: msgPrevious})
}

func (c *Controller) youtubeControl(ctx context.Context, id string, cmd Command, payload Payload) error {
	ctx, cancel := c.commandContext(ctx)
	defer cancel()

	d, err := c.device(ctx, id, cmd)
	if err != nil {
		return err
	}

	h, err := c.sessions.JoinApplication(ctx, d, c.apps.YouTube)
	if err != nil {
		return classify(err)
	}
	defer h.Disconnect()

	if _, err := h.Channel().Request(ctx, NamespaceYouTube, payload); err != nil {
		return classify(fmt.Errorf("%s: %w", cmd, err))
	}
	return nil
}

// Stop stops every session running on the device, concurrently.
func (c *Controller) Stop(ctx context.Context, id string) error {
	ctx, cancel := c.commandContext(ctx)
	defer cancel()

	d, err := c.device(ctx, id, CmdStop)
	if err != nil {
		return err
	}

	sessions, lease, err := c.sessions.Sessions(ctx, d)
	if err != nil {
		return classify(err)
	}
	defer lease.Release()

	if len(sessions) == 0 {
		return ErrNoActiveSession
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			if err := lease.Conn().StopSession(gctx, s.SessionID); err != nil {
				return fmt.Errorf("stopping %s: %w", s.DisplayName, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return classify(err)
	}

	c.caps.Set(id, CapSpeakerPlaying, false)
	c.logger.Info("sessions stopped", "device", id, "count", len(sessions))
	return nil
}

// SetVolume changes the receiver volume level, mute flag, or both.
func (c *Controller) SetVolume(ctx context.Context, id string, change VolumeChange) error {
	if change.Level == nil && change.Muted == nil {
		return fmt.Errorf("%w: volume change needs level or muted", ErrInvalidParameters)
	}
	if change.Level != nil && (*change.Level < 0 || *change.Level > 1) {
		return fmt.Errorf("%w: volume level %v out of range [0,1]", ErrInvalidParameters, *change.Level)
	}

	ctx, cancel := c.commandContext(ctx)
	defer cancel()

	d, err := c.device(ctx, id, CmdSetVolume)
	if err != nil {
		return err
	}

	lease, err := c.conns.Acquire(ctx, d)
	if err != nil {
		return classify(err)
	}
	defer lease.Release()

	if err := lease.Conn().SetVolume(ctx, change); err != nil {
		return classify(fmt.Errorf("set volume: %w", err))
	}
	if change.Level != nil {
		c.caps.Set(id, CapVolumeSet, roundLevel(*change.Level))
	}
	if change.Muted != nil {
		c.caps.Set(id, CapVolumeMute, *change.Muted)
	}
	return nil
}

// GetVolume reads the receiver volume.
func (c *Controller) GetVolume(ctx context.Context, id string) (Volume, error) {
	ctx, cancel := c.commandContext(ctx)
	defer cancel()

	d, err := c.device(ctx, id, CmdGetVolume)
	if err != nil {
		return Volume{}, err
	}

	lease, err := c.conns.Acquire(ctx, d)
	if err != nil {
		return Volume{}, classify(err)
	}
	defer lease.Release()

	status, err := lease.Conn().Status(ctx)
	if err != nil {
		return Volume{}, classify(fmt.Errorf("receiver status: %w", err))
	}
	c.caps.applyVolume(id, status.Volume)
	return status.Volume, nil
}

// SetLoop persists the loop preference and applies it to a running YouTube
// session. No running session is not an error.
func (c *Controller) SetLoop(ctx context.Context, id string, loop bool) error {
	if err := c.prefs.SetLoop(ctx, id, loop); err != nil {
		return prefsError("loop", err)
	}
	return c.applyYoutubeToggle(ctx, id, CmdSetLoop, &youtubeToggle{Header: Header{Type: msgSetLoop}, Enabled: loop})
}

// SetShuffle persists the shuffle preference and applies it to a running
// YouTube session. No running session is not an error.
func (c *Controller) SetShuffle(ctx context.Context, id string, shuffle bool) error {
	if err := c.prefs.SetShuffle(ctx, id, shuffle); err != nil {
		return prefsError("shuffle", err)
	}
	return c.applyYoutubeToggle(ctx, id, CmdSetShuffle, &youtubeToggle{Header: Header{Type: msgSetShuffle}, Enabled: shuffle})
}

// prefsError keeps a store error that already has a domain kind and files
// anything else under ErrPrefsUnavailable.
func prefsError(pref string, err error) error {
	for _, kind := range domainKinds {
		if errors.Is(err, kind) {
			return fmt.Errorf("saving %s preference: %w", pref, err)
		}
	}
	return fmt.Errorf("%w: saving %s preference: %w", ErrPrefsUnavailable, pref, err)
}

// applyYoutubeToggle does not wait for discovery: a device that is not
// resolved yet has no session to apply the preference to.
func (c *Controller) applyYoutubeToggle(ctx context.Context, id string, cmd Command, payload Payload) error {
	d, ok := c.registry.Resolve(id)
	if !ok || !Supports(d.Class, CmdCastYoutube) {
		return nil
	}

	ctx, cancel := c.commandContext(ctx)
	defer cancel()

	h, err := c.sessions.JoinApplication(ctx, d, c.apps.YouTube)
	if errors.Is(err, ErrNoActiveSession) {
		return nil
	}
	if err != nil {
		return classify(err)
	}
	defer h.Disconnect()

	if _, err := h.Channel().Request(ctx, NamespaceYouTube, payload); err != nil {
		return classify(fmt.Errorf("%s: %w", cmd, err))
	}
	return nil
}

// Playing reports whether a media app on the device is playing. No running
// media app means false.
func (c *Controller) Playing(ctx context.Context, id string) (bool, error) {
	ctx, cancel := c.commandContext(ctx)
	defer cancel()

	d, err := c.device(ctx, id, CmdGetPlaying)
	if err != nil {
		return false, err
	}

	h, err := c.sessions.JoinApplication(ctx, d, c.mediaApps()...)
	if errors.Is(err, ErrNoActiveSession) {
		c.caps.Set(id, CapSpeakerPlaying, false)
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	defer h.Disconnect()

	status, ok, err := mediaStatus(ctx, h.Channel())
	if err != nil {
		return false, classify(fmt.Errorf("media status: %w", err))
	}
	playing := ok && status.PlayerState == PlayerPlaying
	c.caps.Set(id, CapSpeakerPlaying, playing)
	return playing, nil
}
