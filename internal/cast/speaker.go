package cast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/debounce"
)

// metadataMusicTrack is the cast MusicTrackMediaMetadata type.
const metadataMusicTrack = 3

// stateCheckInterval is how often SetTrack re-reads the player state while
// waiting for the loaded track to settle.
const stateCheckInterval = 500 * time.Millisecond

type trackRequest struct {
	device Device
	track  Track
	opts   TrackOptions
}

// SetTrack loads a track into the speaker app. With a Delay the load is
// queued; a newer SetTrack, or a Pause on the speaker app, cancels a queued
// load with ErrDebounced. SetTrack returns once the player reaches PLAYING
// or PAUSED, matching StartPlaying.
func (c *Controller) SetTrack(ctx context.Context, id string, track Track, opts TrackOptions) (Track, error) {
	if track.StreamURL == "" {
		return Track{}, fmt.Errorf("%w: track has no stream url", ErrInvalidParameters)
	}

	d, err := c.device(ctx, id, CmdSetTrack)
	if err != nil {
		return Track{}, err
	}

	return c.trackQueue(id).CallAfter(ctx, trackRequest{device: d, track: track, opts: opts}, opts.Delay)
}

func (c *Controller) trackQueue(id string) *debounce.Func[trackRequest, Track] {
	c.speakerMu.Lock()
	defer c.speakerMu.Unlock()
	q, ok := c.tracks[id]
	if !ok {
		q = debounce.New(c.loadTrack, 0)
		c.tracks[id] = q
	}
	return q
}

func (c *Controller) cancelQueuedTrack(id string) {
	c.speakerMu.Lock()
	q, ok := c.tracks[id]
	c.speakerMu.Unlock()
	if ok && q.Cancel() {
		c.logger.Debug("queued track cancelled", "device", id)
	}
}

func (c *Controller) loadTrack(ctx context.Context, req trackRequest) (Track, error) {
	ctx, cancel := c.commandContext(ctx)
	defer cancel()

	id := req.device.ID
	h, err := c.sessions.GetApplication(ctx, req.device, c.apps.Media)
	if err != nil {
		return Track{}, classify(err)
	}
	defer h.Disconnect()

	meta := &MediaMetadata{
		MetadataType: metadataMusicTrack,
		Title:        req.track.Title,
		Subtitle:     strings.Join(req.track.Artists, ", "),
	}
	if img := req.track.Artwork.best(); img != "" {
		meta.Images = []Image{{URL: img}}
	}
	media := MediaInfo{
		ContentID:   req.track.StreamURL,
		ContentType: "audio/mpeg",
		StreamType:  StreamBuffered,
		Metadata:    meta,
	}

	want := PlayerPaused
	if req.opts.StartPlaying {
		want = PlayerPlaying
	}

	status, err := loadMedia(ctx, h.Channel(), media, req.opts.StartPlaying, math.Round(req.opts.Position.Seconds()))
	if err != nil {
		return Track{}, classify(fmt.Errorf("loading track: %w", err))
	}
	if status.PlayerState != want {
		if err := waitForPlayerState(ctx, h.Channel(), want); err != nil {
			return Track{}, classify(err)
		}
	}

	c.caps.Set(id, CapSpeakerPlaying, req.opts.StartPlaying)
	c.caps.Set(id, CapSpeakerPosition, req.opts.Position.Milliseconds())
	c.logger.Info("speaker track loaded", "device", id, "title", req.track.Title)
	return req.track, nil
}

// waitForPlayerState waits for a MEDIA_STATUS broadcast or a status poll
// reporting want.
func waitForPlayerState(ctx context.Context, ch Channel, want string) error {
	ticker := time.NewTicker(stateCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", want, ctx.Err())
		case <-ch.Done():
			return fmt.Errorf("waiting for %s: application closed", want)
		case ev := <-ch.Events():
			if ev.Namespace != NamespaceMedia || ev.Type != msgMediaStatus {
				continue
			}
			if status, ok, err := decodeMediaStatus(ev.Payload); err == nil && ok && status.PlayerState == want {
				return nil
			}
		case <-ticker.C:
			status, ok, err := mediaStatus(ctx, ch)
			if err != nil {
				return err
			}
			if ok && status.PlayerState == want {
				return nil
			}
		}
	}
}

// SetPosition seeks the running speaker app.
func (c *Controller) SetPosition(ctx context.Context, id string, position time.Duration) error {
	if position < 0 {
		return fmt.Errorf("%w: negative position", ErrInvalidParameters)
	}

	ctx, cancel := c.commandContext(ctx)
	defer cancel()

	d, err := c.device(ctx, id, CmdSetPosition)
	if err != nil {
		return err
	}

	h, err := c.sessions.JoinApplication(ctx, d, c.apps.Media)
	if err != nil {
		return classify(err)
	}
	defer h.Disconnect()

	if err := seekMedia(ctx, h.Channel(), math.Round(position.Seconds())); err != nil {
		return classify(fmt.Errorf("seek: %w", err))
	}
	c.caps.Set(id, CapSpeakerPosition, position.Milliseconds())
	return nil
}

// SetActive turns the device speaker on or off. Activating launches the
// speaker app and keeps its playing state and position fresh until the app
// closes. Deactivating stops that and stops the device.
func (c *Controller) SetActive(ctx context.Context, id string, active bool) error {
	if !active {
		c.stopPoller(id)
		if err := c.Stop(ctx, id); err != nil && !errors.Is(err, ErrNoActiveSession) {
			c.logger.Warn("speaker stop failed", "device", id, "error", err)
		}
		return nil
	}

	c.speakerMu.Lock()
	_, running := c.pollers[id]
	c.speakerMu.Unlock()
	if running {
		return nil
	}

	cctx, cancel := c.commandContext(ctx)
	defer cancel()

	d, err := c.device(cctx, id, CmdSetActive)
	if err != nil {
		return err
	}
	h, err := c.sessions.GetApplication(cctx, d, c.apps.Media)
	if err != nil {
		return classify(err)
	}

	pctx, stop := context.WithCancel(context.Background())
	p := &speakerPoller{stop: stop}
	c.speakerMu.Lock()
	if _, running := c.pollers[id]; running {
		c.speakerMu.Unlock()
		stop()
		h.Disconnect()
		return nil
	}
	c.pollers[id] = p
	c.wg.Add(1)
	c.speakerMu.Unlock()

	go c.pollSpeaker(pctx, id, p, h)
	c.logger.Info("speaker active", "device", id)
	return nil
}

func (c *Controller) stopPoller(id string) {
	c.speakerMu.Lock()
	p, ok := c.pollers[id]
	delete(c.pollers, id)
	c.speakerMu.Unlock()
	if ok {
		p.stop()
	}
}

type speakerPoller struct {
	stop context.CancelFunc
}

// pollSpeaker holds h until ctx ends or the app closes.
func (c *Controller) pollSpeaker(ctx context.Context, id string, p *speakerPoller, h *Handle) {
	defer c.wg.Done()
	defer h.Disconnect()

	ticker := time.NewTicker(c.speakerPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.Channel().Done():
			c.logger.Info("speaker app closed", "device", id)
			c.speakerMu.Lock()
			if c.pollers[id] == p {
				delete(c.pollers, id)
			}
			c.speakerMu.Unlock()
			return
		case <-ticker.C:
			sctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
			status, ok, err := mediaStatus(sctx, h.Channel())
			cancel()
			if err != nil {
				c.logger.Debug("speaker status failed", "device", id, "error", err)
				continue
			}
			if !ok {
				continue
			}
			c.caps.Set(id, CapSpeakerPlaying, status.PlayerState == PlayerPlaying)
			c.caps.Set(id, CapSpeakerPosition, int64(math.Round(status.CurrentTime*1000)))
		}
	}
}
