package cast

import (
	"context"
	"encoding/json"
	"fmt"
)

// AppSpec identifies a receiver application.
type AppSpec struct {
	Name string
	ID   string

	// Reusable apps may be joined and cached. Redirect-only apps are not.
	Reusable bool

	// Namespace is the app's custom message namespace, if any.
	Namespace string
}

// Custom namespaces of the YouTube and browser receiver apps.
const (
	NamespaceYouTube = "urn:x-cast:com.athom.youtube"
	NamespaceBrowser = "urn:x-cast:com.athom.browser"
)

// Apps is the set of receiver applications the controller drives.
type Apps struct {
	DefaultMediaReceiver AppSpec
	YouTube              AppSpec
	Browser              AppSpec
	Media                AppSpec
}

// AppIDs are the configurable receiver application ids.
type AppIDs struct {
	DefaultMediaReceiver string
	YouTube              string
	Browser              string
	Media                string
}

// DefaultAppIDs returns the stock receiver application ids.
func DefaultAppIDs() AppIDs {
	return AppIDs{
		DefaultMediaReceiver: "CC1AD845",
		YouTube:              "0A938E83",
		Browser:              "57F7BD22",
		Media:                "00F5709C",
	}
}

// NewApps builds the application set from ids.
func NewApps(ids AppIDs) Apps {
	return Apps{
		DefaultMediaReceiver: AppSpec{Name: "DefaultMediaReceiver", ID: ids.DefaultMediaReceiver, Reusable: true},
		YouTube:              AppSpec{Name: "YouTube", ID: ids.YouTube, Reusable: true, Namespace: NamespaceYouTube},
		Browser:              AppSpec{Name: "Browser", ID: ids.Browser, Namespace: NamespaceBrowser},
		Media:                AppSpec{Name: "Media", ID: ids.Media, Reusable: true},
	}
}

// Media namespace message types.
const (
	msgLoad        = "LOAD"
	msgPlay        = "PLAY"
	msgPause       = "PAUSE"
	msgSeek        = "SEEK"
	msgGetStatus   = "GET_STATUS"
	msgMediaStatus = "MEDIA_STATUS"
)

// Stream types.
const (
	StreamBuffered = "BUFFERED"
	StreamLive     = "LIVE"
)

// MediaInfo describes content to load.
type MediaInfo struct {
	ContentID   string         `json:"contentId"`
	ContentType string         `json:"contentType"`
	StreamType  string         `json:"streamType,omitempty"`
	Metadata    *MediaMetadata `json:"metadata,omitempty"`
}

// MediaMetadata is generic media metadata.
type MediaMetadata struct {
	MetadataType int     `json:"metadataType"`
	Title        string  `json:"title,omitempty"`
	Subtitle     string  `json:"subtitle,omitempty"`
	Images       []Image `json:"images,omitempty"`
}

// Image is a metadata image.
type Image struct {
	URL string `json:"url"`
}

type loadRequest struct {
	Header
	Media       MediaInfo `json:"media"`
	Autoplay    bool      `json:"autoplay"`
	CurrentTime float64   `json:"currentTime"`
}

type mediaRequest struct {
	Header
	MediaSessionID int `json:"mediaSessionId"`
}

type seekRequest struct {
	Header
	MediaSessionID int     `json:"mediaSessionId"`
	CurrentTime    float64 `json:"currentTime"`
}

type mediaStatusReply struct {
	Header
	Status []MediaStatus `json:"status"`
}

func decodeMediaStatus(raw json.RawMessage) (MediaStatus, bool, error) {
	var reply mediaStatusReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return MediaStatus{}, false, fmt.Errorf("decoding media status: %w", err)
	}
	if len(reply.Status) == 0 {
		return MediaStatus{}, false, nil
	}
	return reply.Status[0], true, nil
}

// mediaStatus asks the media namespace for the current player state. The
// bool is false when nothing is loaded.
func mediaStatus(ctx context.Context, ch Channel) (MediaStatus, bool, error) {
	raw, err := ch.Request(ctx, NamespaceMedia, &Header{Type: msgGetStatus})
	if err != nil {
		return MediaStatus{}, false, err
	}
	return decodeMediaStatus(raw)
}

func loadMedia(ctx context.Context, ch Channel, media MediaInfo, autoplay bool, currentTime float64) (MediaStatus, error) {
	req := &loadRequest{
		Header:      Header{Type: msgLoad},
		Media:       media,
		Autoplay:    autoplay,
		CurrentTime: currentTime,
	}
	raw, err := ch.Request(ctx, NamespaceMedia, req)
	if err != nil {
		return MediaStatus{}, err
	}
	status, _, err := decodeMediaStatus(raw)
	return status, err
}

// mediaCommand sends PLAY, PAUSE and similar commands to the current media
// session.
func mediaCommand(ctx context.Context, ch Channel, msgType string) error {
	status, ok, err := mediaStatus(ctx, ch)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoActiveSession
	}
	_, err = ch.Request(ctx, NamespaceMedia, &mediaRequest{
		Header:         Header{Type: msgType},
		MediaSessionID: status.MediaSessionID,
	})
	return err
}

func seekMedia(ctx context.Context, ch Channel, seconds float64) error {
	status, ok, err := mediaStatus(ctx, ch)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoActiveSession
	}
	_, err = ch.Request(ctx, NamespaceMedia, &seekRequest{
		Header:         Header{Type: msgSeek},
		MediaSessionID: status.MediaSessionID,
		CurrentTime:    seconds,
	})
	return err
}

// YouTube app messages.
const (
	msgLoadVideo    = "loadVideo"
	msgLoadPlaylist = "loadPlaylist"
	msgNext         = "next"
	msgPrevious     = "previous"
	msgSetLoop      = "setLoop"
	msgSetShuffle   = "setShuffle"
)

type youtubeLoad struct {
	Header
	VideoID    string `json:"videoId,omitempty"`
	PlaylistID string `json:"playlistId,omitempty"`
	Autoplay   bool   `json:"autoplay"`
	Loop       bool   `json:"loop"`
	Shuffle    bool   `json:"shuffle"`
}

type youtubeToggle struct {
	Header
	Enabled bool `json:"enabled"`
}

// Browser app messages.
const msgRedirect = "redirect"

type browserRedirect struct {
	Header
	URL string `json:"url"`
}
