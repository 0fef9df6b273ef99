package cast

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	youtubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	playlistPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{12,64}$`)
)

// SanitizeURL trims raw, adds http:// when no scheme is given and checks
// the result is an absolute http(s) URL.
func SanitizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return u.String(), nil
}

// YouTubeVideoID extracts a video id from a YouTube URL or a bare id.
func YouTubeVideoID(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if youtubeIDPattern.MatchString(s) {
		return s, true
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 {
			switch parts[0] {
			case "embed", "v", "shorts", "live":
				id = parts[1]
			}
		}
	default:
		return "", false
	}

	if youtubeIDPattern.MatchString(id) {
		return id, true
	}
	return "", false
}

// YouTubePlaylistID extracts a playlist id from a YouTube URL or a bare id.
func YouTubePlaylistID(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if playlistPattern.MatchString(s) {
		return s, true
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	if list := u.Query().Get("list"); playlistPattern.MatchString(list) {
		return list, true
	}
	return "", false
}
