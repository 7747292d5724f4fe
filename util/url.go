package util

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrNoFilename       = errors.New("cannot extract valid filename")
	ErrInvalidReference = errors.New("invalid reference")
)

func FilenameFromURL(url *url.URL) (string, error) {
	if url == nil {
		return "", ErrNoFilename
	}
	path := strings.Trim(url.Path, "/")
	if path == "" {
		return "", ErrNoFilename
	}
	pathElements := strings.Split(path, "/")
	filename := pathElements[len(pathElements)-1]
	if filename == "" {
		return "", ErrNoFilename
	}
	// Don't allow "filenames" that are just ".", "..", etc.
	if strings.ReplaceAll(filename, ".", "") == "" {
		return "", ErrNoFilename
	}
	return filename, nil
}

func FilenameFromURLString(s string) (string, error) {
	if parsedURL, err := url.Parse(s); err != nil {
		return "", err
	} else {
		return FilenameFromURL(parsedURL)
	}
}

// ValidateReference checks that s is an absolute http(s) URL with a host, returning the parsed URL.
func ValidateReference(s string) (*url.URL, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidReference)
	}
	parsedURL, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReference, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidReference, parsedURL.Scheme)
	}
	if parsedURL.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidReference)
	}
	return parsedURL, nil
}

// PlaylistID returns the ?list= parameter of a URL, or "" if there isn't one.
func PlaylistID(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Query().Get("list")
}

// VideoID extracts a video ID from a YouTube URL.
//
// Allowed URL formats:
//
//	http(s?)://(www|m).youtube.com/(watch|details)?v={VIDEO_ID}
//	http(s?)://(www|m).youtube.com/(v|embed|shorts)/{VIDEO_ID}
//	http(s?)://youtu.be/{VIDEO_ID}
func VideoID(u *url.URL) (string, error) {
	var id string
	switch u.Hostname() {
	case "youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com":
		if prefix, rest, found := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/"); found {
			switch prefix {
			case "v", "embed", "shorts":
				id = strings.Trim(rest, "/")
			}
		} else if u.Path == "/watch" || u.Path == "/details" {
			if u.Query().Has("v") {
				id = u.Query().Get("v")
			} else {
				return "", fmt.Errorf("missing ?v= query parameter")
			}
		}
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	default:
		return "", fmt.Errorf("unrecognised hostname")
	}
	if id == "" {
		return "", fmt.Errorf("could not extract video ID")
	}
	return id, nil
}

// IsYouTube returns true for the hostnames VideoID understands.
func IsYouTube(u *url.URL) bool {
	switch u.Hostname() {
	case "youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be":
		return true
	default:
		return false
	}
}
