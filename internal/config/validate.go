package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("configuration validation failed")

// Validate checks the required fields. All problems are reported at once.
func (c *Configuration) Validate() error {
	var errs []string

	if c.TrackID == "" {
		errs = append(errs, "track_id must be set")
	} else if !validTrackID(c.TrackID) {
		errs = append(errs, fmt.Sprintf("track_id must contain only digits and commas, got %q", c.TrackID))
	}

	if c.TrackDomain == "" {
		errs = append(errs, "track_domain must be set")
	} else if !validHTTPURL(c.TrackDomain) {
		errs = append(errs, fmt.Sprintf("track_domain must be an absolute http(s) URL, got %q", c.TrackDomain))
	}

	if c.SendDelay <= 0 {
		errs = append(errs, fmt.Sprintf("send_delay must be positive, got %d", c.SendDelay))
	}
	if c.MaxRequests < 1 {
		errs = append(errs, fmt.Sprintf("max_requests must be at least 1, got %d", c.MaxRequests))
	}
	if c.Sampling < 0 {
		errs = append(errs, fmt.Sprintf("sampling must not be negative, got %d", c.Sampling))
	}
	if c.Version < 0 {
		errs = append(errs, fmt.Sprintf("version must not be negative, got %d", c.Version))
	}
	if c.RemoteConfig.Enabled && !validHTTPURL(c.RemoteConfig.URL) {
		errs = append(errs, fmt.Sprintf("remote_configuration.url must be an absolute http(s) URL when enabled, got %q", c.RemoteConfig.URL))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

func validTrackID(id string) bool {
	for _, r := range id {
		if (r < '0' || r > '9') && r != ',' {
			return false
		}
	}
	return true
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
