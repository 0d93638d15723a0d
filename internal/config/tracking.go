package config

import (
	"time"

	"github.com/szibis/apptrack/internal/param"
)

const (
	// DefaultMaxRequests is the queue capacity when the document omits it.
	DefaultMaxRequests = 4000
	// DefaultFetchTimeout bounds one remote configuration download.
	DefaultFetchTimeout = 10 * time.Second
	// PlaceholderTrackID marks the unedited template configuration.
	PlaceholderTrackID = "YOUR_TRACK_ID"
)

// Configuration is one versioned tracking configuration document.
type Configuration struct {
	Version     int    `yaml:"version"`
	TrackID     string `yaml:"track_id"`
	TrackDomain string `yaml:"track_domain"`
	// SendDelay is the flush interval in seconds.
	SendDelay   int  `yaml:"send_delay"`
	MaxRequests int  `yaml:"max_requests"`
	Sampling    int  `yaml:"sampling"`
	AutoTracked bool `yaml:"auto_tracked"`
	// ResendOnStartEventTime is how long (seconds) the app may stay in the
	// background before the next start counts as a new session.
	ResendOnStartEventTime int `yaml:"resend_on_start_event_time"`

	RemoteConfig RemoteConfig `yaml:"remote_configuration"`
	AutoTrack    AutoTrack    `yaml:"auto_track"`
	Plugins      []string     `yaml:"plugins"`

	GlobalParams *param.Params           `yaml:"global_params"`
	Screens      map[string]ScreenConfig `yaml:"screens"`
}

// RemoteConfig controls fetching newer configuration versions.
type RemoteConfig struct {
	Enabled bool     `yaml:"enabled"`
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

// AutoTrack toggles the automatically collected custom parameters.
type AutoTrack struct {
	AppVersionName    bool `yaml:"app_version_name"`
	AppVersionCode    bool `yaml:"app_version_code"`
	AppPreinstalled   bool `yaml:"app_preinstalled"`
	AppUpdate         bool `yaml:"app_update"`
	APILevel          bool `yaml:"api_level"`
	AdvertiserID      bool `yaml:"advertiser_id"`
	ConnectionType    bool `yaml:"connection_type"`
	ScreenOrientation bool `yaml:"screen_orientation"`
	RequestQueueSize  bool `yaml:"request_queue_size"`
}

// ScreenConfig is the per-screen override entry.
type ScreenConfig struct {
	// MappingName replaces the screen name in outgoing records.
	MappingName string `yaml:"mapping_name"`
	// AutoTrack overrides the global AutoTracked flag when set.
	AutoTrack *bool         `yaml:"auto_track"`
	Params    *param.Params `yaml:"params"`
}

// SendInterval returns SendDelay as a duration.
func (c *Configuration) SendInterval() time.Duration {
	return time.Duration(c.SendDelay) * time.Second
}

// Screen returns the override entry for a screen name.
func (c *Configuration) Screen(name string) (ScreenConfig, bool) {
	sc, ok := c.Screens[name]
	return sc, ok
}

// ScreenAutoTracked reports whether the screen should be tracked
// automatically when it starts.
func (c *Configuration) ScreenAutoTracked(name string) bool {
	if sc, ok := c.Screens[name]; ok && sc.AutoTrack != nil {
		return *sc.AutoTrack
	}
	return c.AutoTracked
}

// PluginEnabled reports whether a named plugin is switched on.
func (c *Configuration) PluginEnabled(name string) bool {
	for _, p := range c.Plugins {
		if p == name {
			return true
		}
	}
	return false
}
