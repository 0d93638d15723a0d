// Package device supplies the per-device facts that seed every tracking
// record, plus the durable identifiers derived from them.
package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// LibraryVersion is the tracking library version sent in the pixel field.
const LibraryVersion = "400"

// libraryVersionUA is the dotted form used in the user agent.
const libraryVersionUA = "4.0"

// ErrNoAdvertisingID is returned by providers that cannot supply one.
var ErrNoAdvertisingID = errors.New("advertising id not available")

// Facts is one snapshot of device state.
type Facts struct {
	Resolution string
	// Depth is the colour depth in bits.
	Depth       string
	Timezone    string
	UserAgent   string
	Language    string
	Orientation string
	Connection  string

	AppVersionName string
	AppVersionCode int
	APILevel       string
	Preinstalled   bool
}

// Provider is the device-fact data source.
type Provider interface {
	// Snapshot returns the current facts. It must not block on I/O that can
	// stall the caller.
	Snapshot() Facts
	// AdvertisingID may block; callers run it off the host goroutine.
	AdvertisingID(ctx context.Context) (id string, limitAdTracking bool, err error)
}

// Static returns fixed facts. It is the provider of choice for tests and for
// replay drivers that describe the device up front.
type Static struct {
	Facts Facts
	// AdID and LimitAdTracking are returned by AdvertisingID; an empty AdID
	// yields ErrNoAdvertisingID.
	AdID            string
	LimitAdTracking bool
}

// Snapshot implements Provider.
func (s *Static) Snapshot() Facts { return s.Facts }

// AdvertisingID implements Provider.
func (s *Static) AdvertisingID(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if s.AdID == "" {
		return "", false, ErrNoAdvertisingID
	}
	return s.AdID, s.LimitAdTracking, nil
}

// HostProvider derives facts from the machine the process runs on.
type HostProvider struct {
	AppVersionName string
	AppVersionCode int
	// Resolution is reported as-is; hosts without a screen leave it empty.
	Resolution string
	Depth      string

	lookupEnv func(string) (string, bool)
	now       func() time.Time
}

// NewHostProvider returns a provider for the running host.
func NewHostProvider(versionName string, versionCode int) *HostProvider {
	return &HostProvider{
		AppVersionName: versionName,
		AppVersionCode: versionCode,
		Resolution:     "0x0",
		Depth:          "32",
		lookupEnv:      os.LookupEnv,
		now:            time.Now,
	}
}

// Snapshot implements Provider.
func (h *HostProvider) Snapshot() Facts {
	lang := h.locale()
	return Facts{
		Resolution:     h.Resolution,
		Depth:          h.Depth,
		Timezone:       timezoneOffset(h.now()),
		UserAgent:      UserAgent(lang),
		Language:       lang.String(),
		Orientation:    "landscape",
		Connection:     connectionType(),
		AppVersionName: h.AppVersionName,
		AppVersionCode: h.AppVersionCode,
		APILevel:       runtime.Version(),
	}
}

// AdvertisingID implements Provider. Hosts have no advertising identifier.
func (h *HostProvider) AdvertisingID(context.Context) (string, bool, error) {
	return "", false, ErrNoAdvertisingID
}

// locale reads the POSIX locale variables in precedence order.
func (h *HostProvider) locale() language.Tag {
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v, ok := h.lookupEnv(name)
		if !ok || v == "" {
			continue
		}
		if tag, ok := ParseLocale(v); ok {
			return tag
		}
	}
	return language.English
}

// ParseLocale converts a POSIX locale such as "de_DE.UTF-8" to a language
// tag. "C" and "POSIX" are not languages.
func ParseLocale(s string) (language.Tag, bool) {
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	if s == "" || s == "C" || s == "POSIX" {
		return language.Und, false
	}
	tag, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil {
		return language.Und, false
	}
	return tag, true
}

// UserAgent renders the library user agent for a locale.
func UserAgent(lang language.Tag) string {
	return fmt.Sprintf("Tracking Library %s (%s; %s; %s)", libraryVersionUA, runtime.GOOS, runtime.GOARCH, lang)
}

// timezoneOffset returns the UTC offset in hours, e.g. "1" or "5.5".
func timezoneOffset(t time.Time) string {
	_, offset := t.Zone()
	hours := float64(offset) / 3600
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", hours), "0"), ".")
}

func connectionType() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "unknown"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			return "lan"
		}
	}
	return "offline"
}
