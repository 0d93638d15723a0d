// Package request resolves tracking events into delivery-ready records by
// applying the parameter override layers in a fixed order.
package request

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/szibis/apptrack/internal/config"
	"github.com/szibis/apptrack/internal/device"
	"github.com/szibis/apptrack/internal/param"
)

// ErrNoConfiguration is returned when no active configuration is available.
var ErrNoConfiguration = errors.New("no active tracking configuration")

// Record is one resolved event. It is never modified after Build returns.
type Record struct {
	params *param.Params
	url    string
}

// Params returns a copy of the resolved parameters.
func (r *Record) Params() *param.Params { return r.params.Clone() }

// Get returns one resolved value.
func (r *Record) Get(k param.Key) (string, bool) { return r.params.Get(k) }

// URL returns the delivery string queued for this record.
func (r *Record) URL() string { return r.url }

// IsAction reports whether the record was built by the action branch.
func (r *Record) IsAction() bool { return r.params.Contains(param.Named(param.ActionName)) }

// BuildInput is every layer the builder merges.
type BuildInput struct {
	// Call holds the event parameters passed by the host.
	Call *param.Params
	// Screen is the current screen name.
	Screen string
	Facts  device.Facts
	EverID string
	// Globals are the parameters set in code for the process lifetime.
	Globals *param.Params
	Config  *config.Configuration
	// Internal holds the session flags such as fns and one.
	Internal *param.Params
	// Custom is the merged substitution table applied last.
	Custom map[string]string
}

// Builder builds records.
type Builder struct {
	now func() time.Time
}

// NewBuilder returns a builder stamping records with the wall clock.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// Build resolves in into a record. Events carrying an action name take the
// lightweight branch that skips every session layer.
func (b *Builder) Build(in BuildInput) (*Record, error) {
	if in.Config == nil {
		return nil, ErrNoConfiguration
	}

	p := param.New().
		SetName(param.ActivityName, in.Screen).
		SetName(param.Timestamp, strconv.FormatInt(b.now().UnixMilli(), 10))

	if in.Call.Contains(param.Named(param.ActionName)) {
		p.SetName(param.ScreenResolution, in.Facts.Resolution).
			SetName(param.ScreenDepth, in.Facts.Depth).
			SetName(param.UserAgent, in.Facts.UserAgent).
			Merge(in.Call)
		return b.finish(p, in.Config), nil
	}

	p.SetName(param.ScreenResolution, in.Facts.Resolution).
		SetName(param.ScreenDepth, in.Facts.Depth).
		SetName(param.Timezone, in.Facts.Timezone).
		SetName(param.UserAgent, in.Facts.UserAgent).
		SetName(param.DevLang, in.Facts.Language).
		SetName(param.Sampling, strconv.Itoa(in.Config.Sampling))
	if in.EverID != "" {
		p.SetName(param.EverID, in.EverID)
	}

	p.Merge(in.Globals)
	p.Merge(in.Config.GlobalParams)
	p.Merge(in.Call)
	if sc, ok := in.Config.Screen(in.Screen); ok {
		p.Merge(sc.Params)
		if sc.MappingName != "" {
			p.SetName(param.ActivityName, sc.MappingName)
		}
	}
	p.Merge(in.Internal)
	p.ApplyMapping(in.Custom)

	return b.finish(p, in.Config), nil
}

// pixelKeys are carried inside the p field rather than as their own pair.
var pixelKeys = map[param.Key]bool{
	param.Named(param.ActivityName):     true,
	param.Named(param.Timestamp):        true,
	param.Named(param.ScreenResolution): true,
	param.Named(param.ScreenDepth):      true,
}

func (b *Builder) finish(p *param.Params, cfg *config.Configuration) *Record {
	return &Record{params: p, url: deliveryURL(p, cfg)}
}

// deliveryURL renders
// {domain}/{trackId}/wt?p={lib},{screen},0,{res},{depth},0,{ts},0,0,0&k=v...
func deliveryURL(p *param.Params, cfg *config.Configuration) string {
	pixel := func(n param.Name) string {
		v, _ := p.Get(param.Named(n))
		return url.QueryEscape(v)
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimRight(cfg.TrackDomain, "/"))
	sb.WriteByte('/')
	sb.WriteString(cfg.TrackID)
	sb.WriteString("/wt?p=")
	sb.WriteString(strings.Join([]string{
		device.LibraryVersion,
		pixel(param.ActivityName),
		"0",
		pixel(param.ScreenResolution),
		pixel(param.ScreenDepth),
		"0",
		pixel(param.Timestamp),
		"0", "0", "0",
	}, ","))
	if rest := p.Encode(func(k param.Key) bool { return pixelKeys[k] }); rest != "" {
		sb.WriteByte('&')
		sb.WriteString(rest)
	}
	return sb.String()
}
