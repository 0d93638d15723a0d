// Package plugin runs the record hooks that external integrations attach to
// the pipeline.
package plugin

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/apptrack/internal/logging"
	"github.com/szibis/apptrack/internal/request"
)

var pluginPanicsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "apptrack_plugin_panics_total",
	Help: "Plugin hook panics recovered by the registry",
}, []string{"plugin", "hook"})

func init() {
	prometheus.MustRegister(pluginPanicsTotal)
}

// Plugin observes every built record. Hooks must not retain or modify the
// record.
type Plugin interface {
	Name() string
	BeforeDelivery(r *request.Record)
	AfterDelivery(r *request.Record)
}

// Registry runs plugins in registration order. The zero value is an empty,
// usable registry.
type Registry struct {
	plugins []Plugin
}

// NewRegistry returns a registry holding plugins in the given order.
func NewRegistry(plugins ...Plugin) *Registry {
	return &Registry{plugins: plugins}
}

// Register appends p.
func (r *Registry) Register(p Plugin) {
	r.plugins = append(r.plugins, p)
	logging.Info("loaded plugin", logging.F("plugin", p.Name()))
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.plugins)
}

// Before calls BeforeDelivery on every plugin.
func (r *Registry) Before(rec *request.Record) {
	r.each("before", func(p Plugin) { p.BeforeDelivery(rec) })
}

// After calls AfterDelivery on every plugin.
func (r *Registry) After(rec *request.Record) {
	r.each("after", func(p Plugin) { p.AfterDelivery(rec) })
}

func (r *Registry) each(hook string, call func(Plugin)) {
	if r == nil {
		return
	}
	for _, p := range r.plugins {
		safeCall(p, hook, call)
	}
}

func safeCall(p Plugin, hook string, call func(Plugin)) {
	defer func() {
		if v := recover(); v != nil {
			pluginPanicsTotal.WithLabelValues(p.Name(), hook).Inc()
			logging.Error("plugin hook panicked", logging.F(
				"plugin", p.Name(),
				"hook", hook,
				"panic", fmt.Sprint(v),
			))
		}
	}()
	call(p)
}

// LogPluginName enables LogPlugin in the configuration plugin list.
const LogPluginName = "log"

// LogPlugin logs each record at debug level.
type LogPlugin struct{}

// Name implements Plugin.
func (LogPlugin) Name() string { return LogPluginName }

// BeforeDelivery implements Plugin.
func (LogPlugin) BeforeDelivery(r *request.Record) {
	logging.Debug("record built", logging.F("url", r.URL(), "action", r.IsAction()))
}

// AfterDelivery implements Plugin.
func (LogPlugin) AfterDelivery(r *request.Record) {
	logging.Debug("record handed to queue", logging.F("url", r.URL()))
}

// Builtin returns the built-in plugins enabled by name.
func Builtin(enabled func(name string) bool) []Plugin {
	var out []Plugin
	if enabled(LogPluginName) {
		out = append(out, LogPlugin{})
	}
	return out
}
