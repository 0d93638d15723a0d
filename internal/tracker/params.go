package tracker

import (
	"maps"
	"strconv"

	"github.com/szibis/apptrack/internal/device"
	"github.com/szibis/apptrack/internal/logging"
	"github.com/szibis/apptrack/internal/param"
)

// Auto-collected custom parameter names. Configuration params use them as
// placeholder values, e.g. {cp2: "appVersion"}.
const (
	customAppVersion        = "appVersion"
	customAppVersionCode    = "appVersionCode"
	customAppPreinstalled   = "appPreinstalled"
	customAppUpdated        = "appUpdated"
	customAPILevel          = "apiLevel"
	customScreenOrientation = "screenOrientation"
	customConnectionType    = "connectionType"
	customQueueSize         = "requestUrlStoreSize"
	customAdvertiserID      = "advertiserId"
	customAdvertisingOptOut = "advertisingOptOut"
)

// SetGlobalParams replaces the parameters added to every full record for
// the rest of the process lifetime.
func (t *Tracker) SetGlobalParams(p *param.Params) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.globals = p.Clone()
}

// GlobalParams returns a copy of the code-set global parameters.
func (t *Tracker) GlobalParams() *param.Params {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globals.Clone()
}

// SetCustomParams adds substitutions for placeholder values. They last until
// the current screen ends.
func (t *Tracker) SetCustomParams(custom map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	maps.Copy(t.custom, custom)
}

// CustomParams returns a copy of the host-set substitutions.
func (t *Tracker) CustomParams() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.custom)
}

func (t *Tracker) initAutoCustomParams() {
	auto := t.cfg.AutoTrack
	facts := t.opts.Device.Snapshot()

	if auto.AppVersionName {
		t.autoCustom[customAppVersion] = facts.AppVersionName
	}
	if auto.AppVersionCode {
		t.autoCustom[customAppVersionCode] = strconv.Itoa(facts.AppVersionCode)
	}
	if auto.AppPreinstalled {
		t.autoCustom[customAppPreinstalled] = strconv.FormatBool(facts.Preinstalled)
	}
	if auto.AppUpdate {
		updated, err := device.Updated(t.opts.Store, facts.AppVersionCode)
		if err != nil {
			logging.Warn("failed to track app version", logging.F("error", err.Error()))
		}
		t.autoCustom[customAppUpdated] = flag(updated)
	}
	if auto.APILevel {
		t.autoCustom[customAPILevel] = facts.APILevel
	}
}

// refreshDynamicCustomParams updates the values that can change between
// records. Caller holds t.mu.
func (t *Tracker) refreshDynamicCustomParams(facts device.Facts) {
	auto := t.cfg.AutoTrack
	if auto.ScreenOrientation {
		t.autoCustom[customScreenOrientation] = facts.Orientation
	}
	if auto.ConnectionType {
		t.autoCustom[customConnectionType] = facts.Connection
	}
	if auto.RequestQueueSize {
		t.autoCustom[customQueueSize] = strconv.Itoa(t.queue.Len())
	}
}

// customTable overlays the auto-collected values on the host-set ones.
// Caller holds t.mu.
func (t *Tracker) customTable() map[string]string {
	out := make(map[string]string, len(t.custom)+len(t.autoCustom))
	maps.Copy(out, t.custom)
	maps.Copy(out, t.autoCustom)
	return out
}
