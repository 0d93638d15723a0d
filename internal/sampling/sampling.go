// Package sampling decides whether a device takes part in tracking.
package sampling

import (
	"github.com/cespare/xxhash/v2"
	"github.com/szibis/apptrack/internal/logging"
	"github.com/szibis/apptrack/internal/prefs"
)

// Decide reports whether the device participates at the given rate.
// A rate of 1 or less means every device participates; otherwise a device
// participates iff hash(deviceID) mod rate == 0.
func Decide(deviceID string, rate int) bool {
	if rate <= 1 {
		return true
	}
	return xxhash.Sum64String(deviceID)%uint64(rate) == 0
}

// Cached returns the participation verdict for deviceID at rate, reusing the
// verdict stored in s when it was computed for the same device and rate.
// A fresh verdict is written back so later runs stay stable even if the
// hashing changes. Store failures are logged and the fresh verdict is used.
func Cached(s prefs.Store, deviceID string, rate int) bool {
	if cached, ok := lookup(s, deviceID, rate); ok {
		return cached
	}

	participates := Decide(deviceID, rate)

	// The stored flag is the inverse: "issampling" means excluded.
	if err := prefs.SetBool(s, prefs.KeyIsSampling, !participates); err != nil {
		logging.Warn("failed to persist sampling decision", logging.F("error", err.Error()))
		return participates
	}
	if err := prefs.SetInt(s, prefs.KeySampling, rate); err != nil {
		logging.Warn("failed to persist sampling rate", logging.F("error", err.Error()))
	}
	if err := s.Set(prefs.KeySamplingDevice, deviceID); err != nil {
		logging.Warn("failed to persist sampling device", logging.F("error", err.Error()))
	}

	logging.Info("sampling decision computed", logging.F(
		"sampling_rate", rate,
		"participates", participates,
	))
	return participates
}

func lookup(s prefs.Store, deviceID string, rate int) (bool, bool) {
	excluded, ok, err := prefs.GetBool(s, prefs.KeyIsSampling)
	if err != nil || !ok {
		return false, false
	}
	storedRate, ok, err := prefs.GetInt(s, prefs.KeySampling)
	if err != nil || !ok || storedRate != rate {
		return false, false
	}
	device, ok, err := s.Get(prefs.KeySamplingDevice)
	if err != nil || !ok || device != deviceID {
		return false, false
	}
	return !excluded, true
}
