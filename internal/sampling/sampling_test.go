package sampling

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/szibis/apptrack/internal/prefs"
)

func TestDecideLowRatesAlwaysParticipate(t *testing.T) {
	for _, rate := range []int{-3, 0, 1} {
		for _, id := range []string{"", "a", "6123456789012345678"} {
			if !Decide(id, rate) {
				t.Errorf("Decide(%q, %d) = false, want true", id, rate)
			}
		}
	}
}

func TestDecideDeterministicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("same id and rate give the same verdict", prop.ForAll(
		func(id string, rate int) bool {
			first := Decide(id, rate)
			for i := 0; i < 5; i++ {
				if Decide(id, rate) != first {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
		gen.IntRange(-5, 1000),
	))

	properties.TestingRun(t)
}

func TestDecideDistribution(t *testing.T) {
	const rate, devices = 10, 20000
	in := 0
	for i := 0; i < devices; i++ {
		if Decide(fmt.Sprintf("device-%d", i), rate) {
			in++
		}
	}
	// Expect roughly devices/rate participants.
	if in < devices/rate/2 || in > devices/rate*2 {
		t.Errorf("participants = %d, expected about %d", in, devices/rate)
	}
}

func TestCachedPersistsAndReuses(t *testing.T) {
	s := prefs.NewMemory()

	got := Cached(s, "device-1", 4)
	if got != Decide("device-1", 4) {
		t.Fatalf("Cached disagrees with Decide")
	}
	if rate, ok, _ := prefs.GetInt(s, prefs.KeySampling); !ok || rate != 4 {
		t.Errorf("stored rate = %d, %v", rate, ok)
	}

	// Flip the stored verdict: a cached value for the same device and rate
	// must win over recomputation.
	_ = prefs.SetBool(s, prefs.KeyIsSampling, got)
	if Cached(s, "device-1", 4) != !got {
		t.Error("cached verdict not reused")
	}
}

func TestCachedRecomputesOnRateOrDeviceChange(t *testing.T) {
	s := prefs.NewMemory()
	_ = prefs.SetBool(s, prefs.KeyIsSampling, true)
	_ = prefs.SetInt(s, prefs.KeySampling, 4)
	_ = s.Set(prefs.KeySamplingDevice, "device-1")

	// Rate 1: everybody participates, stale exclusion must not survive.
	if !Cached(s, "device-1", 1) {
		t.Error("rate change did not trigger recomputation")
	}
	if excluded, _, _ := prefs.GetBool(s, prefs.KeyIsSampling); excluded {
		t.Error("recomputed verdict not persisted")
	}

	_ = prefs.SetBool(s, prefs.KeyIsSampling, true)
	if !Cached(s, "device-2", 1) {
		t.Error("device change did not trigger recomputation")
	}
}

func TestCachedStoreFailure(t *testing.T) {
	s := prefs.NewMemory()
	s.Close()

	if Cached(s, "device-1", 3) != Decide("device-1", 3) {
		t.Error("store failure should fall back to the computed verdict")
	}
}
