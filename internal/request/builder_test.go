package request

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/szibis/apptrack/internal/config"
	"github.com/szibis/apptrack/internal/device"
	"github.com/szibis/apptrack/internal/param"
)

var (
	keyX = param.Slot(param.PageCategory, 1)
	keyY = param.Slot(param.PageCategory, 2)
)

func fixedBuilder() *Builder {
	at := time.UnixMilli(1700000000123)
	return &Builder{now: func() time.Time { return at }}
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		Version:     1,
		TrackID:     "123451234512345",
		TrackDomain: "https://collector.example.com/",
		SendDelay:   30,
		MaxRequests: 100,
		Sampling:    0,
	}
}

func facts() device.Facts {
	return device.Facts{
		Resolution: "A",
		Depth:      "32",
		Timezone:   "1",
		UserAgent:  "Tracking Library 4.0 (linux; amd64; en)",
		Language:   "en",
	}
}

func value(t *testing.T, r *Record, k param.Key) string {
	t.Helper()
	v, ok := r.Get(k)
	if !ok {
		t.Fatalf("record has no %s", k)
	}
	return v
}

func TestOverridePrecedence(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalParams = param.New().Set(keyX, "2").Set(keyY, "3")
	cfg.Screens = map[string]config.ScreenConfig{
		"Main": {Params: param.New().Set(keyY, "5")},
	}

	r, err := fixedBuilder().Build(BuildInput{
		Call:    param.New().Set(keyX, "4"),
		Screen:  "Main",
		Facts:   facts(),
		Globals: param.New().Set(keyX, "1"),
		Config:  cfg,
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := value(t, r, keyX); got != "4" {
		t.Errorf("x = %q, want 4", got)
	}
	if got := value(t, r, keyY); got != "5" {
		t.Errorf("y = %q, want 5", got)
	}
	if got := value(t, r, param.Named(param.ScreenResolution)); got != "A" {
		t.Errorf("res = %q, want A", got)
	}
}

func TestLayerOrder(t *testing.T) {
	tests := []struct {
		name string
		in   func(*BuildInput)
		want string
	}{
		{"code globals over facts", func(in *BuildInput) {
			in.Globals = param.New().SetName(param.Timezone, "g")
		}, "g"},
		{"config globals over code globals", func(in *BuildInput) {
			in.Globals = param.New().SetName(param.Timezone, "g")
			in.Config.GlobalParams = param.New().SetName(param.Timezone, "c")
		}, "c"},
		{"call over config globals", func(in *BuildInput) {
			in.Config.GlobalParams = param.New().SetName(param.Timezone, "c")
			in.Call = param.New().SetName(param.Timezone, "call")
		}, "call"},
		{"screen over call", func(in *BuildInput) {
			in.Call = param.New().SetName(param.Timezone, "call")
			in.Config.Screens = map[string]config.ScreenConfig{
				"Main": {Params: param.New().SetName(param.Timezone, "screen")},
			}
		}, "screen"},
		{"internal over screen", func(in *BuildInput) {
			in.Config.Screens = map[string]config.ScreenConfig{
				"Main": {Params: param.New().SetName(param.Timezone, "screen")},
			}
			in.Internal = param.New().SetName(param.Timezone, "internal")
		}, "internal"},
		{"mapping substitutes the final value", func(in *BuildInput) {
			in.Internal = param.New().SetName(param.Timezone, "placeholder")
			in.Custom = map[string]string{"placeholder": "mapped"}
		}, "mapped"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := BuildInput{Screen: "Main", Facts: facts(), Config: testConfig()}
			tt.in(&in)
			r, err := fixedBuilder().Build(in)
			if err != nil {
				t.Fatal(err)
			}
			if got := value(t, r, param.Named(param.Timezone)); got != tt.want {
				t.Errorf("tz = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScreenMappingName(t *testing.T) {
	cfg := testConfig()
	cfg.Screens = map[string]config.ScreenConfig{
		"com.example.MainActivity": {MappingName: "Home"},
	}
	r, err := fixedBuilder().Build(BuildInput{
		Screen: "com.example.MainActivity",
		Facts:  facts(),
		Config: cfg,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := value(t, r, param.Named(param.ActivityName)); got != "Home" {
		t.Errorf("activity name = %q, want Home", got)
	}
	if !strings.Contains(r.URL(), "p=400,Home,0,") {
		t.Errorf("URL = %q", r.URL())
	}
}

func TestFullRecordCarriesDeviceLayer(t *testing.T) {
	cfg := testConfig()
	cfg.Sampling = 10
	r, err := fixedBuilder().Build(BuildInput{
		Screen:   "Main",
		Facts:    facts(),
		EverID:   "abc",
		Config:   cfg,
		Internal: param.New().SetName(param.ForceNewSession, "1").SetName(param.AppFirstStart, "0"),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := map[param.Name]string{
		param.EverID:          "abc",
		param.Sampling:        "10",
		param.DevLang:         "en",
		param.Timestamp:       "1700000000123",
		param.ForceNewSession: "1",
		param.AppFirstStart:   "0",
	}
	for n, v := range want {
		if got := value(t, r, param.Named(n)); got != v {
			t.Errorf("%s = %q, want %q", param.Named(n), got, v)
		}
	}
}

func TestActionRecord(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalParams = param.New().Set(keyX, "global")
	cfg.Screens = map[string]config.ScreenConfig{
		"Main": {MappingName: "Home", Params: param.New().Set(keyY, "screen")},
	}

	r, err := fixedBuilder().Build(BuildInput{
		Call:     param.New().SetName(param.ActionName, "Action Button clicked"),
		Screen:   "Main",
		Facts:    facts(),
		EverID:   "abc",
		Globals:  param.New().Set(keyX, "code"),
		Config:   cfg,
		Internal: param.New().SetName(param.ForceNewSession, "1"),
		Custom:   map[string]string{"Action Button clicked": "rewritten"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsAction() {
		t.Fatal("expected an action record")
	}

	got := r.Params().Keys()
	want := []param.Key{
		param.Named(param.ActivityName),
		param.Named(param.Timestamp),
		param.Named(param.ScreenResolution),
		param.Named(param.ScreenDepth),
		param.Named(param.UserAgent),
		param.Named(param.ActionName),
	}
	if len(got) != len(want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key %d = %s, want %s", i, got[i], want[i])
		}
	}
	if v := value(t, r, param.Named(param.ActionName)); v != "Action Button clicked" {
		t.Errorf("action name = %q", v)
	}
	if v := value(t, r, param.Named(param.ActivityName)); v != "Main" {
		t.Errorf("activity name = %q, mapping must not apply", v)
	}
}

func TestDeliveryURL(t *testing.T) {
	cfg := testConfig()
	r, err := fixedBuilder().Build(BuildInput{
		Call:   param.New().SetName(param.ActionName, "Buy now & save"),
		Screen: "Main Screen",
		Facts:  facts(),
		Config: cfg,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "https://collector.example.com/123451234512345/wt?p=400,Main+Screen,0,A,32,0,1700000000123,0,0,0" +
		"&X-WT-UA=Tracking+Library+4.0+%28linux%3B+amd64%3B+en%29&ct=Buy+now+%26+save"
	if r.URL() != want {
		t.Errorf("URL() =\n  %s\nwant\n  %s", r.URL(), want)
	}
}

func TestRecordParamsIsACopy(t *testing.T) {
	r, err := fixedBuilder().Build(BuildInput{Screen: "Main", Facts: facts(), Config: testConfig()})
	if err != nil {
		t.Fatal(err)
	}
	r.Params().SetName(param.ActivityName, "changed")
	if v := value(t, r, param.Named(param.ActivityName)); v != "Main" {
		t.Errorf("record mutated through Params(): %q", v)
	}
}

func TestBuildWithoutConfiguration(t *testing.T) {
	if _, err := NewBuilder().Build(BuildInput{Screen: "Main"}); !errors.Is(err, ErrNoConfiguration) {
		t.Errorf("Build() error = %v, want ErrNoConfiguration", err)
	}
}
