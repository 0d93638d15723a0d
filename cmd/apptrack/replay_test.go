package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/szibis/apptrack/internal/param"
)

type fakePipeline struct {
	calls   []string
	tracked []*param.Params
	custom  map[string]string
	optOut  bool
	endErr  error
}

func (f *fakePipeline) SessionStarted(screen string) error {
	f.calls = append(f.calls, "start:"+screen)
	return nil
}

func (f *fakePipeline) SessionEnded() error {
	f.calls = append(f.calls, "stop")
	return f.endErr
}

func (f *fakePipeline) Track(p *param.Params) {
	f.calls = append(f.calls, "track")
	f.tracked = append(f.tracked, p)
}

func (f *fakePipeline) TrackAction(p *param.Params) {
	f.calls = append(f.calls, "action")
	f.tracked = append(f.tracked, p)
}

func (f *fakePipeline) SetCustomParams(c map[string]string) {
	f.calls = append(f.calls, "custom")
	f.custom = c
}

func (f *fakePipeline) SetGlobalParams(*param.Params) { f.calls = append(f.calls, "global") }

func (f *fakePipeline) SetOptOut(v bool) error {
	f.calls = append(f.calls, "optout")
	f.optOut = v
	return nil
}

func (f *fakePipeline) Flush() bool {
	f.calls = append(f.calls, "flush")
	return true
}

func TestReplayScript(t *testing.T) {
	script := `
# warm up
{"op":"start","screen":"home"}
{"op":"custom","params":{"appVersion":"2"}}
{"op":"global","params":{"cg1":"g"}}
{"op":"track","params":{"cp2":"appVersion"}}
{"op":"action","params":{"ct":"buy"}}
{"op":"optout","value":true}
{"op":"flush"}
{"op":"sleep","duration":"1ms"}
{"op":"stop"}
`
	f := &fakePipeline{}
	res, err := replay(context.Background(), strings.NewReader(script), f)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Events != 9 || res.Shutdown {
		t.Errorf("result = %+v", res)
	}
	want := "start:home custom global track action optout flush stop"
	if got := strings.Join(f.calls, " "); got != want {
		t.Errorf("calls = %q, want %q", got, want)
	}
	if v, _ := f.tracked[0].Get(param.Slot(param.Page, 2)); v != "appVersion" {
		t.Errorf("track cp2 = %q", v)
	}
	if v, _ := f.tracked[1].Get(param.Named(param.ActionName)); v != "buy" {
		t.Errorf("action ct = %q", v)
	}
	if f.custom["appVersion"] != "2" || !f.optOut {
		t.Errorf("custom = %v, optOut = %v", f.custom, f.optOut)
	}
}

func TestReplayShutdownEndsScript(t *testing.T) {
	script := `{"op":"start","screen":"a"}
{"op":"shutdown"}
{"op":"stop"}
`
	f := &fakePipeline{}
	res, err := replay(context.Background(), strings.NewReader(script), f)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res.Shutdown || res.Events != 2 {
		t.Errorf("result = %+v", res)
	}
	if len(f.calls) != 1 {
		t.Errorf("events after shutdown were applied: %v", f.calls)
	}
}

func TestReplayErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"malformed json", `{"op":`, "line 1"},
		{"unknown op", `{"op":"jump"}`, `unknown op "jump"`},
		{"missing screen", `{"op":"start"}`, "screen is required"},
		{"bad param key", `{"op":"track","params":{"zz9":"x"}}`, "unknown parameter key"},
		{"bad duration", `{"op":"sleep","duration":"soon"}`, "line 1: sleep"},
		{"pipeline error", "\n" + `{"op":"stop"}`, "line 2: stop"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakePipeline{endErr: errors.New("no active screen")}
			_, err := replay(context.Background(), strings.NewReader(tt.script), f)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestReplaySleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := replay(ctx, strings.NewReader(`{"op":"sleep","duration":"1m"}`), &fakePipeline{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("sleep ignored the context")
	}
}
