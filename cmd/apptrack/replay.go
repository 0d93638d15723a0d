package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/szibis/apptrack/internal/logging"
	"github.com/szibis/apptrack/internal/param"
)

// pipeline is the host-facing surface of the tracker driven by a script.
type pipeline interface {
	SessionStarted(screen string) error
	SessionEnded() error
	Track(params *param.Params)
	TrackAction(params *param.Params)
	SetCustomParams(custom map[string]string)
	SetGlobalParams(p *param.Params)
	SetOptOut(optOut bool) error
	Flush() bool
}

// event is one line of a replay script, e.g.
//
//	{"op":"start","screen":"home"}
//	{"op":"track","params":{"cg1":"promo"}}
//	{"op":"sleep","duration":"2s"}
type event struct {
	Op       string            `json:"op"`
	Screen   string            `json:"screen,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	Value    bool              `json:"value,omitempty"`
	Duration string            `json:"duration,omitempty"`
}

// replayResult tells the caller how the script ended.
type replayResult struct {
	Events   int
	Shutdown bool
}

const maxScriptLine = 1 << 20

// replay feeds a JSON-lines script into p. Blank lines and lines starting
// with '#' are skipped. A "shutdown" event ends the script early.
func replay(ctx context.Context, r io.Reader, p pipeline) (replayResult, error) {
	var res replayResult
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxScriptLine)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var ev event
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return res, fmt.Errorf("line %d: %w", line, err)
		}
		stop, err := apply(ctx, p, ev)
		if err != nil {
			return res, fmt.Errorf("line %d: %s: %w", line, ev.Op, err)
		}
		res.Events++
		if stop {
			res.Shutdown = true
			return res, nil
		}
	}
	return res, sc.Err()
}

func apply(ctx context.Context, p pipeline, ev event) (bool, error) {
	switch ev.Op {
	case "start":
		if ev.Screen == "" {
			return false, fmt.Errorf("screen is required")
		}
		return false, p.SessionStarted(ev.Screen)
	case "stop":
		return false, p.SessionEnded()
	case "track", "action", "global":
		params, err := param.FromMap(ev.Params)
		if err != nil {
			return false, err
		}
		switch ev.Op {
		case "track":
			p.Track(params)
		case "action":
			p.TrackAction(params)
		default:
			p.SetGlobalParams(params)
		}
		return false, nil
	case "custom":
		p.SetCustomParams(ev.Params)
		return false, nil
	case "optout":
		return false, p.SetOptOut(ev.Value)
	case "flush":
		if !p.Flush() {
			logging.Debug("flush not started")
		}
		return false, nil
	case "sleep":
		d, err := time.ParseDuration(ev.Duration)
		if err != nil {
			return false, err
		}
		return false, sleep(ctx, d)
	case "shutdown":
		return true, nil
	default:
		return false, fmt.Errorf("unknown op %q", ev.Op)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
