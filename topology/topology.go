/*
Package topology loads declarative pipeline descriptions and
instantiates them through the IPC handler. Documents are TOML: class
instances of pipelines, widgets and buffers, plus the routes wiring
them together.

Connection ids must be unique per pipeline and routes may only
reference defined ids; ambiguous documents are rejected outright, never
guessed at.
*/
package topology

import (
	"errors"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"

	"github.com/aupipe/adsp/audio"
)

var (
	// ErrInvalid rejects documents that fail validation.
	ErrInvalid = errors.New("invalid topology")
	// ErrUnknownClass rejects widgets with no registered driver.
	ErrUnknownClass = errors.New("unknown widget class")
)

// Pipeline declares one scheduling unit.
type Pipeline struct {
	ID         uint32 `toml:"id"`
	Core       int    `toml:"core"`
	Priority   int    `toml:"priority"`
	PeriodUS   uint32 `toml:"period"`
	DeadlineUS uint32 `toml:"deadline"`
	TimeDomain string `toml:"time_domain"`
	Direction  string `toml:"direction"`
	Channels   [2]int `toml:"channels"`
	Rate       [2]int `toml:"rate"`
	LPMode     bool   `toml:"lp_mode"`
	Dynamic    bool   `toml:"dynamic_pipeline"`
	// Scheduler is the scheduling component; defaults to the first
	// widget of the pipeline.
	Scheduler uint32 `toml:"scheduler"`
}

// Widget declares one component instance.
type Widget struct {
	ID       uint32 `toml:"id"`
	Class    string `toml:"class"`
	Pipeline uint32 `toml:"pipeline"`

	Host *HostDecl `toml:"host"`
	DAI  *DAIDecl  `toml:"dai"`
	Gain *GainDecl `toml:"gain"`
	SRC  *SRCDecl  `toml:"src"`
	EQ   *EQDecl   `toml:"eq"`
	Tone *ToneDecl `toml:"tone"`
}

// HostDecl carries host copier settings.
type HostDecl struct {
	Formats     []string `toml:"formats"`
	RingPeriods int      `toml:"ring_periods"`
}

// DAIDecl carries DAI copier settings.
type DAIDecl struct {
	Format      string `toml:"format"`
	WirePeriods int    `toml:"wire_periods"`
}

// GainDecl carries gain settings.
type GainDecl struct {
	InitialQ16 uint32 `toml:"initial_q16"`
	RampFrames int    `toml:"ramp_frames"`
}

// SRCDecl carries sample-rate converter settings.
type SRCDecl struct {
	InRate        int `toml:"in_rate"`
	OutRate       int `toml:"out_rate"`
	WindowPeriods int `toml:"window_periods"`
}

// EQDecl carries equalizer settings.
type EQDecl struct {
	Domain string `toml:"domain"`
}

// ToneDecl carries tone generator settings.
type ToneDecl struct {
	FrequencyHz float64 `toml:"frequency_hz"`
	Amplitude   float64 `toml:"amplitude"`
}

// Buffer declares one connection buffer.
type Buffer struct {
	ID       uint32 `toml:"id"`
	Pipeline uint32 `toml:"pipeline"`
	// Periods sizes the buffer in pipeline periods; defaults to 2.
	Periods int `toml:"periods"`
	// Format names the sample format; defaults to s32le.
	Format string `toml:"format"`
}

// Route wires a source object to a sink object. Exactly one end of
// every route is a buffer.
type Route struct {
	Source string `toml:"source"`
	Sink   string `toml:"sink"`
}

// Document is one topology file.
type Document struct {
	Pipelines []Pipeline `toml:"pipeline"`
	Widgets   []Widget   `toml:"widget"`
	Buffers   []Buffer   `toml:"buffer"`
	Routes    []Route    `toml:"route"`
}

// Parse reads and validates a TOML topology document.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks id uniqueness, route references and per-pipeline
// settings.
func (d *Document) Validate() error {
	pipes := map[uint32]bool{}
	for _, p := range d.Pipelines {
		if pipes[p.ID] {
			return fmt.Errorf("%w: duplicate pipeline %d", ErrInvalid, p.ID)
		}
		pipes[p.ID] = true
		switch p.TimeDomain {
		case "", "timer", "dma":
		default:
			return fmt.Errorf("%w: pipeline %d time_domain %q", ErrInvalid, p.ID, p.TimeDomain)
		}
		switch p.Direction {
		case "", "playback", "capture":
		default:
			return fmt.Errorf("%w: pipeline %d direction %q", ErrInvalid, p.ID, p.Direction)
		}
		if p.Channels[0] > p.Channels[1] || p.Rate[0] > p.Rate[1] {
			return fmt.Errorf("%w: pipeline %d has inverted ranges", ErrInvalid, p.ID)
		}
	}

	// connection ids are unique per pipeline; a reused id is the
	// ambiguity the loader refuses to resolve
	perPipe := map[uint32]map[uint32]bool{}
	objects := map[uint32]string{}
	claim := func(pipe, id uint32, kind string) error {
		if !pipes[pipe] {
			return fmt.Errorf("%w: %s %d references pipeline %d", ErrInvalid, kind, id, pipe)
		}
		ids := perPipe[pipe]
		if ids == nil {
			ids = map[uint32]bool{}
			perPipe[pipe] = ids
		}
		if ids[id] {
			return fmt.Errorf("%w: duplicate id %d in pipeline %d", ErrInvalid, id, pipe)
		}
		if objects[id] != "" {
			return fmt.Errorf("%w: id %d reused across pipelines", ErrInvalid, id)
		}
		ids[id] = true
		objects[id] = kind
		return nil
	}
	for _, w := range d.Widgets {
		if w.Class == "" {
			return fmt.Errorf("%w: widget %d without class", ErrInvalid, w.ID)
		}
		if err := claim(w.Pipeline, w.ID, "widget"); err != nil {
			return err
		}
	}
	for _, b := range d.Buffers {
		if err := claim(b.Pipeline, b.ID, "buffer"); err != nil {
			return err
		}
	}

	for _, r := range d.Routes {
		srcID, _, err := parseRef(r.Source)
		if err != nil {
			return err
		}
		snkID, _, err := parseRef(r.Sink)
		if err != nil {
			return err
		}
		srcKind, snkKind := objects[srcID], objects[snkID]
		if srcKind == "" {
			return fmt.Errorf("%w: route source %q undefined", ErrInvalid, r.Source)
		}
		if snkKind == "" {
			return fmt.Errorf("%w: route sink %q undefined", ErrInvalid, r.Sink)
		}
		if (srcKind == "buffer") == (snkKind == "buffer") {
			return fmt.Errorf("%w: route %q -> %q must join a widget and a buffer",
				ErrInvalid, r.Source, r.Sink)
		}
	}
	return nil
}

// parseRef splits an "id" or "id.pin" object reference.
func parseRef(s string) (id uint32, pin int, err error) {
	var n int
	n, err = fmt.Sscanf(s, "%d.%d", &id, &pin)
	if n == 2 && err == nil {
		return id, pin, nil
	}
	n, err = fmt.Sscanf(s, "%d", &id)
	if n == 1 {
		return id, 0, nil
	}
	return 0, 0, fmt.Errorf("%w: object reference %q", ErrInvalid, s)
}

// parseFormat resolves a format name against a pipeline declaration.
func parseFormat(name string, rate, channels int) (audio.Format, error) {
	switch name {
	case "", "s32le":
		return audio.S32LE(rate, channels), nil
	case "s24le":
		return audio.S24LE(rate, channels), nil
	case "s16le":
		return audio.S16LE(rate, channels), nil
	}
	return audio.Format{}, fmt.Errorf("%w: format %q", ErrInvalid, name)
}
