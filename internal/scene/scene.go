// Package scene defines the engine-agnostic scene document produced by the
// upstream prompt parser. The dispatcher treats it as opaque except for the
// engine declared on the first timeline entry.
package scene

import "strings"

// Engine names a rendering engine a worker can execute.
type Engine string

const (
	EngineRemotion Engine = "remotion"
	EngineBlender  Engine = "blender"
	EngineManim    Engine = "manim"
	EngineFFmpeg   Engine = "ffmpeg"
)

// FallbackEngine is used when a scene declares no recognized engine.
const FallbackEngine = EngineRemotion

// Engines returns all known engines.
func Engines() []Engine {
	return []Engine{EngineRemotion, EngineBlender, EngineManim, EngineFFmpeg}
}

// ParseEngine normalizes an engine name. ok is false for unknown names.
func ParseEngine(s string) (Engine, bool) {
	switch Engine(strings.ToLower(strings.TrimSpace(s))) {
	case EngineRemotion:
		return EngineRemotion, true
	case EngineBlender:
		return EngineBlender, true
	case EngineManim:
		return EngineManim, true
	case EngineFFmpeg:
		return EngineFFmpeg, true
	default:
		return "", false
	}
}

// TimelineEntry is one segment of the scene. Entries after the first may
// reference other engines; only the first entry drives dispatch.
type TimelineEntry struct {
	Engine       string         `json:"engine,omitempty"`
	Kind         string         `json:"kind,omitempty"`
	DurationSecs float64        `json:"duration_secs,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
}

// Document is the structured description of what to render.
type Document struct {
	Version    int             `json:"version,omitempty"`
	Timeline   []TimelineEntry `json:"timeline"`
	Resolution string          `json:"resolution,omitempty"`
	AudioTrack string          `json:"audio_track,omitempty"`
}

// RequiredEngine derives the engine a worker must support to take this scene:
// the first timeline entry's engine, or FallbackEngine when it is absent or
// unrecognized.
func (d Document) RequiredEngine() Engine {
	if len(d.Timeline) == 0 {
		return FallbackEngine
	}
	if eng, ok := ParseEngine(d.Timeline[0].Engine); ok {
		return eng
	}
	return FallbackEngine
}
