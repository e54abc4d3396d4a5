package model

import "fmt"

// Engine identifies an audio engine on the device.
type Engine string

const (
	// EngineGranular is the granular texture engine.
	EngineGranular Engine = "granular"

	// EngineDrone is the sustained drone engine.
	EngineDrone Engine = "drone"

	// EnginePulse is the rhythmic pulse engine.
	EnginePulse Engine = "pulse"

	// EngineMaster addresses the master output section.
	EngineMaster Engine = "master"
)

// IsValid returns true if the engine tag is known.
func (e Engine) IsValid() bool {
	_, ok := engineParams[e]
	return ok
}

// String returns the engine tag.
func (e Engine) String() string { return string(e) }

// Range is the closed value domain of a parameter.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}

// unit is the normalized [0, 1] parameter domain.
var unit = Range{Min: 0, Max: 1}

// engineParams declares the parameter keys each engine accepts,
// together with their value domains. Normalized parameters use [0, 1];
// the remainder carry engine-specific absolute ranges matching the
// device firmware.
var engineParams = map[Engine]map[string]Range{
	EngineGranular: {
		"density":    unit,
		"grain_size": unit,
		"spread":     unit,
		"pitch":      {Min: -12, Max: 12}, // semitones
	},
	EngineDrone: {
		"depth":    unit,
		"shimmer":  unit,
		"detune":   {Min: -50, Max: 50}, // cents
		"movement": unit,
	},
	EnginePulse: {
		"rate":  {Min: 0.1, Max: 8}, // Hz
		"swing": unit,
		"decay": unit,
	},
	EngineMaster: {
		"volume":     unit,
		"reverb_mix": unit,
		"tempo":      {Min: 20, Max: 240}, // BPM
	},
}

// LookupParam returns the declared range for an engine parameter.
func LookupParam(engine Engine, param string) (Range, error) {
	params, ok := engineParams[engine]
	if !ok {
		return Range{}, &ValidationError{
			Target: string(engine),
			Reason: "unknown engine",
		}
	}
	r, ok := params[param]
	if !ok {
		return Range{}, &ValidationError{
			Target: string(engine) + "." + param,
			Reason: "unknown parameter",
		}
	}
	return r, nil
}

// Params returns the parameter keys an engine accepts.
func Params(engine Engine) []string {
	params := engineParams[engine]
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	return keys
}

// Engines returns the known engine tags.
func Engines() []Engine {
	return []Engine{EngineGranular, EngineDrone, EnginePulse, EngineMaster}
}
