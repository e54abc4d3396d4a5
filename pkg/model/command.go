package model

import (
	"fmt"
	"time"
)

// ValidationError reports a command that failed contract checks at
// construction. It is the caller's fault and is never retried.
type ValidationError struct {
	Target string
	Value  float64
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Target == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Target, e.Reason)
}

// Command is one parameter-set instruction for a device engine.
// Immutable once constructed; a Command that exists has already
// passed range validation.
type Command struct {
	Engine   Engine
	Param    string
	Value    float64
	IssuedAt time.Time
}

// NewCommand validates engine, parameter, and value and returns the
// command. Unknown targets and out-of-domain values fail here, not at
// the device.
func NewCommand(engine Engine, param string, value float64) (Command, error) {
	r, err := LookupParam(engine, param)
	if err != nil {
		return Command{}, err
	}
	if !r.Contains(value) {
		return Command{}, &ValidationError{
			Target: string(engine) + "." + param,
			Value:  value,
			Reason: fmt.Sprintf("value %v outside %s", value, r),
		}
	}
	return Command{
		Engine:   engine,
		Param:    param,
		Value:    value,
		IssuedAt: time.Now(),
	}, nil
}

// NewElementCommand validates a single-element set on the elemental
// bus. Element axes are always normalized to [-1, 1].
func NewElementCommand(element Element, value float64) (Command, error) {
	if !element.IsValid() {
		return Command{}, &ValidationError{
			Target: string(element),
			Reason: "unknown element",
		}
	}
	if value < -1.0 || value > 1.0 {
		return Command{}, &ValidationError{
			Target: string(element),
			Value:  value,
			Reason: fmt.Sprintf("value %v outside [-1, 1]", value),
		}
	}
	return Command{
		Engine:   EngineElements,
		Param:    string(element),
		Value:    value,
		IssuedAt: time.Now(),
	}, nil
}

// EngineElements is the pseudo-engine tag addressing single axes of
// the elemental bus through the command path.
const EngineElements Engine = "elements"
