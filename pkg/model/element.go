package model

import "fmt"

// Element identifies one axis of the elemental mix bus.
type Element string

const (
	ElementEarth Element = "earth"
	ElementAir   Element = "air"
	ElementWater Element = "water"
	ElementFire  Element = "fire"
)

// Elements returns the element set in canonical wire order.
// The device firmware packs bus updates in this order.
func Elements() []Element {
	return []Element{ElementEarth, ElementAir, ElementWater, ElementFire}
}

// ElementCount is the size of the elemental bus.
const ElementCount = 4

// IsValid returns true if the element is part of the fixed set.
func (e Element) IsValid() bool {
	switch e {
	case ElementEarth, ElementAir, ElementWater, ElementFire:
		return true
	default:
		return false
	}
}

// ElementFrame is one atomic whole-bus update. Every element carries
// a value in [-1, 1]. The device applies a frame as a unit; it is
// never split across wire messages.
type ElementFrame map[Element]float64

// NewElementFrame builds a complete frame from the given values.
// Elements not present in values default to 0. Unknown element names
// or out-of-range values yield a ValidationError.
func NewElementFrame(values map[Element]float64) (ElementFrame, error) {
	frame := make(ElementFrame, ElementCount)
	for _, e := range Elements() {
		frame[e] = 0
	}
	for e, v := range values {
		if !e.IsValid() {
			return nil, &ValidationError{
				Target: string(e),
				Reason: "unknown element",
			}
		}
		if v < -1.0 || v > 1.0 {
			return nil, &ValidationError{
				Target: string(e),
				Value:  v,
				Reason: fmt.Sprintf("value %v outside [-1, 1]", v),
			}
		}
		frame[e] = v
	}
	return frame, nil
}

// Values returns the frame values in canonical wire order.
func (f ElementFrame) Values() []float64 {
	out := make([]float64, 0, ElementCount)
	for _, e := range Elements() {
		out = append(out, f[e])
	}
	return out
}
