// Package model defines the control vocabulary of an Aether device.
//
// Engines, parameter keys, and elements are validated tagged values
// rather than free strings. A command that names an unknown engine,
// an unknown parameter, or a value outside the parameter's declared
// range is rejected at construction time, before anything reaches
// the wire.
package model
