// Package profile holds the static capability record for a plotter model.
// The lookup table of real-world models is an external concern (the CLI's
// configuration layer owns it); this package only defines the struct the
// core consumes and a minimal case-insensitive registry useful for tests
// and for a caller that has no richer table of its own.
package profile

import "strings"

// DeviceProfile describes the immutable capabilities of a plotter model.
type DeviceProfile struct {
	Model        string
	PaperWidthMM float64
	PaperHeightMM float64
	SpeedMMS     float64
	AccelMMS2    float64
	StepsPerMM   float64
}

// Default is the profile returned for the case-insensitive name "default".
var Default = DeviceProfile{
	Model:         "default",
	PaperWidthMM:  297,
	PaperHeightMM: 210,
	SpeedMMS:      50,
	AccelMMS2:     800,
	StepsPerMM:    80,
}

var builtin = map[string]DeviceProfile{
	"default": Default,
}

// Register adds or replaces a profile under a case-insensitive name.
func Register(p DeviceProfile) {
	builtin[strings.ToLower(p.Model)] = p
}

// Lookup resolves a model name (case-insensitive), falling back to
// "default" when name is empty.
func Lookup(name string) (DeviceProfile, bool) {
	if name == "" {
		name = "default"
	}
	p, ok := builtin[strings.ToLower(name)]
	return p, ok
}
