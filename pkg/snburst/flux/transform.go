package flux

import (
	"fmt"
	"sort"
)

// Standard oscillation parameters (PDG central values).
const (
	sinSqTheta12 = 0.307
	sinSqTheta13 = 0.0220
)

// Transformation models the flavor conversion applied between emission and
// detection. P and PBar are the electron-flavor survival probabilities for
// neutrinos and antineutrinos; the remaining flux is redistributed among the
// heavy-lepton species.
type Transformation struct {
	Name string
	P    float64
	PBar float64
}

var transformations = map[string]Transformation{
	"NoTransformation": {
		Name: "NoTransformation",
		P:    1,
		PBar: 1,
	},
	// Adiabatic MSW conversion, normal mass ordering: nu_e exit as nu_3.
	"AdiabaticMSW_NMO": {
		Name: "AdiabaticMSW_NMO",
		P:    sinSqTheta13,
		PBar: (1 - sinSqTheta12) * (1 - sinSqTheta13),
	},
	// Adiabatic MSW conversion, inverted mass ordering: anti-nu_e exit as
	// anti-nu_3.
	"AdiabaticMSW_IMO": {
		Name: "AdiabaticMSW_IMO",
		P:    sinSqTheta12 * (1 - sinSqTheta13),
		PBar: sinSqTheta13,
	},
}

// LookupTransformation resolves a flavor transformation by name.
func LookupTransformation(name string) (Transformation, error) {
	if name == "" {
		name = "NoTransformation"
	}
	t, ok := transformations[name]
	if !ok {
		return Transformation{}, fmt.Errorf("unknown flavor transformation %q (known: %v)",
			name, TransformationNames())
	}
	return t, nil
}

// TransformationNames lists the registered transformations, sorted.
func TransformationNames() []string {
	names := make([]string, 0, len(transformations))
	for name := range transformations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply converts unoscillated per-species fluences (nu_e, anti-nu_e, one
// heavy-lepton species) into the fluences arriving at the detector. Total
// neutrino number is conserved: the electron-flavor deficit reappears split
// evenly across the two heavy-lepton neutrino species, and likewise for
// antineutrinos.
func (t Transformation) Apply(nue, nuebar, nux float64) (outNuE, outNuEBar, outNuX, outNuXBar float64) {
	outNuE = t.P*nue + (1-t.P)*nux
	outNuX = 0.5 * ((1-t.P)*nue + (1+t.P)*nux)
	outNuEBar = t.PBar*nuebar + (1-t.PBar)*nux
	outNuXBar = 0.5 * ((1-t.PBar)*nuebar + (1+t.PBar)*nux)
	return
}
