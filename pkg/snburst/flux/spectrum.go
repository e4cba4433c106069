package flux

import "math"

// Physical constants used to turn erg luminosities at kpc distances into
// number fluences per cm^2.
const (
	ErgPerMeV = 1.602176634e-6
	CmPerKpc  = 3.0856775814913673e21
)

// The SNOwGLoBES energy grid: 501 points spanning 0-100 MeV.
const (
	EnergyBins    = 501
	EnergyMaxMeV  = 100.0
	EnergyStepMeV = EnergyMaxMeV / float64(EnergyBins-1)
)

// EnergyGridMeV returns the toolkit's energy grid in MeV.
func EnergyGridMeV() []float64 {
	grid := make([]float64, EnergyBins)
	for i := range grid {
		grid[i] = float64(i) * EnergyStepMeV
	}
	return grid
}

// PinchedSpectrum evaluates the alpha-pinched ("Garching") spectral shape
//
//	f(E) = (a+1)^(a+1) / (<E> Gamma(a+1)) * (E/<E>)^a * exp(-(a+1) E/<E>)
//
// normalized so that the integral over all energies is one. emean and e are
// in MeV; the result is per MeV.
func PinchedSpectrum(e, emean, alpha float64) float64 {
	if e <= 0 || emean <= 0 {
		return 0
	}
	a1 := alpha + 1
	// Work in log space: for large alpha the individual factors overflow
	// long before the product does.
	logf := a1*math.Log(a1) - math.Log(emean) - logGamma(a1) +
		alpha*math.Log(e/emean) - a1*e/emean
	return math.Exp(logf)
}

func logGamma(x float64) float64 {
	lg, _ := math.Lgamma(x)
	return lg
}
