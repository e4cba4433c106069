package flux

import (
	"fmt"
	"math"
)

// Spacing selects how time-window edges are distributed over a range.
type Spacing string

const (
	SpacingLinear Spacing = "linear"
	SpacingLog    Spacing = "log"
)

// Window is one time slice of the emission profile. Times are seconds
// post-bounce.
type Window struct {
	Start float64
	End   float64
	Mid   float64
}

// Width returns the window duration in seconds.
func (w Window) Width() float64 {
	return w.End - w.Start
}

// BuildWindows slices [tmin, tmax] into n contiguous windows. Log spacing
// distributes the edges logarithmically, which resolves the early burst
// phases without drowning in late-time bins; it requires tmin > 0.
func BuildWindows(tmin, tmax float64, n int, spacing Spacing) ([]Window, error) {
	if n <= 0 {
		return nil, fmt.Errorf("window count must be positive, got %d", n)
	}
	if tmax <= tmin {
		return nil, fmt.Errorf("invalid time range [%g, %g]", tmin, tmax)
	}

	edges := make([]float64, n+1)
	switch spacing {
	case SpacingLinear, "":
		step := (tmax - tmin) / float64(n)
		for i := 0; i <= n; i++ {
			edges[i] = tmin + float64(i)*step
		}
	case SpacingLog:
		if tmin <= 0 {
			return nil, fmt.Errorf("log spacing requires tmin > 0, got %g", tmin)
		}
		lo, hi := math.Log10(tmin), math.Log10(tmax)
		step := (hi - lo) / float64(n)
		for i := 0; i <= n; i++ {
			edges[i] = math.Pow(10, lo+float64(i)*step)
		}
	default:
		return nil, fmt.Errorf("unknown spacing %q", spacing)
	}
	// Pin the boundary edges so floating-point drift cannot leak emission
	// outside the requested range.
	edges[0] = tmin
	edges[n] = tmax

	windows := make([]Window, n)
	for i := 0; i < n; i++ {
		windows[i] = Window{
			Start: edges[i],
			End:   edges[i+1],
			Mid:   0.5 * (edges[i] + edges[i+1]),
		}
	}
	return windows, nil
}
