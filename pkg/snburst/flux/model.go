package flux

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Flavor indexes the three species groups of the pinched parameterization.
// NuX stands for each of the four heavy-lepton species individually.
type Flavor int

const (
	NuE Flavor = iota
	NuEBar
	NuX

	NumFlavors = 3
)

func (f Flavor) String() string {
	switch f {
	case NuE:
		return "nu_e"
	case NuEBar:
		return "nu_e_bar"
	case NuX:
		return "nu_x"
	default:
		return "unknown"
	}
}

// Sample is one time slice of the emission profile.
type Sample struct {
	Time  float64             // seconds post-bounce
	Lum   [NumFlavors]float64 // erg/s per species
	Emean [NumFlavors]float64 // MeV
	Alpha [NumFlavors]float64 // pinching parameter
}

// PinchedModel is a supernova emission profile in the three-species pinched
// parameterization: per time sample, a luminosity, mean energy and pinching
// parameter for nu_e, anti-nu_e and nu_x.
type PinchedModel struct {
	Name    string
	Samples []Sample
}

// pinched model files carry exactly these columns, in order
const modelColumns = 10

// LoadPinchedModel reads a whitespace-separated model table. Lines starting
// with '#' are comments. Rows are sorted by time; duplicate times keep the
// last row.
func LoadPinchedModel(path string) (*PinchedModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening model file: %w", err)
	}
	defer f.Close()

	model := &PinchedModel{Name: stem(path)}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != modelColumns {
			return nil, fmt.Errorf("model %s line %d: expected %d columns, got %d",
				path, lineNo, modelColumns, len(fields))
		}
		vals := make([]float64, modelColumns)
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("model %s line %d column %d: %w", path, lineNo, i+1, err)
			}
			vals[i] = v
		}
		model.Samples = append(model.Samples, Sample{
			Time:  vals[0],
			Lum:   [NumFlavors]float64{vals[1], vals[2], vals[3]},
			Emean: [NumFlavors]float64{vals[4], vals[5], vals[6]},
			Alpha: [NumFlavors]float64{vals[7], vals[8], vals[9]},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	if len(model.Samples) == 0 {
		return nil, fmt.Errorf("model %s contains no data rows", path)
	}

	sort.SliceStable(model.Samples, func(i, j int) bool {
		return model.Samples[i].Time < model.Samples[j].Time
	})
	dedup := model.Samples[:0]
	for _, s := range model.Samples {
		if n := len(dedup); n > 0 && dedup[n-1].Time == s.Time {
			dedup[n-1] = s
			continue
		}
		dedup = append(dedup, s)
	}
	model.Samples = dedup

	return model, nil
}

// TimeRange returns the first and last sample times.
func (m *PinchedModel) TimeRange() (float64, float64) {
	return m.Samples[0].Time, m.Samples[len(m.Samples)-1].Time
}

// At interpolates the emission parameters linearly at time t. Outside the
// sampled range the luminosities are zero: the model emits nothing before
// its first or after its last sample.
func (m *PinchedModel) At(t float64) Sample {
	first, last := m.TimeRange()
	if t < first || t > last {
		s := Sample{Time: t}
		// Keep spectral parameters sane so downstream code never divides
		// by a zero mean energy.
		ref := m.Samples[0]
		if t > last {
			ref = m.Samples[len(m.Samples)-1]
		}
		s.Emean = ref.Emean
		s.Alpha = ref.Alpha
		return s
	}

	idx := sort.Search(len(m.Samples), func(i int) bool {
		return m.Samples[i].Time >= t
	})
	if idx == 0 || m.Samples[idx].Time == t {
		return m.Samples[idx]
	}

	lo, hi := m.Samples[idx-1], m.Samples[idx]
	frac := (t - lo.Time) / (hi.Time - lo.Time)
	out := Sample{Time: t}
	for f := 0; f < NumFlavors; f++ {
		out.Lum[f] = lo.Lum[f] + frac*(hi.Lum[f]-lo.Lum[f])
		out.Emean[f] = lo.Emean[f] + frac*(hi.Emean[f]-lo.Emean[f])
		out.Alpha[f] = lo.Alpha[f] + frac*(hi.Alpha[f]-lo.Alpha[f])
	}
	return out
}

func stem(path string) string {
	base := path
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return base
}
