package flux

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// FluenceRequest describes one fluence-generation job.
type FluenceRequest struct {
	ModelPath      string
	ModelType      string // currently "pinched"
	Transformation string
	DistanceKpc    float64
	OutputName     string
	OutputDir      string   // tarball destination; defaults to the model dir
	Windows        []Window // nil means one file integrated over the whole profile
}

// Fluence holds time-integrated, energy-binned number fluences per cm^2 for
// the six detector species, on the toolkit energy grid.
type Fluence struct {
	EnergyMeV []float64
	NuE       []float64
	NuMu      []float64
	NuTau     []float64
	ANuE      []float64
	ANuMu     []float64
	ANuTau    []float64
}

// GenerateFluence slices the emission profile into the requested time
// windows, integrates the number flux at the given distance, applies the
// flavor transformation, writes one SNOwGLoBES flux file per window, and
// packs them into <OutputName>.tar.gz. It returns the tarball path.
func GenerateFluence(ctx context.Context, req FluenceRequest) (string, error) {
	if req.DistanceKpc <= 0 {
		return "", fmt.Errorf("distance must be positive, got %g kpc", req.DistanceKpc)
	}
	if req.OutputName == "" {
		return "", fmt.Errorf("output name is required")
	}

	model, err := loadModel(req.ModelPath, req.ModelType)
	if err != nil {
		return "", err
	}
	trans, err := LookupTransformation(req.Transformation)
	if err != nil {
		return "", err
	}

	windows := req.Windows
	if len(windows) == 0 {
		first, last := model.TimeRange()
		windows = []Window{{Start: first, End: last, Mid: 0.5 * (first + last)}}
	}

	outDir := req.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(req.ModelPath)
	}

	staging, err := os.MkdirTemp("", "snburst-flux-*")
	if err != nil {
		return "", fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	var members []string
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fl := ComputeWindowFluence(model, w, trans, req.DistanceKpc)

		name := req.OutputName + ".dat"
		if len(windows) > 1 {
			name = fmt.Sprintf("%s_%d.dat", req.OutputName, i)
		}
		path := filepath.Join(staging, name)
		if err := writeFluxFile(path, fl); err != nil {
			return "", fmt.Errorf("writing flux file for window %d: %w", i, err)
		}
		members = append(members, path)
	}

	tarball := filepath.Join(outDir, req.OutputName+".tar.gz")
	if err := packTarball(tarball, members); err != nil {
		return "", fmt.Errorf("packing %s: %w", tarball, err)
	}
	return tarball, nil
}

func loadModel(path, modelType string) (*PinchedModel, error) {
	switch modelType {
	case "", "pinched":
		return LoadPinchedModel(path)
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
}

// ComputeWindowFluence integrates the model number flux over one time
// window with the trapezoidal rule, sampling at the model rows inside the
// window plus the (interpolated) window edges. The result is the per-bin
// fluence in neutrinos/cm^2 at the given distance, after flavor
// transformation. Windows outside the model range yield zero fluence.
func ComputeWindowFluence(model *PinchedModel, w Window, trans Transformation, distanceKpc float64) Fluence {
	fl := Fluence{
		EnergyMeV: EnergyGridMeV(),
		NuE:       make([]float64, EnergyBins),
		NuMu:      make([]float64, EnergyBins),
		NuTau:     make([]float64, EnergyBins),
		ANuE:      make([]float64, EnergyBins),
		ANuMu:     make([]float64, EnergyBins),
		ANuTau:    make([]float64, EnergyBins),
	}

	first, last := model.TimeRange()
	lo := w.Start
	if lo < first {
		lo = first
	}
	hi := w.End
	if hi > last {
		hi = last
	}
	if hi <= lo {
		return fl
	}

	times := []float64{lo}
	for _, s := range model.Samples {
		if s.Time > lo && s.Time < hi {
			times = append(times, s.Time)
		}
	}
	times = append(times, hi)

	// Unoscillated time-integrated spectral fluences, per MeV per cm^2.
	raw := [NumFlavors][]float64{
		make([]float64, EnergyBins),
		make([]float64, EnergyBins),
		make([]float64, EnergyBins),
	}
	prev := spectralRates(model.At(times[0]))
	for i := 1; i < len(times); i++ {
		cur := spectralRates(model.At(times[i]))
		dt := times[i] - times[i-1]
		for f := 0; f < NumFlavors; f++ {
			for e := 0; e < EnergyBins; e++ {
				raw[f][e] += 0.5 * dt * (prev[f][e] + cur[f][e])
			}
		}
		prev = cur
	}

	d := distanceKpc * CmPerKpc
	area := 4 * math.Pi * d * d
	for e := 0; e < EnergyBins; e++ {
		scale := EnergyStepMeV / area
		nue, nuebar, nux, nuxbar := trans.Apply(raw[NuE][e], raw[NuEBar][e], raw[NuX][e])
		fl.NuE[e] = nue * scale
		fl.ANuE[e] = nuebar * scale
		fl.NuMu[e] = nux * scale
		fl.NuTau[e] = nux * scale
		fl.ANuMu[e] = nuxbar * scale
		fl.ANuTau[e] = nuxbar * scale
	}
	return fl
}

// spectralRates returns dN/dE/dt per flavor in neutrinos per MeV per second
// at one emission sample.
func spectralRates(s Sample) [NumFlavors][]float64 {
	var out [NumFlavors][]float64
	for f := 0; f < NumFlavors; f++ {
		out[f] = make([]float64, EnergyBins)
		if s.Lum[f] <= 0 || s.Emean[f] <= 0 {
			continue
		}
		numberLum := s.Lum[f] / (s.Emean[f] * ErgPerMeV) // neutrinos/s
		for e := 0; e < EnergyBins; e++ {
			out[f][e] = numberLum * PinchedSpectrum(float64(e)*EnergyStepMeV, s.Emean[f], s.Alpha[f])
		}
	}
	return out
}

// writeFluxFile emits the SNOwGLoBES flux table: energy in GeV followed by
// the six species columns.
func writeFluxFile(path string, fl Fluence) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var sb strings.Builder
	for i := range fl.EnergyMeV {
		fmt.Fprintf(&sb, "%13.7g%16.6g%16.6g%16.6g%16.6g%16.6g%16.6g\n",
			fl.EnergyMeV[i]/1000.0,
			fl.NuE[i], fl.NuMu[i], fl.NuTau[i],
			fl.ANuE[i], fl.ANuMu[i], fl.ANuTau[i])
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		return err
	}
	return f.Close()
}

func packTarball(path string, members []string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, member := range members {
		if err := addTarMember(tw, member); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Close()
}

func addTarMember(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// UnpackTarball extracts the flux files from a fluence artifact into dir and
// returns their paths in archive order.
func UnpackTarball(tarball, dir string) ([]string, error) {
	f, err := os.Open(tarball)
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", tarball, err)
	}
	defer gz.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	var paths []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading artifact %s: %w", tarball, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		// Member names are flat; reject anything trying to escape dir.
		name := filepath.Base(hdr.Name)
		dst := filepath.Join(dir, name)
		out, err := os.Create(dst)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, err
		}
		if err := out.Close(); err != nil {
			return nil, err
		}
		paths = append(paths, dst)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("artifact %s contains no flux files", tarball)
	}
	return paths, nil
}
