package snowglobes

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stlgolfer/snewpy-log-bins/pkg/logger"
	"github.com/stlgolfer/snewpy-log-bins/pkg/utils"
)

// ChannelData is the event spectrum the toolkit produced for one channel,
// either smeared by the detector response or raw.
type ChannelData struct {
	Channel Channel
	Smeared bool
	Energy  []float64 // GeV
	Events  []float64 // per energy bin, unweighted
}

// Runner drives one bin/supernova invocation: render the GLoBES config,
// execute the binary from the installation dir, and parse the event tables
// it reports on stdout.
type Runner struct {
	Install  *Installation
	FluxFile string
	Detector string
	Material string
}

// configFileName is the GLoBES config the binary reads from its working
// directory. The name is hard-coded in the binary itself.
const configFileName = "supernova.glb"

// Run executes the toolkit binary for this flux file and detector. The
// returned slice holds one entry per (channel, smeared) pair the binary
// produced.
func (r *Runner) Run(ctx context.Context) ([]ChannelData, error) {
	det, ok := r.Install.Detectors[r.Detector]
	if !ok {
		return nil, fmt.Errorf("unknown detector %q", r.Detector)
	}
	channels, ok := r.Install.Channels[r.Material]
	if !ok {
		return nil, fmt.Errorf("unknown material %q", r.Material)
	}
	if !utils.FileExists(r.FluxFile) {
		return nil, fmt.Errorf("flux file %s does not exist", r.FluxFile)
	}

	fluxAbs, err := filepath.Abs(r.FluxFile)
	if err != nil {
		return nil, err
	}

	cfg, err := RenderConfig(ConfigData{
		FluxFile:   fluxAbs,
		Detector:   r.Detector,
		TargetMass: det.TargetMass(),
		SmearDir:   filepath.Join(r.Install.BaseDir, "smear"),
		XsecDir:    filepath.Join(r.Install.BaseDir, "xscns"),
		Channels:   channels,
		Efficiency: r.Install.Efficiencies[r.Detector],
	})
	if err != nil {
		return nil, err
	}

	// The binary always reads supernova.glb from its working directory,
	// so runs sharing an installation must take turns.
	r.Install.runMu.Lock()
	defer r.Install.runMu.Unlock()

	cfgPath := filepath.Join(r.Install.BaseDir, configFileName)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		return nil, fmt.Errorf("writing GLoBES config: %w", err)
	}
	defer os.Remove(cfgPath)

	stem := strings.TrimSuffix(filepath.Base(r.FluxFile), ".dat")
	chanFile := filepath.Join(r.Install.BaseDir, "channels", fmt.Sprintf("channels_%s.dat", r.Material))

	log := logger.GetLogger()
	log.Debugf("Running supernova: flux=%s detector=%s material=%s", stem, r.Detector, r.Material)

	cmd := exec.CommandContext(ctx, filepath.Join("bin", "supernova"),
		stem, chanFile, r.Detector)
	cmd.Dir = r.Install.BaseDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("supernova failed for flux %s, detector %s: %v\nstderr: %s",
			stem, r.Detector, err, stderr.String())
	}
	if stderr.Len() > 0 {
		log.Warnf("supernova stderr (flux=%s detector=%s): %s", stem, r.Detector, stderr.String())
	}

	return r.parseOutput(stdout.String(), channels)
}

// parseOutput walks the binary's stdout for generated event files. Each
// matching line carries the channel number and the file path relative to
// the installation dir; the file is deleted after reading.
func (r *Runner) parseOutput(output string, channels []Channel) ([]ChannelData, error) {
	byNum := make(map[int]Channel, len(channels))
	for _, ch := range channels {
		byNum[ch.Num] = ch
	}

	var results []ChannelData
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasSuffix(line, "weighted.dat") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		num, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ch, ok := byNum[num]
		if !ok {
			return nil, fmt.Errorf("supernova reported unknown channel number %d", num)
		}

		path := filepath.Join(r.Install.BaseDir, fields[1])
		energy, events, loadErr := LoadEventTable(path)
		if rmErr := utils.DeleteFile(path); rmErr != nil {
			logger.GetLogger().Warnf("could not clean up %s: %v", path, rmErr)
		}
		if loadErr != nil {
			return nil, fmt.Errorf("loading event table %s: %w", path, loadErr)
		}

		results = append(results, ChannelData{
			Channel: ch,
			Smeared: strings.Contains(filepath.Base(path), "_smeared"),
			Energy:  energy,
			Events:  events,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("supernova produced no event tables for flux %s, detector %s",
			r.FluxFile, r.Detector)
	}
	return results, nil
}

// LoadEventTable reads a two-column (energy, events) table, skipping the
// separator and total footer lines the toolkit appends.
func LoadEventTable(path string) ([]float64, []float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var energy, events []float64
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") || strings.HasPrefix(line, "Total") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, nil, fmt.Errorf("%s line %d: expected 2 columns, got %d", path, lineNo, len(fields))
		}
		e, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%s line %d: %w", path, lineNo, err)
		}
		n, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%s line %d: %w", path, lineNo, err)
		}
		energy = append(energy, e)
		events = append(events, n)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if len(energy) == 0 {
		return nil, nil, fmt.Errorf("%s contains no event rows", path)
	}
	return energy, events, nil
}
