package snowglobes

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/stlgolfer/snewpy-log-bins/pkg/logger"
)

// DetectorConfig is one row of detector_configurations.dat.
type DetectorConfig struct {
	Name   string
	Mass   float64 // kt
	Factor float64 // normalization factor applied to the mass
}

// TargetMass returns the effective target mass the toolkit simulates.
func (d DetectorConfig) TargetMass() float64 {
	return d.Mass * d.Factor
}

// Channel is one interaction channel of a detector material.
type Channel struct {
	Name   string
	Num    int
	Parity string // "+" for particles, "-" for antiparticles
	Flavor string // e, m, t
	Weight float64
}

// Installation is a parsed SNOwGLoBES-style toolkit installation: detector
// configurations, per-material channel lists, and raw efficiency curves.
type Installation struct {
	BaseDir      string
	Detectors    map[string]DetectorConfig
	Channels     map[string][]Channel         // material -> channels
	Efficiencies map[string]map[string]string // detector -> channel -> raw curve

	runMu sync.Mutex // serializes binary invocations sharing this installation
}

// LoadInstallation reads a toolkit installation rooted at baseDir. An empty
// baseDir falls back to the SNOWGLOBES environment variable.
func LoadInstallation(baseDir string) (*Installation, error) {
	if baseDir == "" {
		baseDir = os.Getenv("SNOWGLOBES")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("toolkit installation dir not set (pass --install or set SNOWGLOBES)")
	}

	inst := &Installation{BaseDir: baseDir}

	if err := inst.loadDetectors(filepath.Join(baseDir, "detector_configurations.dat")); err != nil {
		return nil, err
	}
	if err := inst.loadChannels(filepath.Join(baseDir, "channels")); err != nil {
		return nil, err
	}
	if err := inst.loadEfficiencies(filepath.Join(baseDir, "effic")); err != nil {
		return nil, err
	}

	log := logger.GetLogger()
	log.Infof("Loaded toolkit installation: %d detectors, %d materials", len(inst.Detectors), len(inst.Channels))
	log.Debugf("Detectors: %v", inst.DetectorNames())
	log.Debugf("Materials: %v", inst.Materials())
	return inst, nil
}

func (inst *Installation) loadDetectors(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening detector configurations: %w", err)
	}
	defer f.Close()

	inst.Detectors = make(map[string]DetectorConfig)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return fmt.Errorf("%s line %d: expected 3 columns (name mass factor), got %d", path, lineNo, len(fields))
		}
		mass, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("%s line %d: bad mass: %w", path, lineNo, err)
		}
		factor, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return fmt.Errorf("%s line %d: bad factor: %w", path, lineNo, err)
		}
		inst.Detectors[fields[0]] = DetectorConfig{Name: fields[0], Mass: mass, Factor: factor}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading detector configurations: %w", err)
	}
	if len(inst.Detectors) == 0 {
		return fmt.Errorf("%s defines no detectors", path)
	}
	return nil
}

func (inst *Installation) loadChannels(chanDir string) error {
	matches, err := filepath.Glob(filepath.Join(chanDir, "channels_*.dat"))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no channel files found under %s", chanDir)
	}

	inst.Channels = make(map[string][]Channel)
	for _, path := range matches {
		material := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "channels_"), ".dat")
		channels, err := parseChannelFile(path)
		if err != nil {
			return err
		}
		inst.Channels[material] = channels
	}
	return nil
}

// parseChannelFile reads a channels_<material>.dat table. '%'-prefixed lines
// are comments. Columns: name, channel number, parity, flavor, weight.
func parseChannelFile(path string) ([]Channel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening channel file: %w", err)
	}
	defer f.Close()

	var channels []Channel
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 5 {
			return nil, fmt.Errorf("%s line %d: expected 5 columns, got %d", path, lineNo, len(fields))
		}
		num, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad channel number: %w", path, lineNo, err)
		}
		weight, err := strconv.ParseFloat(fields[4], 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad weight: %w", path, lineNo, err)
		}
		channels = append(channels, Channel{
			Name:   fields[0],
			Num:    num,
			Parity: fields[2],
			Flavor: fields[3],
			Weight: weight,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading channel file: %w", err)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Num < channels[j].Num })
	return channels, nil
}

func (inst *Installation) loadEfficiencies(path string) error {
	inst.Efficiencies = make(map[string]map[string]string)
	for detector := range inst.Detectors {
		perDet := make(map[string]string)
		matches, err := filepath.Glob(filepath.Join(path, fmt.Sprintf("effic_*_%s.dat", detector)))
		if err != nil {
			return err
		}
		for _, file := range matches {
			base := strings.TrimSuffix(filepath.Base(file), ".dat")
			channel := strings.TrimSuffix(strings.TrimPrefix(base, "effic_"), "_"+detector)
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading efficiency file %s: %w", file, err)
			}
			perDet[channel] = strings.TrimSpace(string(data))
		}
		inst.Efficiencies[detector] = perDet
	}
	return nil
}

// DetectorNames lists the configured detectors, sorted.
func (inst *Installation) DetectorNames() []string {
	names := make([]string, 0, len(inst.Detectors))
	for name := range inst.Detectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Materials lists the materials with channel definitions, sorted.
func (inst *Installation) Materials() []string {
	materials := make([]string, 0, len(inst.Channels))
	for m := range inst.Channels {
		materials = append(materials, m)
	}
	sort.Strings(materials)
	return materials
}

// materialPrefixes maps detector-name fragments to target materials, checked
// in order so the more specific entries win.
var materialPrefixes = []struct {
	fragment string
	material string
}{
	{"ar40", "argon"},
	{"wc", "water"},
	{"icecube", "water"},
	{"d2o", "heavy_water"},
	{"halo", "lead"},
	{"scint", "scint"},
	{"novasoup", "nova_soup"},
}

// MaterialForDetector infers the target material from a detector name.
func (inst *Installation) MaterialForDetector(detector string) (string, error) {
	lower := strings.ToLower(detector)
	for _, p := range materialPrefixes {
		if !strings.Contains(lower, p.fragment) {
			continue
		}
		if _, ok := inst.Channels[p.material]; ok {
			return p.material, nil
		}
		// The "he" detector variants use enriched channel files when the
		// installation ships them.
		for _, m := range inst.Materials() {
			if strings.HasPrefix(m, p.material) {
				return m, nil
			}
		}
	}
	return "", fmt.Errorf("cannot infer target material for detector %q (materials: %v)", detector, inst.Materials())
}
