package snowglobes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/stlgolfer/snewpy-log-bins/pkg/logger"
	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/flux"
	"github.com/stlgolfer/snewpy-log-bins/pkg/utils"
)

// DefaultWorkers bounds the number of concurrent simulation jobs. Binary
// invocations sharing one installation still run one at a time; the pool
// overlaps the parsing and collation around them.
const DefaultWorkers = 4

// ProcessedDir returns the directory Simulate writes collated tables into,
// derived from the artifact path.
func ProcessedDir(tarball string) string {
	base := strings.TrimSuffix(tarball, ".tar.gz")
	base = strings.TrimSuffix(base, ".tar.bz2")
	return base + "_processed"
}

// FluxStem names the flux file for one window of a multi-window artifact.
func FluxStem(outputName string, bin, totalWindows int) string {
	if totalWindows <= 1 {
		return outputName
	}
	return fmt.Sprintf("%s_%d", outputName, bin)
}

type simJob struct {
	fluxFile string
	detector string
}

// Simulate unpacks a fluence artifact and runs every flux file through the
// toolkit for the requested detector ("all" fans out to every configured
// detector with an inferable material). Collated event tables land in
// ProcessedDir(tarball). Jobs run on a bounded worker pool; the first
// failure cancels the rest.
func Simulate(ctx context.Context, inst *Installation, tarball, detector string, workers int) error {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	log := logger.GetLogger()

	fluxDir, err := os.MkdirTemp("", "snburst-sim-*")
	if err != nil {
		return fmt.Errorf("creating flux staging dir: %w", err)
	}
	defer utils.DeleteDir(fluxDir)

	fluxFiles, err := flux.UnpackTarball(tarball, fluxDir)
	if err != nil {
		return err
	}

	var detectors []string
	if detector == "all" {
		for _, name := range inst.DetectorNames() {
			if _, err := inst.MaterialForDetector(name); err != nil {
				log.Warnf("Skipping detector %s: %v", name, err)
				continue
			}
			detectors = append(detectors, name)
		}
		if len(detectors) == 0 {
			return fmt.Errorf("no detector with an inferable material in %s", inst.BaseDir)
		}
	} else {
		if _, ok := inst.Detectors[detector]; !ok {
			return fmt.Errorf("unknown detector %q (configured: %v)", detector, inst.DetectorNames())
		}
		detectors = []string{detector}
	}

	processedDir := ProcessedDir(tarball)
	if err := utils.MakeDir(processedDir); err != nil {
		return fmt.Errorf("creating processed dir: %w", err)
	}

	jobs := make(chan simJob)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := runOne(ctx, inst, j, processedDir); err != nil {
					fail(err)
					return
				}
			}
		}()
	}

	total := 0
dispatch:
	for _, ff := range fluxFiles {
		for _, det := range detectors {
			select {
			case jobs <- simJob{fluxFile: ff, detector: det}:
				total++
			case <-ctx.Done():
				break dispatch
			}
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Infof("Simulated %d flux/detector combinations into %s", total, processedDir)
	return nil
}

func runOne(ctx context.Context, inst *Installation, j simJob, processedDir string) error {
	material, err := inst.MaterialForDetector(j.detector)
	if err != nil {
		return err
	}
	runner := &Runner{
		Install:  inst,
		FluxFile: j.fluxFile,
		Detector: j.detector,
		Material: material,
	}
	results, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	stem := strings.TrimSuffix(filepath.Base(j.fluxFile), ".dat")
	return WriteCollatedTables(processedDir, stem, j.detector, inst.Channels[material], results)
}

// WriteCollatedTables merges the per-channel spectra of one run into the
// four collated .dat tables (smeared/unsmeared x weighted/unweighted).
// Channels the binary produced no data for appear as zero columns so every
// table has the full channel list.
func WriteCollatedTables(dir, fluxStem, detector string, channels []Channel, results []ChannelData) error {
	for _, smeared := range []bool{true, false} {
		var energy []float64
		byName := make(map[string]ChannelData)
		for _, res := range results {
			if res.Smeared != smeared {
				continue
			}
			byName[res.Channel.Name] = res
			if energy == nil {
				energy = res.Energy
			} else if len(res.Energy) != len(energy) {
				return fmt.Errorf("channel %s: energy grid has %d rows, expected %d",
					res.Channel.Name, len(res.Energy), len(energy))
			}
		}
		if energy == nil {
			continue
		}

		for _, weighted := range []bool{true, false} {
			name := CollatedKey(fluxStem, detector, smeared, weighted)
			if err := writeCollatedFile(filepath.Join(dir, name), channels, energy, byName, weighted); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeCollatedFile(path string, channels []Channel, energy []float64, byName map[string]ChannelData, weighted bool) error {
	var sb strings.Builder

	sb.WriteString("Energy")
	for _, ch := range channels {
		sb.WriteString(" ")
		sb.WriteString(ch.Name)
	}
	sb.WriteString("\n")

	for row := range energy {
		fmt.Fprintf(&sb, "%13.7g", energy[row])
		for _, ch := range channels {
			val := 0.0
			if data, ok := byName[ch.Name]; ok {
				val = data.Events[row]
				if weighted {
					val *= ch.Weight
				}
			}
			fmt.Fprintf(&sb, "%16.6g", val)
		}
		sb.WriteString("\n")
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("writing collated table: %w", err)
	}
	return nil
}

// CollatedKey builds the collated-table file name for one flux stem,
// detector and processing stage. The same string indexes the Collate result.
func CollatedKey(fluxStem, detector string, smeared, weighted bool) string {
	smearTag := "unsmeared"
	if smeared {
		smearTag = "smeared"
	}
	weightTag := "unweighted"
	if weighted {
		weightTag = "weighted"
	}
	return fmt.Sprintf("Collated_%s_%s_events_%s_%s.dat", fluxStem, detector, smearTag, weightTag)
}
