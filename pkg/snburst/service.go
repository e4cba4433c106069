package snburst

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/stlgolfer/snewpy-log-bins/pkg/logger"
	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/campaign"
	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/export"
	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/flux"
	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/plot"
	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/snowglobes"
	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/storage"
)

// burstService is the default implementation of the Service interface.
type burstService struct {
	storage Storage
	log     Logger
	config  *Config
	install *snowglobes.Installation
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	var stor Storage
	var err error
	if cfg.Storage != nil {
		stor = cfg.Storage
	} else {
		stor, err = storage.NewDBClientWithPath(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	return &burstService{
		storage: stor,
		log:     cfg.Logger,
		config:  cfg,
	}, nil
}

// installation loads the toolkit installation on first use and caches it.
func (s *burstService) installation() (*snowglobes.Installation, error) {
	if s.install != nil {
		return s.install, nil
	}
	inst, err := snowglobes.LoadInstallation(s.config.InstallDir)
	if err != nil {
		return nil, err
	}
	s.install = inst
	return inst, nil
}

// GenerateFluence produces the packaged flux artifact for one request.
func (s *burstService) GenerateFluence(ctx context.Context, req flux.FluenceRequest) (string, error) {
	if req.OutputDir == "" {
		req.OutputDir = s.config.TempDir
	}
	s.log.Infof("Generating fluence: model=%s transformation=%s distance=%.1f kpc windows=%d",
		req.ModelPath, req.Transformation, req.DistanceKpc, len(req.Windows))

	tarball, err := flux.GenerateFluence(ctx, req)
	if err != nil {
		return "", fmt.Errorf("fluence generation failed: %w", err)
	}

	if info, statErr := os.Stat(tarball); statErr == nil {
		s.log.Infof("Wrote fluence artifact %s (%s)", tarball, humanize.Bytes(uint64(info.Size())))
	}
	return tarball, nil
}

// Simulate runs the detector simulation over every flux file in the
// artifact.
func (s *burstService) Simulate(ctx context.Context, tarball, detector string) error {
	inst, err := s.installation()
	if err != nil {
		return err
	}
	s.log.Infof("Simulating %s for detector %s", tarball, detector)
	if err := snowglobes.Simulate(ctx, inst, tarball, detector, s.config.Workers); err != nil {
		return fmt.Errorf("detector simulation failed: %w", err)
	}
	return nil
}

// Collate loads the simulated result tables for an artifact.
func (s *burstService) Collate(ctx context.Context, tarball string) (map[string]snowglobes.Table, error) {
	inst, err := s.installation()
	if err != nil {
		return nil, err
	}
	tables, err := snowglobes.Collate(ctx, inst, tarball)
	if err != nil {
		return nil, fmt.Errorf("collation failed: %w", err)
	}
	s.log.Infof("Collated %d result tables", len(tables))
	return tables, nil
}

// AggregateBins sums the smeared, weighted collated table of each time
// window into a total expected event count and rate. The map keys follow
// snowglobes.CollatedKey; a missing key is an error naming it.
func AggregateBins(tables map[string]snowglobes.Table, outputName, detector string, windows []flux.Window) ([]BinResult, error) {
	results := make([]BinResult, 0, len(windows))
	for i, w := range windows {
		key := snowglobes.CollatedKey(snowglobes.FluxStem(outputName, i, len(windows)), detector, true, true)
		table, ok := tables[key]
		if !ok {
			return nil, fmt.Errorf("collated results missing table %q", key)
		}
		events := table.SumCounts()
		rate := 0.0
		if width := w.Width(); width > 0 {
			rate = events / width
		}
		results = append(results, BinResult{
			BinIndex: i,
			Window:   w,
			Events:   events,
			Rate:     rate,
		})
	}
	return results, nil
}

// RunCampaign executes the full pipeline for one campaign: fluence
// generation, detector simulation, collation, aggregation, persistence and
// the optional plot/export outputs.
func (s *burstService) RunCampaign(ctx context.Context, c *campaign.Campaign) (*RunSummary, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	windows, err := c.BuildWindows()
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		// A single integrated window still needs explicit bounds for the
		// rate aggregation.
		model, err := flux.LoadPinchedModel(c.Model)
		if err != nil {
			return nil, err
		}
		first, last := model.TimeRange()
		windows = []flux.Window{{Start: first, End: last, Mid: 0.5 * (first + last)}}
	}

	tarball, err := s.GenerateFluence(ctx, flux.FluenceRequest{
		ModelPath:      c.Model,
		ModelType:      c.ModelType,
		Transformation: c.Transformation,
		DistanceKpc:    c.DistanceKpc,
		OutputName:     c.Output,
		Windows:        windows,
	})
	if err != nil {
		return nil, err
	}

	if err := s.Simulate(ctx, tarball, c.Detector); err != nil {
		return nil, err
	}

	tables, err := s.Collate(ctx, tarball)
	if err != nil {
		return nil, err
	}

	bins, err := AggregateBins(tables, c.Output, c.Detector, windows)
	if err != nil {
		return nil, err
	}

	runID, err := s.storage.RegisterRun(storage.Run{
		Model:          c.Model,
		ModelType:      c.ModelType,
		Detector:       c.Detector,
		Transformation: c.Transformation,
		DistanceKpc:    c.DistanceKpc,
		Windows:        len(windows),
		Spacing:        c.Windows.Spacing,
		ArtifactPath:   tarball,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register run: %w", err)
	}

	counts := binCountRows(bins)
	if err := s.storage.StoreBinCounts(runID, counts); err != nil {
		if rbErr := s.storage.DeleteRunByID(runID); rbErr != nil {
			s.log.Warnf("Could not roll back run %s: %v", runID, rbErr)
		}
		return nil, fmt.Errorf("failed to store bin counts: %w", err)
	}

	summary := &RunSummary{
		RunID:        runID,
		ArtifactPath: tarball,
		Detector:     c.Detector,
		Bins:         bins,
	}
	for _, b := range bins {
		summary.TotalEvents += b.Events
	}
	s.log.Infof("Run %s: %.1f expected events over %d windows", runID, summary.TotalEvents, len(bins))

	if c.Plot != "" {
		if err := s.plotBins(bins, c.Windows.Spacing == string(flux.SpacingLog), c.Plot); err != nil {
			return nil, err
		}
		summary.PlotPath = c.Plot
		s.log.Infof("Wrote rate plot %s", c.Plot)
	}
	if c.Spectra != "" {
		if err := plotWindowSpectra(c, windows); err != nil {
			return nil, err
		}
		summary.SpectraPath = c.Spectra
		s.log.Infof("Wrote fluence spectra plot %s", c.Spectra)
	}
	if c.Export != "" {
		if err := export.WriteBinCounts(c.Export, runID, counts); err != nil {
			return nil, fmt.Errorf("parquet export failed: %w", err)
		}
		summary.ExportPath = c.Export
		s.log.Infof("Wrote parquet export %s", c.Export)
	}

	return summary, nil
}

func binCountRows(bins []BinResult) []storage.BinCount {
	counts := make([]storage.BinCount, len(bins))
	for i, b := range bins {
		counts[i] = storage.BinCount{
			BinIndex: b.BinIndex,
			TStart:   b.Window.Start,
			TEnd:     b.Window.End,
			TMid:     b.Window.Mid,
			Events:   b.Events,
			Rate:     b.Rate,
		}
	}
	return counts
}

func (s *burstService) plotBins(bins []BinResult, logX bool, path string) error {
	times := make([]float64, len(bins))
	rates := make([]float64, len(bins))
	for i, b := range bins {
		times[i] = b.Window.Mid
		rates[i] = b.Rate
	}
	if err := plot.SaveRateCurve(times, rates, logX, "Expected event rate", path); err != nil {
		return fmt.Errorf("plotting failed: %w", err)
	}
	return nil
}

// plotWindowSpectra draws the all-species fluence spectrum of every time
// window of a campaign into one figure at c.Spectra.
func plotWindowSpectra(c *campaign.Campaign, windows []flux.Window) error {
	model, err := flux.LoadPinchedModel(c.Model)
	if err != nil {
		return err
	}
	trans, err := flux.LookupTransformation(c.Transformation)
	if err != nil {
		return err
	}

	energy := flux.EnergyGridMeV()
	series := make(map[string][]float64, len(windows))
	names := make([]string, 0, len(windows))
	for i, w := range windows {
		fl := flux.ComputeWindowFluence(model, w, trans, c.DistanceKpc)
		total := make([]float64, len(energy))
		for e := range total {
			total[e] = fl.NuE[e] + fl.NuMu[e] + fl.NuTau[e] + fl.ANuE[e] + fl.ANuMu[e] + fl.ANuTau[e]
		}
		name := fmt.Sprintf("bin %d [%.4g, %.4g] s", i, w.Start, w.End)
		series[name] = total
		names = append(names, name)
	}

	if err := plot.SaveSpectrum(energy, series, names, "Fluence per time window", c.Spectra); err != nil {
		return fmt.Errorf("spectra plotting failed: %w", err)
	}
	return nil
}

// GetRunByID retrieves a stored run.
func (s *burstService) GetRunByID(runID string) (*storage.Run, error) {
	return s.storage.GetRunByID(runID)
}

// ListRuns returns all stored runs, newest first.
func (s *burstService) ListRuns() ([]storage.Run, error) {
	return s.storage.ListRuns()
}

// DeleteRun removes a run and its bin counts.
func (s *burstService) DeleteRun(runID string) error {
	return s.storage.DeleteRunByID(runID)
}

// PlotRun regenerates the rate plot of a stored run.
func (s *burstService) PlotRun(runID, path string) error {
	run, err := s.storage.GetRunByID(runID)
	if err != nil {
		return err
	}
	counts, err := s.storage.GetBinCounts(runID)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		return fmt.Errorf("run %s has no stored bin counts", runID)
	}
	times := make([]float64, len(counts))
	rates := make([]float64, len(counts))
	for i, c := range counts {
		times[i] = c.TMid
		rates[i] = c.Rate
	}
	title := fmt.Sprintf("Expected event rate (%s)", run.Detector)
	if err := plot.SaveRateCurve(times, rates, run.Spacing == string(flux.SpacingLog), title, path); err != nil {
		return fmt.Errorf("plotting failed: %w", err)
	}
	return nil
}

// ExportRun writes a stored run's bin counts to Parquet.
func (s *burstService) ExportRun(runID, path string) error {
	counts, err := s.storage.GetBinCounts(runID)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		return fmt.Errorf("run %s has no stored bin counts", runID)
	}
	if err := export.WriteBinCounts(path, runID, counts); err != nil {
		return fmt.Errorf("parquet export failed: %w", err)
	}
	return nil
}

// Close releases all resources held by the service.
func (s *burstService) Close() error {
	return s.storage.Close()
}
