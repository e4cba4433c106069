package snburst

import (
	"context"

	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/campaign"
	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/flux"
	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/snowglobes"
	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/storage"
)

type Service interface {
	GenerateFluence(ctx context.Context, req flux.FluenceRequest) (string, error)
	Simulate(ctx context.Context, tarball, detector string) error
	Collate(ctx context.Context, tarball string) (map[string]snowglobes.Table, error)
	RunCampaign(ctx context.Context, c *campaign.Campaign) (*RunSummary, error)
	GetRunByID(runID string) (*storage.Run, error)
	ListRuns() ([]storage.Run, error)
	DeleteRun(runID string) error
	PlotRun(runID, path string) error
	ExportRun(runID, path string) error
	Close() error
}

type Storage interface {
	RegisterRun(run storage.Run) (string, error)
	StoreBinCounts(runID string, counts []storage.BinCount) error
	GetRunByID(runID string) (*storage.Run, error)
	GetBinCounts(runID string) ([]storage.BinCount, error)
	ListRuns() ([]storage.Run, error)
	DeleteRunByID(runID string) error
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
