package snburst

import "github.com/stlgolfer/snewpy-log-bins/pkg/snburst/flux"

// BinResult is the aggregated outcome of one time window.
type BinResult struct {
	BinIndex int
	Window   flux.Window
	Events   float64 // expected events in the window
	Rate     float64 // events per second
}

// RunSummary is what a full campaign execution hands back.
type RunSummary struct {
	RunID        string
	ArtifactPath string
	Detector     string
	TotalEvents  float64
	Bins         []BinResult
	PlotPath     string
	SpectraPath  string
	ExportPath   string
}
