package campaign

import (
	"os"
	"path/filepath"
	"testing"
)

// writeCampaign writes a campaign YAML file into a temp dir.
func writeCampaign(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "campaign.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write campaign file: %v", err)
	}
	return path
}

// TestLoad tests parsing a complete campaign file
func TestLoad(t *testing.T) {
	path := writeCampaign(t, `model: models/s27.dat
modelType: pinched
transformation: AdiabaticMSW_NMO
distanceKpc: 10
output: s27_logbins
detector: wc100kt30prct
windows:
  count: 20
  tmin: 0.05
  tmax: 10
  spacing: log
plot: rates.png
spectra: spectra.png
export: rates.parquet
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load campaign: %v", err)
	}

	// Relative model paths resolve against the campaign file's dir
	wantModel := filepath.Join(filepath.Dir(path), "models", "s27.dat")
	if c.Model != wantModel {
		t.Errorf("Expected model path %s, got %s", wantModel, c.Model)
	}
	if c.Transformation != "AdiabaticMSW_NMO" {
		t.Errorf("Expected transformation AdiabaticMSW_NMO, got %s", c.Transformation)
	}
	if c.Windows.Count != 20 || c.Windows.Spacing != "log" {
		t.Errorf("Unexpected windows config: %+v", c.Windows)
	}
	if c.Plot != "rates.png" || c.Spectra != "spectra.png" || c.Export != "rates.parquet" {
		t.Errorf("Unexpected outputs: plot=%s spectra=%s export=%s", c.Plot, c.Spectra, c.Export)
	}

	windows, err := c.BuildWindows()
	if err != nil {
		t.Fatalf("Failed to build windows: %v", err)
	}
	if len(windows) != 20 {
		t.Errorf("Expected 20 windows, got %d", len(windows))
	}
}

// TestLoadDefaults tests the defaults filled in by validation
func TestLoadDefaults(t *testing.T) {
	path := writeCampaign(t, `model: /abs/s27.dat
distanceKpc: 5
output: quick
detector: ar40kt
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load campaign: %v", err)
	}
	if c.Model != "/abs/s27.dat" {
		t.Errorf("Expected absolute model path untouched, got %s", c.Model)
	}
	if c.ModelType != "pinched" {
		t.Errorf("Expected default model type pinched, got %s", c.ModelType)
	}
	if c.Transformation != "NoTransformation" {
		t.Errorf("Expected default NoTransformation, got %s", c.Transformation)
	}

	// No windows requested means a single integrated fluence
	windows, err := c.BuildWindows()
	if err != nil {
		t.Fatalf("BuildWindows failed: %v", err)
	}
	if windows != nil {
		t.Errorf("Expected nil windows, got %d", len(windows))
	}
}

// TestLoadWindowSpacingDefault tests that windowed campaigns default to linear
func TestLoadWindowSpacingDefault(t *testing.T) {
	path := writeCampaign(t, `model: /abs/s27.dat
distanceKpc: 10
output: linbins
detector: ar40kt
windows:
  count: 4
  tmin: 0
  tmax: 2
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load campaign: %v", err)
	}
	if c.Windows.Spacing != "linear" {
		t.Errorf("Expected default linear spacing, got %s", c.Windows.Spacing)
	}
}

// TestLoadInvalid tests validation failures
func TestLoadInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing model", "distanceKpc: 10\noutput: x\ndetector: d\n"},
		{"missing output", "model: /m.dat\ndistanceKpc: 10\ndetector: d\n"},
		{"missing detector", "model: /m.dat\ndistanceKpc: 10\noutput: x\n"},
		{"zero distance", "model: /m.dat\ndistanceKpc: 0\noutput: x\ndetector: d\n"},
		{"unknown transformation", "model: /m.dat\ndistanceKpc: 10\noutput: x\ndetector: d\ntransformation: Vacuum\n"},
		{"bad window range", "model: /m.dat\ndistanceKpc: 10\noutput: x\ndetector: d\nwindows:\n  count: 5\n  tmin: 2\n  tmax: 1\n"},
		{"log from zero", "model: /m.dat\ndistanceKpc: 10\noutput: x\ndetector: d\nwindows:\n  count: 5\n  tmin: 0\n  tmax: 1\n  spacing: log\n"},
		{"not yaml", "model: [unclosed\n"},
	}

	for _, tc := range cases {
		path := writeCampaign(t, tc.content)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error, got none", tc.name)
		}
	}
}

// TestLoadMissingFile tests the missing-file error path
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing campaign file")
	}
}
