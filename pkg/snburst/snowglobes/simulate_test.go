package snowglobes

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// TestProcessedDir tests the artifact-to-results directory mapping
func TestProcessedDir(t *testing.T) {
	cases := []struct {
		tarball string
		want    string
	}{
		{"/data/s27.tar.gz", "/data/s27_processed"},
		{"s27.tar.bz2", "s27_processed"},
		{"plain_name", "plain_name_processed"},
	}
	for _, tc := range cases {
		if got := ProcessedDir(tc.tarball); got != tc.want {
			t.Errorf("ProcessedDir(%s): expected %s, got %s", tc.tarball, tc.want, got)
		}
	}
}

// TestFluxStem tests window flux-file naming
func TestFluxStem(t *testing.T) {
	if got := FluxStem("s27", 0, 1); got != "s27" {
		t.Errorf("Expected single-window stem s27, got %s", got)
	}
	if got := FluxStem("s27", 3, 10); got != "s27_3" {
		t.Errorf("Expected windowed stem s27_3, got %s", got)
	}
}

// TestCollatedKey tests the collated-table naming convention
func TestCollatedKey(t *testing.T) {
	cases := []struct {
		smeared  bool
		weighted bool
		want     string
	}{
		{true, true, "Collated_s27_0_ar40kt_events_smeared_weighted.dat"},
		{true, false, "Collated_s27_0_ar40kt_events_smeared_unweighted.dat"},
		{false, true, "Collated_s27_0_ar40kt_events_unsmeared_weighted.dat"},
		{false, false, "Collated_s27_0_ar40kt_events_unsmeared_unweighted.dat"},
	}
	for _, tc := range cases {
		if got := CollatedKey("s27_0", "ar40kt", tc.smeared, tc.weighted); got != tc.want {
			t.Errorf("Expected %s, got %s", tc.want, got)
		}
	}
}

// TestWriteCollatedTables tests merging channel spectra into collated files
func TestWriteCollatedTables(t *testing.T) {
	dir := t.TempDir()
	channels := []Channel{
		{Name: "ibd", Num: 0, Parity: "-", Flavor: "e", Weight: 2},
		{Name: "nue_e", Num: 1, Parity: "+", Flavor: "e", Weight: 1},
	}
	energy := []float64{0.0005, 0.0015, 0.0025}
	results := []ChannelData{
		{Channel: channels[0], Smeared: true, Energy: energy, Events: []float64{1, 2, 3}},
		{Channel: channels[1], Smeared: true, Energy: energy, Events: []float64{4, 5, 6}},
	}

	if err := WriteCollatedTables(dir, "s27_0", "wc100kt30prct", channels, results); err != nil {
		t.Fatalf("Failed to write collated tables: %v", err)
	}

	// Only smeared results were supplied, so only the two smeared tables exist
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read output dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 collated tables, got %d", len(entries))
	}

	weighted, err := ParseCollatedFile(filepath.Join(dir, CollatedKey("s27_0", "wc100kt30prct", true, true)))
	if err != nil {
		t.Fatalf("Failed to parse weighted table: %v", err)
	}
	if len(weighted.Columns) != 3 {
		t.Fatalf("Expected 3 columns (Energy ibd nue_e), got %v", weighted.Columns)
	}
	// ibd carries weight 2
	if weighted.Data[1][0] != 2 {
		t.Errorf("Expected weighted ibd value 2, got %g", weighted.Data[1][0])
	}
	if weighted.Data[2][2] != 6 {
		t.Errorf("Expected nue_e value 6, got %g", weighted.Data[2][2])
	}

	unweighted, err := ParseCollatedFile(filepath.Join(dir, CollatedKey("s27_0", "wc100kt30prct", true, false)))
	if err != nil {
		t.Fatalf("Failed to parse unweighted table: %v", err)
	}
	if unweighted.Data[1][0] != 1 {
		t.Errorf("Expected unweighted ibd value 1, got %g", unweighted.Data[1][0])
	}
}

// TestWriteCollatedTablesMissingChannel tests zero columns for absent channels
func TestWriteCollatedTablesMissingChannel(t *testing.T) {
	dir := t.TempDir()
	channels := []Channel{
		{Name: "ibd", Num: 0, Weight: 2},
		{Name: "nue_e", Num: 1, Weight: 1},
	}
	results := []ChannelData{
		{Channel: channels[0], Smeared: false, Energy: []float64{0.001}, Events: []float64{7}},
	}

	if err := WriteCollatedTables(dir, "s27", "ar40kt", channels, results); err != nil {
		t.Fatalf("Failed to write collated tables: %v", err)
	}

	table, err := ParseCollatedFile(filepath.Join(dir, CollatedKey("s27", "ar40kt", false, true)))
	if err != nil {
		t.Fatalf("Failed to parse table: %v", err)
	}
	if table.Data[2][0] != 0 {
		t.Errorf("Expected zero column for missing channel, got %g", table.Data[2][0])
	}
}

// TestWriteCollatedTablesGridMismatch tests rejection of inconsistent grids
func TestWriteCollatedTablesGridMismatch(t *testing.T) {
	channels := []Channel{{Name: "ibd", Num: 0}, {Name: "nue_e", Num: 1}}
	results := []ChannelData{
		{Channel: channels[0], Smeared: true, Energy: []float64{0.001, 0.002}, Events: []float64{1, 2}},
		{Channel: channels[1], Smeared: true, Energy: []float64{0.001}, Events: []float64{3}},
	}
	if err := WriteCollatedTables(t.TempDir(), "s27", "ar40kt", channels, results); err == nil {
		t.Error("Expected error for mismatched energy grids")
	}
}

// TestParseCollatedFileErrors tests malformed collated tables
func TestParseCollatedFileErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := ParseCollatedFile(filepath.Join(dir, "missing.dat")); err == nil {
		t.Error("Expected error for missing file")
	}

	empty := filepath.Join(dir, "empty.dat")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := ParseCollatedFile(empty); err == nil {
		t.Error("Expected error for empty file")
	}

	ragged := filepath.Join(dir, "ragged.dat")
	if err := os.WriteFile(ragged, []byte("Energy ibd\n0.001 1 99\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := ParseCollatedFile(ragged); err == nil {
		t.Error("Expected error for ragged row")
	}
}

// TestTableSumCounts tests event-count summation over non-energy columns
func TestTableSumCounts(t *testing.T) {
	table := Table{
		Columns: []string{"Energy", "ibd", "nue_e"},
		Data: [][]float64{
			{0.001, 0.002},
			{1.5, 2.5},
			{3, 4},
		},
	}
	if got := table.SumCounts(); math.Abs(got-11) > 1e-12 {
		t.Errorf("Expected sum 11, got %g", got)
	}
	if table.Rows() != 2 {
		t.Errorf("Expected 2 rows, got %d", table.Rows())
	}

	if (Table{}).Rows() != 0 {
		t.Error("Expected 0 rows for empty table")
	}
}

// TestCollate tests loading every collated table of a processed artifact
func TestCollate(t *testing.T) {
	inst := writeInstallation(t)
	dir := t.TempDir()
	tarball := filepath.Join(dir, "s27.tar.gz")
	processed := ProcessedDir(tarball)
	if err := os.MkdirAll(processed, 0755); err != nil {
		t.Fatalf("Failed to create processed dir: %v", err)
	}

	channels := []Channel{{Name: "ibd", Num: 0, Weight: 2}}
	results := []ChannelData{
		{Channel: channels[0], Smeared: true, Energy: []float64{0.001, 0.002}, Events: []float64{1, 2}},
		{Channel: channels[0], Smeared: false, Energy: []float64{0.001, 0.002}, Events: []float64{3, 4}},
	}
	if err := WriteCollatedTables(processed, "s27", "wc100kt30prct", channels, results); err != nil {
		t.Fatalf("Failed to write collated tables: %v", err)
	}
	// A stray non-collated file is ignored
	if err := os.WriteFile(filepath.Join(processed, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write stray file: %v", err)
	}

	tables, err := Collate(context.Background(), inst, tarball)
	if err != nil {
		t.Fatalf("Failed to collate: %v", err)
	}
	if len(tables) != 4 {
		t.Fatalf("Expected 4 tables, got %d", len(tables))
	}

	key := CollatedKey("s27", "wc100kt30prct", true, true)
	table, ok := tables[key]
	if !ok {
		t.Fatalf("Expected table under key %s", key)
	}
	if got := table.SumCounts(); math.Abs(got-6) > 1e-12 {
		t.Errorf("Expected weighted smeared sum 6, got %g", got)
	}
}

// TestCollateWithoutSimulation tests the guidance error for missing results
func TestCollateWithoutSimulation(t *testing.T) {
	inst := writeInstallation(t)
	tarball := filepath.Join(t.TempDir(), "never_simulated.tar.gz")

	if _, err := Collate(context.Background(), inst, tarball); err == nil {
		t.Error("Expected error when the processed dir does not exist")
	}
}

// TestSimulate tests the full unpack/run/collate flow against a stub binary
func TestSimulate(t *testing.T) {
	inst := writeInstallation(t)

	// The stub checks the real invocation contract and regenerates its event
	// table on every call so the post-parse cleanup does not interfere.
	script := `#!/bin/sh
if [ "$#" -ne 3 ]; then echo "expected 3 arguments, got $#" >&2; exit 1; fi
if [ ! -f supernova.glb ]; then echo "supernova.glb not found" >&2; exit 1; fi
table="out/${1}_ibd_${3}_events_smeared_weighted.dat"
printf '0.0005 1\n0.0015 2\n--------\nTotal: 3\n' > "$table"
echo "0 $table"
`
	if err := os.WriteFile(filepath.Join(inst.BaseDir, "bin", "supernova"), []byte(script), 0755); err != nil {
		t.Fatalf("Failed to write stub binary: %v", err)
	}

	tarball := writeStubArtifact(t, t.TempDir())
	if err := Simulate(context.Background(), inst, tarball, "wc100kt30prct", 2); err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	tables, err := Collate(context.Background(), inst, tarball)
	if err != nil {
		t.Fatalf("Failed to collate results: %v", err)
	}
	key := CollatedKey("stub", "wc100kt30prct", true, true)
	table, ok := tables[key]
	if !ok {
		t.Fatalf("Expected table %s, got keys %v", key, len(tables))
	}
	// ibd weight is 2, so the weighted sum doubles the raw counts
	if got := table.SumCounts(); math.Abs(got-6) > 1e-12 {
		t.Errorf("Expected weighted sum 6, got %g", got)
	}
}

// TestSimulateUnknownDetector tests detector validation before any work runs
func TestSimulateUnknownDetector(t *testing.T) {
	inst := writeInstallation(t)

	// A real artifact so unpacking succeeds before detector validation
	dir := t.TempDir()
	tarball := writeStubArtifact(t, dir)

	if err := Simulate(context.Background(), inst, tarball, "not_a_detector", 2); err == nil {
		t.Error("Expected error for unknown detector")
	}
}

// writeStubArtifact packs one tiny flux file into a tarball.
func writeStubArtifact(t *testing.T, dir string) string {
	t.Helper()

	tarball := filepath.Join(dir, "stub.tar.gz")
	out, err := os.Create(tarball)
	if err != nil {
		t.Fatalf("Failed to create artifact: %v", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	content := []byte("0.0005 1 1 1 1 1 1\n")
	hdr := &tar.Header{Name: "stub.dat", Mode: 0644, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("Failed to write tar header: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("Failed to write tar member: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Failed to close tar writer: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("Failed to close gzip writer: %v", err)
	}
	return tarball
}
