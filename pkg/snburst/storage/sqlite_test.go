package storage

import (
	"os"
	"path/filepath"
	"testing"
)

// Helper function to create a temporary test database
func setupTestDB(t *testing.T) (*DBClient, string) {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test_snburst.sqlite3")

	oldPath := os.Getenv("SNBURST_DB_PATH")
	os.Setenv("SNBURST_DB_PATH", dbPath)
	t.Cleanup(func() {
		if oldPath == "" {
			os.Unsetenv("SNBURST_DB_PATH")
		} else {
			os.Setenv("SNBURST_DB_PATH", oldPath)
		}
	})

	client, err := NewDBClient()
	if err != nil {
		t.Fatalf("Failed to create test DB client: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
	})

	return client, dbPath
}

func sampleRun() Run {
	return Run{
		Model:          "s27",
		ModelType:      "pinched",
		Detector:       "wc100kt30prct",
		Transformation: "AdiabaticMSW_NMO",
		DistanceKpc:    10,
		Windows:        20,
		Spacing:        "log",
		ArtifactPath:   "/data/s27.tar.gz",
	}
}

// TestNewDBClient tests database initialization
func TestNewDBClient(t *testing.T) {
	client, dbPath := setupTestDB(t)

	if client == nil {
		t.Fatal("Expected non-nil DB client")
	}
	if client.DB == nil {
		t.Fatal("Expected non-nil GORM DB handle")
	}
	if client.db == nil {
		t.Fatal("Expected non-nil sql.DB handle")
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("Database file was not created at %s", dbPath)
	}
}

// TestNewDBClientWithCustomPath tests database creation in a fresh subdir
func TestNewDBClientWithCustomPath(t *testing.T) {
	customPath := filepath.Join(t.TempDir(), "subdir", "custom.db")

	client, err := NewDBClientWithPath(customPath)
	if err != nil {
		t.Fatalf("Failed to create DB with custom path: %v", err)
	}
	defer client.Close()

	if _, err := os.Stat(customPath); os.IsNotExist(err) {
		t.Errorf("Database file was not created at custom path %s", customPath)
	}
}

// TestRegisterRun tests run registration and id assignment
func TestRegisterRun(t *testing.T) {
	client, _ := setupTestDB(t)

	runID, err := client.RegisterRun(sampleRun())
	if err != nil {
		t.Fatalf("Failed to register run: %v", err)
	}
	if runID == "" {
		t.Fatal("Expected non-empty run ID")
	}

	run, err := client.GetRunByID(runID)
	if err != nil {
		t.Fatalf("Failed to retrieve registered run: %v", err)
	}
	if run.Model != "s27" {
		t.Errorf("Expected model 's27', got '%s'", run.Model)
	}
	if run.Detector != "wc100kt30prct" {
		t.Errorf("Expected detector 'wc100kt30prct', got '%s'", run.Detector)
	}
	if run.Windows != 20 || run.Spacing != "log" {
		t.Errorf("Expected 20 log windows, got %d %s", run.Windows, run.Spacing)
	}
	if run.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be populated")
	}
}

// TestRegisterRunExplicitID tests that a caller-supplied id is kept
func TestRegisterRunExplicitID(t *testing.T) {
	client, _ := setupTestDB(t)

	run := sampleRun()
	run.ID = "fixed-id-123"
	runID, err := client.RegisterRun(run)
	if err != nil {
		t.Fatalf("Failed to register run: %v", err)
	}
	if runID != "fixed-id-123" {
		t.Errorf("Expected explicit id to be kept, got %s", runID)
	}
}

// TestGetRunByIDNotFound tests the miss path
func TestGetRunByIDNotFound(t *testing.T) {
	client, _ := setupTestDB(t)

	if _, err := client.GetRunByID("does-not-exist"); err == nil {
		t.Error("Expected error for unknown run id")
	}
}

// TestStoreBinCounts tests inserting and reading back window counts
func TestStoreBinCounts(t *testing.T) {
	client, _ := setupTestDB(t)

	runID, err := client.RegisterRun(sampleRun())
	if err != nil {
		t.Fatalf("Failed to register run: %v", err)
	}

	counts := []BinCount{
		{BinIndex: 1, TStart: 0.5, TEnd: 1.0, TMid: 0.75, Events: 40, Rate: 80},
		{BinIndex: 0, TStart: 0.0, TEnd: 0.5, TMid: 0.25, Events: 120, Rate: 240},
	}
	if err := client.StoreBinCounts(runID, counts); err != nil {
		t.Fatalf("Failed to store bin counts: %v", err)
	}

	got, err := client.GetBinCounts(runID)
	if err != nil {
		t.Fatalf("Failed to get bin counts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 bin counts, got %d", len(got))
	}
	// Ordered by bin index regardless of insertion order
	if got[0].BinIndex != 0 || got[1].BinIndex != 1 {
		t.Errorf("Expected counts ordered by bin index, got %d then %d", got[0].BinIndex, got[1].BinIndex)
	}
	if got[0].Events != 120 || got[0].Rate != 240 {
		t.Errorf("Unexpected first bin: %+v", got[0])
	}
	if got[0].RunID != runID {
		t.Errorf("Expected run id %s on bin counts, got %s", runID, got[0].RunID)
	}
}

// TestStoreBinCountsEmpty tests that an empty slice is a no-op
func TestStoreBinCountsEmpty(t *testing.T) {
	client, _ := setupTestDB(t)

	runID, _ := client.RegisterRun(sampleRun())
	if err := client.StoreBinCounts(runID, nil); err != nil {
		t.Errorf("Expected no error for empty counts, got: %v", err)
	}
}

// TestStoreBinCountsLargeBatch tests batch insertion past the batch size
func TestStoreBinCountsLargeBatch(t *testing.T) {
	client, _ := setupTestDB(t)

	runID, _ := client.RegisterRun(sampleRun())
	counts := make([]BinCount, 1200)
	for i := range counts {
		counts[i] = BinCount{BinIndex: i, Events: float64(i)}
	}
	if err := client.StoreBinCounts(runID, counts); err != nil {
		t.Fatalf("Failed to store large batch: %v", err)
	}

	got, err := client.GetBinCounts(runID)
	if err != nil {
		t.Fatalf("Failed to get bin counts: %v", err)
	}
	if len(got) != 1200 {
		t.Errorf("Expected 1200 bin counts, got %d", len(got))
	}
}

// TestListRuns tests listing in reverse chronological order
func TestListRuns(t *testing.T) {
	client, _ := setupTestDB(t)

	first := sampleRun()
	first.Model = "s27_first"
	if _, err := client.RegisterRun(first); err != nil {
		t.Fatalf("Failed to register first run: %v", err)
	}
	second := sampleRun()
	second.Model = "s27_second"
	if _, err := client.RegisterRun(second); err != nil {
		t.Fatalf("Failed to register second run: %v", err)
	}

	runs, err := client.ListRuns()
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
}

// TestDeleteRunByID tests cascading deletion of run and counts
func TestDeleteRunByID(t *testing.T) {
	client, _ := setupTestDB(t)

	runID, _ := client.RegisterRun(sampleRun())
	if err := client.StoreBinCounts(runID, []BinCount{{BinIndex: 0, Events: 5}}); err != nil {
		t.Fatalf("Failed to store bin counts: %v", err)
	}

	if err := client.DeleteRunByID(runID); err != nil {
		t.Fatalf("Failed to delete run: %v", err)
	}

	if _, err := client.GetRunByID(runID); err == nil {
		t.Error("Expected run to be deleted, but it still exists")
	}
	counts, err := client.GetBinCounts(runID)
	if err != nil {
		t.Fatalf("Failed to query bin counts: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("Expected 0 bin counts after deletion, found %d", len(counts))
	}
}

// TestClose tests closing the database connection
func TestClose(t *testing.T) {
	client, err := NewDBClientWithPath(filepath.Join(t.TempDir(), "close_test.sqlite3"))
	if err != nil {
		t.Fatalf("Failed to create DB client: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Failed to close DB connection: %v", err)
	}
}

// TestNilClientMethods tests that methods handle nil client gracefully
func TestNilClientMethods(t *testing.T) {
	var client *DBClient

	if _, err := client.RegisterRun(sampleRun()); err == nil {
		t.Error("Expected error for nil client in RegisterRun")
	}
	if err := client.StoreBinCounts("x", nil); err == nil {
		t.Error("Expected error for nil client in StoreBinCounts")
	}
	if _, err := client.GetRunByID("x"); err == nil {
		t.Error("Expected error for nil client in GetRunByID")
	}
	if _, err := client.GetBinCounts("x"); err == nil {
		t.Error("Expected error for nil client in GetBinCounts")
	}
	if _, err := client.ListRuns(); err == nil {
		t.Error("Expected error for nil client in ListRuns")
	}
	if err := client.DeleteRunByID("x"); err == nil {
		t.Error("Expected error for nil client in DeleteRunByID")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close on nil client should return nil, got: %v", err)
	}
}
