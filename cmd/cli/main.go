package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stlgolfer/snewpy-log-bins/pkg/logger"
	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst"
	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/campaign"
	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/export"
	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/flux"
)

// Global options shared by every command
var (
	dbPath     string
	installDir string
	tempDir    string
	workers    int
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// addGlobalFlags registers the shared flags on a command's flag set.
func addGlobalFlags(fs *flag.FlagSet) {
	fs.StringVar(&dbPath, "db", getEnvOrDefault("SNBURST_DB_PATH", "snburst.sqlite3"), "Path to the SQLite run catalog")
	fs.StringVar(&installDir, "install", os.Getenv("SNOWGLOBES"), "Toolkit installation directory (env: SNOWGLOBES)")
	fs.StringVar(&tempDir, "temp", getEnvOrDefault("SNBURST_TEMP_DIR", "."), "Directory for fluence artifacts")
	fs.IntVar(&workers, "workers", 4, "Concurrent toolkit invocations")
}

// createService creates the pipeline service with the configured options
func createService() (snburst.Service, error) {
	return snburst.NewService(
		snburst.WithDBPath(dbPath),
		snburst.WithInstallDir(installDir),
		snburst.WithTempDir(tempDir),
		snburst.WithWorkers(workers),
	)
}

func main() {
	log := logger.GetLogger()

	printBanner()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	log.Infof("Executing command: %s", command)

	switch command {
	case "run":
		handleRun()
	case "fluence":
		handleFluence()
	case "simulate":
		handleSimulate()
	case "collate":
		handleCollate()
	case "list":
		handleList()
	case "delete":
		handleDelete()
	case "plot":
		handlePlot()
	case "export":
		handleExport()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
                _                    _
  ___ _ __  ___| |__  _   _ _ __ ___| |_
 / __| '_ \/ __| '_ \| | | | '__/ __| __|
 \__ \ | | \__ \ |_) | |_| | |  \__ \ |_
 |___/_| |_|___/_.__/ \__,_|_|  |___/\__|

     Supernova burst event-rate pipeline
`
	fmt.Println(banner)
}

func handleRun() {
	log := logger.GetLogger()

	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	addGlobalFlags(runCmd)
	runCmd.Parse(os.Args[2:])

	if runCmd.NArg() < 1 {
		fmt.Println("Usage: snburst run <campaign.yaml>")
		os.Exit(1)
	}
	campaignPath := runCmd.Arg(0)

	c, err := campaign.Load(campaignPath)
	if err != nil {
		fmt.Printf("Invalid campaign: %v\n", err)
		log.Errorf("Campaign load failed: %v", err)
		os.Exit(1)
	}

	svc, err := createService()
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	fmt.Println("Running pipeline...")
	fmt.Println("   fluence generation, detector simulation, collation")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	summary, err := svc.RunCampaign(ctx, c)
	if err != nil {
		fmt.Printf("\nPipeline failed: %v\n", err)
		log.Errorf("RunCampaign failed: %v", err)
		os.Exit(1)
	}

	fmt.Println("\nPipeline complete!")
	fmt.Printf("   Run ID:       %s\n", summary.RunID)
	fmt.Printf("   Artifact:     %s\n", summary.ArtifactPath)
	fmt.Printf("   Detector:     %s\n", summary.Detector)
	fmt.Printf("   Total events: %.1f\n", summary.TotalEvents)
	if summary.PlotPath != "" {
		fmt.Printf("   Plot:         %s\n", summary.PlotPath)
	}
	if summary.SpectraPath != "" {
		fmt.Printf("   Spectra:      %s\n", summary.SpectraPath)
	}
	if summary.ExportPath != "" {
		fmt.Printf("   Export:       %s\n", summary.ExportPath)
	}
	log.Infof("Run %s finished with %.1f expected events", summary.RunID, summary.TotalEvents)
}

func handleFluence() {
	log := logger.GetLogger()

	fluenceCmd := flag.NewFlagSet("fluence", flag.ExitOnError)
	addGlobalFlags(fluenceCmd)
	model := fluenceCmd.String("model", "", "Path to the emission model file (required)")
	modelType := fluenceCmd.String("model-type", "pinched", "Emission model type")
	trans := fluenceCmd.String("transformation", "NoTransformation", "Flavor transformation")
	distance := fluenceCmd.Float64("distance", 10, "Source distance in kpc")
	output := fluenceCmd.String("output", "", "Output artifact name (required)")
	nbins := fluenceCmd.Int("bins", 0, "Number of time windows (0 = time-integrated)")
	tmin := fluenceCmd.Float64("tmin", 0, "Window range start in seconds")
	tmax := fluenceCmd.Float64("tmax", 0, "Window range end in seconds")
	spacing := fluenceCmd.String("spacing", "linear", "Window spacing: linear or log")
	fluenceCmd.Parse(os.Args[2:])

	if *model == "" || *output == "" {
		fmt.Println("Error: --model and --output are required")
		fmt.Println("Usage: snburst fluence --model <file> --output <name> [--bins N --tmin T --tmax T --spacing log]")
		os.Exit(1)
	}

	var windows []flux.Window
	if *nbins > 0 {
		var err error
		windows, err = flux.BuildWindows(*tmin, *tmax, *nbins, flux.Spacing(*spacing))
		if err != nil {
			fmt.Printf("Invalid window settings: %v\n", err)
			os.Exit(1)
		}
	}

	svc, err := createService()
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	tarball, err := svc.GenerateFluence(ctx, flux.FluenceRequest{
		ModelPath:      *model,
		ModelType:      *modelType,
		Transformation: *trans,
		DistanceKpc:    *distance,
		OutputName:     *output,
		Windows:        windows,
	})
	if err != nil {
		fmt.Printf("Fluence generation failed: %v\n", err)
		log.Errorf("GenerateFluence failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote fluence artifact: %s\n", tarball)
}

func handleSimulate() {
	log := logger.GetLogger()

	simCmd := flag.NewFlagSet("simulate", flag.ExitOnError)
	addGlobalFlags(simCmd)
	detector := simCmd.String("detector", "all", "Detector name, or 'all'")
	simCmd.Parse(os.Args[2:])

	if simCmd.NArg() < 1 {
		fmt.Println("Usage: snburst simulate [--detector <name>] <artifact.tar.gz>")
		os.Exit(1)
	}
	tarball := simCmd.Arg(0)

	svc, err := createService()
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	fmt.Println("Running detector simulation...")
	fmt.Println("   This may take a while for many windows")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := svc.Simulate(ctx, tarball, *detector); err != nil {
		fmt.Printf("\nSimulation failed: %v\n", err)
		log.Errorf("Simulate failed: %v", err)
		os.Exit(1)
	}

	fmt.Println("\nSimulation complete")
}

func handleCollate() {
	log := logger.GetLogger()

	collateCmd := flag.NewFlagSet("collate", flag.ExitOnError)
	addGlobalFlags(collateCmd)
	exportDir := collateCmd.String("export", "", "Directory for Parquet copies of the collated tables")
	collateCmd.Parse(os.Args[2:])

	if collateCmd.NArg() < 1 {
		fmt.Println("Usage: snburst collate [--export <dir>] <artifact.tar.gz>")
		os.Exit(1)
	}
	tarball := collateCmd.Arg(0)

	svc, err := createService()
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	tables, err := svc.Collate(ctx, tarball)
	if err != nil {
		fmt.Printf("Collation failed: %v\n", err)
		log.Errorf("Collate failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("\nCollated %d tables:\n\n", len(tables))
	for name, table := range tables {
		fmt.Printf("  %s  (%d rows, %.1f events)\n", name, table.Rows(), table.SumCounts())
	}

	if *exportDir != "" {
		if err := export.WriteTables(*exportDir, tables); err != nil {
			fmt.Printf("Parquet export failed: %v\n", err)
			log.Errorf("Parquet export failed: %v", err)
			os.Exit(1)
		}
		fmt.Printf("\nExported parquet tables to %s\n", *exportDir)
	}
}

func handleList() {
	log := logger.GetLogger()

	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	addGlobalFlags(listCmd)
	listCmd.Parse(os.Args[2:])

	svc, err := createService()
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	runs, err := svc.ListRuns()
	if err != nil {
		fmt.Printf("Failed to list runs: %v\n", err)
		log.Errorf("ListRuns failed: %v", err)
		os.Exit(1)
	}

	if len(runs) == 0 {
		fmt.Println("\nNo runs in catalog")
		return
	}

	fmt.Printf("\nFound %d run(s):\n\n", len(runs))
	for i, run := range runs {
		fmt.Printf("%d. %s\n", i+1, run.ID)
		fmt.Printf("   Model:          %s (%s)\n", run.Model, run.ModelType)
		fmt.Printf("   Detector:       %s\n", run.Detector)
		fmt.Printf("   Transformation: %s at %.1f kpc\n", run.Transformation, run.DistanceKpc)
		fmt.Printf("   Windows:        %d (%s)\n", run.Windows, run.Spacing)
		fmt.Printf("   Created:        %s\n", run.CreatedAt.Format(time.RFC3339))
		fmt.Println()
	}
	log.Infof("Listed %d runs", len(runs))
}

func handleDelete() {
	log := logger.GetLogger()

	deleteCmd := flag.NewFlagSet("delete", flag.ExitOnError)
	addGlobalFlags(deleteCmd)
	deleteCmd.Parse(os.Args[2:])

	if deleteCmd.NArg() < 1 {
		fmt.Println("Usage: snburst delete <run_id>")
		os.Exit(1)
	}
	runID := deleteCmd.Arg(0)

	svc, err := createService()
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	run, err := svc.GetRunByID(runID)
	if err != nil {
		fmt.Printf("Run not found: %s\n", runID)
		log.Warnf("Run %s not found: %v", runID, err)
		os.Exit(1)
	}

	if err := svc.DeleteRun(runID); err != nil {
		fmt.Printf("Failed to delete run: %v\n", err)
		log.Errorf("DeleteRun failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("\nDeleted run %s (%s, %s)\n", run.ID, run.Model, run.Detector)
	log.Infof("Deleted run %s", run.ID)
}

func handlePlot() {
	log := logger.GetLogger()

	plotCmd := flag.NewFlagSet("plot", flag.ExitOnError)
	addGlobalFlags(plotCmd)
	out := plotCmd.String("out", "rates.png", "Plot destination")
	plotCmd.Parse(os.Args[2:])

	if plotCmd.NArg() < 1 {
		fmt.Println("Usage: snburst plot [--out rates.png] <run_id>")
		os.Exit(1)
	}
	runID := plotCmd.Arg(0)

	svc, err := createService()
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	if err := svc.PlotRun(runID, *out); err != nil {
		fmt.Printf("Plot failed: %v\n", err)
		log.Errorf("PlotRun failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %s\n", *out)
}

func handleExport() {
	log := logger.GetLogger()

	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	addGlobalFlags(exportCmd)
	out := exportCmd.String("out", "rates.parquet", "Export destination")
	exportCmd.Parse(os.Args[2:])

	if exportCmd.NArg() < 1 {
		fmt.Println("Usage: snburst export [--out rates.parquet] <run_id>")
		os.Exit(1)
	}
	runID := exportCmd.Arg(0)

	svc, err := createService()
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		log.Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	if err := svc.ExportRun(runID, *out); err != nil {
		fmt.Printf("Export failed: %v\n", err)
		log.Errorf("ExportRun failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %s\n", *out)
}

func printUsage() {
	fmt.Println("snburst - Supernova burst event-rate pipeline")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --db <path>        SQLite run catalog (env: SNBURST_DB_PATH, default: snburst.sqlite3)")
	fmt.Println("  --install <dir>    Toolkit installation directory (env: SNOWGLOBES)")
	fmt.Println("  --temp <dir>       Directory for fluence artifacts (env: SNBURST_TEMP_DIR, default: .)")
	fmt.Println("  --workers <n>      Concurrent toolkit invocations (default: 4)")
	fmt.Println("\nUsage (flags go before positional arguments):")
	fmt.Println("  snburst run [options] <campaign.yaml>")
	fmt.Println("  snburst fluence --model <file> --output <name> [--bins N --tmin T --tmax T --spacing log]")
	fmt.Println("  snburst simulate [--detector <name>] <artifact.tar.gz>")
	fmt.Println("  snburst collate [--export <dir>] <artifact.tar.gz>")
	fmt.Println("  snburst list")
	fmt.Println("  snburst delete <run_id>")
	fmt.Println("  snburst plot [--out rates.png] <run_id>")
	fmt.Println("  snburst export [--out rates.parquet] <run_id>")
	fmt.Println("\nExamples:")
	fmt.Println("  # Full pipeline from a campaign file")
	fmt.Println("  snburst run --install ~/snowglobes campaign.yaml")
	fmt.Println()
	fmt.Println("  # 20 log-spaced windows, adiabatic MSW, 10 kpc")
	fmt.Println("  snburst fluence --model models/s27.dat --output s27_logbins \\")
	fmt.Println("      --transformation AdiabaticMSW_NMO --distance 10 \\")
	fmt.Println("      --bins 20 --tmin 0.05 --tmax 10 --spacing log")
	fmt.Println()
	fmt.Println("  # Simulate and inspect")
	fmt.Println("  snburst simulate --detector wc100kt30prct s27_logbins.tar.gz")
	fmt.Println("  snburst collate s27_logbins.tar.gz")
}
