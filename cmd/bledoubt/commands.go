package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/bledoubt/internal/config"
	"github.com/banshee-data/bledoubt/internal/db"
	"github.com/banshee-data/bledoubt/internal/notify"
	"github.com/banshee-data/bledoubt/internal/security"
)

// runCommand executes a one-shot subcommand against the database at dbPath.
func runCommand(ctx context.Context, args []string, dbPath string, cfg *config.AnalysisConfig, n notify.Notifier, out io.Writer) error {
	switch args[0] {
	case "migrate":
		return db.RunMigrateCommand(args[1:], dbPath, out)
	case "analyse", "analyze":
		return runAnalyse(ctx, dbPath, cfg, n, out)
	case "export":
		if len(args) != 2 {
			return fmt.Errorf("usage: export <file.json>")
		}
		return runExport(ctx, dbPath, args[1], out)
	case "import":
		if len(args) != 2 {
			return fmt.Errorf("usage: import <file.json>")
		}
		return runImport(ctx, dbPath, args[1], out)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runAnalyse(ctx context.Context, dbPath string, cfg *config.AnalysisConfig, n notify.Notifier, out io.Writer) error {
	store, err := openStore(dbPath, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	a, _, err := newAnalyzer(store, cfg, n)
	if err != nil {
		return err
	}
	res, err := a.RunOnce(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runExport(ctx context.Context, dbPath, path string, out io.Writer) error {
	if err := security.ValidateHistoryPath(path); err != nil {
		return err
	}
	store, err := db.NewDB(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := store.ExportJSON(ctx, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Exported history to %s\n", path)
	return nil
}

func runImport(ctx context.Context, dbPath, path string, out io.Writer) error {
	if err := security.ValidateHistoryPath(path); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	store, err := db.NewDB(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.ImportJSON(ctx, f); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Imported history from %s\n", path)
	return nil
}

// devFixtureLines is the simulated scanner feed used with -dev: a nearby
// beacon, a distant one the range filter drops and a status line.
func devFixtureLines() []string {
	return []string{
		`# scanner: dev simulation`,
		`{"address":"DE:AD:00:00:00:01","name":"Tile","type":"tile","rssi":-58,"tx_power":-59,"lat":51.5007,"lon":-0.1246,"accuracy_m":8}`,
		`{"address":"DE:AD:00:00:00:02","name":"Neighbour TV","rssi":-96,"tx_power":-59,"lat":51.5007,"lon":-0.1246,"accuracy_m":8}`,
	}
}
