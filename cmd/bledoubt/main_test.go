package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/bledoubt/internal/analysis"
	"github.com/banshee-data/bledoubt/internal/config"
	"github.com/banshee-data/bledoubt/internal/db"
	"github.com/banshee-data/bledoubt/internal/ingest"
	"github.com/banshee-data/bledoubt/internal/notify"
	"github.com/banshee-data/bledoubt/internal/serialmux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp runs the test from a fresh working directory so history paths
// pass validation.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func seed(t *testing.T, dbPath string) {
	t.Helper()
	store, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer store.Close()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for s := 0; s <= 600; s += 30 {
		rec := db.TestRecord("AA:01", start.Add(time.Duration(s)*time.Second), 45+float64(s)*1.5/111195.0, 7, 5)
		require.NoError(t, store.RecordDetection(context.Background(), db.DeviceMetadata{Address: "AA:01"}, rec))
	}
}

func TestRunCommand_Analyse(t *testing.T) {
	dir := chdirTemp(t)
	dbPath := filepath.Join(dir, "bledoubt.db")
	seed(t, dbPath)

	rec := &notify.Recorder{}
	var out bytes.Buffer
	require.NoError(t, runCommand(context.Background(), []string{"analyse"}, dbPath, config.DefaultAnalysisConfig(), rec, &out))

	var res analysis.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, []string{"AA:01"}, res.NewlySuspicious)
	assert.Equal(t, analysis.NotifiedSingle, res.Notified)
	assert.Equal(t, 1, rec.Total())
}

func TestRunCommand_ExportImport(t *testing.T) {
	dir := chdirTemp(t)
	dbPath := filepath.Join(dir, "bledoubt.db")
	seed(t, dbPath)
	ctx := context.Background()
	cfg := config.DefaultAnalysisConfig()

	var out bytes.Buffer
	require.NoError(t, runCommand(ctx, []string{"export", "history.json"}, dbPath, cfg, nil, &out))
	assert.Contains(t, out.String(), "Exported history to history.json")

	other := filepath.Join(dir, "other.db")
	require.NoError(t, runCommand(ctx, []string{"import", "history.json"}, other, cfg, nil, &out))

	store, err := db.NewDB(other)
	require.NoError(t, err)
	defer store.Close()
	recs, err := store.DetectionRecords(ctx, "AA:01")
	require.NoError(t, err)
	assert.Len(t, recs, 21)
}

func TestRunCommand_Errors(t *testing.T) {
	dir := chdirTemp(t)
	dbPath := filepath.Join(dir, "bledoubt.db")
	cfg := config.DefaultAnalysisConfig()
	ctx := context.Background()

	tests := []struct {
		name string
		args []string
	}{
		{"unknown", []string{"frobnicate"}},
		{"export without file", []string{"export"}},
		{"export outside allowed dirs", []string{"export", "/etc/history.json"}},
		{"export wrong extension", []string{"export", "history.db"}},
		{"import missing file", []string{"import", "missing.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, runCommand(ctx, tt.args, dbPath, cfg, nil, &bytes.Buffer{}))
		})
	}
}

func TestRunCommand_Migrate(t *testing.T) {
	dir := chdirTemp(t)
	var out bytes.Buffer
	require.NoError(t, runCommand(context.Background(), []string{"migrate", "up"}, filepath.Join(dir, "m.db"), config.DefaultAnalysisConfig(), nil, &out))
}

func TestDevFixtureLines(t *testing.T) {
	filter := ingest.Filter{MaxRangeMeters: config.DefaultAnalysisConfig().GetMaxBLERangeMeters()}
	var kept, dropped int
	for _, line := range devFixtureLines() {
		if serialmux.ClassifyLine(line) != serialmux.LineTypeDetection {
			continue
		}
		r, err := ingest.ParseLine(line)
		require.NoError(t, err)
		if filter.Check(r) == nil {
			kept++
		} else {
			dropped++
		}
	}
	assert.Equal(t, 1, kept)
	assert.Equal(t, 1, dropped)
}

func TestNewNotifier(t *testing.T) {
	assert.IsType(t, notify.LogNotifier{}, newNotifier(""))
	assert.IsType(t, notify.Multi{}, newNotifier("http://localhost:9/hook"))
}
