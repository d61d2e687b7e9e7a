package db

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestPragmasApplied(t *testing.T) {
	db := NewTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("Failed to query foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("Expected foreign_keys=1, got %d", foreignKeys)
	}
}

func TestRunMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	var out bytes.Buffer

	if err := RunMigrateCommand([]string{"help"}, dbPath, &out); err != nil {
		t.Fatalf("help: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte("baseline")) {
		t.Errorf("help output missing actions:\n%s", out.String())
	}

	if err := RunMigrateCommand([]string{"up"}, dbPath, &out); err != nil {
		t.Fatalf("up: %v", err)
	}
	if err := RunMigrateCommand([]string{"up"}, dbPath, &out); err != nil {
		t.Fatalf("second up should be a no-op: %v", err)
	}

	out.Reset()
	if err := RunMigrateCommand([]string{"status"}, dbPath, &out); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte("Current version: 3")) {
		t.Errorf("status output:\n%s", out.String())
	}

	if err := RunMigrateCommand([]string{"version", "1"}, dbPath, &out); err != nil {
		t.Fatalf("version 1: %v", err)
	}
	assertTable(t, dbPath, "analysis_runs", false)
	assertTable(t, dbPath, "devices", true)

	if err := RunMigrateCommand([]string{"down"}, dbPath, &out); err != nil {
		t.Fatalf("down: %v", err)
	}
	assertTable(t, dbPath, "devices", false)
}

func TestRunMigrateCommand_Errors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	tests := [][]string{
		{},
		{"sideways"},
		{"version"},
		{"version", "abc"},
		{"force", "-1"},
	}
	for _, args := range tests {
		if err := RunMigrateCommand(args, dbPath, io.Discard); err == nil {
			t.Errorf("RunMigrateCommand(%q) succeeded, want error", args)
		}
	}
}

func TestBaselineAtVersion(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "baseline.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.BaselineAtVersion(3); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if err := db.BaselineAtVersion(3); err == nil {
		t.Error("second baseline should fail")
	}

	fsys, err := getMigrationsFS()
	if err != nil {
		t.Fatal(err)
	}
	status, err := db.GetMigrationStatus(fsys)
	if err != nil {
		t.Fatal(err)
	}
	if status.CurrentVersion != 3 || status.LatestVersion != 3 || !status.TableExists || status.Dirty {
		t.Errorf("unexpected status %+v", status)
	}
}

func assertTable(t *testing.T, dbPath, table string, want bool) {
	t.Helper()
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if (n == 1) != want {
		t.Errorf("table %s exists=%v, want %v", table, n == 1, want)
	}
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := NewTestDB(t)
	wd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("backup is not gzip: %v", err)
	}
	head := make([]byte, 16)
	if _, err := io.ReadFull(zr, head); err != nil {
		t.Fatal(err)
	}
	if string(head) != "SQLite format 3\x00" {
		t.Errorf("backup header = %q", head)
	}
}
