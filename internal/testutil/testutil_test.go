package testutil

import (
	"errors"
	"io"
	"net/http"
	"testing"
	"time"
)

// recordingTB captures failures instead of failing the enclosing test.
type recordingTB struct {
	testing.TB
	errors, fatals int
}

func (r *recordingTB) Helper() {}
func (r *recordingTB) Errorf(string, ...any) { r.errors++ }
func (r *recordingTB) Fatal(...any) { r.fatals++ }
func (r *recordingTB) Fatalf(string, ...any) { r.fatals++ }
func (r *recordingTB) failed() bool { return r.errors+r.fatals > 0 }

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)

	rec := &recordingTB{}
	AssertStatusCode(rec, http.StatusBadRequest, http.StatusOK)
	if rec.errors != 1 {
		t.Errorf("mismatched status recorded %d errors, want 1", rec.errors)
	}
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)

	rec := &recordingTB{}
	AssertNoError(rec, errors.New("boom"))
	if rec.fatals != 1 {
		t.Errorf("non-nil error recorded %d fatals, want 1", rec.fatals)
	}
}

func TestAssertError(t *testing.T) {
	t.Parallel()
	AssertError(t, errors.New("test error"))

	rec := &recordingTB{}
	AssertError(rec, nil)
	if !rec.failed() {
		t.Error("nil error was not reported")
	}
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()

	req := NewTestRequest(http.MethodGet, "/api/devices")
	if req.Method != http.MethodGet || req.URL.Path != "/api/devices" {
		t.Errorf("got %s %s", req.Method, req.URL.Path)
	}

	req = NewTestRequest(http.MethodPost, "/api/detections", `{"address":"AA"}`)
	body, _ := io.ReadAll(req.Body)
	if string(body) != `{"address":"AA"}` {
		t.Errorf("body = %q", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	got := DecodeJSON[map[string]int](t, []byte(`{"devices":2}`))
	if got["devices"] != 2 {
		t.Errorf("devices = %d, want 2", got["devices"])
	}
}

func TestWalk(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	fixes := Walk(start, 10*time.Minute, 30*time.Second, 45, 7, 1.5)
	if len(fixes) != 21 {
		t.Fatalf("len = %d, want 21", len(fixes))
	}
	last := fixes[len(fixes)-1]
	if !last.Time.Equal(start.Add(10 * time.Minute)) {
		t.Errorf("last time = %v", last.Time)
	}
	if meters := (last.Latitude - 45) * MetersPerDegreeLat; meters < 899.9 || meters > 900.1 {
		t.Errorf("distance walked = %.2fm, want 900m", meters)
	}
	if last.Longitude != 7 {
		t.Errorf("longitude = %v, want 7", last.Longitude)
	}

	if Walk(start, time.Minute, 0, 0, 0, 1) != nil {
		t.Error("zero step should yield no fixes")
	}
}
