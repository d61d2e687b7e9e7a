// Package testutil provides shared test helpers and synthetic receiver
// tracks for the store, analysis and API tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// MetersPerDegreeLat is the length of one degree of latitude on the mean
// Earth sphere.
const MetersPerDegreeLat = 111195.0

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request with an optional body.
func NewTestRequest(method, path string, body ...string) *http.Request {
	var r io.Reader
	if len(body) > 0 {
		r = strings.NewReader(body[0])
	}
	return httptest.NewRequest(method, path, r)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// DecodeJSON unmarshals body into a T, failing the test on error.
func DecodeJSON[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("failed to decode %q: %v", body, err)
	}
	return v
}

// Fix is one receiver position in a synthetic track.
type Fix struct {
	Time      time.Time
	Latitude  float64
	Longitude float64
}

// Walk returns one fix every step from start to start+dur inclusive, moving
// due north from (lat, lon) at speed m/s.
func Walk(start time.Time, dur, step time.Duration, lat, lon, speed float64) []Fix {
	if step <= 0 {
		return nil
	}
	var fixes []Fix
	for off := time.Duration(0); off <= dur; off += step {
		fixes = append(fixes, Fix{
			Time:      start.Add(off),
			Latitude:  lat + speed*off.Seconds()/MetersPerDegreeLat,
			Longitude: lon,
		})
	}
	return fixes
}
