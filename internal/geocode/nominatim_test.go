package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/platform/ratelimit"
	"github.com/globaltrial/registry-pipeline/internal/repos"
	"github.com/globaltrial/registry-pipeline/internal/repos/testutil"
)

func TestLocationKeyAndQuery(t *testing.T) {
	loc := domain.Location{Facility: "Mass General", City: "Boston", State: "MA", Country: "USA"}
	if key := locationKey(loc); key != "mass general|boston|ma|usa" {
		t.Fatalf("locationKey = %q", key)
	}
	if q := locationQuery(loc); q != "Mass General, Boston, MA, USA" {
		t.Fatalf("locationQuery = %q", q)
	}
}

func TestLocationQuerySkipsEmptyParts(t *testing.T) {
	loc := domain.Location{City: "Paris", Country: "France"}
	if q := locationQuery(loc); q != "Paris, France" {
		t.Fatalf("locationQuery = %q", q)
	}
}

func TestResolveUsesCacheOnSecondCall(t *testing.T) {
	gdb := testutil.DB(t)
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]nominatimResult{{Lat: "42.3601", Lon: "-71.0589"}})
	}))
	defer srv.Close()
	nominatimBaseURL = srv.URL

	cache := repos.NewGeocodeRepo(gdb)
	limiter := ratelimit.NewRegistry()
	client := New(testutil.Logger(t), limiter, cache, "test-agent")

	loc := domain.Location{City: "Boston", State: "MA", Country: "USA"}

	lat, lng, err := client.Resolve(context.Background(), loc)
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if lat == nil || *lat != 42.3601 || lng == nil || *lng != -71.0589 {
		t.Fatalf("unexpected coordinates: lat=%v lng=%v", lat, lng)
	}

	lat2, lng2, err := client.Resolve(context.Background(), loc)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if lat2 == nil || *lat2 != *lat || lng2 == nil || *lng2 != *lng {
		t.Fatalf("cached resolve mismatch: %v/%v vs %v/%v", lat2, lng2, lat, lng)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", calls)
	}
}

func TestResolveEmptyLocationIsNoop(t *testing.T) {
	gdb := testutil.DB(t)
	cache := repos.NewGeocodeRepo(gdb)
	limiter := ratelimit.NewRegistry()
	client := New(testutil.Logger(t), limiter, cache, "test-agent")

	lat, lng, err := client.Resolve(context.Background(), domain.Location{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if lat != nil || lng != nil {
		t.Fatalf("expected nil coordinates for an empty location, got lat=%v lng=%v", lat, lng)
	}
}
