package geo

import (
	"net"
	"testing"

	"github.com/user/analytics-ingest/pkg/event"
)

type fakeLookup struct {
	info event.GeoInfo
	err  error
}

func (f fakeLookup) Lookup(net.IP) (event.GeoInfo, error) {
	return f.info, f.err
}

func TestResolveDisabledReturnsZeroValue(t *testing.T) {
	l := fakeLookup{info: event.GeoInfo{Country: "US", City: "Columbus", HasCoords: true}}
	got := Resolve(l, net.ParseIP("1.2.3.4"), Settings{Enabled: false})
	if got != (event.GeoInfo{}) {
		t.Fatalf("expected zero-value GeoInfo when disabled, got %+v", got)
	}
}

func TestResolveNilIPReturnsZeroValue(t *testing.T) {
	l := fakeLookup{info: event.GeoInfo{Country: "US"}}
	got := Resolve(l, nil, Settings{Enabled: true})
	if got != (event.GeoInfo{}) {
		t.Fatalf("expected zero-value GeoInfo for nil ip, got %+v", got)
	}
}

func TestResolveSuppressesCityAndRegion(t *testing.T) {
	l := fakeLookup{info: event.GeoInfo{Country: "US", City: "Columbus", Region: "OH"}}
	got := Resolve(l, net.ParseIP("1.2.3.4"), Settings{Enabled: true, StoreCity: false, StoreRegion: false})
	if got.City != "" || got.Region != "" {
		t.Fatalf("expected city/region suppressed, got %+v", got)
	}
	if got.Country != "US" {
		t.Fatalf("expected country preserved, got %+v", got)
	}
}

func TestResolveRoundsCoordinatesToPrecision(t *testing.T) {
	l := fakeLookup{info: event.GeoInfo{Latitude: 39.123456, Longitude: -84.654321, HasCoords: true}}
	got := Resolve(l, net.ParseIP("1.2.3.4"), Settings{Enabled: true, CoordinatesPrecision: 2})
	if got.Latitude != 39.12 {
		t.Fatalf("expected latitude rounded to 39.12, got %v", got.Latitude)
	}
	if got.Longitude != -84.65 {
		t.Fatalf("expected longitude rounded to -84.65, got %v", got.Longitude)
	}
}

func TestResolveLookupErrorReturnsZeroValue(t *testing.T) {
	l := fakeLookup{err: net.UnknownNetworkError("boom")}
	got := Resolve(l, net.ParseIP("1.2.3.4"), Settings{Enabled: true})
	if got != (event.GeoInfo{}) {
		t.Fatalf("expected zero-value GeoInfo on lookup error, got %+v", got)
	}
}
