// Package geo resolves client IPs to coarse location data and applies a
// workspace's suppression and precision settings.
package geo

import (
	"math"
	"net"

	"github.com/user/analytics-ingest/pkg/event"
)

// Lookup resolves an IP address to location data. Implementations may be
// backed by an in-memory database, a remote service, or (in tests and
// no-op deployments) return the zero value.
type Lookup interface {
	Lookup(ip net.IP) (event.GeoInfo, error)
}

// NoopLookup always returns an empty GeoInfo. It is the session handler's
// default Lookup when none is configured.
type NoopLookup struct{}

func (NoopLookup) Lookup(net.IP) (event.GeoInfo, error) {
	return event.GeoInfo{}, nil
}

// Settings mirrors the subset of a workspace's settings that shape geo
// enrichment.
type Settings struct {
	Enabled              bool
	StoreCity            bool
	StoreRegion          bool
	CoordinatesPrecision int // decimal places to round lat/long to
}

// Resolve performs the lookup (if enabled and ip is non-nil) and applies
// suppression/precision rules. On any error, or when geo is disabled, it
// returns the zero-value GeoInfo rather than failing the payload.
func Resolve(l Lookup, ip net.IP, s Settings) event.GeoInfo {
	if !s.Enabled || ip == nil || l == nil {
		return event.GeoInfo{}
	}

	info, err := l.Lookup(ip)
	if err != nil {
		return event.GeoInfo{}
	}

	if !s.StoreCity {
		info.City = ""
	}
	if !s.StoreRegion {
		info.Region = ""
	}
	if info.HasCoords {
		info.Latitude = round(info.Latitude, s.CoordinatesPrecision)
		info.Longitude = round(info.Longitude, s.CoordinatesPrecision)
	}
	return info
}

func round(v float64, precision int) float64 {
	if precision < 0 {
		precision = 0
	}
	ratio := math.Pow(10, float64(precision))
	return math.Round(v*ratio) / ratio
}
