// Package workspace holds the tenant model the ingest and backfill
// components read: workspace settings, a TTL cache with invalidation, and a
// "filters.changed" broadcaster that fans out invalidation to subscribers
// in the same process or, through redis, on other replicas.
package workspace

import (
	"github.com/user/analytics-ingest/pkg/filter"
)

// Settings is the subset of a workspace's configuration consumed by the
// ingest/backfill core.
type Settings struct {
	GeoEnabled              bool
	GeoStoreCity            bool
	GeoStoreRegion          bool
	GeoCoordinatesPrecision int
	BounceThreshold         int
	CustomDimensions        map[string]string
	Filters                 []filter.Definition
}

// Workspace is the tenant record the core reads from its owning service.
type Workspace struct {
	ID       string
	Timezone string
	Settings Settings
}
