// Package geo resolves client addresses to routing regions using a MaxMind
// GeoIP2/GeoLite2 City database.
package geo

import (
	"net"
	"strings"
	"sync"

	"content-router/src/internal/common"

	"github.com/oschwald/geoip2-golang"
)

type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

// Location is what the database knows about an address
type Location struct {
	Country   string  `json:"country,omitempty"`
	Continent string  `json:"continent,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Resolver maps IP addresses onto router region names. Regions are looked up
// by ISO country code first, then by continent code. A nil Resolver or one
// without a database resolves nothing.
type Resolver struct {
	db      cityReader
	regions map[string]string
	cache   sync.Map // ip string -> Location
	logger  *common.SafeLogger
}

// NewResolver opens the database at dbPath. A missing or unreadable database
// is logged and leaves the resolver in pass-through mode.
func NewResolver(dbPath string, regions map[string]string) *Resolver {
	r := &Resolver{regions: normalizeRegions(regions), logger: common.ServerLogger}
	if dbPath == "" {
		return r
	}
	db, err := geoip2.Open(dbPath)
	if err != nil {
		r.logger.Warn("Could not open GeoIP database at %s: %v; client regions disabled", dbPath, err)
		return r
	}
	r.db = db
	return r
}

func newResolverWithReader(db cityReader, regions map[string]string) *Resolver {
	return &Resolver{db: db, regions: normalizeRegions(regions), logger: common.ServerLogger}
}

func normalizeRegions(regions map[string]string) map[string]string {
	out := make(map[string]string, len(regions))
	for code, region := range regions {
		out[strings.ToUpper(strings.TrimSpace(code))] = region
	}
	return out
}

// Enabled reports whether a database is loaded
func (r *Resolver) Enabled() bool {
	return r != nil && r.db != nil
}

// Close releases the database
func (r *Resolver) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Lookup returns the database record for an address. Private, loopback and
// unparseable addresses are never looked up.
func (r *Resolver) Lookup(ipStr string) (Location, bool) {
	if !r.Enabled() {
		return Location{}, false
	}
	if v, ok := r.cache.Load(ipStr); ok {
		return v.(Location), true
	}

	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
		return Location{}, false
	}

	record, err := r.db.City(ip)
	if err != nil {
		r.logger.Debug("GeoIP lookup failed for %s: %v", ipStr, err)
		return Location{}, false
	}
	loc := Location{
		Country:   record.Country.IsoCode,
		Continent: record.Continent.Code,
		City:      record.City.Names["en"],
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
	}
	if loc.Country == "" && loc.Continent == "" {
		return Location{}, false
	}
	r.cache.Store(ipStr, loc)
	return loc, true
}

// Region resolves an address to a configured region name, or "" when the
// address or its country has no mapping.
func (r *Resolver) Region(ipStr string) string {
	loc, ok := r.Lookup(ipStr)
	if !ok {
		return ""
	}
	if region, ok := r.regions[strings.ToUpper(loc.Country)]; ok {
		return region
	}
	return r.regions[strings.ToUpper(loc.Continent)]
}
