// Package geo resolves client IPs to a coarse location for audit events.
package geo

import (
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Location is the resolved country/city pair. Misses resolve to Unknown.
type Location struct {
	Country string
	City    string
}

// Unknown is the fallback for unresolvable addresses.
var Unknown = Location{Country: "Unknown", City: "Unknown"}

// Resolver maps an IP address to a Location.
type Resolver interface {
	Lookup(ip string) Location
}

// StaticResolver serves fixed answers, mainly for tests and development.
type StaticResolver map[string]Location

func (r StaticResolver) Lookup(ip string) Location {
	if loc, ok := r[ip]; ok {
		return loc
	}
	return Unknown
}

// MaxMindResolver resolves against a local MaxMind GeoLite2/GeoIP2 City
// database.
type MaxMindResolver struct {
	db *geoip2.Reader
}

func OpenMaxMind(path string) (*MaxMindResolver, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &MaxMindResolver{db: db}, nil
}

func (r *MaxMindResolver) Lookup(ip string) Location {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Unknown
	}
	record, err := r.db.City(parsed)
	if err != nil {
		return Unknown
	}

	loc := Unknown
	if name := record.Country.Names["en"]; name != "" {
		loc.Country = name
	} else if record.Country.IsoCode != "" {
		loc.Country = record.Country.IsoCode
	}
	if name := record.City.Names["en"]; name != "" {
		loc.City = name
	}
	return loc
}

func (r *MaxMindResolver) Close() error {
	return r.db.Close()
}
