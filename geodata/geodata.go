// Package geodata loads the GeoLite2 country CSV distribution and maintains a
// compacted on-disk cache of the parsed result.
package geodata

// An IPBlock is one row of the IPv4 network-blocks table.
// It only lives long enough to populate a country index.
type IPBlock struct {
	Network                     string
	GeonameID                   uint32 // 0 when the column is empty
	RegisteredCountryGeonameID  uint32
	RepresentedCountryGeonameID uint32
	IsAnonymousProxy            bool
	IsSatelliteProvider         bool
	IsAnycast                   *bool // never populated by the source tables
}

// A CountryLocation is one row of the country-locations table, keyed by its
// geoname id. Values are copied around freely, never mutated.
type CountryLocation struct {
	GeonameID         uint32
	LocaleCode        string
	ContinentCode     string
	ContinentName     string
	CountryISOCode    string // empty for continent-only records
	CountryName       string // empty for continent-only records
	IsInEuropeanUnion bool
}

// GeoData is the join of the two tables: the ordered block sequence and the
// geoname-keyed locations. It is the unit written to and read from the cache.
type GeoData struct {
	IPBlocks         []IPBlock
	CountryLocations map[uint32]CountryLocation
}
