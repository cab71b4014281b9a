package ipfilter

import (
	"context"
	"net/netip"

	"github.com/mdouchement/ipfilter/geodata"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// loopbackLocation is the synthetic record pinned to 127.0.0.1 so that local
// traffic always resolves, whatever the source data contains.
var loopbackLocation = geodata.CountryLocation{
	GeonameID:         0,
	LocaleCode:        "NB",
	ContinentCode:     "NA",
	ContinentName:     "Europe",
	CountryISOCode:    "NO",
	CountryName:       "Norway",
	IsInEuropeanUnion: true,
}

// A GeoFilter blocks IPv4 addresses by the country they geolocate to.
// The country index is built once from a GeoData; the blocked-country set and
// the pinned addresses are mutated in place afterwards.
type GeoFilter struct {
	mode      Mode
	networks  *xsync.MapOf[netip.Prefix, geodata.CountryLocation]
	addresses *xsync.MapOf[netip.Addr, geodata.CountryLocation]
	countries *xsync.MapOf[string, struct{}]
}

// NewGeoFilter builds the country index from data. Blocks without a geoname
// id are ignored; blocks whose geoname id has no location, or whose network
// does not parse, are skipped with a diagnostic. Duplicate networks are
// last-write-wins.
func NewGeoFilter(ctx context.Context, mode Mode, data *geodata.GeoData) *GeoFilter {
	log := logger.LogWith(ctx)

	f := &GeoFilter{
		mode:      mode,
		networks:  xsync.NewMapOf[netip.Prefix, geodata.CountryLocation](),
		addresses: xsync.NewMapOf[netip.Addr, geodata.CountryLocation](),
		countries: xsync.NewMapOf[string, struct{}](),
	}

	f.networks.Store(netip.PrefixFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), 32), loopbackLocation)

	for _, block := range data.IPBlocks {
		if block.GeonameID == 0 {
			continue
		}

		prefix, err := netip.ParsePrefix(block.Network)
		if err != nil {
			log.Debugf("Skipping malformed network %q", block.Network)
			continue
		}

		location, ok := data.CountryLocations[block.GeonameID]
		if !ok {
			log.Debugf("No country location found for geoname id %d", block.GeonameID)
			continue
		}

		f.networks.Store(prefix.Masked(), location)
	}

	return f
}

// Mode returns the filter's polarity.
func (f *GeoFilter) Mode() Mode { return f.mode }

// Country resolves the location of addr: a pinned address wins over the
// network index, and the index is probed longest prefix first.
func (f *GeoFilter) Country(addr netip.Addr) (geodata.CountryLocation, bool) {
	addr = addr.Unmap()

	if location, ok := f.addresses.Load(addr); ok {
		return location, true
	}

	for bits := addr.BitLen(); bits >= 0; bits-- {
		prefix, err := addr.Prefix(bits)
		if err != nil {
			break
		}
		if location, ok := f.networks.Load(prefix); ok {
			return location, true
		}
	}

	return geodata.CountryLocation{}, false
}

// Pin maps addr to location, overriding any network-based resolution.
func (f *GeoFilter) Pin(addr netip.Addr, location geodata.CountryLocation) {
	f.addresses.Store(addr.Unmap(), location)
}

// Unpin removes an override, reverting addr to network-based resolution.
func (f *GeoFilter) Unpin(addr netip.Addr) {
	f.addresses.Delete(addr.Unmap())
}

// SetBlockedCountries replaces the whole country set. Concurrent readers may
// observe the set partially filled during the call.
func (f *GeoFilter) SetBlockedCountries(names []string) {
	f.countries.Clear()
	for _, name := range names {
		f.countries.Store(name, struct{}{})
	}
}

// CountryBlocked reports whether the named country is blocked under the
// filter's mode. Matching is case-sensitive.
func (f *GeoFilter) CountryBlocked(name string) bool {
	_, member := f.countries.Load(name)
	if f.mode == WhiteList {
		return !member
	}
	return member
}

// Blocked implements Filter. An address that does not resolve to a country is
// never blocked, under either mode: the filter fails open rather than reject
// traffic it cannot classify.
func (f *GeoFilter) Blocked(addr netip.Addr) (bool, error) {
	addr = addr.Unmap()
	if FamilyOf(addr) != FamilyIPv4 {
		return false, errors.Wrapf(ErrFamilyMismatch, "%s on geo filter", addr)
	}

	location, ok := f.Country(addr)
	if !ok {
		return false, nil
	}
	return f.CountryBlocked(location.CountryName), nil
}

// Block implements Filter. Blocking a target pins it to the country it
// currently resolves to; an unresolvable target is left untouched. The
// metadata arguments are accepted for the Filter contract but the country
// record is what the geo filter retains.
func (f *GeoFilter) Block(t Target, reason, date string) error {
	if t.Family() != FamilyIPv4 {
		return errors.Wrapf(ErrFamilyMismatch, "block %s on geo filter", t)
	}

	if t.IsNetwork() {
		if location, ok := f.Country(t.Prefix().Addr()); ok {
			f.networks.Store(t.Prefix(), location)
		}
		return nil
	}

	if location, ok := f.Country(t.Addr()); ok {
		f.addresses.Store(t.Addr(), location)
	}
	return nil
}

// Unblock implements Filter.
func (f *GeoFilter) Unblock(t Target) error {
	if t.Family() != FamilyIPv4 {
		return errors.Wrapf(ErrFamilyMismatch, "unblock %s on geo filter", t)
	}

	if t.IsNetwork() {
		f.networks.Delete(t.Prefix())
	} else {
		f.addresses.Delete(t.Addr())
	}
	return nil
}
