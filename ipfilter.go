package ipfilter

import (
	"net/netip"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// An IPFilter blocks explicit addresses and networks of a single family.
// Metadata is retained per entry but membership alone drives the decision.
type IPFilter struct {
	family    Family
	mode      Mode
	addresses *xsync.MapOf[netip.Addr, Metadata]
	networks  *xsync.MapOf[netip.Prefix, Metadata]
}

// NewIPv4Filter returns an IPFilter for IPv4 addresses.
func NewIPv4Filter(mode Mode) *IPFilter {
	return newIPFilter(FamilyIPv4, mode)
}

// NewIPv6Filter returns an IPFilter for IPv6 addresses.
func NewIPv6Filter(mode Mode) *IPFilter {
	return newIPFilter(FamilyIPv6, mode)
}

func newIPFilter(family Family, mode Mode) *IPFilter {
	return &IPFilter{
		family:    family,
		mode:      mode,
		addresses: xsync.NewMapOf[netip.Addr, Metadata](),
		networks:  xsync.NewMapOf[netip.Prefix, Metadata](),
	}
}

// Family returns the address family the filter is bound to.
func (f *IPFilter) Family() Family { return f.family }

// Mode returns the filter's polarity.
func (f *IPFilter) Mode() Mode { return f.mode }

// Block implements Filter.
func (f *IPFilter) Block(t Target, reason, date string) error {
	if t.Family() != f.family {
		return errors.Wrapf(ErrFamilyMismatch, "block %s on %s filter", t, f.family)
	}

	if t.IsNetwork() {
		f.networks.Store(t.Prefix(), Metadata{Reason: reason, Date: date})
	} else {
		f.addresses.Store(t.Addr(), Metadata{Reason: reason, Date: date})
	}
	return nil
}

// Unblock implements Filter.
func (f *IPFilter) Unblock(t Target) error {
	if t.Family() != f.family {
		return errors.Wrapf(ErrFamilyMismatch, "unblock %s on %s filter", t, f.family)
	}

	if t.IsNetwork() {
		f.networks.Delete(t.Prefix())
	} else {
		f.addresses.Delete(t.Addr())
	}
	return nil
}

// Blocked implements Filter. Membership of the address (or of any stored
// network containing it) is composed with the filter's mode: under BlackList
// a member is blocked, under WhiteList a member is the only thing allowed.
func (f *IPFilter) Blocked(addr netip.Addr) (bool, error) {
	addr = addr.Unmap()
	if FamilyOf(addr) != f.family {
		return false, errors.Wrapf(ErrFamilyMismatch, "%s on %s filter", addr, f.family)
	}

	member := false
	if _, ok := f.addresses.Load(addr); ok {
		member = true
	} else {
		member = f.contained(addr)
	}

	if f.mode == WhiteList {
		return !member, nil
	}
	return member, nil
}

// Metadata returns the metadata stored for the target, if any.
func (f *IPFilter) Metadata(t Target) (Metadata, bool) {
	if t.IsNetwork() {
		return f.networks.Load(t.Prefix())
	}
	return f.addresses.Load(t.Addr())
}

// contained probes the networks map with every prefix of addr, most specific
// first. Exact lookups keyed by canonical prefixes stand in for a scan, so a
// hit is found in at most one probe per prefix length.
func (f *IPFilter) contained(addr netip.Addr) bool {
	for bits := addr.BitLen(); bits >= 0; bits-- {
		prefix, err := addr.Prefix(bits)
		if err != nil {
			return false
		}
		if _, ok := f.networks.Load(prefix); ok {
			return true
		}
	}
	return false
}
