// Package ipfilter decides whether a client address is allowed or blocked,
// either from explicit address/network lists or from the country an address
// geolocates to. Filters are safe for concurrent use and never block readers
// behind writers of other keys.
package ipfilter

import (
	"net/netip"

	"github.com/pkg/errors"
)

// ErrFamilyMismatch is returned when an address of the wrong family reaches a
// filter. It means the caller wired the wrong filter instance, not that the
// address is blocked or allowed.
var ErrFamilyMismatch = errors.New("address family does not match the filter")

// A Mode sets the polarity of every membership check.
type Mode uint8

// Supported modes. BlackList is the default: membership denies.
// WhiteList inverts the polarity: membership allows, absence denies.
const (
	BlackList Mode = iota
	WhiteList
)

func (m Mode) String() string {
	if m == WhiteList {
		return "WhiteList"
	}
	return "BlackList"
}

// UnmarshalText parses "blacklist" or "whitelist" (used by yaml configs).
func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "blacklist":
		*m = BlackList
	case "whitelist":
		*m = WhiteList
	default:
		return errors.Errorf("unsupported mode: %s", b)
	}
	return nil
}

// A Family is an IP address family.
type Family uint8

// Supported families.
const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

func (f Family) String() string {
	if f == FamilyIPv6 {
		return "IPv6"
	}
	return "IPv4"
}

// FamilyOf returns the family of addr. IPv4-mapped IPv6 addresses count as
// IPv4.
func FamilyOf(addr netip.Addr) Family {
	if addr.Unmap().Is4() {
		return FamilyIPv4
	}
	return FamilyIPv6
}

// Metadata documents why and when a target was blocked.
// It is informational only and never affects a decision.
type Metadata struct {
	Reason string
	Date   string
}

// A Target designates either a single address or a whole network.
type Target struct {
	addr    netip.Addr
	prefix  netip.Prefix
	network bool
}

// Address targets a single address.
func Address(addr netip.Addr) Target {
	return Target{addr: addr.Unmap()}
}

// Network targets every address of a network. The prefix is canonicalized so
// that 10.1.2.3/8 and 10.0.0.0/8 designate the same entry.
func Network(prefix netip.Prefix) Target {
	return Target{prefix: prefix.Masked(), network: true}
}

// IsNetwork reports whether the target is a whole network.
func (t Target) IsNetwork() bool { return t.network }

// Addr returns the targeted address. Only meaningful when !IsNetwork().
func (t Target) Addr() netip.Addr { return t.addr }

// Prefix returns the targeted network. Only meaningful when IsNetwork().
func (t Target) Prefix() netip.Prefix { return t.prefix }

// Family returns the address family of the target.
func (t Target) Family() Family {
	if t.network {
		return FamilyOf(t.prefix.Addr())
	}
	return FamilyOf(t.addr)
}

func (t Target) String() string {
	if t.network {
		return t.prefix.String()
	}
	return t.addr.String()
}

// A Filter decides whether addresses are blocked. Implementations are bound
// to one address family at construction time and return ErrFamilyMismatch
// for any other family.
type Filter interface {
	// Block adds the target to the filter with the given metadata.
	// Re-blocking an existing target overwrites its metadata.
	Block(t Target, reason, date string) error
	// Unblock removes the target. Removing an absent target is not an error.
	Unblock(t Target) error
	// Blocked reports whether addr must be rejected under the filter's mode.
	Blocked(addr netip.Addr) (bool, error)
}
