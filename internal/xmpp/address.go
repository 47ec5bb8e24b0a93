package xmpp

import (
	"fmt"
	"strings"
)

// Address is a bare XMPP address. The resource part never matters to
// the gateway core, so it is stripped at the boundary.
type Address struct {
	Local  string
	Domain string
}

// ParseAddress parses "local@domain" or a bare "domain", dropping any
// "/resource" suffix.
func ParseAddress(s string) (Address, error) {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	i := strings.LastIndexByte(s, '@')
	if i < 0 {
		return Address{Domain: s}, nil
	}
	if i == len(s)-1 {
		return Address{}, fmt.Errorf("address %q has empty domain", s)
	}
	return Address{Local: s[:i], Domain: s[i+1:]}, nil
}

func (a Address) String() string {
	if a.Local == "" {
		return a.Domain
	}
	return a.Local + "@" + a.Domain
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.Local == "" && a.Domain == ""
}
