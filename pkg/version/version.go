// Package version provides protocol version parsing, comparison, and
// the User-Agent string sent to the gateway.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Library is this client library's release version.
const Library = "1.0.0"

// Protocol is the gateway protocol version implemented by this
// library.
const Protocol = "1.0"

// ProtocolVersion represents a parsed "major.minor" protocol version.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (ProtocolVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return ProtocolVersion{Major: uint16(major), Minor: uint16(minor)}, nil
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major
// version.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// UserAgent returns the User-Agent header value for a client type:
// "pulsegate-go/<library> (<client-type>)".
func UserAgent(clientType string) string {
	if clientType == "" {
		return "pulsegate-go/" + Library
	}
	return fmt.Sprintf("pulsegate-go/%s (%s)", Library, clientType)
}
