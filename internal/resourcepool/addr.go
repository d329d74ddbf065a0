package resourcepool

import (
	"fmt"
	"strings"
)

// Addr is a resolved resource-pool server address: a net.Listen/net.Dial
// network ("unix" or "tcp") and the matching address string.
type Addr struct {
	Network string
	Address string
}

// ParseAddr decodes the TESTEXEC_RESOURCE_POOL_ADDR protocol: "uds:path"
// for a Unix domain socket or "tcp:host:port" for a TCP listener.
func ParseAddr(s string) (Addr, error) {
	switch {
	case strings.HasPrefix(s, "uds:"):
		return Addr{Network: "unix", Address: strings.TrimPrefix(s, "uds:")}, nil
	case strings.HasPrefix(s, "tcp:"):
		return Addr{Network: "tcp", Address: strings.TrimPrefix(s, "tcp:")}, nil
	default:
		return Addr{}, fmt.Errorf("resourcepool: unrecognized address protocol %q (want \"uds:\" or \"tcp:\")", s)
	}
}

func (a Addr) String() string {
	prefix := "tcp:"
	if a.Network == "unix" {
		prefix = "uds:"
	}
	return prefix + a.Address
}
