package network

import (
	"net"

	"github.com/pkg/errors"
)

// DefaultPort is the port dagsyncd nodes listen on unless told otherwise
const DefaultPort = "16611"

// NormalizeAddresses returns a new slice with all the passed addresses
// normalized with the given default port, and all duplicates removed.
func NormalizeAddresses(addrs []string, defaultPort string) ([]string, error) {
	normalized := make([]string, len(addrs))
	for i, addr := range addrs {
		var err error
		normalized[i], err = NormalizeAddress(addr, defaultPort)
		if err != nil {
			return nil, err
		}
	}

	return removeDuplicateAddresses(normalized), nil
}

// NormalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func NormalizeAddress(addr, defaultPort string) (string, error) {
	_, _, err := net.SplitHostPort(addr)
	// net.SplitHostPort returns an error if the given host is missing a
	// port, but theoretically it can return an error for other reasons,
	// and this is why we check addrWithPort for validity.
	if err != nil {
		addrWithPort := net.JoinHostPort(addr, defaultPort)
		_, _, err := net.SplitHostPort(addrWithPort)
		if err != nil {
			return "", errors.Wrapf(err, "invalid address %s", addr)
		}

		return addrWithPort, nil
	}
	return addr, nil
}

// removeDuplicateAddresses returns a new slice with all duplicate entries in
// addrs removed.
func removeDuplicateAddresses(addrs []string) []string {
	result := make([]string, 0, len(addrs))
	seen := map[string]struct{}{}
	for _, val := range addrs {
		if _, ok := seen[val]; !ok {
			result = append(result, val)
			seen[val] = struct{}{}
		}
	}
	return result
}
