package keystore

import "net"

// CheckIP reports whether addr is permitted by key's IP allowlist. An empty
// allowlist means unrestricted. Entries are matched either as an exact IPv4
// address or a CIDR block; malformed entries are skipped rather than
// rejecting the whole list, so one bad admin-entered row doesn't lock every
// caller out.
func (s *KeyStore) CheckIP(key, addr string) bool {
	record := s.lookup(key)
	if record == nil {
		return false
	}
	return MatchAllowlist(record.IPAllowlist, addr)
}

// MatchAllowlist reports whether addr matches any entry in allowlist. A nil
// or empty allowlist matches everything.
func MatchAllowlist(allowlist []string, addr string) bool {
	if len(allowlist) == 0 {
		return true
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}

	for _, entry := range allowlist {
		if matchEntry(entry, ip) {
			return true
		}
	}
	return false
}

func matchEntry(entry string, ip net.IP) bool {
	if entryIP := net.ParseIP(entry); entryIP != nil {
		return entryIP.Equal(ip)
	}

	_, network, err := net.ParseCIDR(entry)
	if err != nil {
		return false
	}
	// Reject anything the stdlib parser wouldn't already catch is
	// unnecessary: ParseCIDR itself rejects prefix bits outside the
	// address family's bit width (e.g. /33 for IPv4).
	return network.Contains(ip)
}
