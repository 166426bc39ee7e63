package ssrf

import (
	"strconv"
	"strings"
)

var privateIPv6Prefixes = []string{"fe80:", "fec0:", "fc", "fd"}

func normalizeHostname(hostname string) string {
	normalized := strings.TrimSpace(hostname)
	normalized = strings.ToLower(normalized)
	normalized = strings.TrimSuffix(normalized, ".")
	if strings.HasPrefix(normalized, "[") && strings.HasSuffix(normalized, "]") {
		normalized = normalized[1 : len(normalized)-1]
	}
	return normalized
}

func parseIPv4(address string) ([4]byte, error) {
	var result [4]byte
	parts := strings.Split(address, ".")
	if len(parts) != 4 {
		return result, newBlocked("invalid IPv4 address: must have 4 octets")
	}
	for i, part := range parts {
		value, err := strconv.Atoi(part)
		if err != nil {
			return result, newBlocked("invalid IPv4 address: invalid octet")
		}
		if value < 0 || value > 255 {
			return result, newBlocked("invalid IPv4 address: octet out of range")
		}
		result[i] = byte(value)
	}
	return result, nil
}

func parseIPv4FromMappedIPv6(mapped string) ([4]byte, error) {
	var result [4]byte
	if strings.Contains(mapped, ".") {
		return parseIPv4(mapped)
	}

	var cleanParts []string
	for _, p := range strings.Split(mapped, ":") {
		if p != "" {
			cleanParts = append(cleanParts, p)
		}
	}

	switch len(cleanParts) {
	case 1:
		value, err := strconv.ParseUint(cleanParts[0], 16, 32)
		if err != nil {
			return result, newBlocked("invalid IPv4-mapped IPv6: invalid hex value")
		}
		return [4]byte{byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value)}, nil
	case 2:
		high, err := strconv.ParseUint(cleanParts[0], 16, 16)
		if err != nil {
			return result, newBlocked("invalid IPv4-mapped IPv6: invalid high hex value")
		}
		low, err := strconv.ParseUint(cleanParts[1], 16, 16)
		if err != nil {
			return result, newBlocked("invalid IPv4-mapped IPv6: invalid low hex value")
		}
		value := (high << 16) + low
		return [4]byte{byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value)}, nil
	default:
		return result, newBlocked("invalid IPv4-mapped IPv6: expected 1 or 2 hex groups")
	}
}

// isPrivateIPv4 reports whether octets fall in a private, link-local, or
// carrier-grade-NAT range. Loopback (127.0.0.0/8) is classified separately
// by isLoopbackIPv4: spec §4.14 gates private ranges and localhost behind
// independent opt-ins (allow_private vs. the implicit loopback opt-in).
func isPrivateIPv4(octets [4]byte) bool {
	a, b := octets[0], octets[1]
	switch {
	case a == 0, a == 10:
		return true
	case a == 169 && b == 254:
		return true
	case a == 172 && b >= 16 && b <= 31:
		return true
	case a == 192 && b == 168:
		return true
	case a == 100 && b >= 64 && b <= 127:
		return true
	default:
		return false
	}
}

func isLoopbackIPv4(octets [4]byte) bool { return octets[0] == 127 }

// isMetadataIPv4 reports whether octets are the cloud-metadata address
// (169.254.169.254, shared by AWS/GCP/Azure). Unlike the rest of the
// 169.254.0.0/16 link-local block, this address is checked and reported
// separately so it stays blocked even when a caller sets allow_private.
func isMetadataIPv4(octets [4]byte) bool {
	return octets == [4]byte{169, 254, 169, 254}
}

// isMulticastIPv4 reports whether octets fall in 224.0.0.0/4.
func isMulticastIPv4(octets [4]byte) bool {
	return octets[0] >= 224 && octets[0] <= 239
}

// ipClass classifies a resolved address into the independent categories
// the SSRF guard gates: loopback/localhost, private/link-local, cloud
// metadata, and multicast. Metadata and multicast are never allow-listable;
// loopback and private are each gated by their own caller opt-in.
type ipClass struct {
	loopback  bool
	private   bool
	metadata  bool
	multicast bool
}

func classifyIPAddress(address string) ipClass {
	normalized := strings.TrimSpace(strings.ToLower(address))
	if strings.HasPrefix(normalized, "[") && strings.HasSuffix(normalized, "]") {
		normalized = normalized[1 : len(normalized)-1]
	}
	if normalized == "" {
		return ipClass{}
	}

	if strings.HasPrefix(normalized, "::ffff:") {
		if ipv4, err := parseIPv4FromMappedIPv6(normalized[len("::ffff:"):]); err == nil {
			return ipClass{
				loopback:  isLoopbackIPv4(ipv4),
				private:   isPrivateIPv4(ipv4),
				metadata:  isMetadataIPv4(ipv4),
				multicast: isMulticastIPv4(ipv4),
			}
		}
	}

	if strings.Contains(normalized, ":") {
		if normalized == "::" || normalized == "::1" {
			return ipClass{loopback: true}
		}
		if normalized == "fd00:ec2::254" {
			// AWS IMDSv2's IPv6 metadata address.
			return ipClass{private: true, metadata: true}
		}
		for _, prefix := range privateIPv6Prefixes {
			if strings.HasPrefix(normalized, prefix) {
				return ipClass{private: true}
			}
		}
		return ipClass{multicast: strings.HasPrefix(normalized, "ff00:")}
	}

	ipv4, err := parseIPv4(normalized)
	if err != nil {
		return ipClass{}
	}
	return ipClass{
		loopback:  isLoopbackIPv4(ipv4),
		private:   isPrivateIPv4(ipv4),
		metadata:  isMetadataIPv4(ipv4),
		multicast: isMulticastIPv4(ipv4),
	}
}
