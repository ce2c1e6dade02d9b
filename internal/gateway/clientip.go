package gateway

import (
	"net"
	"strings"
)

// trustedClientIP extracts the real client IP. With no trusted proxies the
// RemoteAddr is used as-is; otherwise the rightmost X-Forwarded-For entry that
// is not a trusted proxy wins, so callers cannot spoof their address by
// prepending entries.
func trustedClientIP(remoteAddr, xForwardedFor string, trustedProxies []string) string {
	remoteIP := stripPort(remoteAddr)

	if len(trustedProxies) == 0 || xForwardedFor == "" {
		return remoteIP
	}

	trustedNets := parseCIDRs(trustedProxies)

	parts := strings.Split(xForwardedFor, ",")
	ips := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			ips = append(ips, trimmed)
		}
	}

	for i := len(ips) - 1; i >= 0; i-- {
		ip := net.ParseIP(ips[i])
		if ip == nil {
			continue
		}
		if !isIPTrusted(ip, trustedNets) {
			return ips[i]
		}
	}

	// Every XFF entry is a trusted proxy
	return remoteIP
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// parseCIDRs accepts CIDR strings or plain IPs (treated as /32 or /128).
func parseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipNet, err := net.ParseCIDR(c)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(c)
		if ip != nil {
			mask := net.CIDRMask(128, 128)
			if ip.To4() != nil {
				mask = net.CIDRMask(32, 32)
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: mask})
		}
	}
	return nets
}

func isIPTrusted(ip net.IP, trustedNets []*net.IPNet) bool {
	for _, n := range trustedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
