package rtc

import "net"

// AdvertisedIP picks the host candidate address for one connection: the
// configured override when set, else the first IPv4 the request's Host
// header resolves to. Empty output means nothing is pinned and ICE
// advertises whatever it discovers.
func AdvertisedIP(override, host string) string {
	if override != "" {
		return override
	}

	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	if hostname == "" {
		return ""
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
		return ""
	}

	addrs, err := net.LookupIP(hostname)
	if err != nil {
		return ""
	}
	for _, ip := range addrs {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}
