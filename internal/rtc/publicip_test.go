package rtc

import "testing"

func TestAdvertisedIP(t *testing.T) {
	tests := []struct {
		name     string
		override string
		host     string
		want     string
	}{
		{"override wins", "203.0.113.7", "example.com:8080", "203.0.113.7"},
		{"host with port", "", "192.0.2.10:8080", "192.0.2.10"},
		{"bare host", "", "192.0.2.10", "192.0.2.10"},
		{"localhost resolves", "", "localhost:8080", "127.0.0.1"},
		{"ipv6 literal skipped", "", "[::1]:8080", ""},
		{"empty host", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AdvertisedIP(tt.override, tt.host); got != tt.want {
				t.Fatalf("AdvertisedIP(%q, %q) = %q, want %q", tt.override, tt.host, got, tt.want)
			}
		})
	}
}
