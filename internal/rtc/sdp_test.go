package rtc

import (
	"strings"
	"testing"
)

func TestStripReceiverRateControl(t *testing.T) {
	offer := strings.Join([]string{
		"v=0",
		"o=- 123 2 IN IP4 127.0.0.1",
		"s=-",
		"m=video 9 UDP/TLS/RTP/SAVPF 96",
		"a=rtpmap:96 VP8/90000",
		"a=rtcp-fb:96 transport-cc",
		"a=rtcp-fb:96 goog-remb",
		"a=rtcp-fb:96 nack",
		"a=rtcp-fb:96 nack pli",
		"a=extmap:3 http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01",
		"a=extmap:1 urn:ietf:params:rtp-hdrext:sdes:mid",
		"a=sendrecv",
	}, "\r\n") + "\r\n"

	got := stripReceiverRateControl(offer)

	for _, banned := range []string{"transport-cc", "goog-remb", "draft-holmer-rmcat"} {
		if strings.Contains(got, banned) {
			t.Fatalf("munged SDP still contains %q:\n%s", banned, got)
		}
	}
	for _, kept := range []string{
		"a=rtpmap:96 VP8/90000",
		"a=rtcp-fb:96 nack\r\n",
		"a=rtcp-fb:96 nack pli",
		"a=extmap:1 urn:ietf:params:rtp-hdrext:sdes:mid",
		"a=sendrecv",
	} {
		if !strings.Contains(got, kept) {
			t.Fatalf("munging removed %q:\n%s", kept, got)
		}
	}

	if strings.Contains(got, "\r\n\r\n") {
		t.Fatal("munged SDP contains a blank line")
	}
	if !strings.HasSuffix(got, "\r\n") {
		t.Fatal("munged SDP lost its trailing CRLF")
	}
}

func TestStripReceiverRateControl_HandlesBareNewlines(t *testing.T) {
	got := stripReceiverRateControl("v=0\na=rtcp-fb:96 transport-cc\na=mid:0\n")
	if strings.Contains(got, "transport-cc") {
		t.Fatal("transport-cc survived")
	}
	if !strings.Contains(got, "a=mid:0\r\n") {
		t.Fatalf("line endings not normalized: %q", got)
	}
}
