package rtc

import "strings"

const transportWideCCURI = "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01"

// stripReceiverRateControl removes receiver-driven congestion feedback from
// an SDP: every rtcp-fb line carrying transport-cc or goog-remb, and the
// transport-wide-cc header extension. The browser's congestion estimator
// must not fight the supervisor over bitrate.
func stripReceiverRateControl(sdp string) string {
	var b strings.Builder
	b.Grow(len(sdp))

	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if dropSDPLine(line) {
			continue
		}
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return b.String()
}

func dropSDPLine(line string) bool {
	if strings.HasPrefix(line, "a=rtcp-fb:") &&
		(strings.Contains(line, "transport-cc") || strings.Contains(line, "goog-remb")) {
		return true
	}
	return strings.HasPrefix(line, "a=extmap:") && strings.Contains(line, transportWideCCURI)
}
