// Package ml scores flows with a lightweight intelligence layer: feature
// extraction, anomaly scoring, traffic classification, and the fused risk
// score, plus per-source session tracking.
package ml

import (
	"math"

	"github.com/shadow-hunter/shadowhunter-go/internal/flow"
	"github.com/shadow-hunter/shadowhunter-go/internal/intel"
)

// FeatureDim is the fixed width of the feature vector.
const FeatureDim = 16

// FeatureInput carries the context the extractor needs beyond the raw event.
type FeatureInput struct {
	Event        *flow.Event
	AIDest       bool
	SessionScore float64
}

// wellKnownPorts used by the port-regularity feature.
var wellKnownPorts = map[int]struct{}{53: {}, 80: {}, 443: {}, 8080: {}, 22: {}}

func logScale(n int64, div float64) float64 {
	if n <= 0 {
		return 0
	}
	v := math.Log10(float64(n)+1) / div
	if v > 1 {
		return 1
	}
	return v
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Extract builds the normalized feature vector for one flow. Every
// component is in [0, 1].
func Extract(in FeatureInput, ja3 *intel.JA3Matcher) [FeatureDim]float64 {
	evt := in.Event
	var f [FeatureDim]float64

	f[0] = logScale(evt.BytesSent, 7)
	f[1] = logScale(evt.BytesReceived, 7)
	total := evt.BytesSent + evt.BytesReceived
	if total > 0 {
		f[2] = float64(evt.BytesSent) / float64(total)
	}
	f[3] = float64(evt.DestinationPort) / 65535.0
	_, known := wellKnownPorts[evt.DestinationPort]
	f[4] = b2f(known)
	f[5] = b2f(!flow.IsInternal(evt.DestinationIP))

	hour := evt.Timestamp.Hour()
	f[6] = float64(hour) / 24.0
	f[7] = b2f(hour < 8 || hour >= 20)
	wd := evt.Timestamp.Weekday()
	f[8] = b2f(wd == 0 || wd == 6)

	host := evt.Host()
	f[9] = b2f(host != "")
	if l := float64(len(host)) / 100.0; l < 1 {
		f[10] = l
	} else {
		f[10] = 1
	}
	f[11] = b2f(in.AIDest)

	entry := ja3.Lookup(evt.JA3)
	f[12] = b2f(entry != nil)
	f[13] = b2f(entry != nil && entry.Category != intel.JA3Browser)

	f[14] = b2f(evt.Protocol == flow.ProtoDNS)
	f[15] = clamp01(in.SessionScore)
	return f
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
