package detect

import "github.com/shadow-hunter/shadowhunter-go/internal/flow"

// interestingInternalPorts are internal services whose traffic is still
// analyzed even when both endpoints are internal (file shares, remote
// shells, databases, internal proxies).
var interestingInternalPorts = map[int]struct{}{
	22:   {},
	445:  {},
	3389: {},
	5432: {},
	8080: {},
}

// Whitelisted reports whether evt is noise the detectors should never see:
// multicast and broadcast chatter, and internal-to-internal traffic that
// does not touch an interesting internal service.
func Whitelisted(evt *flow.Event) bool {
	if flow.IsMulticastOrBroadcast(evt.DestinationIP) || flow.IsMulticastOrBroadcast(evt.SourceIP) {
		return true
	}
	if flow.IsInternal(evt.SourceIP) && flow.IsInternal(evt.DestinationIP) {
		if _, ok := interestingInternalPorts[evt.DestinationPort]; !ok {
			return true
		}
	}
	return false
}
