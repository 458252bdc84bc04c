package detect

import (
	"fmt"
	"strings"

	"github.com/shadow-hunter/shadowhunter-go/internal/contracts"
	"github.com/shadow-hunter/shadowhunter-go/internal/flow"
	"github.com/shadow-hunter/shadowhunter-go/internal/intel"
)

// normalOutboundPorts are destination ports that never trigger the
// abnormal-port rule.
var normalOutboundPorts = map[int]struct{}{
	53:   {},
	80:   {},
	443:  {},
	8080: {},
	22:   {},
}

// dnsTunnelBytesThreshold: a DNS exchange strictly above this total is
// flagged. 500 bytes exactly is still normal.
const dnsTunnelBytesThreshold = 500

// exfilBytesThreshold: outbound payloads strictly above 500 KB from an
// internal host to an external one are flagged.
const exfilBytesThreshold = 500_000

func intelSeverity(riskLevel string) contracts.Severity {
	switch riskLevel {
	case intel.RiskCritical, intel.RiskHigh:
		return contracts.SeverityHigh
	default:
		return contracts.SeverityMedium
	}
}

type aiDomainDetector struct{}

func (aiDomainDetector) Name() string { return "ai_domain" }

func (aiDomainDetector) Detect(evt *flow.Event, env *Env) []Hit {
	host := evt.Host()
	if host == "" {
		return nil
	}
	base, category := env.Domains(host)
	if category == "" {
		return nil
	}
	return []Hit{{
		Severity:    contracts.SeverityHigh,
		Category:    category,
		MatchedRule: "ai_domain:" + base,
		Description: fmt.Sprintf("Connection to known AI service %s (%s)", host, category),
	}}
}

type cidrDetector struct{}

func (cidrDetector) Name() string { return "threat_intel_cidr" }

func (cidrDetector) Detect(evt *flow.Event, env *Env) []Hit {
	entry := env.CIDR.Lookup(evt.DestinationIP)
	if entry == nil {
		return nil
	}
	return []Hit{{
		Severity:    intelSeverity(entry.RiskLevel),
		Category:    entry.Category,
		MatchedRule: "cidr:" + entry.Prefix.String(),
		Description: fmt.Sprintf("Destination %s is in %s %s range %s", evt.DestinationIP, entry.Provider, entry.Service, entry.Prefix),
		Intel: &contracts.IntelContext{
			Provider:       entry.Provider,
			Service:        entry.Service,
			DataRisk:       entry.DataRisk,
			ComplianceTags: entry.ComplianceTags,
		},
	}}
}

type ja3Detector struct{}

func (ja3Detector) Name() string { return "ja3_fingerprint" }

func (ja3Detector) Detect(evt *flow.Event, env *Env) []Hit {
	entry := env.JA3.Lookup(evt.JA3)
	if entry == nil {
		return nil
	}
	var hits []Hit
	switch entry.Category {
	case intel.JA3Malware, intel.JA3Anonymizer:
		hits = append(hits, Hit{
			Severity:    contracts.SeverityHigh,
			Category:    entry.Category,
			MatchedRule: "ja3_malware:" + entry.ClientName,
			Description: fmt.Sprintf("TLS fingerprint matches %s (%s)", entry.ClientName, entry.Category),
		})
	case intel.JA3Automation:
		hits = append(hits, Hit{
			Severity:    contracts.SeverityMedium,
			Category:    entry.Category,
			MatchedRule: "ja3_client:" + entry.ClientName,
			Description: fmt.Sprintf("Automated client %s detected via TLS fingerprint", entry.ClientName),
		})
	}
	if env.JA3.IsSpoofed(evt.JA3, evt.Meta(flow.MetaUserAgent)) {
		hits = append(hits, Hit{
			Severity:    contracts.SeverityHigh,
			Category:    "evasion",
			MatchedRule: "identity_spoofing",
			Description: fmt.Sprintf("User-Agent claims a browser but TLS fingerprint is %s", entry.ClientName),
		})
	}
	return hits
}

type abnormalPortDetector struct{}

func (abnormalPortDetector) Name() string { return "abnormal_outbound_port" }

func (abnormalPortDetector) Detect(evt *flow.Event, _ *Env) []Hit {
	if evt.Protocol != flow.ProtoTCP && evt.Protocol != flow.ProtoUDP {
		return nil
	}
	if !flow.IsInternal(evt.SourceIP) || flow.IsInternal(evt.DestinationIP) {
		return nil
	}
	if _, ok := normalOutboundPorts[evt.DestinationPort]; ok {
		return nil
	}
	return []Hit{{
		Severity:    contracts.SeverityMedium,
		Category:    "anomaly",
		MatchedRule: "abnormal_outbound_port",
		Description: fmt.Sprintf("Outbound connection to unusual port %d", evt.DestinationPort),
	}}
}

type dnsTunnelingDetector struct{}

func (dnsTunnelingDetector) Name() string { return "dns_tunneling" }

func (dnsTunnelingDetector) Detect(evt *flow.Event, _ *Env) []Hit {
	if evt.Protocol != flow.ProtoDNS {
		return nil
	}
	total := evt.BytesSent + evt.BytesReceived
	if total <= dnsTunnelBytesThreshold {
		return nil
	}
	return []Hit{{
		Severity:    contracts.SeverityMedium,
		Category:    "exfiltration",
		MatchedRule: "dns_tunneling",
		Description: fmt.Sprintf("Oversized DNS exchange (%d bytes)", total),
	}}
}

type exfilDetector struct{}

func (exfilDetector) Name() string { return "data_exfiltration" }

func (exfilDetector) Detect(evt *flow.Event, _ *Env) []Hit {
	if !flow.IsInternal(evt.SourceIP) || flow.IsInternal(evt.DestinationIP) {
		return nil
	}
	if evt.BytesSent <= exfilBytesThreshold {
		return nil
	}
	return []Hit{{
		Severity:    contracts.SeverityHigh,
		Category:    "exfiltration",
		MatchedRule: "data_exfiltration",
		Description: fmt.Sprintf("Large outbound transfer: %d bytes sent to %s", evt.BytesSent, evt.DestinationIP),
	}}
}

type policyDetector struct{}

func (policyDetector) Name() string { return "policy_rules" }

func (policyDetector) Detect(evt *flow.Event, env *Env) []Hit {
	if len(env.Policies) == 0 {
		return nil
	}
	// Service matching is a case-insensitive substring over label, host
	// and SNI. An empty service matches nothing.
	haystack := strings.ToLower(evt.Host() + "|" + evt.Meta(flow.MetaHost) + "|" + evt.Meta(flow.MetaSNI))
	var dept string
	if env.Department != nil {
		dept = env.Department(evt.SourceIP)
	}
	var hits []Hit
	for _, rule := range env.Policies {
		if !rule.Enabled || rule.Service == "" {
			continue
		}
		if !strings.Contains(haystack, strings.ToLower(rule.Service)) {
			continue
		}
		if rule.Department != "" && rule.Department != "All" && !strings.EqualFold(rule.Department, dept) {
			continue
		}
		if rule.Action == ActionAllow {
			continue
		}
		hits = append(hits, Hit{
			Severity:    rule.Severity,
			Category:    "policy",
			MatchedRule: rule.ID,
			Description: fmt.Sprintf("Policy %q matched service %q (action=%s)", rule.Name, rule.Service, rule.Action),
			Block:       rule.Action == ActionBlock,
		})
	}
	return hits
}
