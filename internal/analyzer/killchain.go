package analyzer

import "strings"

// Kill-chain stages, in attack order.
const (
	StageRecon     = "reconnaissance"
	StageAccess    = "initial_access"
	StageExecution = "execution"
	StageExfil     = "exfiltration"
	StageImpact    = "impact"
)

// KillChainStages lists all stages in order.
var KillChainStages = []string{StageRecon, StageAccess, StageExecution, StageExfil, StageImpact}

// stageKeywords maps matched-rule prefixes to stages. First match wins,
// checked from the most severe stage down.
var stageKeywords = []struct {
	stage    string
	prefixes []string
}{
	{StageImpact, []string{"ja3_malware", "identity_spoofing"}},
	{StageExfil, []string{"dns_tunneling", "data_exfiltration"}},
	{StageExecution, []string{"ja3_client"}},
	{StageAccess, []string{"ai_domain", "cidr", "rule-"}},
	{StageRecon, []string{"abnormal_outbound_port"}},
}

// StageFor maps an alert to its kill-chain stage from the matched rule and
// the ML classification. Unmatched alerts with a shadow classification are
// initial access; anything else is reconnaissance.
func StageFor(matchedRule, mlClassification string) string {
	for _, entry := range stageKeywords {
		for _, p := range entry.prefixes {
			if strings.HasPrefix(matchedRule, p) {
				return entry.stage
			}
		}
	}
	if mlClassification == "shadow_ai" {
		return StageAccess
	}
	return StageRecon
}
