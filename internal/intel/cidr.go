package intel

import "net/netip"

// CIDREntry describes a provider-attributed IP range. RiskLevel uses the
// intel scale (CRITICAL/HIGH/MEDIUM); detectors map it down to alert
// severities.
type CIDREntry struct {
	Prefix         netip.Prefix
	Provider       string
	Service        string
	RiskLevel      string
	Category       string
	DataRisk       string
	ComplianceTags []string
}

// Intel risk levels.
const (
	RiskCritical = "CRITICAL"
	RiskHigh     = "HIGH"
	RiskMedium   = "MEDIUM"
)

func mustPrefix(s string) netip.Prefix {
	return netip.MustParsePrefix(s)
}

var cidrEntries = []CIDREntry{
	{mustPrefix("13.107.42.0/24"), "OpenAI", "ChatGPT API", RiskHigh, CategoryLLM, "prompt and completion content", []string{"SOC2"}},
	{mustPrefix("13.107.43.0/24"), "OpenAI", "ChatGPT API", RiskHigh, CategoryLLM, "prompt and completion content", []string{"SOC2"}},
	{mustPrefix("40.119.0.0/16"), "OpenAI", "Azure OpenAI", RiskHigh, CategoryLLM, "prompt and completion content", []string{"SOC2", "HIPAA-BAA"}},
	{mustPrefix("34.102.136.0/24"), "Anthropic", "Claude API", RiskHigh, CategoryLLM, "prompt and completion content", []string{"SOC2"}},
	{mustPrefix("34.102.137.0/24"), "Anthropic", "Claude API", RiskHigh, CategoryLLM, "prompt and completion content", []string{"SOC2"}},
	{mustPrefix("142.250.0.0/16"), "Google", "Gemini", RiskMedium, CategoryLLM, "prompt content", []string{"SOC2", "ISO27001"}},
	{mustPrefix("172.217.0.0/16"), "Google", "Gemini", RiskMedium, CategoryLLM, "prompt content", []string{"SOC2", "ISO27001"}},
	{mustPrefix("54.164.0.0/16"), "HuggingFace", "Inference API", RiskMedium, CategoryMLInfra, "model inputs", []string{"SOC2"}},
	{mustPrefix("104.18.0.0/16"), "Stability AI", "Image API", RiskMedium, CategoryImageGen, "image prompts", nil},
	{mustPrefix("35.203.0.0/16"), "Cohere", "Generate API", RiskMedium, CategoryLLM, "prompt content", []string{"SOC2"}},
	{mustPrefix("44.226.0.0/16"), "Replicate", "Model hosting", RiskMedium, CategoryMLInfra, "model inputs", nil},
	{mustPrefix("51.159.0.0/16"), "Mistral", "La Plateforme", RiskHigh, CategoryLLM, "prompt content", []string{"GDPR"}},
	{mustPrefix("157.240.0.0/16"), "Meta", "Meta AI", RiskMedium, CategoryLLM, "prompt content", nil},
	{mustPrefix("34.149.0.0/16"), "Together AI", "Inference", RiskMedium, CategoryMLInfra, "model inputs", nil},
	{mustPrefix("76.76.21.0/24"), "Groq", "GroqCloud", RiskMedium, CategoryLLM, "prompt content", nil},
}

// CIDRMatcher answers whether an address falls inside a known provider
// range. It is immutable after construction and safe for concurrent reads.
type CIDRMatcher struct {
	entries []CIDREntry
}

// NewCIDRMatcher builds the matcher over the built-in range table.
func NewCIDRMatcher() *CIDRMatcher {
	return &CIDRMatcher{entries: cidrEntries}
}

// Lookup returns the matching entry for ip, or nil. Private, loopback, and
// multicast addresses never match.
func (m *CIDRMatcher) Lookup(ip string) *CIDREntry {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil
	}
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsMulticast() || addr.IsLinkLocalUnicast() {
		return nil
	}
	for i := range m.entries {
		if m.entries[i].Prefix.Contains(addr) {
			return &m.entries[i]
		}
	}
	return nil
}
