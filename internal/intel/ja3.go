package intel

import "strings"

// JA3 client categories.
const (
	JA3Browser    = "browser"
	JA3Automation = "automation"
	JA3Malware    = "malware"
	JA3Anonymizer = "anonymizer"
)

// JA3Entry describes a known TLS client fingerprint.
type JA3Entry struct {
	Hash       string
	ClientName string
	Category   string
	RiskLevel  string
	// ExpectedUA is a lowercase substring the User-Agent must contain when
	// present. A browser UA over a non-browser fingerprint is spoofing.
	ExpectedUA string
}

var ja3Entries = map[string]JA3Entry{
	// Automation / scripting clients
	"e7d705a3286e19ea42f587b344ee6865": {"e7d705a3286e19ea42f587b344ee6865", "python-requests", JA3Automation, RiskMedium, "python-requests"},
	"b32309a26951912be7dba376398abc3b": {"b32309a26951912be7dba376398abc3b", "python-aiohttp", JA3Automation, RiskMedium, "aiohttp"},
	"282149a96f83e5e4e0b2c26c3c4efc43": {"282149a96f83e5e4e0b2c26c3c4efc43", "python-httpx", JA3Automation, RiskMedium, "httpx"},
	"3b5074b1b5d032e5620f69f9f700ff0e": {"3b5074b1b5d032e5620f69f9f700ff0e", "node-fetch", JA3Automation, RiskMedium, "node"},
	"d7a7a67e6a706ba3a3b8ce2e36c2a8e3": {"d7a7a67e6a706ba3a3b8ce2e36c2a8e3", "go-http-client", JA3Automation, RiskMedium, "go-http-client"},
	"456523fc94726331a4d5a2e1d40b2cd7": {"456523fc94726331a4d5a2e1d40b2cd7", "curl", JA3Automation, RiskMedium, "curl"},
	"9e10692f1b7f78228b2d4e424db3a98c": {"9e10692f1b7f78228b2d4e424db3a98c", "wget", JA3Automation, RiskMedium, "wget"},
	"b386946a5a44d1ddcc843bc75336dfce": {"b386946a5a44d1ddcc843bc75336dfce", "scrapy", JA3Automation, RiskMedium, "scrapy"},
	"19e29534fd49dd27d09234e639c4057e": {"19e29534fd49dd27d09234e639c4057e", "headless-chrome", JA3Automation, RiskMedium, "headlesschrome"},
	"cd08e31494816f6d2f3d8a2d0c4ab314": {"cd08e31494816f6d2f3d8a2d0c4ab314", "selenium", JA3Automation, RiskMedium, ""},

	// Known-bad tooling
	"51c64c77e60f3980eea90869b68c58a8": {"51c64c77e60f3980eea90869b68c58a8", "cobalt-strike", JA3Malware, RiskCritical, ""},
	"72a589da586844d7f0818ce684948eea": {"72a589da586844d7f0818ce684948eea", "metasploit", JA3Malware, RiskCritical, ""},
	"a0e9f5d64349fb13191bc781f81f42e1": {"a0e9f5d64349fb13191bc781f81f42e1", "mimikatz", JA3Malware, RiskCritical, ""},
	"e7d70f5df5e3ddf3d1af4b1a0a38a3a1": {"e7d70f5df5e3ddf3d1af4b1a0a38a3a1", "tor", JA3Anonymizer, RiskHigh, ""},

	// Mainstream browsers
	"773906b0efdefa24a7f2b8eb6985bf37": {"773906b0efdefa24a7f2b8eb6985bf37", "chrome", JA3Browser, "", "chrome"},
	"579ccef312d18482fc42e2b822ca2430": {"579ccef312d18482fc42e2b822ca2430", "firefox", JA3Browser, "", "firefox"},
	"b20b44b18b853f29d25660b022eb7350": {"b20b44b18b853f29d25660b022eb7350", "edge", JA3Browser, "", "edg"},
	"a441a33aaee795f498d6b764cc78989a": {"a441a33aaee795f498d6b764cc78989a", "safari", JA3Browser, "", "safari"},
}

var browserUASubstrings = []string{"mozilla/", "chrome/", "firefox/", "safari/", "edg/"}

// JA3Matcher looks up TLS client fingerprints. Immutable after construction.
type JA3Matcher struct {
	entries map[string]JA3Entry
}

// NewJA3Matcher builds the matcher over the built-in fingerprint table.
func NewJA3Matcher() *JA3Matcher {
	return &JA3Matcher{entries: ja3Entries}
}

// Lookup returns the entry for hash, or nil when unknown.
func (m *JA3Matcher) Lookup(hash string) *JA3Entry {
	if hash == "" {
		return nil
	}
	if e, ok := m.entries[strings.ToLower(hash)]; ok {
		return &e
	}
	return nil
}

// IsSpoofed reports whether the User-Agent claims a browser while the TLS
// fingerprint belongs to a non-browser client. Empty UA or unknown hash is
// never spoofing.
func (m *JA3Matcher) IsSpoofed(hash, userAgent string) bool {
	if userAgent == "" {
		return false
	}
	e := m.Lookup(hash)
	if e == nil || e.Category == JA3Browser {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, s := range browserUASubstrings {
		if strings.Contains(ua, s) {
			return true
		}
	}
	return false
}
