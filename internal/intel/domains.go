// Package intel holds the static knowledge bases the detectors match
// against: known AI service domains, provider IP ranges, and JA3 client
// fingerprints.
package intel

import "strings"

// Domain categories.
const (
	CategoryLLM      = "LLM"
	CategoryCodeAI   = "Code AI"
	CategoryImageGen = "Image Gen"
	CategoryVideoGen = "Video Gen"
	CategoryVoiceAI  = "Voice AI"
	CategoryWriting  = "Writing AI"
	CategoryAgent    = "Agent/Tool"
	CategoryMLInfra  = "ML Infra"
	CategoryResearch = "Research"
)

// aiDomains maps base domains of AI services to their category. Matching is
// suffix-based on label boundaries, so "api.openai.com" matches "openai.com"
// but "notopenai.com" does not.
var aiDomains = map[string]string{
	// LLM chat and APIs
	"openai.com":       CategoryLLM,
	"chatgpt.com":      CategoryLLM,
	"oaiusercontent.com": CategoryLLM,
	"anthropic.com":    CategoryLLM,
	"claude.ai":        CategoryLLM,
	"gemini.google.com": CategoryLLM,
	"bard.google.com":  CategoryLLM,
	"mistral.ai":       CategoryLLM,
	"cohere.com":       CategoryLLM,
	"cohere.ai":        CategoryLLM,
	"deepseek.com":     CategoryLLM,
	"groq.com":         CategoryLLM,
	"x.ai":             CategoryLLM,
	"grok.com":         CategoryLLM,
	"meta.ai":          CategoryLLM,
	"llama.com":        CategoryLLM,
	"pi.ai":            CategoryLLM,
	"inflection.ai":    CategoryLLM,
	"character.ai":     CategoryLLM,
	"poe.com":          CategoryLLM,
	"perplexity.ai":    CategoryLLM,
	"you.com":          CategoryLLM,
	"phind.com":        CategoryLLM,
	"together.ai":      CategoryLLM,
	"fireworks.ai":     CategoryLLM,
	"openrouter.ai":    CategoryLLM,
	"ai21.com":         CategoryLLM,
	"aleph-alpha.com":  CategoryLLM,
	"qwen.ai":          CategoryLLM,
	"moonshot.cn":      CategoryLLM,
	"zhipuai.cn":       CategoryLLM,

	// Code assistants
	"github.copilot.com":   CategoryCodeAI,
	"copilot.microsoft.com": CategoryCodeAI,
	"githubcopilot.com":    CategoryCodeAI,
	"cursor.sh":            CategoryCodeAI,
	"cursor.com":           CategoryCodeAI,
	"codeium.com":          CategoryCodeAI,
	"windsurf.com":         CategoryCodeAI,
	"tabnine.com":          CategoryCodeAI,
	"sourcegraph.com":      CategoryCodeAI,
	"codota.com":           CategoryCodeAI,
	"replit.com":           CategoryCodeAI,
	"lovable.dev":          CategoryCodeAI,
	"v0.dev":               CategoryCodeAI,
	"bolt.new":             CategoryCodeAI,

	// Image generation
	"midjourney.com":     CategoryImageGen,
	"leonardo.ai":        CategoryImageGen,
	"stability.ai":       CategoryImageGen,
	"stablediffusionweb.com": CategoryImageGen,
	"dall-e.com":         CategoryImageGen,
	"ideogram.ai":        CategoryImageGen,
	"playgroundai.com":   CategoryImageGen,
	"lexica.art":         CategoryImageGen,
	"civitai.com":        CategoryImageGen,
	"craiyon.com":        CategoryImageGen,

	// Video generation
	"runwayml.com": CategoryVideoGen,
	"pika.art":     CategoryVideoGen,
	"synthesia.io": CategoryVideoGen,
	"heygen.com":   CategoryVideoGen,
	"luma.ai":      CategoryVideoGen,
	"kling.ai":     CategoryVideoGen,
	"sora.com":     CategoryVideoGen,

	// Voice
	"elevenlabs.io":  CategoryVoiceAI,
	"play.ht":        CategoryVoiceAI,
	"murf.ai":        CategoryVoiceAI,
	"resemble.ai":    CategoryVoiceAI,
	"speechify.com":  CategoryVoiceAI,
	"assemblyai.com": CategoryVoiceAI,
	"deepgram.com":   CategoryVoiceAI,

	// Writing
	"jasper.ai":       CategoryWriting,
	"copy.ai":         CategoryWriting,
	"writesonic.com":  CategoryWriting,
	"rytr.me":         CategoryWriting,
	"grammarly.com":   CategoryWriting,
	"quillbot.com":    CategoryWriting,
	"wordtune.com":    CategoryWriting,
	"notion.so":       CategoryWriting,
	"sudowrite.com":   CategoryWriting,

	// Agents and tools
	"zapier.com":      CategoryAgent,
	"make.com":        CategoryAgent,
	"langchain.com":   CategoryAgent,
	"llamaindex.ai":   CategoryAgent,
	"crewai.com":      CategoryAgent,
	"autogpt.net":     CategoryAgent,
	"agentgpt.reworkd.ai": CategoryAgent,
	"manus.im":        CategoryAgent,
	"flowiseai.com":   CategoryAgent,
	"dust.tt":         CategoryAgent,

	// ML infrastructure
	"huggingface.co":   CategoryMLInfra,
	"hf.co":            CategoryMLInfra,
	"replicate.com":    CategoryMLInfra,
	"modal.com":        CategoryMLInfra,
	"banana.dev":       CategoryMLInfra,
	"runpod.io":        CategoryMLInfra,
	"lambdalabs.com":   CategoryMLInfra,
	"paperspace.com":   CategoryMLInfra,
	"wandb.ai":         CategoryMLInfra,
	"comet.com":        CategoryMLInfra,
	"anyscale.com":     CategoryMLInfra,
	"baseten.co":       CategoryMLInfra,
	"octoml.ai":        CategoryMLInfra,
	"cerebras.ai":      CategoryMLInfra,
	"sambanova.ai":     CategoryMLInfra,

	// Research
	"arxiv.org":        CategoryResearch,
	"paperswithcode.com": CategoryResearch,
	"semanticscholar.org": CategoryResearch,
	"kaggle.com":       CategoryResearch,
	"colab.research.google.com": CategoryResearch,
	"deepmind.google":  CategoryResearch,
	"allenai.org":      CategoryResearch,
}

// DomainCategory returns the category for host when host is (a subdomain of)
// a known AI service, and "" otherwise. Matching is case-insensitive and
// ignores a trailing dot.
func DomainCategory(host string) (base, category string) {
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	if h == "" {
		return "", ""
	}
	if cat, ok := aiDomains[h]; ok {
		return h, cat
	}
	// Walk label boundaries so the longest registered suffix wins.
	for i := 0; i < len(h); i++ {
		if h[i] != '.' {
			continue
		}
		candidate := h[i+1:]
		if cat, ok := aiDomains[candidate]; ok {
			return candidate, cat
		}
	}
	return "", ""
}

// IsAIDomain reports whether host belongs to a known AI service.
func IsAIDomain(host string) bool {
	_, cat := DomainCategory(host)
	return cat != ""
}
