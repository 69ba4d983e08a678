// Package providers holds the static model-name seed data the catalog uses
// to build its GlobalModel/Model registry. It no longer defines per-vendor
// client implementations — every upstream call now goes through
// internal/upstream against a declaratively-configured Endpoint, since the
// catalog addresses arbitrary configured base URLs that a fixed set of
// vendor SDKs can't serve generically. See DESIGN.md for the full rationale.
package providers

// ModelAliases maps model names to the provider ID that serves them. Seeds
// internal/catalog's GlobalModel/Model bindings.
var ModelAliases = map[string]string{

	// ─── OpenAI ───────────────────────────────────────────────────────────────
	"gpt-4":                  "openai",
	"gpt-4-0613":             "openai",
	"gpt-4o":                 "openai",
	"gpt-4o-2024-11-20":      "openai",
	"gpt-4o-2024-08-06":      "openai",
	"gpt-4o-2024-05-13":      "openai",
	"gpt-4o-mini":            "openai",
	"gpt-4o-mini-2024-07-18": "openai",
	"gpt-4-turbo":            "openai",
	"gpt-4-turbo-2024-04-09": "openai",
	"gpt-4-turbo-preview":    "openai",
	"gpt-3.5-turbo":          "openai",
	"gpt-3.5-turbo-0125":     "openai",
	"gpt-3.5-turbo-1106":     "openai",
	"o1":                     "openai",
	"o1-mini":                "openai",
	"o1-preview":             "openai",
	"o1-2024-12-17":          "openai",
	"o3":                     "openai",
	"o3-mini":                "openai",
	"o3-mini-2025-01-31":     "openai",
	"o4-mini":                "openai",
	"gpt-4.1":                "openai",
	"gpt-4.1-mini":           "openai",
	"gpt-4.1-nano":           "openai",

	// ─── Anthropic ────────────────────────────────────────────────────────────
	"claude-3-5-sonnet":          "anthropic",
	"claude-3-5-sonnet-20241022": "anthropic",
	"claude-3-5-haiku":           "anthropic",
	"claude-3-5-haiku-20241022":  "anthropic",
	"claude-3-opus":              "anthropic",
	"claude-3-opus-20240229":     "anthropic",
	"claude-3-haiku":             "anthropic",
	"claude-3-haiku-20240307":    "anthropic",
	"claude-3-sonnet-20240229":   "anthropic",
	"claude-3-7-sonnet-20250219": "anthropic",
	"claude-3-7-sonnet":          "anthropic",
	"claude-opus-4":              "anthropic",
	"claude-sonnet-4":            "anthropic",
	"claude-haiku-4":             "anthropic",

	// ─── Google AI Studio ─────────────────────────────────────────────────────
	"gemini-pro":                    "gemini",
	"gemini-1.0-pro":                 "gemini",
	"gemini-1.5-pro":                 "gemini",
	"gemini-1.5-pro-002":             "gemini",
	"gemini-1.5-flash":               "gemini",
	"gemini-1.5-flash-002":           "gemini",
	"gemini-1.5-flash-8b":            "gemini",
	"gemini-2.0-flash":               "gemini",
	"gemini-2.0-flash-lite":          "gemini",
	"gemini-2.0-flash-exp":           "gemini",
	"gemini-2.0-pro-exp":             "gemini",
	"gemini-2.5-pro":                 "gemini",
	"gemini-2.5-flash":               "gemini",
	"gemini-exp-1206":                "gemini",
	"gemini-2.0-flash-thinking-exp":  "gemini",
	"gemma-3-27b-it":                 "gemini",
	"gemma-3-12b-it":                 "gemini",
	"gemma-3-4b-it":                  "gemini",
	"gemma-2-27b-it":                 "gemini",
	"gemma-2-9b-it":                  "gemini",
	"gemma-2-2b-it":                  "gemini",
	"learnlm-1.5-pro-experimental":   "gemini",

	// ─── Mistral AI ───────────────────────────────────────────────────────────
	"mistral-large-latest": "mistral",
	"mistral-small-latest": "mistral",
	"mistral-large":        "mistral",
	"mistral-large-2411":   "mistral",
	"mistral-medium":       "mistral",
	"mistral-small-2501":   "mistral",
	"mistral-small-2412":   "mistral",
	"mistral-nemo":         "mistral",
	"open-mistral-nemo":    "mistral",
	"mixtral-8x7b":         "mistral",
	"open-mixtral-8x22b":   "mistral",
	"pixtral-large-2411":   "mistral",
	"pixtral-12b-2409":     "mistral",
	"codestral-2501":       "mistral",
	"codestral-latest":     "mistral",
	"ministral-3b-latest":  "mistral",
	"ministral-8b-latest":  "mistral",

	// ─── xAI (Grok) ───────────────────────────────────────────────────────────
	"grok-3":             "xai",
	"grok-3-fast":        "xai",
	"grok-3-mini":        "xai",
	"grok-3-mini-fast":   "xai",
	"grok-3-latest":      "xai",
	"grok-2":             "xai",
	"grok-2-mini":        "xai",
	"grok-2-1212":        "xai",
	"grok-2-vision":      "xai",
	"grok-2-vision-1212": "xai",
	"grok-beta":          "xai",
	"grok-vision-beta":   "xai",

	// ─── DeepSeek ─────────────────────────────────────────────────────────────
	"deepseek-chat":     "deepseek",
	"deepseek-reasoner": "deepseek",

	// ─── Groq ─────────────────────────────────────────────────────────────────
	"llama-3.3-70b-versatile": "groq",
	"llama-3.1-70b-versatile": "groq",
	"llama-3.1-8b-instant":    "groq",
	"llama3-70b-8192":         "groq",
	"llama3-8b-8192":          "groq",
	"gemma2-9b-it":            "groq",

	// ─── Together AI ──────────────────────────────────────────────────────────
	"meta-llama/Llama-3.3-70B-Instruct-Turbo":       "together",
	"meta-llama/Meta-Llama-3.1-405B-Instruct-Turbo": "together",
	"meta-llama/Meta-Llama-3.1-70B-Instruct-Turbo":  "together",
	"meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo":   "together",
	"mistralai/Mixtral-8x7B-Instruct-v0.1":          "together",
	"mistralai/Mixtral-8x22B-Instruct-v0.1":         "together",
	"Qwen/Qwen2.5-72B-Instruct-Turbo":                "together",
	"deepseek-ai/DeepSeek-R1":                        "together",

	// ─── Cerebras ─────────────────────────────────────────────────────────────
	"llama3.1-8b":                   "cerebras",
	"llama3.1-70b":                  "cerebras",
	"llama3.3-70b":                  "cerebras",
	"qwen-3-32b":                    "cerebras",
	"deepseek-r1-distill-llama-70b": "cerebras",

	// ─── Moonshot AI ──────────────────────────────────────────────────────────
	"moonshot-v1-8k":   "moonshot",
	"moonshot-v1-32k":  "moonshot",
	"moonshot-v1-128k": "moonshot",
	"kimi-latest":      "moonshot",

	// ─── MiniMax ──────────────────────────────────────────────────────────────
	"MiniMax-Text-01": "minimax",
	"abab6.5s-chat":   "minimax",

	// ─── Perplexity ───────────────────────────────────────────────────────────
	"sonar":           "perplexity",
	"sonar-pro":       "perplexity",
	"sonar-reasoning": "perplexity",

	// ─── Alibaba Cloud (Qwen) ─────────────────────────────────────────────────
	"qwen-turbo": "qwen",
	"qwen-plus":  "qwen",
	"qwen-max":   "qwen",
	"qwen-long":  "qwen",

	// ─── Nebius AI Studio ─────────────────────────────────────────────────────
	"meta-llama/Meta-Llama-3.1-70B-Instruct": "nebius",
	"meta-llama/Meta-Llama-3.3-70B-Instruct": "nebius",
	"deepseek-ai/DeepSeek-V3":                "nebius",

	// ─── NovitaAI ─────────────────────────────────────────────────────────────
	"meta-llama/llama-3.1-8b-instruct":  "novita",
	"meta-llama/llama-3.1-70b-instruct": "novita",
	"deepseek/deepseek-v3":              "novita",

	// ─── ByteDance ModelArk ───────────────────────────────────────────────────
	"doubao-1.5-pro-32k":  "bytedance",
	"doubao-1.5-lite-32k": "bytedance",

	// ─── Z AI ─────────────────────────────────────────────────────────────────
	"glm-4-plus":  "zai",
	"glm-4-air":   "zai",
	"glm-4-flash": "zai",

	// ─── Inference.net ────────────────────────────────────────────────────────
	"inference-llama-3.1-8b":  "inference",
	"inference-llama-3.1-70b": "inference",

	// ─── NanoGPT ──────────────────────────────────────────────────────────────
	"nanogpt-gpt-4o":   "nanogpt",
	"nanogpt-claude-3": "nanogpt",

	// ─── AWS Bedrock ──────────────────────────────────────────────────────────
	"anthropic.claude-3-5-sonnet-20241022-v2:0": "bedrock",
	"anthropic.claude-3-opus-20240229-v1:0":     "bedrock",
	"anthropic.claude-3-haiku-20240307-v1:0":    "bedrock",

	// ─── Azure OpenAI ─────────────────────────────────────────────────────────
	// Use the "azure-" prefix to route explicitly to Azure.
	"azure-gpt-4":        "azure",
	"azure-gpt-4o":       "azure",
	"azure-gpt-4-turbo":  "azure",
	"azure-gpt-4o-mini":  "azure",

	// ─── Google Vertex AI ─────────────────────────────────────────────────────
	// Use the "vertexai-" prefix to route explicitly to Vertex AI.
	"vertexai-gemini-2.0-flash": "vertexai",
	"vertexai-gemini-1.5-pro":   "vertexai",
	"vertexai-gemini-2.5-pro":   "vertexai",
	"vertexai-gemini-2.5-flash": "vertexai",
}

// EmbeddingModelAliases maps embedding model names to the provider ID that
// serves them.
var EmbeddingModelAliases = map[string]string{
	"text-embedding-3-small": "openai",
	"text-embedding-3-large": "openai",
	"text-embedding-ada-002": "openai",
	"mistral-embed":          "mistral",
	"text-embedding-004":     "gemini",
	"embedding-001":          "gemini",
}
