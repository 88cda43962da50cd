package pricing

import gateway "github.com/farebox-io/farebox/internal"

// familyRule maps a model-name prefix to the base table entry its variants
// share. Longest matching prefix wins, so dated releases like
// "gpt-4o-2024-05-13" resolve to "gpt-4o" while "gpt-4o-mini-2024-07-18"
// still resolves to "gpt-4o-mini".
type familyRule struct {
	Prefix string
	Base   string
}

// defaultTables returns the built-in per-provider rate tables, USD per
// million tokens. OpenRouter and LiteLLM quote native USD costs, so their
// tables only need entries for deployments where the native quote is absent.
func defaultTables() map[string]map[string]gateway.ModelPricing {
	return map[string]map[string]gateway.ModelPricing{
		"openai": {
			"gpt-4":         {PromptPerMTok: 30.00, CompletionPerMTok: 60.00},
			"gpt-4-turbo":   {PromptPerMTok: 10.00, CompletionPerMTok: 30.00},
			"gpt-4o":        {PromptPerMTok: 2.50, CompletionPerMTok: 10.00},
			"gpt-4o-mini":   {PromptPerMTok: 0.15, CompletionPerMTok: 0.60},
			"gpt-4.1":       {PromptPerMTok: 2.00, CompletionPerMTok: 8.00},
			"gpt-4.1-mini":  {PromptPerMTok: 0.40, CompletionPerMTok: 1.60},
			"gpt-3.5-turbo": {PromptPerMTok: 0.50, CompletionPerMTok: 1.50},
			"o1":            {PromptPerMTok: 15.00, CompletionPerMTok: 60.00},
			"o1-mini":       {PromptPerMTok: 3.00, CompletionPerMTok: 12.00},
			"o3-mini":       {PromptPerMTok: 1.10, CompletionPerMTok: 4.40},
		},
		"claude": {
			"claude-3-5-sonnet": {PromptPerMTok: 3.00, CompletionPerMTok: 15.00},
			"claude-3-5-haiku":  {PromptPerMTok: 0.80, CompletionPerMTok: 4.00},
			"claude-3-opus":     {PromptPerMTok: 15.00, CompletionPerMTok: 75.00},
			"claude-3-haiku":    {PromptPerMTok: 0.25, CompletionPerMTok: 1.25},
			"claude-sonnet-4":   {PromptPerMTok: 3.00, CompletionPerMTok: 15.00},
			"claude-opus-4":     {PromptPerMTok: 15.00, CompletionPerMTok: 75.00},
			"claude-haiku-4":    {PromptPerMTok: 1.00, CompletionPerMTok: 5.00},
		},
		"google": {
			"gemini-2.0-flash":      {PromptPerMTok: 0.10, CompletionPerMTok: 0.40},
			"gemini-2.0-flash-lite": {PromptPerMTok: 0.075, CompletionPerMTok: 0.30},
			"gemini-2.5-pro":        {PromptPerMTok: 1.25, CompletionPerMTok: 10.00},
			"gemini-2.5-flash":      {PromptPerMTok: 0.30, CompletionPerMTok: 2.50},
			"gemini-1.5-pro":        {PromptPerMTok: 1.25, CompletionPerMTok: 5.00},
			"gemini-1.5-flash":      {PromptPerMTok: 0.075, CompletionPerMTok: 0.30},
		},
		"openrouter": {},
		"litellm":    {},
	}
}

// defaultFamilies returns the per-provider prefix fallbacks. Rules are
// checked by longest prefix, so order here does not matter.
func defaultFamilies() map[string][]familyRule {
	return map[string][]familyRule{
		"openai": {
			{Prefix: "gpt-4o-mini", Base: "gpt-4o-mini"},
			{Prefix: "gpt-4o", Base: "gpt-4o"},
			{Prefix: "gpt-4-turbo", Base: "gpt-4-turbo"},
			{Prefix: "gpt-4.1-mini", Base: "gpt-4.1-mini"},
			{Prefix: "gpt-4.1", Base: "gpt-4.1"},
			{Prefix: "gpt-4", Base: "gpt-4"},
			{Prefix: "gpt-3.5-turbo", Base: "gpt-3.5-turbo"},
			{Prefix: "o1-mini", Base: "o1-mini"},
			{Prefix: "o1", Base: "o1"},
			{Prefix: "o3-mini", Base: "o3-mini"},
		},
		"claude": {
			{Prefix: "claude-3-5-sonnet", Base: "claude-3-5-sonnet"},
			{Prefix: "claude-3-5-haiku", Base: "claude-3-5-haiku"},
			{Prefix: "claude-3-opus", Base: "claude-3-opus"},
			{Prefix: "claude-3-haiku", Base: "claude-3-haiku"},
			{Prefix: "claude-sonnet-4", Base: "claude-sonnet-4"},
			{Prefix: "claude-opus-4", Base: "claude-opus-4"},
			{Prefix: "claude-haiku-4", Base: "claude-haiku-4"},
		},
		"google": {
			{Prefix: "gemini-2.0-flash-lite", Base: "gemini-2.0-flash-lite"},
			{Prefix: "gemini-2.0-flash", Base: "gemini-2.0-flash"},
			{Prefix: "gemini-2.5-pro", Base: "gemini-2.5-pro"},
			{Prefix: "gemini-2.5-flash", Base: "gemini-2.5-flash"},
			{Prefix: "gemini-1.5-pro", Base: "gemini-1.5-pro"},
			{Prefix: "gemini-1.5-flash", Base: "gemini-1.5-flash"},
		},
	}
}
