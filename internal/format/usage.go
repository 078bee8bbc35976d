package format

// The three usage shapes are mutually convertible: input_tokens maps to
// prompt_tokens, output_tokens to completion_tokens; cached and reasoning
// detail fields default to zero when absent.

// ChatUsageFromAnthropic converts Anthropic usage to Chat usage.
func ChatUsageFromAnthropic(u AnthropicUsage) *ChatUsage {
	out := &ChatUsage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
	if u.CacheReadInputTokens > 0 {
		out.PromptTokensDetails = &ChatPromptDetail{CachedTokens: u.CacheReadInputTokens}
	}
	return out
}

// AnthropicUsageFromChat converts Chat usage to Anthropic usage.
func AnthropicUsageFromChat(u *ChatUsage) AnthropicUsage {
	if u == nil {
		return AnthropicUsage{}
	}
	out := AnthropicUsage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
	if u.PromptTokensDetails != nil {
		out.CacheReadInputTokens = u.PromptTokensDetails.CachedTokens
	}
	return out
}

// ResponseUsageFromChat converts Chat usage to Responses usage.
func ResponseUsageFromChat(u *ChatUsage) *ResponseUsage {
	if u == nil {
		return nil
	}
	out := &ResponseUsage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.InputTokens + out.OutputTokens
	}
	if u.PromptTokensDetails != nil {
		out.InputTokensDetails = &ResponseInputDetail{CachedTokens: u.PromptTokensDetails.CachedTokens}
	}
	if u.CompletionTokensDetails != nil {
		out.OutputTokensDetails = &ResponseOutputDetail{ReasoningTokens: u.CompletionTokensDetails.ReasoningTokens}
	}
	return out
}

// ChatUsageFromResponse converts Responses usage to Chat usage.
func ChatUsageFromResponse(u *ResponseUsage) *ChatUsage {
	if u == nil {
		return nil
	}
	out := &ChatUsage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.TotalTokens,
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	if u.InputTokensDetails != nil {
		out.PromptTokensDetails = &ChatPromptDetail{CachedTokens: u.InputTokensDetails.CachedTokens}
	}
	if u.OutputTokensDetails != nil {
		out.CompletionTokensDetails = &ChatOutputDetail{ReasoningTokens: u.OutputTokensDetails.ReasoningTokens}
	}
	return out
}

// ResponseUsageFromAnthropic converts Anthropic usage to Responses usage.
func ResponseUsageFromAnthropic(u AnthropicUsage) *ResponseUsage {
	out := &ResponseUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.InputTokens + u.OutputTokens,
	}
	if u.CacheReadInputTokens > 0 {
		out.InputTokensDetails = &ResponseInputDetail{CachedTokens: u.CacheReadInputTokens}
	}
	return out
}

// AnthropicUsageFromResponse converts Responses usage to Anthropic usage.
func AnthropicUsageFromResponse(u *ResponseUsage) AnthropicUsage {
	if u == nil {
		return AnthropicUsage{}
	}
	out := AnthropicUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	}
	if u.InputTokensDetails != nil {
		out.CacheReadInputTokens = u.InputTokensDetails.CachedTokens
	}
	return out
}
