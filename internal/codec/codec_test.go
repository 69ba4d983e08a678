package codec

import "testing"

func TestClaudeRequestRoundTrip(t *testing.T) {
	body := map[string]any{
		"model":      "claude-opus-4",
		"max_tokens": 1024.0,
		"system":     "be terse",
		"messages": []any{
			map[string]any{"role": "user", "content": "hello"},
		},
	}
	req, err := claudeNormalizer{}.RequestToInternal(body)
	if err != nil {
		t.Fatalf("RequestToInternal: %v", err)
	}
	if req.Model != "claude-opus-4" {
		t.Errorf("Model = %q", req.Model)
	}
	if req.System != "be terse" {
		t.Errorf("System = %q", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content[0].Text != "hello" {
		t.Fatalf("Messages = %+v", req.Messages)
	}

	out, err := claudeNormalizer{}.RequestFromInternal(req)
	if err != nil {
		t.Fatalf("RequestFromInternal: %v", err)
	}
	if out["model"] != "claude-opus-4" {
		t.Errorf("round-tripped model = %v", out["model"])
	}
}

func TestOpenAIChatToolCallRoundTrip(t *testing.T) {
	body := map[string]any{
		"model": "gpt-4o",
		"messages": []any{
			map[string]any{"role": "system", "content": "be terse"},
			map[string]any{"role": "user", "content": "what's the weather"},
			map[string]any{
				"role": "assistant", "content": nil,
				"tool_calls": []any{
					map[string]any{
						"id": "call_1", "type": "function",
						"function": map[string]any{"name": "get_weather", "arguments": `{"city":"nyc"}`},
					},
				},
			},
			map[string]any{"role": "tool", "tool_call_id": "call_1", "content": "72F sunny"},
		},
	}
	req, err := openaiChatNormalizer{}.RequestToInternal(body)
	if err != nil {
		t.Fatalf("RequestToInternal: %v", err)
	}
	if req.System != "be terse" {
		t.Errorf("System = %q", req.System)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("expected 3 messages (user, assistant-tool_use, tool-tool_result), got %d: %+v", len(req.Messages), req.Messages)
	}
	toolUse := req.Messages[1].Content[0]
	if toolUse.Type != ContentToolUse || toolUse.ToolName != "get_weather" {
		t.Errorf("tool use block = %+v", toolUse)
	}
	toolResult := req.Messages[2].Content[0]
	if toolResult.Type != ContentToolResult || toolResult.ContentText != "72F sunny" {
		t.Errorf("tool result block = %+v", toolResult)
	}

	// Convert to Claude dialect and confirm the tool_use/tool_result shape
	// survives a cross-dialect hop.
	claudeBody, err := claudeNormalizer{}.RequestFromInternal(req)
	if err != nil {
		t.Fatalf("RequestFromInternal(claude): %v", err)
	}
	msgs, _ := claudeBody["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 claude messages, got %d", len(msgs))
	}
}

func TestCrossDialectPassthroughDetection(t *testing.T) {
	if !IsPassthrough(FormatClaude, FormatClaudeCLI) {
		t.Error("claude/claude_cli should share a data format")
	}
	if IsPassthrough(FormatOpenAI, FormatOpenAICLI) {
		t.Error("openai chat and responses must not be treated as passthrough")
	}
	if IsPassthrough(FormatClaude, FormatGemini) {
		t.Error("claude and gemini must never be passthrough-compatible")
	}
}

func TestDetectRequestClaudeRequiresBothHeaders(t *testing.T) {
	headers := map[string]string{"x-api-key": "sk-test"}
	lookup := func(name string) string { return headers[name] }

	format, key := DetectRequest(lookup, "", "/v1/messages")
	if format != FormatOpenAI {
		t.Errorf("x-api-key alone should fall back to OpenAI dialect, got %s", format)
	}
	if key != "sk-test" {
		t.Errorf("fallback credential = %q", key)
	}

	headers["anthropic-version"] = "2023-06-01"
	format, _ = DetectRequest(lookup, "", "/v1/messages")
	if format != FormatClaude {
		t.Errorf("x-api-key + anthropic-version should detect Claude, got %s", format)
	}
}

func TestDetectRequestGeminiQueryKeyTakesPriorityOverBearer(t *testing.T) {
	headers := map[string]string{"Authorization": "Bearer sk-oa"}
	lookup := func(name string) string { return headers[name] }

	format, key := DetectRequest(lookup, "AIzaSy-test", "/v1beta/models/gemini-pro:generateContent")
	if format != FormatGemini {
		t.Errorf("?key= should win over Authorization, got %s", format)
	}
	if key != "AIzaSy-test" {
		t.Errorf("credential = %q", key)
	}
}

func TestDetectRequestOpenAICLIPathRefinement(t *testing.T) {
	headers := map[string]string{"Authorization": "Bearer sk-oa"}
	lookup := func(name string) string { return headers[name] }

	format, _ := DetectRequest(lookup, "", "/v1/responses")
	if format != FormatOpenAICLI {
		t.Errorf("path containing /responses should refine to OPENAI_CLI, got %s", format)
	}
}

func TestUsageAddKeepsRunningMaximum(t *testing.T) {
	var u UsageInfo
	u.Add(UsageInfo{InputTokens: 10, OutputTokens: 5})
	u.Add(UsageInfo{InputTokens: 10, OutputTokens: 8})
	if u.OutputTokens != 8 {
		t.Errorf("OutputTokens = %d, want running max 8", u.OutputTokens)
	}
	if u.TotalTokens != 18 {
		t.Errorf("TotalTokens = %d, want 18", u.TotalTokens)
	}
}

func TestGeminiFunctionCallRoundTrip(t *testing.T) {
	body := map[string]any{
		"contents": []any{
			map[string]any{"role": "user", "parts": []any{map[string]any{"text": "weather?"}}},
			map[string]any{"role": "model", "parts": []any{
				map[string]any{"functionCall": map[string]any{"name": "get_weather", "args": map[string]any{"city": "nyc"}}},
			}},
		},
	}
	req, err := geminiNormalizer{}.RequestToInternal(body)
	if err != nil {
		t.Fatalf("RequestToInternal: %v", err)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}
	blk := req.Messages[1].Content[0]
	if blk.Type != ContentToolUse || blk.ToolName != "get_weather" {
		t.Errorf("function call block = %+v", blk)
	}
}

func TestNormalizerRegistryResolvesCLIVariants(t *testing.T) {
	n, err := Lookup(FormatGeminiCLI)
	if err != nil {
		t.Fatalf("Lookup(FormatGeminiCLI): %v", err)
	}
	if n.Format() != FormatGemini {
		t.Errorf("GeminiCLI should resolve to the base gemini normalizer, got %s", n.Format())
	}

	if _, err := Lookup(ApiFormat("bogus")); err == nil {
		t.Error("expected an error looking up an unregistered format")
	}
}
