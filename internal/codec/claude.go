package codec

func init() {
	Register(claudeNormalizer{})
}

// claudeNormalizer implements the Anthropic Messages API wire shape. Field
// names below (role, content, input_schema, stop_reason, ...) mirror
// Anthropic's documented request/response bodies, the same shapes the
// teacher's internal/providers/anthropic package already parses with the
// official SDK's typed structs — this normalizer re-derives the same
// mapping against raw map[string]any so the gateway can pass bytes through
// untouched on the Claude→Claude fast path and only pay the conversion cost
// when the client and endpoint dialects actually differ.
type claudeNormalizer struct{}

func (claudeNormalizer) Format() ApiFormat { return FormatClaude }

func (claudeNormalizer) RequestToInternal(body map[string]any) (*InternalRequest, error) {
	req := &InternalRequest{}

	if model, ok := getString(body, "model"); ok {
		req.Model = model
	}
	if stream, ok := getBool(body, "stream"); ok {
		req.Stream = stream
	}
	if mt, ok := getInt(body, "max_tokens"); ok {
		req.MaxTokens = &mt
	}
	if t, ok := getFloat(body, "temperature"); ok {
		req.Temperature = &t
	}
	if tp, ok := getFloat(body, "top_p"); ok {
		req.TopP = &tp
	}
	if tk, ok := getInt(body, "top_k"); ok {
		req.TopK = &tk
	}
	if seqs, ok := getSlice(body, "stop_sequences"); ok {
		for _, s := range seqs {
			if str, ok := s.(string); ok {
				req.StopSequences = append(req.StopSequences, str)
			}
		}
	}

	// Claude's system field is a bare string or a list of text blocks; in
	// either case it flattens to one instruction segment with no developer
	// role distinction.
	if sysRaw, ok := body["system"]; ok {
		text := flattenClaudeSystem(sysRaw)
		if text != "" {
			req.System = text
			req.Instructions = append(req.Instructions, InstructionSegment{Role: RoleSystem, Text: text})
		}
	}

	if msgs, ok := getSlice(body, "messages"); ok {
		for _, raw := range msgs {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			req.Messages = append(req.Messages, claudeMessageToInternal(m))
		}
	}

	if tools, ok := getSlice(body, "tools"); ok {
		for _, raw := range tools {
			t, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			name, _ := getString(t, "name")
			desc, _ := getString(t, "description")
			schema, _ := getMap(t, "input_schema")
			req.Tools = append(req.Tools, ToolDefinition{Name: name, Description: desc, Parameters: schema})
		}
	}

	if tc, ok := getMap(body, "tool_choice"); ok {
		req.ToolChoice = claudeToolChoiceToInternal(tc)
	}

	return req, nil
}

func flattenClaudeSystem(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []any:
		out := ""
		for _, blk := range v {
			if m, ok := blk.(map[string]any); ok {
				if text, ok := getString(m, "text"); ok {
					if out != "" {
						out += "\n"
					}
					out += text
				}
			}
		}
		return out
	}
	return ""
}

func claudeMessageToInternal(m map[string]any) InternalMessage {
	role, _ := getString(m, "role")
	msg := InternalMessage{Role: claudeRoleToInternal(role)}

	switch content := m["content"].(type) {
	case string:
		msg.Content = []ContentBlock{TextContentBlock(content)}
	case []any:
		for _, raw := range content {
			blk, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			msg.Content = append(msg.Content, claudeBlockToInternal(blk))
		}
	}
	return msg
}

func claudeRoleToInternal(role string) Role {
	switch role {
	case "user":
		return RoleUser
	case "assistant":
		return RoleAssistant
	default:
		return RoleUnknown
	}
}

func claudeBlockToInternal(blk map[string]any) ContentBlock {
	t, _ := getString(blk, "type")
	switch t {
	case "text":
		text, _ := getString(blk, "text")
		return TextContentBlock(text)
	case "image":
		src, _ := getMap(blk, "source")
		data, _ := getString(src, "data")
		media, _ := getString(src, "media_type")
		url, _ := getString(src, "url")
		return ContentBlock{Type: ContentImage, ImageData: data, ImageMediaType: media, ImageURL: url}
	case "tool_use":
		id, _ := getString(blk, "id")
		name, _ := getString(blk, "name")
		input, _ := getMap(blk, "input")
		return ContentBlock{Type: ContentToolUse, ToolID: id, ToolName: name, ToolInput: input}
	case "tool_result":
		useID, _ := getString(blk, "tool_use_id")
		isErr, _ := getBool(blk, "is_error")
		text := ""
		if s, ok := blk["content"].(string); ok {
			text = s
		}
		return ContentBlock{Type: ContentToolResult, ToolUseID: useID, ContentText: text, IsError: isErr}
	default:
		return ContentBlock{Type: ContentUnknown, RawType: t, Payload: blk}
	}
}

func claudeToolChoiceToInternal(tc map[string]any) *ToolChoice {
	t, _ := getString(tc, "type")
	switch t {
	case "auto":
		return &ToolChoice{Type: ToolChoiceAuto}
	case "any":
		return &ToolChoice{Type: ToolChoiceRequired}
	case "tool":
		name, _ := getString(tc, "name")
		return &ToolChoice{Type: ToolChoiceTool, ToolName: name}
	default:
		return &ToolChoice{Type: ToolChoiceAuto}
	}
}

func (claudeNormalizer) RequestFromInternal(req *InternalRequest) (map[string]any, error) {
	body := map[string]any{
		"model":  req.Model,
		"stream": req.Stream,
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	} else {
		body["max_tokens"] = 4096
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		body["top_k"] = *req.TopK
	}
	if len(req.StopSequences) > 0 {
		body["stop_sequences"] = req.StopSequences
	}
	if req.System != "" {
		body["system"] = req.System
	}

	messages := make([]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleSystem || m.Role == RoleDeveloper {
			continue
		}
		messages = append(messages, claudeMessageFromInternal(m))
	}
	body["messages"] = messages

	if len(req.Tools) > 0 {
		tools := make([]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.Parameters,
			})
		}
		body["tools"] = tools
	}
	if req.ToolChoice != nil {
		body["tool_choice"] = claudeToolChoiceFromInternal(req.ToolChoice)
	}

	return body, nil
}

func claudeMessageFromInternal(m InternalMessage) map[string]any {
	role := "user"
	if m.Role == RoleAssistant {
		role = "assistant"
	}
	blocks := make([]any, 0, len(m.Content))
	for _, b := range m.Content {
		blocks = append(blocks, claudeBlockFromInternal(b))
	}
	return map[string]any{"role": role, "content": blocks}
}

func claudeBlockFromInternal(b ContentBlock) map[string]any {
	switch b.Type {
	case ContentText:
		return map[string]any{"type": "text", "text": b.Text}
	case ContentImage:
		src := map[string]any{}
		if b.ImageURL != "" {
			src["type"] = "url"
			src["url"] = b.ImageURL
		} else {
			src["type"] = "base64"
			src["media_type"] = b.ImageMediaType
			src["data"] = b.ImageData
		}
		return map[string]any{"type": "image", "source": src}
	case ContentToolUse:
		return map[string]any{"type": "tool_use", "id": b.ToolID, "name": b.ToolName, "input": b.ToolInput}
	case ContentToolResult:
		return map[string]any{"type": "tool_result", "tool_use_id": b.ToolUseID, "content": b.ContentText, "is_error": b.IsError}
	default:
		return b.Payload
	}
}

func claudeToolChoiceFromInternal(tc *ToolChoice) map[string]any {
	switch tc.Type {
	case ToolChoiceRequired:
		return map[string]any{"type": "any"}
	case ToolChoiceTool:
		return map[string]any{"type": "tool", "name": tc.ToolName}
	case ToolChoiceNone:
		return map[string]any{"type": "auto"}
	default:
		return map[string]any{"type": "auto"}
	}
}

func (claudeNormalizer) ResponseToInternal(body map[string]any) (*InternalResponse, error) {
	resp := &InternalResponse{}
	resp.ID, _ = getString(body, "id")
	resp.Model, _ = getString(body, "model")
	if sr, ok := getString(body, "stop_reason"); ok {
		resp.StopReason = claudeStopReasonToInternal(sr)
	}
	if content, ok := getSlice(body, "content"); ok {
		for _, raw := range content {
			if blk, ok := raw.(map[string]any); ok {
				resp.Content = append(resp.Content, claudeBlockToInternal(blk))
			}
		}
	}
	if usage, ok := getMap(body, "usage"); ok {
		resp.Usage = claudeUsageToInternal(usage)
	}
	return resp, nil
}

func claudeStopReasonToInternal(sr string) StopReason {
	switch sr {
	case "end_turn":
		return StopEndTurn
	case "max_tokens":
		return StopMaxTokens
	case "stop_sequence":
		return StopSequence
	case "tool_use":
		return StopToolUse
	case "pause_turn":
		return StopPauseTurn
	case "refusal":
		return StopRefusal
	default:
		return StopUnknown
	}
}

func claudeStopReasonFromInternal(sr StopReason) string {
	switch sr {
	case StopEndTurn:
		return "end_turn"
	case StopMaxTokens:
		return "max_tokens"
	case StopSequence:
		return "stop_sequence"
	case StopToolUse:
		return "tool_use"
	case StopPauseTurn:
		return "pause_turn"
	case StopRefusal:
		return "refusal"
	default:
		return "end_turn"
	}
}

func claudeUsageToInternal(u map[string]any) UsageInfo {
	in, _ := getInt(u, "input_tokens")
	out, _ := getInt(u, "output_tokens")
	cacheRead, _ := getInt(u, "cache_read_input_tokens")
	cacheWrite, _ := getInt(u, "cache_creation_input_tokens")
	return UsageInfo{
		InputTokens:      in,
		OutputTokens:     out,
		TotalTokens:      in + out,
		CacheReadTokens:  cacheRead,
		CacheWriteTokens: cacheWrite,
	}
}

func (claudeNormalizer) ResponseFromInternal(resp *InternalResponse) (map[string]any, error) {
	blocks := make([]any, 0, len(resp.Content))
	for _, b := range resp.Content {
		blocks = append(blocks, claudeBlockFromInternal(b))
	}
	return map[string]any{
		"id":          resp.ID,
		"type":        "message",
		"role":        "assistant",
		"model":       resp.Model,
		"content":     blocks,
		"stop_reason": claudeStopReasonFromInternal(resp.StopReason),
		"usage": map[string]any{
			"input_tokens":                resp.Usage.InputTokens,
			"output_tokens":               resp.Usage.OutputTokens,
			"cache_read_input_tokens":     resp.Usage.CacheReadTokens,
			"cache_creation_input_tokens": resp.Usage.CacheWriteTokens,
		},
	}, nil
}

func (claudeNormalizer) StreamEventToInternal(state *StreamState, eventName string, data map[string]any) ([]StreamEvent, error) {
	switch eventName {
	case "message_start":
		msg, _ := getMap(data, "message")
		id, _ := getString(msg, "id")
		model, _ := getString(msg, "model")
		state.MessageID, state.Model = id, model
		if usage, ok := getMap(msg, "usage"); ok {
			u := claudeUsageToInternal(usage)
			state.Usage.Add(u)
		}
		return []StreamEvent{{Type: EventMessageStart, ID: id, Model: model}}, nil

	case "content_block_start":
		idx, _ := getInt(data, "index")
		blk, _ := getMap(data, "content_block")
		return []StreamEvent{{Type: EventContentStart, Index: idx, Block: claudeBlockToInternal(blk)}}, nil

	case "content_block_delta":
		idx, _ := getInt(data, "index")
		delta, _ := getMap(data, "delta")
		dt, _ := getString(delta, "type")
		switch dt {
		case "text_delta":
			text, _ := getString(delta, "text")
			return []StreamEvent{{Type: EventContentDelta, Index: idx, TextDelta: text}}, nil
		case "input_json_delta":
			partial, _ := getString(delta, "partial_json")
			return []StreamEvent{{Type: EventToolCallDelta, Index: idx, ToolInputJSON: partial}}, nil
		default:
			return nil, nil
		}

	case "content_block_stop":
		idx, _ := getInt(data, "index")
		return []StreamEvent{{Type: EventContentStop, Index: idx}}, nil

	case "message_delta":
		delta, _ := getMap(data, "delta")
		var sr StopReason
		if s, ok := getString(delta, "stop_reason"); ok {
			sr = claudeStopReasonToInternal(s)
			state.StopReason = sr
		}
		if usage, ok := getMap(data, "usage"); ok {
			u := claudeUsageToInternal(usage)
			state.Usage.Add(u)
		}
		return []StreamEvent{{Type: EventMessageDelta, StopReason: sr, Usage: state.Usage}}, nil

	case "message_stop":
		return []StreamEvent{{Type: EventMessageStop, StopReason: state.StopReason, Usage: state.Usage}}, nil

	case "ping":
		return []StreamEvent{{Type: EventPing}}, nil

	case "error":
		errBody, _ := getMap(data, "error")
		return []StreamEvent{{Type: EventError, Err: claudeNormalizer{}.ErrorToInternal(0, errBody)}}, nil

	default:
		return []StreamEvent{{Type: EventUnknown, RawType: eventName, Raw: data}}, nil
	}
}

func (claudeNormalizer) StreamEventFromInternal(state *StreamState, event StreamEvent) (string, map[string]any, error) {
	switch event.Type {
	case EventMessageStart:
		return "message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id": event.ID, "type": "message", "role": "assistant", "model": event.Model,
				"content": []any{}, "usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		}, nil
	case EventContentStart:
		return "content_block_start", map[string]any{
			"type": "content_block_start", "index": event.Index,
			"content_block": claudeBlockFromInternal(event.Block),
		}, nil
	case EventContentDelta:
		return "content_block_delta", map[string]any{
			"type": "content_block_delta", "index": event.Index,
			"delta": map[string]any{"type": "text_delta", "text": event.TextDelta},
		}, nil
	case EventToolCallDelta:
		return "content_block_delta", map[string]any{
			"type": "content_block_delta", "index": event.Index,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": event.ToolInputJSON},
		}, nil
	case EventContentStop:
		return "content_block_stop", map[string]any{"type": "content_block_stop", "index": event.Index}, nil
	case EventMessageDelta:
		return "message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": claudeStopReasonFromInternal(event.StopReason)},
			"usage": map[string]any{"output_tokens": event.Usage.OutputTokens},
		}, nil
	case EventMessageStop:
		return "message_stop", map[string]any{"type": "message_stop"}, nil
	case EventError:
		return "error", map[string]any{"type": "error", "error": claudeNormalizer{}.ErrorFromInternal(event.Err)}, nil
	default:
		return "", nil, nil
	}
}

func (claudeNormalizer) ErrorToInternal(statusCode int, body map[string]any) *InternalError {
	t, _ := getString(body, "type")
	msg, _ := getString(body, "message")
	ie := &InternalError{Type: claudeErrorTypeToInternal(t), Message: msg}
	ie.Retryable = ie.Type == ErrRateLimit || ie.Type == ErrOverloaded || ie.Type == ErrServerError
	return ie
}

func claudeErrorTypeToInternal(t string) ErrorType {
	switch t {
	case "invalid_request_error":
		return ErrInvalidRequest
	case "authentication_error":
		return ErrAuthentication
	case "permission_error":
		return ErrPermissionDenied
	case "not_found_error":
		return ErrNotFound
	case "rate_limit_error":
		return ErrRateLimit
	case "overloaded_error":
		return ErrOverloaded
	case "api_error":
		return ErrServerError
	default:
		return ErrUnknown
	}
}

func (claudeNormalizer) ErrorFromInternal(err *InternalError) map[string]any {
	t := "api_error"
	switch err.Type {
	case ErrInvalidRequest:
		t = "invalid_request_error"
	case ErrAuthentication:
		t = "authentication_error"
	case ErrPermissionDenied:
		t = "permission_error"
	case ErrNotFound:
		t = "not_found_error"
	case ErrRateLimit:
		t = "rate_limit_error"
	case ErrOverloaded:
		t = "overloaded_error"
	}
	return map[string]any{"type": t, "message": err.Message}
}
