package codec

import "encoding/json"

func init() {
	Register(openaiChatNormalizer{})
}

// openaiChatNormalizer implements the OpenAI Chat Completions wire shape
// (/v1/chat/completions): messages[].role/content, choices[].delta for
// streaming, tool_calls[] for function calling. Mirrors the request/response
// bodies the teacher's internal/providers/openai package builds with the
// official SDK's typed params, re-derived over raw maps for the same reason
// as the Claude normalizer: passthrough stays byte-for-byte when no
// conversion is needed, and only pays the map-walk cost on cross-dialect
// requests.
type openaiChatNormalizer struct{}

func (openaiChatNormalizer) Format() ApiFormat { return FormatOpenAI }

func (openaiChatNormalizer) RequestToInternal(body map[string]any) (*InternalRequest, error) {
	req := &InternalRequest{}
	req.Model, _ = getString(body, "model")
	req.Stream, _ = getBool(body, "stream")
	if mt, ok := getInt(body, "max_tokens"); ok {
		req.MaxTokens = &mt
	} else if mt, ok := getInt(body, "max_completion_tokens"); ok {
		req.MaxTokens = &mt
	}
	if t, ok := getFloat(body, "temperature"); ok {
		req.Temperature = &t
	}
	if tp, ok := getFloat(body, "top_p"); ok {
		req.TopP = &tp
	}
	if stop, ok := body["stop"]; ok {
		switch v := stop.(type) {
		case string:
			req.StopSequences = []string{v}
		case []any:
			for _, s := range v {
				if str, ok := s.(string); ok {
					req.StopSequences = append(req.StopSequences, str)
				}
			}
		}
	}

	if msgs, ok := getSlice(body, "messages"); ok {
		var systemParts []string
		for _, raw := range msgs {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			role, _ := getString(m, "role")
			if role == "system" || role == "developer" {
				text := openaiFlattenContent(m["content"])
				r := RoleSystem
				if role == "developer" {
					r = RoleDeveloper
				}
				req.Instructions = append(req.Instructions, InstructionSegment{Role: r, Text: text})
				systemParts = append(systemParts, text)
				continue
			}
			req.Messages = append(req.Messages, openaiMessageToInternal(m))
		}
		for _, s := range systemParts {
			if req.System != "" {
				req.System += "\n"
			}
			req.System += s
		}
	}

	if tools, ok := getSlice(body, "tools"); ok {
		for _, raw := range tools {
			t, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			fn, _ := getMap(t, "function")
			name, _ := getString(fn, "name")
			desc, _ := getString(fn, "description")
			params, _ := getMap(fn, "parameters")
			req.Tools = append(req.Tools, ToolDefinition{Name: name, Description: desc, Parameters: params})
		}
	}

	if tc, ok := body["tool_choice"]; ok {
		req.ToolChoice = openaiToolChoiceToInternal(tc)
	}

	return req, nil
}

func openaiFlattenContent(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []any:
		out := ""
		for _, part := range v {
			if m, ok := part.(map[string]any); ok {
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

func openaiMessageToInternal(m map[string]any) InternalMessage {
	role, _ := getString(m, "role")
	msg := InternalMessage{Role: openaiRoleToInternal(role)}

	if role == "tool" {
		useID, _ := getString(m, "tool_call_id")
		text := openaiFlattenContent(m["content"])
		msg.Content = []ContentBlock{{Type: ContentToolResult, ToolUseID: useID, ContentText: text}}
		return msg
	}

	if calls, ok := getSlice(m, "tool_calls"); ok {
		for _, raw := range calls {
			c, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			id, _ := getString(c, "id")
			fn, _ := getMap(c, "function")
			name, _ := getString(fn, "name")
			argsStr, _ := getString(fn, "arguments")
			var input map[string]any
			_ = json.Unmarshal([]byte(argsStr), &input)
			msg.Content = append(msg.Content, ContentBlock{Type: ContentToolUse, ToolID: id, ToolName: name, ToolInput: input})
		}
	}

	switch content := m["content"].(type) {
	case string:
		if content != "" {
			msg.Content = append(msg.Content, TextContentBlock(content))
		}
	case []any:
		for _, raw := range content {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			msg.Content = append(msg.Content, openaiPartToInternal(part))
		}
	}
	return msg
}

func openaiRoleToInternal(role string) Role {
	switch role {
	case "user":
		return RoleUser
	case "assistant":
		return RoleAssistant
	case "tool":
		return RoleTool
	default:
		return RoleUnknown
	}
}

func openaiPartToInternal(part map[string]any) ContentBlock {
	t, _ := getString(part, "type")
	switch t {
	case "text":
		text, _ := getString(part, "text")
		return TextContentBlock(text)
	case "image_url":
		img, _ := getMap(part, "image_url")
		url, _ := getString(img, "url")
		return ContentBlock{Type: ContentImage, ImageURL: url}
	default:
		return ContentBlock{Type: ContentUnknown, RawType: t, Payload: part}
	}
}

func openaiToolChoiceToInternal(raw any) *ToolChoice {
	switch v := raw.(type) {
	case string:
		switch v {
		case "none":
			return &ToolChoice{Type: ToolChoiceNone}
		case "required":
			return &ToolChoice{Type: ToolChoiceRequired}
		default:
			return &ToolChoice{Type: ToolChoiceAuto}
		}
	case map[string]any:
		fn, _ := getMap(v, "function")
		name, _ := getString(fn, "name")
		return &ToolChoice{Type: ToolChoiceTool, ToolName: name}
	}
	return &ToolChoice{Type: ToolChoiceAuto}
}

func (openaiChatNormalizer) RequestFromInternal(req *InternalRequest) (map[string]any, error) {
	body := map[string]any{"model": req.Model, "stream": req.Stream}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if len(req.StopSequences) > 0 {
		body["stop"] = req.StopSequences
	}

	messages := make([]any, 0, len(req.Instructions)+len(req.Messages))
	for _, seg := range req.Instructions {
		role := "system"
		if seg.Role == RoleDeveloper {
			role = "developer"
		}
		messages = append(messages, map[string]any{"role": role, "content": seg.Text})
	}
	if len(req.Instructions) == 0 && req.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, openaiMessageFromInternal(m)...)
	}
	body["messages"] = messages

	if len(req.Tools) > 0 {
		tools := make([]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name": t.Name, "description": t.Description, "parameters": t.Parameters,
				},
			})
		}
		body["tools"] = tools
	}
	if req.ToolChoice != nil {
		body["tool_choice"] = openaiToolChoiceFromInternal(req.ToolChoice)
	}
	return body, nil
}

// openaiMessageFromInternal may expand one InternalMessage into several
// wire messages: an assistant turn with tool_use blocks needs one assistant
// message carrying tool_calls[], followed by one "tool" message per
// tool_result block, since OpenAI has no combined-block message shape.
func openaiMessageFromInternal(m InternalMessage) []any {
	role := "user"
	if m.Role == RoleAssistant {
		role = "assistant"
	}

	var textParts []string
	var toolCalls []any
	var toolResults []any
	for _, b := range m.Content {
		switch b.Type {
		case ContentText:
			textParts = append(textParts, b.Text)
		case ContentToolUse:
			args, _ := json.Marshal(b.ToolInput)
			toolCalls = append(toolCalls, map[string]any{
				"id": b.ToolID, "type": "function",
				"function": map[string]any{"name": b.ToolName, "arguments": string(args)},
			})
		case ContentToolResult:
			toolResults = append(toolResults, map[string]any{
				"role": "tool", "tool_call_id": b.ToolUseID, "content": b.ContentText,
			})
		case ContentImage:
			// Chat Completions only accepts image parts in user turns;
			// dropped here is acceptable since assistant-authored images
			// do not occur in this dialect's own wire format.
		}
	}

	out := []any{}
	if len(toolCalls) > 0 || len(textParts) > 0 {
		msg := map[string]any{"role": role}
		if len(textParts) > 0 {
			text := ""
			for i, p := range textParts {
				if i > 0 {
					text += "\n"
				}
				text += p
			}
			msg["content"] = text
		} else {
			msg["content"] = nil
		}
		if len(toolCalls) > 0 {
			msg["tool_calls"] = toolCalls
		}
		out = append(out, msg)
	}
	out = append(out, toolResults...)
	return out
}

func openaiToolChoiceFromInternal(tc *ToolChoice) any {
	switch tc.Type {
	case ToolChoiceNone:
		return "none"
	case ToolChoiceRequired:
		return "required"
	case ToolChoiceTool:
		return map[string]any{"type": "function", "function": map[string]any{"name": tc.ToolName}}
	default:
		return "auto"
	}
}

func (openaiChatNormalizer) ResponseToInternal(body map[string]any) (*InternalResponse, error) {
	resp := &InternalResponse{}
	resp.ID, _ = getString(body, "id")
	resp.Model, _ = getString(body, "model")
	if choices, ok := getSlice(body, "choices"); ok && len(choices) > 0 {
		choice, _ := choices[0].(map[string]any)
		if fr, ok := getString(choice, "finish_reason"); ok {
			resp.StopReason = openaiFinishReasonToInternal(fr)
		}
		if msg, ok := getMap(choice, "message"); ok {
			resp.Content = openaiMessageToInternal(msg).Content
		}
	}
	if usage, ok := getMap(body, "usage"); ok {
		resp.Usage = openaiUsageToInternal(usage)
	}
	return resp, nil
}

func openaiFinishReasonToInternal(fr string) StopReason {
	switch fr {
	case "stop":
		return StopEndTurn
	case "length":
		return StopMaxTokens
	case "tool_calls", "function_call":
		return StopToolUse
	case "content_filter":
		return StopContentFiltered
	default:
		return StopUnknown
	}
}

func openaiFinishReasonFromInternal(sr StopReason) string {
	switch sr {
	case StopEndTurn:
		return "stop"
	case StopMaxTokens:
		return "length"
	case StopToolUse:
		return "tool_calls"
	case StopContentFiltered:
		return "content_filter"
	default:
		return "stop"
	}
}

func openaiUsageToInternal(u map[string]any) UsageInfo {
	in, _ := getInt(u, "prompt_tokens")
	out, _ := getInt(u, "completion_tokens")
	total, _ := getInt(u, "total_tokens")
	cacheRead := 0
	if details, ok := getMap(u, "prompt_tokens_details"); ok {
		cacheRead, _ = getInt(details, "cached_tokens")
	}
	if total == 0 {
		total = in + out
	}
	return UsageInfo{InputTokens: in, OutputTokens: out, TotalTokens: total, CacheReadTokens: cacheRead}
}

func (openaiChatNormalizer) ResponseFromInternal(resp *InternalResponse) (map[string]any, error) {
	msg := openaiMessageFromInternal(InternalMessage{Role: RoleAssistant, Content: resp.Content})
	var assistantMsg any = map[string]any{"role": "assistant", "content": nil}
	if len(msg) > 0 {
		assistantMsg = msg[0]
	}
	return map[string]any{
		"id":      resp.ID,
		"object":  "chat.completion",
		"model":   resp.Model,
		"choices": []any{map[string]any{"index": 0, "message": assistantMsg, "finish_reason": openaiFinishReasonFromInternal(resp.StopReason)}},
		"usage": map[string]any{
			"prompt_tokens":     resp.Usage.InputTokens,
			"completion_tokens": resp.Usage.OutputTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	}, nil
}

func (openaiChatNormalizer) StreamEventToInternal(state *StreamState, eventName string, data map[string]any) ([]StreamEvent, error) {
	sub := state.Substate(FormatOpenAI)

	id, _ := getString(data, "id")
	model, _ := getString(data, "model")
	if id != "" {
		state.MessageID = id
	}
	if model != "" {
		state.Model = model
	}

	var events []StreamEvent
	if !getBoolDefault(sub, "started") {
		sub["started"] = true
		events = append(events, StreamEvent{Type: EventMessageStart, ID: state.MessageID, Model: state.Model})
	}

	choices, _ := getSlice(data, "choices")
	if len(choices) > 0 {
		choice, _ := choices[0].(map[string]any)
		delta, _ := getMap(choice, "delta")
		if text, ok := getString(delta, "content"); ok && text != "" {
			events = append(events, StreamEvent{Type: EventContentDelta, Index: 0, TextDelta: text})
		}
		if calls, ok := getSlice(delta, "tool_calls"); ok {
			for _, raw := range calls {
				c, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				idx, _ := getInt(c, "index")
				fn, _ := getMap(c, "function")
				argsFrag, _ := getString(fn, "arguments")
				name, _ := getString(fn, "name")
				callID, _ := getString(c, "id")
				events = append(events, StreamEvent{Type: EventToolCallDelta, Index: idx + 1, ToolCallID: callID, ToolCallName: name, ToolInputJSON: argsFrag})
			}
		}
		if fr, ok := getString(choice, "finish_reason"); ok && fr != "" {
			state.StopReason = openaiFinishReasonToInternal(fr)
		}
	}

	if usage, ok := getMap(data, "usage"); ok {
		state.Usage.Add(openaiUsageToInternal(usage))
	}

	return events, nil
}

func getBoolDefault(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func (openaiChatNormalizer) StreamEventFromInternal(state *StreamState, event StreamEvent) (string, map[string]any, error) {
	base := map[string]any{
		"id": state.MessageID, "object": "chat.completion.chunk", "model": state.Model,
	}
	switch event.Type {
	case EventMessageStart:
		base["choices"] = []any{map[string]any{"index": 0, "delta": map[string]any{"role": "assistant"}, "finish_reason": nil}}
		return "", base, nil
	case EventContentDelta:
		base["choices"] = []any{map[string]any{"index": 0, "delta": map[string]any{"content": event.TextDelta}, "finish_reason": nil}}
		return "", base, nil
	case EventToolCallDelta:
		base["choices"] = []any{map[string]any{
			"index": 0,
			"delta": map[string]any{"tool_calls": []any{map[string]any{
				"index": event.Index - 1, "id": event.ToolCallID,
				"function": map[string]any{"name": event.ToolCallName, "arguments": event.ToolInputJSON},
			}}},
			"finish_reason": nil,
		}}
		return "", base, nil
	case EventMessageDelta, EventMessageStop:
		base["choices"] = []any{map[string]any{"index": 0, "delta": map[string]any{}, "finish_reason": openaiFinishReasonFromInternal(event.StopReason)}}
		return "", base, nil
	default:
		return "", nil, nil
	}
}

func (openaiChatNormalizer) ErrorToInternal(statusCode int, body map[string]any) *InternalError {
	errBody, _ := getMap(body, "error")
	if errBody == nil {
		errBody = body
	}
	t, _ := getString(errBody, "type")
	code, _ := getString(errBody, "code")
	msg, _ := getString(errBody, "message")
	param, _ := getString(errBody, "param")
	ie := &InternalError{Type: openaiErrorTypeToInternal(statusCode, t, code), Message: msg, Code: code, Param: param}
	ie.Retryable = ie.Type == ErrRateLimit || ie.Type == ErrOverloaded || ie.Type == ErrServerError
	return ie
}

func openaiErrorTypeToInternal(statusCode int, t, code string) ErrorType {
	switch statusCode {
	case 401:
		return ErrAuthentication
	case 403:
		return ErrPermissionDenied
	case 404:
		return ErrNotFound
	case 429:
		return ErrRateLimit
	case 503:
		return ErrOverloaded
	}
	switch code {
	case "context_length_exceeded":
		return ErrContextLengthExceeded
	}
	switch t {
	case "invalid_request_error":
		return ErrInvalidRequest
	case "server_error":
		return ErrServerError
	}
	if statusCode >= 500 {
		return ErrServerError
	}
	return ErrUnknown
}

func (openaiChatNormalizer) ErrorFromInternal(err *InternalError) map[string]any {
	t := "invalid_request_error"
	switch err.Type {
	case ErrAuthentication:
		t = "authentication_error"
	case ErrPermissionDenied:
		t = "permission_error"
	case ErrNotFound:
		t = "not_found_error"
	case ErrRateLimit:
		t = "rate_limit_error"
	case ErrOverloaded, ErrServerError:
		t = "server_error"
	}
	return map[string]any{"error": map[string]any{"type": t, "message": err.Message, "code": err.Code, "param": err.Param}}
}
