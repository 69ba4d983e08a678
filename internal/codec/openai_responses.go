package codec

import "encoding/json"

func init() {
	Register(openaiResponsesNormalizer{})
}

// openaiResponsesNormalizer implements OpenAI's Responses API (/v1/responses),
// the dialect behind FormatOpenAICLI. Unlike Chat Completions it uses a flat
// input[] array of typed items (message / function_call / function_call_output)
// instead of messages[] with inline tool_calls, and a single instructions
// string instead of a system message — distinct enough from Chat Completions
// that DESIGN.md gives OPENAI_CLI its own data format ID rather than sharing
// OpenAI's. Tool definitions are flattened (name/parameters at the top level
// of each tools[] entry, no nested "function" wrapper); the codec's canonical
// ToolDefinition round-trips that shape. DefaultCapabilities reports
// SupportsTools=false for this dialect, and the candidate builder does not
// read that value.
type openaiResponsesNormalizer struct{}

func (openaiResponsesNormalizer) Format() ApiFormat { return FormatOpenAICLI }

func (openaiResponsesNormalizer) RequestToInternal(body map[string]any) (*InternalRequest, error) {
	req := &InternalRequest{}
	req.Model, _ = getString(body, "model")
	req.Stream, _ = getBool(body, "stream")
	if mt, ok := getInt(body, "max_output_tokens"); ok {
		req.MaxTokens = &mt
	}
	if t, ok := getFloat(body, "temperature"); ok {
		req.Temperature = &t
	}
	if tp, ok := getFloat(body, "top_p"); ok {
		req.TopP = &tp
	}

	if instr, ok := getString(body, "instructions"); ok && instr != "" {
		req.System = instr
		req.Instructions = append(req.Instructions, InstructionSegment{Role: RoleSystem, Text: instr})
	}

	switch input := body["input"].(type) {
	case string:
		req.Messages = []InternalMessage{{Role: RoleUser, Content: []ContentBlock{TextContentBlock(input)}}}
	case []any:
		for _, raw := range input {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if msg, ok := responsesItemToMessage(item); ok {
				req.Messages = append(req.Messages, msg)
			}
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
			params, _ := getMap(t, "parameters")
			req.Tools = append(req.Tools, ToolDefinition{Name: name, Description: desc, Parameters: params})
		}
	}
	if tc, ok := body["tool_choice"]; ok {
		req.ToolChoice = openaiToolChoiceToInternal(tc)
	}

	return req, nil
}

func responsesItemToMessage(item map[string]any) (InternalMessage, bool) {
	t, _ := getString(item, "type")
	switch t {
	case "message", "":
		role, _ := getString(item, "role")
		msg := InternalMessage{Role: openaiRoleToInternal(role)}
		switch content := item["content"].(type) {
		case string:
			msg.Content = []ContentBlock{TextContentBlock(content)}
		case []any:
			for _, raw := range content {
				part, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				msg.Content = append(msg.Content, responsesPartToInternal(part))
			}
		}
		return msg, true
	case "function_call":
		name, _ := getString(item, "name")
		callID, _ := getString(item, "call_id")
		argsStr, _ := getString(item, "arguments")
		var input map[string]any
		_ = json.Unmarshal([]byte(argsStr), &input)
		return InternalMessage{
			Role:    RoleAssistant,
			Content: []ContentBlock{{Type: ContentToolUse, ToolID: callID, ToolName: name, ToolInput: input}},
		}, true
	case "function_call_output":
		callID, _ := getString(item, "call_id")
		output, _ := getString(item, "output")
		return InternalMessage{
			Role:    RoleTool,
			Content: []ContentBlock{{Type: ContentToolResult, ToolUseID: callID, ContentText: output}},
		}, true
	default:
		return InternalMessage{}, false
	}
}

func responsesPartToInternal(part map[string]any) ContentBlock {
	t, _ := getString(part, "type")
	switch t {
	case "input_text", "output_text":
		text, _ := getString(part, "text")
		return TextContentBlock(text)
	case "input_image":
		url, _ := getString(part, "image_url")
		return ContentBlock{Type: ContentImage, ImageURL: url}
	default:
		return ContentBlock{Type: ContentUnknown, RawType: t, Payload: part}
	}
}

func (openaiResponsesNormalizer) RequestFromInternal(req *InternalRequest) (map[string]any, error) {
	body := map[string]any{"model": req.Model, "stream": req.Stream}
	if req.MaxTokens != nil {
		body["max_output_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.System != "" {
		body["instructions"] = req.System
	}

	input := make([]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		input = append(input, messageToResponsesItems(m)...)
	}
	body["input"] = input

	if len(req.Tools) > 0 {
		tools := make([]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{"type": "function", "name": t.Name, "description": t.Description, "parameters": t.Parameters})
		}
		body["tools"] = tools
	}
	if req.ToolChoice != nil {
		body["tool_choice"] = openaiToolChoiceFromInternal(req.ToolChoice)
	}
	return body, nil
}

func messageToResponsesItems(m InternalMessage) []any {
	var out []any
	var textParts []any
	for _, b := range m.Content {
		switch b.Type {
		case ContentText:
			kind := "input_text"
			if m.Role == RoleAssistant {
				kind = "output_text"
			}
			textParts = append(textParts, map[string]any{"type": kind, "text": b.Text})
		case ContentImage:
			textParts = append(textParts, map[string]any{"type": "input_image", "image_url": b.ImageURL})
		case ContentToolUse:
			args, _ := json.Marshal(b.ToolInput)
			out = append(out, map[string]any{"type": "function_call", "call_id": b.ToolID, "name": b.ToolName, "arguments": string(args)})
		case ContentToolResult:
			out = append(out, map[string]any{"type": "function_call_output", "call_id": b.ToolUseID, "output": b.ContentText})
		}
	}
	if len(textParts) > 0 {
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		out = append([]any{map[string]any{"type": "message", "role": role, "content": textParts}}, out...)
	}
	return out
}

func (openaiResponsesNormalizer) ResponseToInternal(body map[string]any) (*InternalResponse, error) {
	resp := &InternalResponse{}
	resp.ID, _ = getString(body, "id")
	resp.Model, _ = getString(body, "model")
	if status, ok := getString(body, "status"); ok {
		resp.StopReason = responsesStatusToInternal(status)
	}
	if output, ok := getSlice(body, "output"); ok {
		for _, raw := range output {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if msg, ok := responsesItemToMessage(item); ok {
				resp.Content = append(resp.Content, msg.Content...)
			}
		}
	}
	if usage, ok := getMap(body, "usage"); ok {
		in, _ := getInt(usage, "input_tokens")
		out, _ := getInt(usage, "output_tokens")
		total, _ := getInt(usage, "total_tokens")
		if total == 0 {
			total = in + out
		}
		resp.Usage = UsageInfo{InputTokens: in, OutputTokens: out, TotalTokens: total}
	}
	return resp, nil
}

func responsesStatusToInternal(status string) StopReason {
	switch status {
	case "completed":
		return StopEndTurn
	case "incomplete":
		return StopMaxTokens
	case "failed":
		return StopUnknown
	default:
		return StopUnknown
	}
}

func (openaiResponsesNormalizer) ResponseFromInternal(resp *InternalResponse) (map[string]any, error) {
	items := messageToResponsesItems(InternalMessage{Role: RoleAssistant, Content: resp.Content})
	status := "completed"
	if resp.StopReason == StopMaxTokens {
		status = "incomplete"
	}
	return map[string]any{
		"id":     resp.ID,
		"object": "response",
		"model":  resp.Model,
		"status": status,
		"output": items,
		"usage": map[string]any{
			"input_tokens": resp.Usage.InputTokens, "output_tokens": resp.Usage.OutputTokens,
			"total_tokens": resp.Usage.TotalTokens,
		},
	}, nil
}

func (openaiResponsesNormalizer) StreamEventToInternal(state *StreamState, eventName string, data map[string]any) ([]StreamEvent, error) {
	switch eventName {
	case "response.created", "response.in_progress":
		resp, _ := getMap(data, "response")
		id, _ := getString(resp, "id")
		model, _ := getString(resp, "model")
		if id != "" {
			state.MessageID = id
		}
		if model != "" {
			state.Model = model
		}
		return []StreamEvent{{Type: EventMessageStart, ID: state.MessageID, Model: state.Model}}, nil
	case "response.output_text.delta":
		delta, _ := getString(data, "delta")
		return []StreamEvent{{Type: EventContentDelta, Index: 0, TextDelta: delta}}, nil
	case "response.function_call_arguments.delta":
		delta, _ := getString(data, "delta")
		return []StreamEvent{{Type: EventToolCallDelta, ToolInputJSON: delta}}, nil
	case "response.completed":
		resp, _ := getMap(data, "response")
		if usage, ok := getMap(resp, "usage"); ok {
			in, _ := getInt(usage, "input_tokens")
			out, _ := getInt(usage, "output_tokens")
			state.Usage.Add(UsageInfo{InputTokens: in, OutputTokens: out})
		}
		state.StopReason = StopEndTurn
		return []StreamEvent{{Type: EventMessageStop, StopReason: StopEndTurn, Usage: state.Usage}}, nil
	case "error":
		return []StreamEvent{{Type: EventError, Err: openaiResponsesNormalizer{}.ErrorToInternal(0, data)}}, nil
	default:
		return []StreamEvent{{Type: EventUnknown, RawType: eventName, Raw: data}}, nil
	}
}

func (openaiResponsesNormalizer) StreamEventFromInternal(state *StreamState, event StreamEvent) (string, map[string]any, error) {
	switch event.Type {
	case EventMessageStart:
		return "response.created", map[string]any{
			"type":     "response.created",
			"response": map[string]any{"id": state.MessageID, "model": state.Model, "status": "in_progress"},
		}, nil
	case EventContentDelta:
		return "response.output_text.delta", map[string]any{"type": "response.output_text.delta", "delta": event.TextDelta}, nil
	case EventToolCallDelta:
		return "response.function_call_arguments.delta", map[string]any{"type": "response.function_call_arguments.delta", "delta": event.ToolInputJSON}, nil
	case EventMessageStop:
		return "response.completed", map[string]any{
			"type": "response.completed",
			"response": map[string]any{
				"id": state.MessageID, "model": state.Model, "status": "completed",
				"usage": map[string]any{"input_tokens": event.Usage.InputTokens, "output_tokens": event.Usage.OutputTokens},
			},
		}, nil
	default:
		return "", nil, nil
	}
}

func (openaiResponsesNormalizer) ErrorToInternal(statusCode int, body map[string]any) *InternalError {
	return openaiChatNormalizer{}.ErrorToInternal(statusCode, body)
}

func (openaiResponsesNormalizer) ErrorFromInternal(err *InternalError) map[string]any {
	return map[string]any{"type": "error", "message": err.Message, "code": err.Code}
}
