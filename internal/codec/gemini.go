package codec

func init() {
	Register(geminiNormalizer{})
}

// geminiNormalizer implements the Gemini generateContent wire shape:
// contents[].parts[] with inlineData/fileData for images and
// functionCall/functionResponse parts for tool calling (no separate "tool"
// role — a function response is just a "user"-role content entry carrying
// a functionResponse part), plus a top-level systemInstruction and
// generationConfig block. Field names mirror the shapes the teacher's
// internal/providers/gemini package already builds against the official
// genai SDK.
type geminiNormalizer struct{}

func (geminiNormalizer) Format() ApiFormat { return FormatGemini }

func (geminiNormalizer) RequestToInternal(body map[string]any) (*InternalRequest, error) {
	req := &InternalRequest{}
	req.Model, _ = getString(body, "model")

	if gc, ok := getMap(body, "generationConfig"); ok {
		if mt, ok := getInt(gc, "maxOutputTokens"); ok {
			req.MaxTokens = &mt
		}
		if t, ok := getFloat(gc, "temperature"); ok {
			req.Temperature = &t
		}
		if tp, ok := getFloat(gc, "topP"); ok {
			req.TopP = &tp
		}
		if tk, ok := getInt(gc, "topK"); ok {
			req.TopK = &tk
		}
		if seqs, ok := getSlice(gc, "stopSequences"); ok {
			for _, s := range seqs {
				if str, ok := s.(string); ok {
					req.StopSequences = append(req.StopSequences, str)
				}
			}
		}
	}

	if si, ok := getMap(body, "systemInstruction"); ok {
		text := geminiFlattenParts(si)
		if text != "" {
			req.System = text
			req.Instructions = append(req.Instructions, InstructionSegment{Role: RoleSystem, Text: text})
		}
	}

	if contents, ok := getSlice(body, "contents"); ok {
		for _, raw := range contents {
			c, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			req.Messages = append(req.Messages, geminiContentToInternal(c))
		}
	}

	if tools, ok := getSlice(body, "tools"); ok {
		for _, raw := range tools {
			t, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			decls, _ := getSlice(t, "functionDeclarations")
			for _, dRaw := range decls {
				d, ok := dRaw.(map[string]any)
				if !ok {
					continue
				}
				name, _ := getString(d, "name")
				desc, _ := getString(d, "description")
				params, _ := getMap(d, "parameters")
				req.Tools = append(req.Tools, ToolDefinition{Name: name, Description: desc, Parameters: params})
			}
		}
	}
	if tc, ok := getMap(body, "toolConfig"); ok {
		if fcc, ok := getMap(tc, "functionCallingConfig"); ok {
			req.ToolChoice = geminiToolChoiceToInternal(fcc)
		}
	}

	return req, nil
}

func geminiFlattenParts(m map[string]any) string {
	parts, ok := getSlice(m, "parts")
	if !ok {
		return ""
	}
	out := ""
	for _, raw := range parts {
		p, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := getString(p, "text"); ok {
			if out != "" {
				out += "\n"
			}
			out += text
		}
	}
	return out
}

func geminiContentToInternal(c map[string]any) InternalMessage {
	role, _ := getString(c, "role")
	msg := InternalMessage{Role: geminiRoleToInternal(role)}
	if parts, ok := getSlice(c, "parts"); ok {
		for _, raw := range parts {
			p, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			msg.Content = append(msg.Content, geminiPartToInternal(p))
		}
	}
	return msg
}

func geminiRoleToInternal(role string) Role {
	switch role {
	case "user":
		return RoleUser
	case "model":
		return RoleAssistant
	default:
		return RoleUnknown
	}
}

func geminiPartToInternal(p map[string]any) ContentBlock {
	if text, ok := getString(p, "text"); ok {
		return TextContentBlock(text)
	}
	if inline, ok := getMap(p, "inlineData"); ok {
		data, _ := getString(inline, "data")
		mime, _ := getString(inline, "mimeType")
		return ContentBlock{Type: ContentImage, ImageData: data, ImageMediaType: mime}
	}
	if file, ok := getMap(p, "fileData"); ok {
		uri, _ := getString(file, "fileUri")
		return ContentBlock{Type: ContentImage, ImageURL: uri}
	}
	if fc, ok := getMap(p, "functionCall"); ok {
		name, _ := getString(fc, "name")
		args, _ := getMap(fc, "args")
		return ContentBlock{Type: ContentToolUse, ToolName: name, ToolInput: args}
	}
	if fr, ok := getMap(p, "functionResponse"); ok {
		name, _ := getString(fr, "name")
		resp, _ := getMap(fr, "response")
		return ContentBlock{Type: ContentToolResult, ToolUseID: name, Output: resp}
	}
	return ContentBlock{Type: ContentUnknown, Payload: p}
}

func geminiToolChoiceToInternal(fcc map[string]any) *ToolChoice {
	mode, _ := getString(fcc, "mode")
	switch mode {
	case "NONE":
		return &ToolChoice{Type: ToolChoiceNone}
	case "ANY":
		if names, ok := getSlice(fcc, "allowedFunctionNames"); ok && len(names) == 1 {
			if name, ok := names[0].(string); ok {
				return &ToolChoice{Type: ToolChoiceTool, ToolName: name}
			}
		}
		return &ToolChoice{Type: ToolChoiceRequired}
	default:
		return &ToolChoice{Type: ToolChoiceAuto}
	}
}

func (geminiNormalizer) RequestFromInternal(req *InternalRequest) (map[string]any, error) {
	body := map[string]any{}
	gc := map[string]any{}
	if req.MaxTokens != nil {
		gc["maxOutputTokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		gc["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		gc["topP"] = *req.TopP
	}
	if req.TopK != nil {
		gc["topK"] = *req.TopK
	}
	if len(req.StopSequences) > 0 {
		gc["stopSequences"] = req.StopSequences
	}
	if len(gc) > 0 {
		body["generationConfig"] = gc
	}

	if req.System != "" {
		body["systemInstruction"] = map[string]any{"parts": []any{map[string]any{"text": req.System}}}
	}

	contents := make([]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleSystem || m.Role == RoleDeveloper {
			continue
		}
		contents = append(contents, geminiContentFromInternal(m))
	}
	body["contents"] = contents

	if len(req.Tools) > 0 {
		decls := make([]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, map[string]any{"name": t.Name, "description": t.Description, "parameters": t.Parameters})
		}
		body["tools"] = []any{map[string]any{"functionDeclarations": decls}}
	}
	if req.ToolChoice != nil {
		body["toolConfig"] = map[string]any{"functionCallingConfig": geminiToolChoiceFromInternal(req.ToolChoice)}
	}
	return body, nil
}

func geminiContentFromInternal(m InternalMessage) map[string]any {
	role := "user"
	if m.Role == RoleAssistant {
		role = "model"
	}
	parts := make([]any, 0, len(m.Content))
	for _, b := range m.Content {
		parts = append(parts, geminiPartFromInternal(b))
	}
	return map[string]any{"role": role, "parts": parts}
}

func geminiPartFromInternal(b ContentBlock) map[string]any {
	switch b.Type {
	case ContentText:
		return map[string]any{"text": b.Text}
	case ContentImage:
		if b.ImageURL != "" {
			return map[string]any{"fileData": map[string]any{"fileUri": b.ImageURL}}
		}
		return map[string]any{"inlineData": map[string]any{"mimeType": b.ImageMediaType, "data": b.ImageData}}
	case ContentToolUse:
		return map[string]any{"functionCall": map[string]any{"name": b.ToolName, "args": b.ToolInput}}
	case ContentToolResult:
		resp, ok := b.Output.(map[string]any)
		if !ok {
			resp = map[string]any{"result": b.ContentText}
		}
		return map[string]any{"functionResponse": map[string]any{"name": b.ToolUseID, "response": resp}}
	default:
		return b.Payload
	}
}

func geminiToolChoiceFromInternal(tc *ToolChoice) map[string]any {
	switch tc.Type {
	case ToolChoiceNone:
		return map[string]any{"mode": "NONE"}
	case ToolChoiceRequired:
		return map[string]any{"mode": "ANY"}
	case ToolChoiceTool:
		return map[string]any{"mode": "ANY", "allowedFunctionNames": []any{tc.ToolName}}
	default:
		return map[string]any{"mode": "AUTO"}
	}
}

func (geminiNormalizer) ResponseToInternal(body map[string]any) (*InternalResponse, error) {
	resp := &InternalResponse{}
	resp.Model, _ = getString(body, "modelVersion")
	resp.ID, _ = getString(body, "responseId")
	if candidates, ok := getSlice(body, "candidates"); ok && len(candidates) > 0 {
		cand, _ := candidates[0].(map[string]any)
		if fr, ok := getString(cand, "finishReason"); ok {
			resp.StopReason = geminiFinishReasonToInternal(fr)
		}
		if content, ok := getMap(cand, "content"); ok {
			resp.Content = geminiContentToInternal(content).Content
		}
	}
	if usage, ok := getMap(body, "usageMetadata"); ok {
		in, _ := getInt(usage, "promptTokenCount")
		out, _ := getInt(usage, "candidatesTokenCount")
		total, _ := getInt(usage, "totalTokenCount")
		cacheRead, _ := getInt(usage, "cachedContentTokenCount")
		if total == 0 {
			total = in + out
		}
		resp.Usage = UsageInfo{InputTokens: in, OutputTokens: out, TotalTokens: total, CacheReadTokens: cacheRead}
	}
	return resp, nil
}

func geminiFinishReasonToInternal(fr string) StopReason {
	switch fr {
	case "STOP":
		return StopEndTurn
	case "MAX_TOKENS":
		return StopMaxTokens
	case "SAFETY", "BLOCKLIST", "PROHIBITED_CONTENT":
		return StopContentFiltered
	default:
		return StopUnknown
	}
}

func geminiFinishReasonFromInternal(sr StopReason) string {
	switch sr {
	case StopEndTurn:
		return "STOP"
	case StopMaxTokens:
		return "MAX_TOKENS"
	case StopContentFiltered:
		return "SAFETY"
	case StopToolUse:
		return "STOP"
	default:
		return "STOP"
	}
}

func (geminiNormalizer) ResponseFromInternal(resp *InternalResponse) (map[string]any, error) {
	content := geminiContentFromInternal(InternalMessage{Role: RoleAssistant, Content: resp.Content})
	return map[string]any{
		"responseId":   resp.ID,
		"modelVersion": resp.Model,
		"candidates": []any{map[string]any{
			"content": content, "finishReason": geminiFinishReasonFromInternal(resp.StopReason), "index": 0,
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount": resp.Usage.InputTokens, "candidatesTokenCount": resp.Usage.OutputTokens,
			"totalTokenCount": resp.Usage.TotalTokens, "cachedContentTokenCount": resp.Usage.CacheReadTokens,
		},
	}, nil
}

// Gemini's SSE stream is a sequence of complete JSON-encoded response
// objects (one per chunk), not a delta-only event grammar — each chunk
// looks like a full ResponseToInternal body restricted to what changed.
// There is no named SSE event field, so eventName is ignored and the
// canonical event set is synthesized from whatever the chunk carries.
func (g geminiNormalizer) StreamEventToInternal(state *StreamState, eventName string, data map[string]any) ([]StreamEvent, error) {
	sub := state.Substate(FormatGemini)
	var events []StreamEvent

	if !getBoolDefault(sub, "started") {
		sub["started"] = true
		if model, ok := getString(data, "modelVersion"); ok {
			state.Model = model
		}
		events = append(events, StreamEvent{Type: EventMessageStart, ID: state.MessageID, Model: state.Model})
	}

	terminal := false
	if candidates, ok := getSlice(data, "candidates"); ok && len(candidates) > 0 {
		cand, _ := candidates[0].(map[string]any)
		if content, ok := getMap(cand, "content"); ok {
			msg := geminiContentToInternal(content)
			for i, blk := range msg.Content {
				switch blk.Type {
				case ContentText:
					events = append(events, StreamEvent{Type: EventContentDelta, Index: i, TextDelta: blk.Text})
				case ContentToolUse:
					events = append(events, StreamEvent{Type: EventContentStart, Index: i, Block: blk})
				}
			}
		}
		if fr, ok := getString(cand, "finishReason"); ok && fr != "" {
			state.StopReason = geminiFinishReasonToInternal(fr)
			terminal = true
		}
	}

	if usage, ok := getMap(data, "usageMetadata"); ok {
		in, _ := getInt(usage, "promptTokenCount")
		out, _ := getInt(usage, "candidatesTokenCount")
		state.Usage.Add(UsageInfo{InputTokens: in, OutputTokens: out})
	}

	if terminal {
		events = append(events, StreamEvent{Type: EventMessageStop, StopReason: state.StopReason, Usage: state.Usage})
	}
	return events, nil
}

func (geminiNormalizer) StreamEventFromInternal(state *StreamState, event StreamEvent) (string, map[string]any, error) {
	switch event.Type {
	case EventContentDelta:
		return "", map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": event.TextDelta}}},
				"index":   0,
			}},
		}, nil
	case EventMessageStop:
		return "", map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"role": "model", "parts": []any{}},
				"finishReason": geminiFinishReasonFromInternal(event.StopReason), "index": 0,
			}},
			"usageMetadata": map[string]any{
				"promptTokenCount": event.Usage.InputTokens, "candidatesTokenCount": event.Usage.OutputTokens,
			},
		}, nil
	default:
		return "", nil, nil
	}
}

func (geminiNormalizer) ErrorToInternal(statusCode int, body map[string]any) *InternalError {
	errBody, ok := getMap(body, "error")
	if !ok {
		errBody = body
	}
	code, _ := getInt(errBody, "code")
	status, _ := getString(errBody, "status")
	msg, _ := getString(errBody, "message")
	ie := &InternalError{Type: geminiErrorTypeToInternal(code, status), Message: msg, Code: status}
	ie.Retryable = ie.Type == ErrRateLimit || ie.Type == ErrOverloaded || ie.Type == ErrServerError
	return ie
}

func geminiErrorTypeToInternal(code int, status string) ErrorType {
	switch status {
	case "INVALID_ARGUMENT":
		return ErrInvalidRequest
	case "UNAUTHENTICATED":
		return ErrAuthentication
	case "PERMISSION_DENIED":
		return ErrPermissionDenied
	case "NOT_FOUND":
		return ErrNotFound
	case "RESOURCE_EXHAUSTED":
		return ErrRateLimit
	case "UNAVAILABLE":
		return ErrOverloaded
	case "INTERNAL":
		return ErrServerError
	}
	switch {
	case code == 429:
		return ErrRateLimit
	case code == 503:
		return ErrOverloaded
	case code >= 500:
		return ErrServerError
	}
	return ErrUnknown
}

func (geminiNormalizer) ErrorFromInternal(err *InternalError) map[string]any {
	status := "INTERNAL"
	switch err.Type {
	case ErrInvalidRequest:
		status = "INVALID_ARGUMENT"
	case ErrAuthentication:
		status = "UNAUTHENTICATED"
	case ErrPermissionDenied:
		status = "PERMISSION_DENIED"
	case ErrNotFound:
		status = "NOT_FOUND"
	case ErrRateLimit:
		status = "RESOURCE_EXHAUSTED"
	case ErrOverloaded:
		status = "UNAVAILABLE"
	}
	return map[string]any{"error": map[string]any{"status": status, "message": err.Message}}
}
