package codec

import "fmt"

// Normalizer converts one dialect's wire shapes to and from the canonical
// representation. Every conversion in the gateway runs dialect→canonical or
// canonical→dialect through exactly one of these; there is no normalizer
// that talks to another normalizer directly. Implementations are registered
// under their BaseFormat — CLI variants share their base dialect's
// Normalizer and differ only in transport-level concerns (auth header,
// path) handled by internal/upstream.
type Normalizer interface {
	// Format reports the base ApiFormat this normalizer implements.
	Format() ApiFormat

	RequestToInternal(body map[string]any) (*InternalRequest, error)
	RequestFromInternal(req *InternalRequest) (map[string]any, error)

	ResponseToInternal(body map[string]any) (*InternalResponse, error)
	ResponseFromInternal(resp *InternalResponse) (map[string]any, error)

	// StreamEventToInternal parses one decoded SSE event (already split into
	// event-name/data by the transport layer) into zero or more canonical
	// events — zero when the event is a dialect-specific keepalive/ping
	// with no canonical equivalent.
	StreamEventToInternal(state *StreamState, eventName string, data map[string]any) ([]StreamEvent, error)

	// StreamEventFromInternal renders a canonical event back into this
	// dialect's wire shape, returning the event name (empty if the dialect
	// does not use named SSE events) and the JSON body to serialize.
	StreamEventFromInternal(state *StreamState, event StreamEvent) (eventName string, data map[string]any, err error)

	// ErrorToInternal classifies a raw upstream error body.
	ErrorToInternal(statusCode int, body map[string]any) *InternalError

	// ErrorFromInternal renders a canonical error back into this dialect's
	// error envelope shape.
	ErrorFromInternal(err *InternalError) map[string]any
}

var registry = map[ApiFormat]Normalizer{}

// Register installs a Normalizer under its own Format(). Called from each
// dialect file's init().
func Register(n Normalizer) {
	registry[n.Format()] = n
}

// Lookup returns the Normalizer responsible for format, resolving CLI
// variants to their base dialect.
func Lookup(format ApiFormat) (Normalizer, error) {
	n, ok := registry[BaseFormat(format)]
	if !ok {
		return nil, fmt.Errorf("codec: no normalizer registered for format %q", format)
	}
	return n, nil
}

// getString/getFloat/getInt/getBool/getMap/getSlice are small defensive
// accessors shared by the dialect normalizers when walking a decoded
// map[string]any body — upstream bodies are untrusted input and a dialect
// that omits an optional field must not panic the gateway.
func getString(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

func getFloat(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func getInt(m map[string]any, key string) (int, bool) {
	f, ok := getFloat(m, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func getBool(m map[string]any, key string) (bool, bool) {
	v, ok := m[key].(bool)
	return v, ok
}

func getMap(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key].(map[string]any)
	return v, ok
}

func getSlice(m map[string]any, key string) ([]any, bool) {
	v, ok := m[key].([]any)
	return v, ok
}
