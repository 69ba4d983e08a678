// Package stream implements the stream processor (C6): it decodes an
// upstream SSE body incrementally, converts each event from the endpoint's
// dialect to the client's dialect via internal/codec, and forwards the
// re-encoded bytes — prefetching up to five events so an error embedded in
// the stream can still fail the candidate over before anything reaches the
// client.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nulpointcorp/hub-gateway/internal/codec"
)

// Sink is what the processor forwards converted bytes to. Connected is
// polled on a fixed cadence to detect a client disconnect mid-stream.
type Sink interface {
	Write(p []byte) (int, error)
	Flush() error
	Connected() bool
}

// Result summarizes a finished stream for the usage recorder and access log.
type Result struct {
	Usage          codec.UsageInfo
	StopReason     codec.StopReason
	TTFB           time.Duration
	Disconnected   bool
	BytesForwarded int64
	EventCount     int
}

// EmbeddedError is returned when an error event surfaces during the
// prefetch window, before any byte has reached the client — the orchestrator
// treats this exactly like a synchronous upstream failure and may retry the
// next candidate.
type EmbeddedError struct {
	Err *codec.InternalError
}

func (e *EmbeddedError) Error() string { return e.Err.Error() }

// prefetchLimit bounds how many events the processor will buffer looking
// for an embedded error before committing to forward the stream (§4.6).
const prefetchLimit = 5

// disconnectPoll is the cadence at which Sink.Connected is checked while
// waiting on the next chunk from upstream (§4.6).
const disconnectPoll = 250 * time.Millisecond

// doneMarker is the OpenAI-style SSE termination sentinel.
const doneMarker = "[DONE]"

// Processor runs one stream's conversion, from upstream to a specific
// client Sink.
type Processor struct {
	sourceFormat codec.ApiFormat
	targetFormat codec.ApiFormat
	state        *codec.StreamState
}

// New constructs a Processor converting from source to target. Pass the
// same format for both on a passthrough candidate — the stream is still
// parsed and re-serialized so the embedded-error prefetch applies uniformly.
func New(source, target codec.ApiFormat, state *codec.StreamState) *Processor {
	if state == nil {
		state = codec.NewStreamState()
	}
	return &Processor{sourceFormat: source, targetFormat: target, state: state}
}

// Process reads r until EOF (or disconnect/error), forwarding converted SSE
// to sink. start is when the upstream call was issued, used to compute TTFB.
func (p *Processor) Process(r *bufio.Reader, sink Sink, start time.Time) (Result, error) {
	srcNorm, err := codec.Lookup(p.sourceFormat)
	if err != nil {
		return Result{}, err
	}
	dstNorm, err := codec.Lookup(p.targetFormat)
	if err != nil {
		return Result{}, err
	}

	scanner := newSSEScanner(r)
	doneTerminated := codec.Props(p.sourceFormat).DoneTerminated

	var (
		result    Result
		ttfbSet   bool
		forwarded int
		buffered  [][]byte // encoded bytes held during the prefetch window
	)

	flushBuffered := func() error {
		for _, b := range buffered {
			if _, err := sink.Write(b); err != nil {
				return err
			}
			result.BytesForwarded += int64(len(b))
		}
		buffered = nil
		return sink.Flush()
	}

	for {
		raw, err := scanner.next(disconnectPoll, sink)
		if errors.Is(err, errDisconnected) {
			result.Disconnected = true
			return result, nil
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, err
		}
		if raw == nil {
			continue // keepalive / blank-only frame
		}

		if !ttfbSet {
			result.TTFB = time.Since(start)
			ttfbSet = true
		}

		if doneTerminated && strings.TrimSpace(raw.data) == doneMarker {
			break
		}

		var payload map[string]any
		if raw.data != "" {
			if jerr := json.Unmarshal([]byte(raw.data), &payload); jerr != nil {
				continue // malformed frame from upstream; skip rather than abort the stream
			}
		}

		events, cerr := srcNorm.StreamEventToInternal(p.state, raw.event, payload)
		if cerr != nil {
			return result, fmt.Errorf("stream: decode event: %w", cerr)
		}

		for _, ev := range events {
			result.EventCount++
			if ev.Type == codec.EventError && forwarded == 0 && len(buffered) < prefetchLimit {
				return result, &EmbeddedError{Err: ev.Err}
			}

			name, data, ferr := dstNorm.StreamEventFromInternal(p.state, ev)
			if ferr != nil {
				return result, fmt.Errorf("stream: encode event: %w", ferr)
			}
			encoded := encodeSSE(name, data)

			if forwarded == 0 && len(buffered) < prefetchLimit {
				buffered = append(buffered, encoded)
				continue
			}
			if len(buffered) > 0 {
				if ferr := flushBuffered(); ferr != nil {
					return result, ferr
				}
			}
			if _, werr := sink.Write(encoded); werr != nil {
				return result, werr
			}
			result.BytesForwarded += int64(len(encoded))
			if ferr := sink.Flush(); ferr != nil {
				return result, ferr
			}
			forwarded++
		}

		// Prefetch window exhausted with no error seen — commit.
		if forwarded == 0 && len(buffered) >= prefetchLimit {
			committed := len(buffered)
			if ferr := flushBuffered(); ferr != nil {
				return result, ferr
			}
			forwarded = committed
		}
	}

	if len(buffered) > 0 {
		if ferr := flushBuffered(); ferr != nil {
			return result, ferr
		}
	}

	result.Usage = p.state.Usage
	result.StopReason = p.state.StopReason
	return result, nil
}

func encodeSSE(event string, data map[string]any) []byte {
	body, _ := json.Marshal(data)
	var buf bytes.Buffer
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteByte('\n')
	}
	buf.WriteString("data: ")
	buf.Write(body)
	buf.WriteString("\n\n")
	return buf.Bytes()
}

// rawEvent is one parsed SSE frame before dialect conversion.
type rawEvent struct {
	event string
	data  string
}

var errDisconnected = errors.New("stream: client disconnected")

// sseScanner incrementally decodes a byte stream into rawEvents. It holds
// back any trailing incomplete UTF-8 sequence across reads instead of
// risking a mangled rune at a chunk boundary, and polls the sink's
// connectivity on disconnectPoll cadence while waiting on upstream so a
// client hang-up is observed promptly rather than only at the next byte.
type sseScanner struct {
	r        *bufio.Reader
	pending  []byte
	lineBuf  []string
	curEvent string

	lines   chan lineRead
	once    bool
	doneErr error
}

type lineRead struct {
	line []byte
	err  error
}

func newSSEScanner(r *bufio.Reader) *sseScanner {
	return &sseScanner{r: r, lines: make(chan lineRead, 1)}
}

// startReader launches the single background goroutine that blocks on the
// network so readLine can select against a ticker instead of blocking
// itself — the only way to observe a client disconnect while the upstream
// read has not returned.
func (s *sseScanner) startReader() {
	if s.once {
		return
	}
	s.once = true
	go func() {
		for {
			line, err := s.r.ReadBytes('\n')
			s.lines <- lineRead{line: line, err: err}
			if err != nil {
				return
			}
		}
	}()
}

// next returns the next fully-assembled SSE event, or (nil, nil) for a frame
// with no data worth forwarding (e.g. a lone comment line).
func (s *sseScanner) next(pollEvery time.Duration, sink Sink) (*rawEvent, error) {
	for {
		line, err := s.readLine(pollEvery, sink)
		if err != nil {
			return nil, err
		}

		if line == "" {
			// blank line: dispatch the accumulated event, if any.
			if len(s.lineBuf) == 0 && s.curEvent == "" {
				continue
			}
			ev := &rawEvent{event: s.curEvent, data: strings.Join(s.lineBuf, "\n")}
			s.lineBuf = nil
			s.curEvent = ""
			if ev.data == "" && ev.event == "" {
				continue
			}
			return ev, nil
		}

		if strings.HasPrefix(line, ":") {
			continue // SSE comment/keepalive
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			s.curEvent = value
		case "data":
			s.lineBuf = append(s.lineBuf, value)
		}
	}
}

// readLine reads one line, holding back an incomplete trailing UTF-8
// sequence and polling sink connectivity on pollEvery cadence while the
// underlying read is still blocked on the network.
func (s *sseScanner) readLine(pollEvery time.Duration, sink Sink) (string, error) {
	s.startReader()

	for {
		if len(s.pending) == 0 && s.doneErr != nil {
			return "", s.doneErr
		}

		var lr lineRead
		ticker := time.NewTicker(pollEvery)
	waitLine:
		for {
			select {
			case lr = <-s.lines:
				break waitLine
			case <-ticker.C:
				if sink != nil && !sink.Connected() {
					ticker.Stop()
					return "", errDisconnected
				}
			}
		}
		ticker.Stop()
		line, err := lr.line, lr.err
		if err != nil {
			s.doneErr = err
		}

		if len(line) == 0 && err != nil {
			return "", err
		}

		buf := append(s.pending, line...)
		s.pending = nil

		if !bytes.HasSuffix(buf, []byte("\n")) {
			if n := incompleteSuffixLen(buf); n > 0 {
				s.pending = append(s.pending, buf[len(buf)-n:]...)
				buf = buf[:len(buf)-n]
			}
			if err != nil {
				// Final partial line at EOF — surface what we have; the next
				// call observes the stored error.
				return strings.TrimRight(string(buf), "\r\n"), nil
			}
			if len(buf) == 0 {
				continue // nothing decodable yet; wait for the next chunk
			}
		}

		if sink != nil && !sink.Connected() {
			return "", errDisconnected
		}

		if n := incompleteSuffixLen(buf); n > 0 {
			s.pending = buf[len(buf)-n:]
			buf = buf[:len(buf)-n]
		}

		return strings.TrimRight(string(buf), "\r\n"), nil
	}
}

// incompleteSuffixLen returns how many trailing bytes of buf form an
// incomplete UTF-8 sequence (0 if buf ends on a rune boundary).
func incompleteSuffixLen(buf []byte) int {
	for back := 1; back <= 4 && back <= len(buf); back++ {
		b := buf[len(buf)-back]
		if utf8.RuneStart(b) {
			if !utf8.FullRune(buf[len(buf)-back:]) {
				return back
			}
			return 0
		}
	}
	return 0
}
