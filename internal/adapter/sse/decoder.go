// Package sse decodes the backend's Server-Sent-Events chat stream into the
// typed event vocabulary. It is a leaf: it knows nothing about conversation
// state or the run lifecycle.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/agentwire/agentwire/internal/domain/chat"
)

// ErrDone is returned by Next once the [DONE] sentinel frame is read. It is
// a control signal, not an event, and is distinct from io.EOF (the stream
// closed without a sentinel). Callers treat both as normal termination.
var ErrDone = errors.New("sse: stream done")

const doneSentinel = "[DONE]"

// decodePrefix marks error events synthesized by the decoder itself in
// lenient mode, as opposed to in-band error events from the backend.
const decodePrefix = "stream decode: "

// IsDecodeDiagnostic reports whether ev is an error event the decoder
// synthesized for a malformed frame rather than one the backend sent.
func IsDecodeDiagnostic(ev chat.Event) bool {
	e, ok := ev.(chat.ErrorEvent)
	return ok && strings.HasPrefix(e.Message, decodePrefix)
}

// ParseError reports a frame that failed decoding or validation in strict
// mode. The caller chooses the policy: calling Next again skips the frame,
// while stopping the read loop aborts the stream.
type ParseError struct {
	Frame string
	Err   error
}

func (e *ParseError) Error() string { return fmt.Sprintf("sse: parse frame: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// Decoder reads blank-line-delimited frames from a byte stream and decodes
// them into chat events. Bytes received without a trailing delimiter are
// held in a carry-over buffer and prefixed onto the next read, so TCP/HTTP
// chunk boundaries may fall anywhere, including mid-frame.
type Decoder struct {
	r       io.Reader
	carry   []byte
	chunk   []byte
	strict  bool
	done    bool
	eof     bool
	readErr error
}

// Option configures a Decoder.
type Option func(*Decoder)

// Strict makes malformed frames surface as *ParseError from Next instead of
// degrading to in-band error events.
func Strict() Option {
	return func(d *Decoder) { d.strict = true }
}

// NewDecoder wraps r. The default mode is lenient: a malformed frame
// becomes a synthesized error event carrying the diagnostic, and the stream
// keeps flowing.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{r: r, chunk: make([]byte, 4096)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var frameSep = []byte("\n\n")

// Next returns the next decoded event. Termination is sticky: once ErrDone,
// io.EOF, or a transport read error is returned, every later call returns
// the same. On a clean close, any non-empty carry-over remainder is flushed
// through the regular frame path before io.EOF, so no trailing frame is
// silently dropped.
func (d *Decoder) Next() (chat.Event, error) {
	for {
		if d.done {
			return nil, ErrDone
		}

		if i := bytes.Index(d.carry, frameSep); i >= 0 {
			frame := d.carry[:i]
			d.carry = d.carry[i+len(frameSep):]
			ev, err := d.decodeFrame(frame)
			if ev == nil && err == nil {
				continue // blank frame
			}
			return ev, err
		}

		if d.eof {
			return nil, io.EOF
		}
		if d.readErr != nil {
			return nil, d.readErr
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.carry = append(d.carry, d.chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.eof = true
				rest := d.carry
				d.carry = nil
				if len(bytes.TrimSpace(rest)) > 0 {
					ev, ferr := d.decodeFrame(rest)
					if ev != nil || ferr != nil {
						return ev, ferr
					}
				}
				return nil, io.EOF
			}
			d.readErr = err
			return nil, err
		}
	}
}

// decodeFrame strips the optional data: prefix, trims, and decodes one
// frame. It returns (nil, nil) for frames that yield nothing.
func (d *Decoder) decodeFrame(frame []byte) (chat.Event, error) {
	payload := bytes.TrimSpace(frame)
	payload = bytes.TrimPrefix(payload, []byte("data:"))
	payload = bytes.TrimSpace(payload)

	if len(payload) == 0 {
		return nil, nil
	}
	if string(payload) == doneSentinel {
		d.done = true
		return nil, ErrDone
	}

	ev, err := decodeEvent(payload)
	if err != nil {
		if d.strict {
			return nil, &ParseError{Frame: string(payload), Err: err}
		}
		return chat.ErrorEvent{Message: decodePrefix + err.Error()}, nil
	}
	return ev, nil
}

// wireEvent is the union of all frame payload fields. Optional fields left
// absent by the backend decode to zero values rather than failing.
type wireEvent struct {
	Type        string `json:"type"`
	Content     string `json:"content"`
	Agent       string `json:"agent"`
	Tool        string `json:"tool"`
	Args        any    `json:"args"`
	Result      string `json:"result"`
	Message     string `json:"message"`
	RunID       string `json:"run_id"`
	AgentName   string `json:"agent_name"`
	ShadowRunID string `json:"shadow_run_id"`
}

// decodeEvent validates the payload against the closed set of event kinds.
// Unknown kinds never propagate past this boundary.
func decodeEvent(payload []byte) (chat.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	switch chat.EventKind(w.Type) {
	case chat.KindContent:
		if w.Agent == "" {
			return nil, errors.New("content event missing agent")
		}
		return chat.ContentEvent{Content: w.Content, Agent: w.Agent}, nil
	case chat.KindToolStart:
		if w.Agent == "" || w.Tool == "" {
			return nil, errors.New("tool_start event missing agent or tool")
		}
		return chat.ToolStartEvent{Agent: w.Agent, Tool: w.Tool, Args: w.Args}, nil
	case chat.KindToolEnd:
		if w.Agent == "" || w.Tool == "" {
			return nil, errors.New("tool_end event missing agent or tool")
		}
		return chat.ToolEndEvent{Agent: w.Agent, Tool: w.Tool, Result: w.Result}, nil
	case chat.KindError:
		if w.Message == "" {
			return nil, errors.New("error event missing message")
		}
		return chat.ErrorEvent{Message: w.Message}, nil
	case chat.KindPaused:
		if w.RunID == "" {
			return nil, errors.New("paused event missing run_id")
		}
		return chat.PausedEvent{RunID: w.RunID, AgentName: w.AgentName, Tool: w.Tool}, nil
	case chat.KindMeta:
		if w.ShadowRunID == "" {
			return nil, errors.New("meta event missing shadow_run_id")
		}
		return chat.MetaEvent{ShadowRunID: w.ShadowRunID, Agent: w.Agent}, nil
	case "":
		return nil, errors.New("missing event type")
	default:
		return nil, fmt.Errorf("unknown event type %q", w.Type)
	}
}
