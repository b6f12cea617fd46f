// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package eventstream implements C4: parsing of the external agent's
// newline-delimited JSON stdout, reconstruction of semantic events, and
// dispatch of their side effects to the cost ledger, tool registry, and
// build memory in the exact order the events are read.
//
// The line-buffering behavior (a non-parsing line is buffered and retried
// once the next non-empty line arrives; a blank line flushes a failed
// buffer to the logger) is grounded on original_source's
// ResponseParser.parse_streaming_response, translated from its
// async-generator shape into a synchronous line-at-a-time Feed call the
// Subprocess Driver invokes once per line read from the child's stdout.
package eventstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ariadne-build/ariadne/internal/buildmodel"
	"github.com/ariadne-build/ariadne/internal/costledger"
	"github.com/ariadne-build/ariadne/internal/toolregistry"
)

// EventType is the tagged-variant discriminant of a recognized NDJSON event.
type EventType string

const (
	EventSystemInit  EventType = "system"
	EventUser        EventType = "user"
	EventAssistant   EventType = "assistant"
	EventToolResult  EventType = "tool_result"
	EventResult      EventType = "result"
	EventError       EventType = "error"
	EventUnknown     EventType = "unknown"
)

// envelope is the minimal shape every recognized event shares before
// dispatch; the rest of each event's payload is read from raw via
// json.RawMessage per-type.
type envelope struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`
	Raw     json.RawMessage `json:"-"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input map[string]any  `json:"input"`
}

type assistantMessage struct {
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type toolResultPayload struct {
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content"`
	IsError   bool   `json:"is_error"`
}

type resultPayload struct {
	Subtype    string  `json:"subtype"`
	CostUSD    float64 `json:"cost_usd"`
	NumTurns   int     `json:"num_turns"`
	DurationMS int64   `json:"duration_ms"`
	SessionID  string  `json:"session_id"`
}

type systemInitPayload struct {
	SessionID  string   `json:"session_id"`
	Tools      []string `json:"tools"`
	MCPServers []string `json:"mcp_servers"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Dependencies are the build-scoped collaborators the classifier updates.
// Bound per build, never module-level singletons, per the design notes.
type Dependencies struct {
	Ledger   *costledger.Ledger
	Registry *toolregistry.Registry
	Phase    *buildmodel.Phase
	Logger   *slog.Logger
}

// Classifier holds the partial-line buffer and message counters for one
// subprocess invocation.
type Classifier struct {
	deps Dependencies

	buffer         strings.Builder
	buffering      bool
	messageCount   int
	transcript     strings.Builder
	sessionID      string
	activeMCPServers []string
}

// New constructs a Classifier bound to deps.
func New(deps Dependencies) *Classifier {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Classifier{deps: deps}
}

// Transcript returns the accumulated assistant text seen so far.
func (c *Classifier) Transcript() string { return c.transcript.String() }

// SessionID returns the session id recorded from system/init, if any.
func (c *Classifier) SessionID() string { return c.sessionID }

// Consume reads lines from r until EOF or ctx is done, feeding each to
// Feed in order. It returns on the first error other than io.EOF, or when
// ctx is cancelled — the latter case is how the subprocess driver's
// cancellation sequence stops the classifier at the next read boundary.
func (c *Classifier) Consume(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.Feed(scanner.Text())
	}
	return scanner.Err()
}

// Feed processes one line of stdout, handling multi-line JSON buffering: a
// line that only looks like the start of a JSON object (the original's own
// line.startswith("{") gate) but fails to parse on its own is buffered and
// retried combined with the next non-empty line; a blank line terminates a
// non-empty failed buffer, surfacing it verbatim to the logger without
// affecting build state. A line that is neither valid JSON nor the start of
// one — stray text such as a banner or log line the agent wrote to
// stdout — is surfaced to the logger immediately and never buffered, so it
// cannot swallow a real event arriving right after it.
func (c *Classifier) Feed(line string) {
	if strings.TrimSpace(line) == "" {
		if c.buffering && c.buffer.Len() > 0 {
			c.deps.Logger.Warn("unparsed stray text in agent stream", "text", c.buffer.String())
		}
		c.buffer.Reset()
		c.buffering = false
		return
	}

	candidate := line
	if c.buffering {
		candidate = c.buffer.String() + "\n" + line
	}

	var env envelope
	if err := json.Unmarshal([]byte(candidate), &env); err == nil {
		c.buffer.Reset()
		c.buffering = false
		c.dispatch(env.Type, []byte(candidate))
		return
	}

	if strings.HasPrefix(strings.TrimSpace(candidate), "{") {
		c.buffer.Reset()
		c.buffer.WriteString(candidate)
		c.buffering = true
		return
	}

	// Not valid JSON and not the start of a JSON object: fresh stray text,
	// logged on the spot rather than accreted, so the next line gets a
	// clean buffer to parse into.
	c.deps.Logger.Warn("unparsed stray text in agent stream", "text", candidate)
	c.buffer.Reset()
	c.buffering = false
}

func (c *Classifier) dispatch(eventType string, raw []byte) {
	switch EventType(eventType) {
	case EventSystemInit:
		var p systemInitPayload
		if err := json.Unmarshal(raw, &p); err == nil {
			c.sessionID = p.SessionID
			c.activeMCPServers = p.MCPServers
			c.deps.Logger.Info("agent session initialized", "session_id", p.SessionID, "mcp_servers", p.MCPServers)
		}
	case EventUser:
		c.messageCount++
	case EventAssistant:
		var msg assistantMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.deps.Logger.Warn("malformed assistant event", "error", err)
			return
		}
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				c.transcript.WriteString(block.Text)
			case "tool_use":
				if c.deps.Registry != nil {
					call := c.deps.Registry.StartCall(block.ID, block.Name, block.Input, c.phaseID())
					if c.deps.Phase != nil && call != nil {
						c.deps.Phase.ToolCallIDs = append(c.deps.Phase.ToolCallIDs, block.ID)
					}
				}
			}
		}
	case EventToolResult:
		var p toolResultPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			c.deps.Logger.Warn("malformed tool_result event", "error", err)
			return
		}
		if c.deps.Registry != nil {
			errStr := ""
			if p.IsError {
				errStr = fmt.Sprintf("%v", p.Content)
			}
			c.deps.Registry.EndCall(p.ToolUseID, p.Content, errStr)
		}
	case EventResult:
		var p resultPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			c.deps.Logger.Warn("malformed result event", "error", err)
			return
		}
		switch p.Subtype {
		case "success":
			if c.deps.Phase != nil {
				c.deps.Phase.OutputSummary = c.transcript.String()
			}
			if c.deps.Ledger != nil {
				c.deps.Ledger.AddAgentSessionCost(p.CostUSD, p.SessionID, c.phaseID(), p.DurationMS, p.NumTurns)
			}
		case "error_max_turns":
			c.markPhaseError("maximum turns exceeded")
		case "error":
			c.markPhaseError("agent reported an error result")
		}
	case EventError:
		var p errorPayload
		if err := json.Unmarshal(raw, &p); err == nil {
			c.markPhaseError(p.Message)
		}
	default:
		c.deps.Logger.Debug("unrecognized event type forwarded to logger", "type", eventType)
	}
}

func (c *Classifier) markPhaseError(msg string) {
	if c.deps.Phase != nil {
		c.deps.Phase.Error = msg
	}
	c.deps.Logger.Error("agent reported error", "message", msg)
}

func (c *Classifier) phaseID() string {
	if c.deps.Phase != nil {
		return c.deps.Phase.ID
	}
	return ""
}
