// Package mcp is the tool boundary: each call names a tool and carries an
// argument map, each response carries a structured result or an error
// flag with a message.
//
// A rejected admission or a broken transfer is a successful call with a
// structured result. Malformed markers, unknown policies and bad arguments
// are error responses.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
	"github.com/CellarDoorExits/mcp-server/pkg/service"
	"github.com/CellarDoorExits/mcp-server/pkg/session"
)

// ToolExecutionRequest is one inbound tool call.
type ToolExecutionRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	SessionID string         `json:"session_id,omitempty"`
}

// ToolExecutionResponse is the result of a tool call.
type ToolExecutionResponse struct {
	Content any    `json:"content,omitempty"`
	IsError bool   `json:"is_error"`
	Error   string `json:"error,omitempty"`
}

type toolHandler func(ctx context.Context, sess *session.Session, args map[string]any) (any, error)

// Dispatcher routes tool calls to the service.
type Dispatcher struct {
	svc      *service.Service
	sessions *session.Registry
	catalog  *ToolCatalog
	handlers map[string]toolHandler
	now      func() time.Time
	logger   *slog.Logger

	mu             sync.Mutex
	defaultSession *session.Session
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClock replaces the wall clock used to stamp markers and evaluations.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher over the built-in tool catalog.
func NewDispatcher(svc *service.Service, sessions *session.Registry, opts ...DispatcherOption) (*Dispatcher, error) {
	catalog, err := NewToolCatalog()
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		svc:      svc,
		sessions: sessions,
		catalog:  catalog,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "mcp")
	d.handlers = map[string]toolHandler{
		ToolCreateExitMarker:  d.createExitMarker,
		ToolVerifyMarker:      d.verifyMarker,
		ToolEvaluateAdmission: d.evaluateAdmission,
		ToolAdmitAgent:        d.admitAgent,
		ToolVerifyTransfer:    d.verifyTransfer,
		ToolListPolicies:      d.listPolicies,
		ToolSessionIdentity:   d.sessionIdentity,
	}
	return d, nil
}

// Tools lists the available tools.
func (d *Dispatcher) Tools() []ToolRef {
	return d.catalog.Search("")
}

// Call executes one tool call. An empty SessionID uses the dispatcher's
// default session.
func (d *Dispatcher) Call(ctx context.Context, req ToolExecutionRequest) ToolExecutionResponse {
	if req.ToolName == ToolEndSession {
		if err := d.catalog.ValidateArguments(req.ToolName, req.Arguments); err != nil {
			return d.fail(ctx, req, err)
		}
		id, ended, err := d.endSession(req.SessionID)
		if err != nil {
			return d.fail(ctx, req, err)
		}
		return ToolExecutionResponse{Content: SessionEnded{SessionID: id, Ended: ended}}
	}
	handler, ok := d.handlers[req.ToolName]
	if !ok {
		return d.fail(ctx, req, fmt.Errorf("unknown tool %q", req.ToolName))
	}
	if err := d.catalog.ValidateArguments(req.ToolName, req.Arguments); err != nil {
		return d.fail(ctx, req, err)
	}
	sess, err := d.session(req.SessionID)
	if err != nil {
		return d.fail(ctx, req, err)
	}
	content, err := handler(ctx, sess, req.Arguments)
	if err != nil {
		return d.fail(ctx, req, err)
	}
	return ToolExecutionResponse{Content: content}
}

func (d *Dispatcher) fail(ctx context.Context, req ToolExecutionRequest, err error) ToolExecutionResponse {
	d.logger.WarnContext(ctx, "tool call failed",
		"tool", req.ToolName,
		"session_id", req.SessionID,
		"error", err,
	)
	return ToolExecutionResponse{IsError: true, Error: err.Error()}
}

// session resolves id to a session. The default session is reopened once
// the registry no longer holds it.
func (d *Dispatcher) session(id string) (*session.Session, error) {
	if id != "" {
		return d.sessions.Attach(id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.defaultSession != nil {
		if s, err := d.sessions.Get(d.defaultSession.ID()); err == nil {
			return s, nil
		}
	}
	d.defaultSession = d.sessions.Open()
	return d.defaultSession, nil
}

// EndSession closes the session with the given id and drops its identity.
// An empty id ends the default session. It reports whether a session was
// open.
func (d *Dispatcher) EndSession(id string) (bool, error) {
	_, ended, err := d.endSession(id)
	return ended, err
}

func (d *Dispatcher) endSession(id string) (string, bool, error) {
	if id != "" {
		if _, err := uuid.Parse(id); err != nil {
			return id, false, fmt.Errorf("session id: %w", err)
		}
	}
	d.mu.Lock()
	if d.defaultSession != nil && (id == "" || id == d.defaultSession.ID()) {
		id = d.defaultSession.ID()
		d.defaultSession = nil
	}
	d.mu.Unlock()
	if id == "" {
		return "", false, nil
	}
	ended := d.sessions.Close(id)
	d.logger.Debug("session ended", "session_id", id, "was_open", ended)
	return id, ended, nil
}

type createExitArgs struct {
	Origin        string                   `json:"origin"`
	ExitType      string                   `json:"exitType"`
	Subject       string                   `json:"subject"`
	Reason        string                   `json:"reason"`
	Lineage       *contracts.Lineage       `json:"lineage"`
	StateSnapshot *contracts.StateSnapshot `json:"stateSnapshot"`
}

func (d *Dispatcher) createExitMarker(ctx context.Context, sess *session.Session, args map[string]any) (any, error) {
	var a createExitArgs
	if err := bind(args, &a); err != nil {
		return nil, err
	}
	return d.svc.Depart(ctx, sess, service.DepartRequest{
		Subject:       a.Subject,
		Origin:        a.Origin,
		ExitType:      a.ExitType,
		Reason:        a.Reason,
		Lineage:       a.Lineage,
		StateSnapshot: a.StateSnapshot,
	}, d.now())
}

func (d *Dispatcher) verifyMarker(ctx context.Context, _ *session.Session, args map[string]any) (any, error) {
	raw, err := markerBytes(args["marker"])
	if err != nil {
		return nil, err
	}
	return d.svc.VerifyMarker(ctx, raw)
}

func (d *Dispatcher) evaluateAdmission(ctx context.Context, _ *session.Session, args map[string]any) (any, error) {
	raw, err := markerBytes(args["marker"])
	if err != nil {
		return nil, err
	}
	policy, _ := args["policy"].(string)
	return d.svc.Evaluate(ctx, raw, policy, d.now())
}

func (d *Dispatcher) admitAgent(ctx context.Context, sess *session.Session, args map[string]any) (any, error) {
	raw, err := markerBytes(args["marker"])
	if err != nil {
		return nil, err
	}
	policy, _ := args["policy"].(string)
	destination, _ := args["destination"].(string)
	return d.svc.Admit(ctx, sess, raw, policy, destination, d.now())
}

func (d *Dispatcher) verifyTransfer(ctx context.Context, _ *session.Session, args map[string]any) (any, error) {
	exit, err := markerBytes(args["exitMarker"])
	if err != nil {
		return nil, err
	}
	arrival, err := markerBytes(args["arrivalMarker"])
	if err != nil {
		return nil, err
	}
	return d.svc.VerifyTransfer(ctx, exit, arrival)
}

func (d *Dispatcher) listPolicies(_ context.Context, _ *session.Session, _ map[string]any) (any, error) {
	return d.svc.Policies(), nil
}

// SessionIdentity is the session_identity result.
type SessionIdentity struct {
	SessionID string `json:"sessionId"`
	DID       string `json:"did"`
}

func (d *Dispatcher) sessionIdentity(_ context.Context, sess *session.Session, _ map[string]any) (any, error) {
	did, err := sess.DID()
	if err != nil {
		return nil, err
	}
	return SessionIdentity{SessionID: sess.ID(), DID: did}, nil
}

// SessionEnded is the end_session result.
type SessionEnded struct {
	SessionID string `json:"sessionId,omitempty"`
	Ended     bool   `json:"ended"`
}

// Close ends every session the dispatcher has handed out. The dispatcher
// stays usable; later calls open fresh sessions.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.defaultSession = nil
	d.mu.Unlock()
	d.sessions.CloseAll()
}

// markerBytes accepts a marker as a JSON object or as a JSON-encoded string.
func markerBytes(v any) ([]byte, error) {
	switch m := v.(type) {
	case string:
		return []byte(m), nil
	case nil:
		return nil, fmt.Errorf("marker argument is required")
	default:
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marker argument: %w", err)
		}
		return raw, nil
	}
}

func bind(args map[string]any, dst any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("arguments: %w", err)
	}
	return nil
}
