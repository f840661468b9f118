// Package service orchestrates the marker lifecycle: departure, admission,
// arrival minting and transfer verification.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/CellarDoorExits/mcp-server/pkg/admission"
	"github.com/CellarDoorExits/mcp-server/pkg/codec"
	"github.com/CellarDoorExits/mcp-server/pkg/continuity"
	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
	"github.com/CellarDoorExits/mcp-server/pkg/crypto"
	"github.com/CellarDoorExits/mcp-server/pkg/observability"
	"github.com/CellarDoorExits/mcp-server/pkg/policyloader"
	"github.com/CellarDoorExits/mcp-server/pkg/session"
)

// ErrInvalidRequest reports caller input that is not a marker problem.
var ErrInvalidRequest = errors.New("invalid request")

// Deps are the collaborators of a Service. Zero fields get defaults.
type Deps struct {
	Resolver      *policyloader.Resolver
	Verifier      crypto.Verifier
	Observability *observability.Provider
	// PlatformID is the destination recorded on arrivals when the caller
	// names none.
	PlatformID string
	Logger     *slog.Logger
}

// Service is safe for concurrent use.
type Service struct {
	resolver   *policyloader.Resolver
	verifier   crypto.Verifier
	engine     *admission.Engine
	continuity *continuity.Verifier
	obs        *observability.Provider
	platformID string
	logger     *slog.Logger
}

// New assembles a service.
func New(ctx context.Context, d Deps) (*Service, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if d.Verifier == nil {
		d.Verifier = crypto.NewEd25519Verifier()
	}
	if d.Resolver == nil {
		d.Resolver = policyloader.NewResolver(nil, logger)
	}
	if d.Observability == nil {
		obs, err := observability.New(ctx, observability.DefaultConfig())
		if err != nil {
			return nil, err
		}
		d.Observability = obs
	}
	if d.PlatformID == "" {
		d.PlatformID = "cellar-door-local"
	}
	return &Service{
		resolver:   d.Resolver,
		verifier:   d.Verifier,
		engine:     admission.NewEngine(d.Verifier),
		continuity: continuity.NewVerifier(d.Verifier),
		obs:        d.Observability,
		platformID: d.PlatformID,
		logger:     logger.With("component", "service"),
	}, nil
}

// Policies describes the selectable policies.
func (s *Service) Policies() policyloader.Listing {
	return s.resolver.List()
}

// DepartRequest carries the caller-supplied fields of a departure.
type DepartRequest struct {
	// Subject defaults to the session's DID.
	Subject       string
	Origin        string
	ExitType      string
	Reason        string
	Lineage       *contracts.Lineage
	StateSnapshot *contracts.StateSnapshot
}

// Depart creates an exit marker stamped at now and signs it with the
// session identity.
func (s *Service) Depart(ctx context.Context, sess *session.Session, req DepartRequest, now time.Time) (_ *contracts.ExitMarker, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "service.depart")
	defer func() { done(err) }()

	exitType, err := contracts.ParseExitType(req.ExitType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	subject := req.Subject
	if subject == "" {
		if subject, err = sess.DID(); err != nil {
			return nil, err
		}
	}
	m, err := codec.NewExitMarker(codec.ExitParams{
		Subject:       subject,
		Origin:        req.Origin,
		ExitType:      exitType,
		Reason:        req.Reason,
		Lineage:       req.Lineage,
		StateSnapshot: req.StateSnapshot,
		Timestamp:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := sess.SignExit(m); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "exit marker created",
		"marker", m.ID,
		"exit_type", m.ExitType,
		"origin", m.Origin,
	)
	return m, nil
}

// Evaluate decodes an exit marker and evaluates it under the resolved
// policy.
func (s *Service) Evaluate(ctx context.Context, markerJSON []byte, callerPolicy string, now time.Time) (_ contracts.AdmissionResult, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "service.evaluate")
	defer func() { done(err) }()

	m, policy, err := s.prepare(ctx, markerJSON, callerPolicy)
	if err != nil {
		return contracts.AdmissionResult{}, err
	}
	return s.evaluate(ctx, m, policy, now), nil
}

// Admission is the outcome of Admit. Arrival is set only when admitted.
type Admission struct {
	Result  contracts.AdmissionResult `json:"result"`
	Arrival *contracts.ArrivalMarker  `json:"arrival,omitempty"`
}

// Admit evaluates an exit marker once and, when admitted, mints an arrival
// signed by the session identity. The arrival is stamped with the same
// now the evaluation used and no second verification pass runs.
func (s *Service) Admit(ctx context.Context, sess *session.Session, markerJSON []byte, callerPolicy, destination string, now time.Time) (_ Admission, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "service.admit")
	defer func() { done(err) }()

	m, policy, err := s.prepare(ctx, markerJSON, callerPolicy)
	if err != nil {
		return Admission{}, err
	}
	res := s.evaluate(ctx, m, policy, now)
	if !res.Admitted {
		return Admission{Result: res}, nil
	}

	if destination == "" {
		destination = s.platformID
	}
	arrival, err := codec.NewArrivalMarker(m, destination, now)
	if err != nil {
		return Admission{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := sess.SignArrival(arrival); err != nil {
		return Admission{}, err
	}
	s.logger.InfoContext(ctx, "arrival minted",
		"arrival", arrival.ID,
		"exit", m.ID,
		"destination", destination,
	)
	return Admission{Result: res, Arrival: arrival}, nil
}

// VerifyMarker checks the signature of an exit or arrival marker.
func (s *Service) VerifyMarker(ctx context.Context, markerJSON []byte) (_ crypto.VerificationResult, err error) {
	_, done := s.obs.TrackOperation(ctx, "service.verify_marker")
	defer func() { done(err) }()

	m, err := codec.Decode(markerJSON)
	if err != nil {
		return crypto.VerificationResult{}, err
	}
	switch m := m.(type) {
	case *contracts.ExitMarker:
		return s.verifier.VerifyExit(m), nil
	case *contracts.ArrivalMarker:
		return s.verifier.VerifyArrival(m), nil
	default:
		return crypto.VerificationResult{}, fmt.Errorf("%w: unsupported marker %T", ErrInvalidRequest, m)
	}
}

// VerifyTransfer checks that an arrival continues from an exit.
func (s *Service) VerifyTransfer(ctx context.Context, exitJSON, arrivalJSON []byte) (_ contracts.TransferRecord, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "service.verify_transfer")
	defer func() { done(err) }()

	exit, err := codec.DecodeExit(exitJSON)
	if err != nil {
		return contracts.TransferRecord{}, err
	}
	arrival, err := codec.DecodeArrival(arrivalJSON)
	if err != nil {
		return contracts.TransferRecord{}, err
	}
	rec := s.continuity.VerifyTransfer(exit, arrival)
	if !rec.Verified {
		s.logger.WarnContext(ctx, "transfer not verified",
			"exit", exit.ID,
			"arrival", arrival.ID,
			"errors", rec.Errors,
			"continuity_errors", rec.Continuity.Errors,
		)
	}
	return rec, nil
}

func (s *Service) prepare(ctx context.Context, markerJSON []byte, callerPolicy string) (*contracts.ExitMarker, admission.Policy, error) {
	m, err := codec.DecodeExit(markerJSON)
	if err != nil {
		return nil, admission.Policy{}, err
	}
	policy, err := s.resolver.Resolve(ctx, callerPolicy)
	if err != nil {
		return nil, admission.Policy{}, err
	}
	return m, policy, nil
}

func (s *Service) evaluate(ctx context.Context, m *contracts.ExitMarker, policy admission.Policy, now time.Time) contracts.AdmissionResult {
	res := s.engine.Evaluate(m, policy, now)
	s.obs.RecordAdmission(ctx, policy.Name, res.Admitted)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("policy", policy.Name),
		attribute.Bool("admitted", res.Admitted),
	)
	s.logger.InfoContext(ctx, "admission evaluated",
		"marker", m.ID,
		"policy", policy.Name,
		"admitted", res.Admitted,
		"reasons", res.Reasons,
	)
	return res
}
