package contracts

import (
	"errors"
	"fmt"
	"time"
)

// SpecVersion is the marker format version written by this module.
const SpecVersion = "1.0.0"

// MarkerKind discriminates the two marker shapes on the wire.
type MarkerKind string

const (
	KindExit    MarkerKind = "exit"
	KindArrival MarkerKind = "arrival"
)

// ExitType is the closed set of departure reasons.
type ExitType string

const (
	ExitVoluntary     ExitType = "Voluntary"
	ExitForced        ExitType = "Forced"
	ExitEmergency     ExitType = "Emergency"
	ExitKeyCompromise ExitType = "KeyCompromise"
)

// ErrUnknownExitType is returned by ParseExitType for values outside the enum.
var ErrUnknownExitType = errors.New("unknown exit type")

// AllExitTypes returns every exit type in declaration order.
func AllExitTypes() []ExitType {
	return []ExitType{ExitVoluntary, ExitForced, ExitEmergency, ExitKeyCompromise}
}

// Valid reports whether t is one of the four known variants.
func (t ExitType) Valid() bool {
	switch t {
	case ExitVoluntary, ExitForced, ExitEmergency, ExitKeyCompromise:
		return true
	default:
		return false
	}
}

func (t ExitType) String() string { return string(t) }

// ParseExitType maps a wire string onto the enum.
func ParseExitType(s string) (ExitType, error) {
	t := ExitType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownExitType, s)
	}
	return t, nil
}

// Module names an optional section of an exit marker that a policy may require.
type Module string

const (
	ModuleLineage       Module = "lineage"
	ModuleStateSnapshot Module = "stateSnapshot"
)

// ErrUnknownModule is returned by ParseModule for unrecognized names.
var ErrUnknownModule = errors.New("unknown marker module")

// ParseModule maps a module name onto the enum.
func ParseModule(s string) (Module, error) {
	switch m := Module(s); m {
	case ModuleLineage, ModuleStateSnapshot:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownModule, s)
	}
}

// Marker is implemented by ExitMarker and ArrivalMarker only.
type Marker interface {
	Kind() MarkerKind
	MarkerID() string
	IsSigned() bool
	isMarker()
}

// Lineage points at the agent's hosting history.
type Lineage struct {
	PredecessorID string   `json:"predecessorId,omitempty"`
	Platforms     []string `json:"platforms,omitempty"`
	Generation    int      `json:"generation"`
}

// StateSnapshot captures the agent's state at departure by reference.
type StateSnapshot struct {
	Hash      string `json:"hash"`
	Location  string `json:"location,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// ExitMarker records a departure. Once Signature is set the marker is
// treated as immutable; any field change invalidates the signature.
type ExitMarker struct {
	Type          MarkerKind     `json:"type"`
	SpecVersion   string         `json:"specVersion"`
	ID            string         `json:"id,omitempty"`
	Subject       string         `json:"subject"`
	Origin        string         `json:"origin"`
	ExitType      ExitType       `json:"exitType"`
	Timestamp     time.Time      `json:"timestamp"`
	Reason        string         `json:"reason,omitempty"`
	Lineage       *Lineage       `json:"lineage,omitempty"`
	StateSnapshot *StateSnapshot `json:"stateSnapshot,omitempty"`
	Signer        string         `json:"signer,omitempty"`
	Signature     string         `json:"signature,omitempty"`
}

func (m *ExitMarker) Kind() MarkerKind { return KindExit }
func (m *ExitMarker) MarkerID() string { return m.ID }
func (m *ExitMarker) IsSigned() bool   { return m.Signature != "" }
func (m *ExitMarker) isMarker()        {}

// HasModule reports whether the optional section named by mod is present.
func (m *ExitMarker) HasModule(mod Module) bool {
	switch mod {
	case ModuleLineage:
		return m.Lineage != nil
	case ModuleStateSnapshot:
		return m.StateSnapshot != nil
	default:
		return false
	}
}

// ArrivalMarker records an admitted agent's entry. ExitMarkerID is a
// reference only; the arrival does not own the exit marker.
type ArrivalMarker struct {
	Type         MarkerKind `json:"type"`
	SpecVersion  string     `json:"specVersion"`
	ID           string     `json:"id,omitempty"`
	ExitMarkerID string     `json:"exitMarkerId"`
	Subject      string     `json:"subject,omitempty"`
	Destination  string     `json:"destination"`
	Timestamp    time.Time  `json:"timestamp"`
	Signer       string     `json:"signer,omitempty"`
	Signature    string     `json:"signature,omitempty"`
}

func (a *ArrivalMarker) Kind() MarkerKind { return KindArrival }
func (a *ArrivalMarker) MarkerID() string { return a.ID }
func (a *ArrivalMarker) IsSigned() bool   { return a.Signature != "" }
func (a *ArrivalMarker) isMarker()        {}
