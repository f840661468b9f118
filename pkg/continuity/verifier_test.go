package continuity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CellarDoorExits/mcp-server/pkg/codec"
	"github.com/CellarDoorExits/mcp-server/pkg/contracts"
	"github.com/CellarDoorExits/mcp-server/pkg/crypto"
)

var departed = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

type fixture struct {
	agent, platform *crypto.Identity
	verifier        *Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	agent, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	platform, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	return &fixture{agent: agent, platform: platform, verifier: NewVerifier(crypto.NewEd25519Verifier())}
}

func (f *fixture) exit(t *testing.T, subject string) *contracts.ExitMarker {
	t.Helper()
	m, err := codec.NewExitMarker(codec.ExitParams{
		Subject:   subject,
		Origin:    "platform-a",
		ExitType:  contracts.ExitVoluntary,
		Timestamp: departed,
	})
	require.NoError(t, err)
	require.NoError(t, crypto.SignExit(f.agent, m))
	return m
}

func (f *fixture) arrival(t *testing.T, exit *contracts.ExitMarker, at time.Time) *contracts.ArrivalMarker {
	t.Helper()
	a, err := codec.NewArrivalMarker(exit, "platform-b", at)
	require.NoError(t, err)
	require.NoError(t, crypto.SignArrival(f.platform, a))
	return a
}

func TestVerifyTransfer_Valid(t *testing.T) {
	f := newFixture(t)
	exit := f.exit(t, "agent-1")
	arrival := f.arrival(t, exit, departed.Add(90*time.Second))

	rec := f.verifier.VerifyTransfer(exit, arrival)
	assert.True(t, rec.Verified)
	assert.True(t, rec.Continuity.Valid)
	assert.Empty(t, rec.Errors)
	assert.Empty(t, rec.Continuity.Errors)
	assert.Equal(t, 90*time.Second, rec.TransferTime)
}

func TestVerifyTransfer_SameInstant(t *testing.T) {
	f := newFixture(t)
	exit := f.exit(t, "agent-1")
	rec := f.verifier.VerifyTransfer(exit, f.arrival(t, exit, departed))
	assert.True(t, rec.Verified)
	assert.Zero(t, rec.TransferTime)
}

func TestVerifyTransfer_WrongExitReference(t *testing.T) {
	f := newFixture(t)
	exit := f.exit(t, "agent-1")
	other := f.exit(t, "agent-2")
	arrival := f.arrival(t, other, departed.Add(time.Minute))

	rec := f.verifier.VerifyTransfer(exit, arrival)
	assert.False(t, rec.Verified)
	assert.False(t, rec.Continuity.Valid)
	assert.Empty(t, rec.Errors, "both signatures are individually valid")
	assert.Equal(t, []string{ErrReferenceMismatch}, rec.Continuity.Errors)
}

func TestVerifyTransfer_ArrivalBeforeDeparture(t *testing.T) {
	f := newFixture(t)
	exit := f.exit(t, "agent-1")
	arrival := f.arrival(t, exit, departed.Add(-time.Hour))

	rec := f.verifier.VerifyTransfer(exit, arrival)
	assert.False(t, rec.Verified)
	assert.Equal(t, []string{ErrOutOfOrder}, rec.Continuity.Errors)
	assert.Equal(t, -time.Hour, rec.TransferTime)
}

func TestVerifyTransfer_BadSignatures(t *testing.T) {
	f := newFixture(t)
	exit := f.exit(t, "agent-1")
	arrival := f.arrival(t, exit, departed.Add(time.Minute))

	exit.Reason = "rewritten after signing"
	arrival.Destination = "platform-evil"

	rec := f.verifier.VerifyTransfer(exit, arrival)
	assert.False(t, rec.Verified)
	require.Len(t, rec.Errors, 2)
	assert.Contains(t, rec.Errors[0], "exit marker signature invalid: ")
	assert.Contains(t, rec.Errors[1], "arrival marker signature invalid: ")
	// Reference and ordering are intact even though the signatures are not.
	assert.True(t, rec.Continuity.Valid)
}

func TestVerifyTransfer_AllFailuresAccumulate(t *testing.T) {
	f := newFixture(t)
	exit := f.exit(t, "agent-1")
	other := f.exit(t, "agent-2")
	unsigned, err := codec.NewArrivalMarker(other, "platform-b", departed.Add(-time.Second))
	require.NoError(t, err)

	rec := f.verifier.VerifyTransfer(exit, unsigned)
	assert.False(t, rec.Verified)
	assert.Len(t, rec.Errors, 1)
	assert.Equal(t, []string{ErrReferenceMismatch, ErrOutOfOrder}, rec.Continuity.Errors)
}

func TestVerifyTransfer_Missing(t *testing.T) {
	f := newFixture(t)
	rec := f.verifier.VerifyTransfer(nil, nil)
	assert.False(t, rec.Verified)
	assert.Equal(t, []string{"exit marker missing", "arrival marker missing"}, rec.Errors)
}
