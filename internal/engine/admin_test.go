package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-stream-ledger/internal/domain"
)

func TestUpdateFee(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.eng.UpdateFee(h.ctx, h.alice, 10), ErrNotAdmin)
	assert.ErrorIs(t, h.eng.UpdateFee(h.ctx, h.admin, 101), ErrInvalidFee)

	require.NoError(t, h.eng.UpdateFee(h.ctx, h.admin, 100))
	fee, err := h.eng.Fee(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(100), fee)

	require.NoError(t, h.eng.UpdateFee(h.ctx, h.admin, 0))
	evs := h.sink.last()
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventFeeUpdated, evs[0].Kind)
	assert.Equal(t, uint8(0), evs[0].FeePercent)
}

func TestWhitelistToken(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.eng.WhitelistToken(h.ctx, h.bob, ctkn), ErrNotAdmin)
	assert.ErrorIs(t, h.eng.WhitelistToken(h.ctx, h.admin, "NOPE"), ErrTokenNotFound)

	// Registered but the oracle has no rate for it.
	err := h.eng.WhitelistToken(h.ctx, h.admin, tkn)
	assert.ErrorIs(t, err, ErrTokenNotCompatible)
	assert.ErrorIs(t, err, ErrOracleUnavailable)

	require.NoError(t, h.eng.WhitelistToken(h.ctx, h.admin, ctkn))
	assert.ErrorIs(t, h.eng.WhitelistToken(h.ctx, h.admin, ctkn), ErrAlreadyWhitelisted)

	ok, err := h.eng.IsWhitelisted(h.ctx, ctkn)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := h.eng.ListWhitelisted(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{ctkn}, list)

	evs := h.sink.last()
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventTokenWhitelisted, evs[0].Kind)
	assert.Equal(t, ctkn, evs[0].Token)
}

func TestDiscardToken(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.eng.DiscardToken(h.ctx, h.admin, ctkn), ErrNotWhitelisted)

	h.enableCompounding(10)
	id := h.createCompounding(100, 1000, 1100, 50, 50)

	assert.ErrorIs(t, h.eng.DiscardToken(h.ctx, h.alice, ctkn), ErrNotAdmin)
	require.NoError(t, h.eng.DiscardToken(h.ctx, h.admin, ctkn))

	ok, err := h.eng.IsWhitelisted(h.ctx, ctkn)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.eng.CreateCompounding(h.ctx, CompoundingParams{
		CreateParams:          CreateParams{Sender: h.alice, Recipient: h.bob, Deposit: dec(100), Token: ctkn, StartTime: 1000, StopTime: 1100},
		SenderSharePercent:    50,
		RecipientSharePercent: 50,
	})
	assert.ErrorIs(t, err, ErrTokenNotWhitelisted)

	// Existing streams are unaffected.
	h.now = 1100
	_, err = h.eng.Withdraw(h.ctx, id, h.bob, dec(100))
	assert.NoError(t, err)
}

func TestRegisterAndMint(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.eng.RegisterToken(h.ctx, h.bob, domain.TokenInfo{ID: "NEW"}), ErrNotAdmin)
	assert.ErrorIs(t, h.eng.RegisterToken(h.ctx, h.admin, domain.TokenInfo{}), ErrInvalidToken)
	assert.ErrorIs(t, h.eng.RegisterToken(h.ctx, h.admin, domain.TokenInfo{ID: tkn}), ErrTokenAlreadyRegistered)
	require.NoError(t, h.eng.RegisterToken(h.ctx, h.admin, domain.TokenInfo{ID: "NEW", Symbol: "NEW", Decimals: 9}))

	info, err := h.eng.Token(h.ctx, "NEW")
	require.NoError(t, err)
	assert.Equal(t, uint8(9), info.Decimals)

	_, err = h.eng.Token(h.ctx, "NOPE")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	assert.ErrorIs(t, h.eng.Mint(h.ctx, h.bob, "NEW", h.bob, dec(1)), ErrNotAdmin)
	assert.ErrorIs(t, h.eng.Mint(h.ctx, h.admin, "NOPE", h.bob, dec(1)), ErrTokenNotFound)
	assert.ErrorIs(t, h.eng.Mint(h.ctx, h.admin, "NEW", "bad", dec(1)), ErrInvalidAddress)
	assert.ErrorIs(t, h.eng.Mint(h.ctx, h.admin, "NEW", h.bob, dec(0)), ErrZeroAmount)
	require.NoError(t, h.eng.Mint(h.ctx, h.admin, "NEW", h.bob, dec(42)))
	h.requireBalance("NEW", h.bob, 42)
}

func TestApprove(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.eng.Approve(h.ctx, h.bob, "NOPE", dec(1)), ErrTokenNotFound)
	assert.ErrorIs(t, h.eng.Approve(h.ctx, h.bob, tkn, dec(-1)), ErrInvalidAmount)

	require.NoError(t, h.eng.Approve(h.ctx, h.bob, tkn, dec(77)))
	allowance, err := h.eng.Allowance(h.ctx, tkn, h.bob)
	require.NoError(t, err)
	assert.True(t, allowance.Equal(dec(77)))
}
