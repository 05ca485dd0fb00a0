package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/storage"
	"token-stream-ledger/internal/token"
)

const (
	alice = domain.Address("alice")
	bob   = domain.Address("bob")
	vault = domain.Address("vault")
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newStream(id uint64, tokenID string) *domain.Stream {
	return &domain.Stream{
		ID:               id,
		Sender:           alice,
		Recipient:        bob,
		Token:            tokenID,
		Deposit:          d(3600),
		RatePerUnit:      d(1),
		RemainingBalance: d(3600),
		StartTime:        1000,
		StopTime:         4600,
		CreatedAt:        900,
	}
}

func TestStore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()

	t.Run("stream lifecycle", func(t *testing.T) {
		var id uint64
		err := store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			var err error
			id, err = tx.Streams().NextID(ctx)
			require.NoError(t, err)
			return tx.Streams().Insert(ctx, newStream(id, "TKN"))
		})
		require.NoError(t, err)

		err = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
			s, err := tx.Streams().Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, alice, s.Sender)
			assert.Equal(t, bob, s.Recipient)
			assert.True(t, s.Deposit.Equal(d(3600)))
			assert.Equal(t, int64(900), s.CreatedAt)
			return nil
		})
		require.NoError(t, err)

		err = store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			s, err := tx.Streams().Get(ctx, id)
			require.NoError(t, err)
			s.RemainingBalance = d(1200)
			return tx.Streams().Update(ctx, s)
		})
		require.NoError(t, err)

		err = store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			s, err := tx.Streams().Get(ctx, id)
			require.NoError(t, err)
			assert.True(t, s.RemainingBalance.Equal(d(1200)))
			return tx.Streams().Delete(ctx, id)
		})
		require.NoError(t, err)

		err = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.Streams().Get(ctx, id)
			return err
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("duplicate stream", func(t *testing.T) {
		err := store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			id, err := tx.Streams().NextID(ctx)
			require.NoError(t, err)
			if err := tx.Streams().Insert(ctx, newStream(id, "TKN")); err != nil {
				return err
			}
			return tx.Streams().Insert(ctx, newStream(id, "TKN"))
		})
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	t.Run("rollback keeps reserved ids", func(t *testing.T) {
		boom := errors.New("boom")
		var reserved uint64

		err := store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			var err error
			reserved, err = tx.Streams().NextID(ctx)
			require.NoError(t, err)
			require.NoError(t, tx.Streams().Insert(ctx, newStream(reserved, "TKN")))
			require.NoError(t, tx.Policy().SetFeePercent(ctx, 42))
			return boom
		})
		require.ErrorIs(t, err, boom)

		err = store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.Streams().Get(ctx, reserved)
			assert.ErrorIs(t, err, storage.ErrNotFound)

			p, err := tx.Policy().GetFeePolicy(ctx)
			require.NoError(t, err)
			assert.NotEqual(t, uint8(42), p.FeePercent)

			next, err := tx.Streams().NextID(ctx)
			require.NoError(t, err)
			assert.Greater(t, next, reserved)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("view is read-only", func(t *testing.T) {
		err := store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.Streams().NextID(ctx)
			return err
		})
		assert.ErrorIs(t, err, storage.ErrReadOnly)
	})

	t.Run("list by participant", func(t *testing.T) {
		carol := domain.Address("carol-list")
		var ids []uint64
		err := store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			for i := 0; i < 3; i++ {
				id, err := tx.Streams().NextID(ctx)
				require.NoError(t, err)
				s := newStream(id, "TKN")
				if i == 1 {
					s.Sender, s.Recipient = carol, alice
				} else {
					s.Recipient = carol
				}
				require.NoError(t, tx.Streams().Insert(ctx, s))
				ids = append(ids, id)
			}
			return nil
		})
		require.NoError(t, err)

		err = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
			list, err := tx.Streams().ListByParticipant(ctx, carol)
			require.NoError(t, err)
			require.Len(t, list, 3)
			for i, s := range list {
				assert.Equal(t, ids[i], s.ID)
			}
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("total remaining", func(t *testing.T) {
		const tokenID = "cTKN-total"
		err := store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			for _, remaining := range []int64{1200, 34} {
				id, err := tx.Streams().NextID(ctx)
				require.NoError(t, err)
				s := newStream(id, tokenID)
				s.RemainingBalance = d(remaining)
				require.NoError(t, tx.Streams().Insert(ctx, s))
			}
			return nil
		})
		require.NoError(t, err)

		err = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
			total, err := tx.Streams().TotalRemaining(ctx, tokenID)
			require.NoError(t, err)
			assert.True(t, total.Equal(d(1234)), "got %s", total)

			none, err := tx.Streams().TotalRemaining(ctx, "no-such-token")
			require.NoError(t, err)
			assert.True(t, none.IsZero())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("compounding meta", func(t *testing.T) {
		rate := decimal.RequireFromString("1010000000000000000")
		var id uint64
		err := store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			var err error
			id, err = tx.Streams().NextID(ctx)
			require.NoError(t, err)
			s := newStream(id, "cTKN")
			s.IsCompounding = true
			require.NoError(t, tx.Streams().Insert(ctx, s))
			return tx.Compounding().Insert(ctx, &domain.CompoundingMeta{
				StreamID:              id,
				ExchangeRateSnapshot:  rate,
				SenderSharePercent:    30,
				RecipientSharePercent: 70,
			})
		})
		require.NoError(t, err)

		err = store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			m, err := tx.Compounding().Get(ctx, id)
			require.NoError(t, err)
			assert.True(t, m.ExchangeRateSnapshot.Equal(rate))
			assert.Equal(t, uint8(30), m.SenderSharePercent)

			m.ExchangeRateSnapshot = rate.Add(d(1))
			require.NoError(t, tx.Compounding().Update(ctx, m))

			require.NoError(t, tx.Compounding().Delete(ctx, id))
			_, err = tx.Compounding().Get(ctx, id)
			assert.ErrorIs(t, err, storage.ErrNotFound)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("policy", func(t *testing.T) {
		err := store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			assert.ErrorIs(t, tx.Policy().SetFeePercent(ctx, 101), storage.ErrInvalidInput)
			require.NoError(t, tx.Policy().SetFeePercent(ctx, 15))
			require.NoError(t, tx.Policy().SetWhitelisted(ctx, "cB", true))
			require.NoError(t, tx.Policy().SetWhitelisted(ctx, "cA", true))
			require.NoError(t, tx.Policy().SetWhitelisted(ctx, "cA", true))
			require.NoError(t, tx.Policy().SetEarnings(ctx, "cA", d(77)))
			return nil
		})
		require.NoError(t, err)

		err = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
			p, err := tx.Policy().GetFeePolicy(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint8(15), p.FeePercent)

			list, err := tx.Policy().ListWhitelisted(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"cA", "cB"}, list)

			earned, err := tx.Policy().Earnings(ctx, "cA")
			require.NoError(t, err)
			assert.True(t, earned.Equal(d(77)))

			none, err := tx.Policy().Earnings(ctx, "cZ")
			require.NoError(t, err)
			assert.True(t, none.IsZero())
			return nil
		})
		require.NoError(t, err)

		err = store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			require.NoError(t, tx.Policy().SetWhitelisted(ctx, "cB", false))
			ok, err := tx.Policy().IsWhitelisted(ctx, "cB")
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("token ledger", func(t *testing.T) {
		err := store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			require.NoError(t, tx.Tokens().Register(ctx, &domain.TokenInfo{ID: "LEDG", Symbol: "LEDG", Decimals: 6}))
			assert.ErrorIs(t, tx.Tokens().Register(ctx, &domain.TokenInfo{ID: "LEDG"}), storage.ErrDuplicateKey)
			return nil
		})
		// the duplicate aborted the transaction
		require.Error(t, err)

		err = store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			require.NoError(t, tx.Tokens().Register(ctx, &domain.TokenInfo{ID: "LEDG", Symbol: "LEDG", Decimals: 6}))
			require.NoError(t, tx.Tokens().Mint(ctx, "LEDG", alice, d(1000)))

			l, err := tx.Tokens().Ledger(ctx, "LEDG")
			require.NoError(t, err)
			require.NoError(t, l.Approve(ctx, alice, vault, d(600)))
			require.NoError(t, l.TransferFrom(ctx, vault, alice, vault, d(500)))
			require.NoError(t, l.Transfer(ctx, vault, bob, d(200)))
			return nil
		})
		require.NoError(t, err)

		err = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
			info, err := tx.Tokens().Get(ctx, "LEDG")
			require.NoError(t, err)
			assert.Equal(t, uint8(6), info.Decimals)

			l, err := tx.Tokens().Ledger(ctx, "LEDG")
			require.NoError(t, err)
			for holder, want := range map[domain.Address]int64{alice: 500, vault: 300, bob: 200} {
				bal, err := l.BalanceOf(ctx, holder)
				require.NoError(t, err)
				assert.True(t, bal.Equal(d(want)), "%s: %s", holder, bal)
			}
			allowance, err := l.Allowance(ctx, alice, vault)
			require.NoError(t, err)
			assert.True(t, allowance.Equal(d(100)))
			return nil
		})
		require.NoError(t, err)

		err = store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			l, err := tx.Tokens().Ledger(ctx, "LEDG")
			require.NoError(t, err)
			return l.TransferFrom(ctx, vault, alice, vault, d(101))
		})
		assert.ErrorIs(t, err, token.ErrInsufficientAllowance)

		err = store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			l, err := tx.Tokens().Ledger(ctx, "LEDG")
			require.NoError(t, err)
			return l.Transfer(ctx, bob, alice, d(201))
		})
		assert.ErrorIs(t, err, token.ErrInsufficientBalance)

		err = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.Tokens().Ledger(ctx, "NOPE")
			return err
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("concurrent writers are serialized", func(t *testing.T) {
		require.NoError(t, store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			require.NoError(t, tx.Tokens().Register(ctx, &domain.TokenInfo{ID: "CONC"}))
			return tx.Tokens().Mint(ctx, "CONC", alice, d(50))
		}))

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
					l, err := tx.Tokens().Ledger(ctx, "CONC")
					if err != nil {
						return err
					}
					bal, err := l.BalanceOf(ctx, alice)
					if err != nil {
						return err
					}
					if bal.LessThan(d(10)) {
						return token.ErrInsufficientBalance
					}
					return l.Transfer(ctx, alice, bob, d(10))
				})
			}()
		}
		wg.Wait()

		require.NoError(t, store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
			l, err := tx.Tokens().Ledger(ctx, "CONC")
			require.NoError(t, err)
			a, _ := l.BalanceOf(ctx, alice)
			b, _ := l.BalanceOf(ctx, bob)
			assert.True(t, a.IsZero())
			assert.True(t, b.Equal(d(50)))
			return nil
		}))
	})
}
