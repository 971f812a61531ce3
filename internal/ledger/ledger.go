package ledger

import (
	"errors"
	"fmt"

	"clearinghouse/internal/fpmath"
)

var (
	ErrMarketNotFound      = errors.New("market not found")
	ErrMarketExists        = errors.New("market already initialized")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already initialized")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Ledger owns all market and account records. It is only ever touched from
// the core goroutine; operations stage their deltas and apply them in one
// step, so no partially applied state is observable.
type Ledger struct {
	markets     map[uint16]*Market
	marketOrder []uint16
	accounts    map[AccountKey]*Account
}

func New() *Ledger {
	return &Ledger{
		markets:  make(map[uint16]*Market),
		accounts: make(map[AccountKey]*Account),
	}
}

// InitializeMarket registers a fixed-layout market record. Indices start at
// the interest baseline (1.0).
func (l *Ledger) InitializeMarket(m *Market) error {
	if _, ok := l.markets[m.MarketIndex]; ok {
		return fmt.Errorf("%w: index %d", ErrMarketExists, m.MarketIndex)
	}
	if m.CumulativeDepositInterest == 0 {
		m.CumulativeDepositInterest = uint64(fpmath.InterestPrecision)
	}
	if m.CumulativeBorrowInterest == 0 {
		m.CumulativeBorrowInterest = uint64(fpmath.InterestPrecision)
	}
	l.markets[m.MarketIndex] = m
	l.marketOrder = append(l.marketOrder, m.MarketIndex)
	return nil
}

// InitializeAccount registers an account record keyed by account id and
// sub-account index.
func (l *Ledger) InitializeAccount(key AccountKey, authority []byte) (*Account, error) {
	if _, ok := l.accounts[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, key)
	}
	a := NewAccount(key, authority)
	l.accounts[key] = a
	return a, nil
}

func (l *Ledger) Market(index uint16) (*Market, error) {
	m, ok := l.markets[index]
	if !ok {
		return nil, fmt.Errorf("%w: index %d", ErrMarketNotFound, index)
	}
	return m, nil
}

func (l *Ledger) Account(key AccountKey) (*Account, error) {
	a, ok := l.accounts[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, key)
	}
	return a, nil
}

// Markets returns all markets in initialization order.
func (l *Ledger) Markets() []*Market {
	out := make([]*Market, 0, len(l.marketOrder))
	for _, idx := range l.marketOrder {
		out = append(out, l.markets[idx])
	}
	return out
}

// Accounts returns all account records (iteration order unspecified).
func (l *Ledger) Accounts() []*Account {
	out := make([]*Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, a)
	}
	return out
}

// ApplyTransfer moves tokenAmount real tokens through a position in the given
// direction, converting at the market's current indices and keeping the
// market aggregates in sync. BalanceTypeDeposit adds tokens (paying down any
// borrow first); BalanceTypeBorrow removes tokens, flipping the position to
// Borrow when the withdrawal exceeds what is on deposit. A scaled balance
// never goes negative: the flip is the explicit type change.
func (l *Ledger) ApplyTransfer(pos *SpotPosition, m *Market, direction BalanceType, tokenAmount uint64) {
	if tokenAmount == 0 {
		return
	}

	if direction == BalanceTypeDeposit {
		if pos.BalanceType == BalanceTypeBorrow && pos.ScaledBalance > 0 {
			owed := m.TokenAmount(pos.ScaledBalance, BalanceTypeBorrow)
			if tokenAmount < owed {
				delta := fpmath.TokenToScaled(tokenAmount, m.CumulativeBorrowInterest, fpmath.RoundDown)
				pos.ScaledBalance -= delta
				m.BorrowBalanceScaled -= delta
				return
			}
			// Borrow fully repaid; the remainder flips to a deposit.
			m.BorrowBalanceScaled -= pos.ScaledBalance
			pos.ScaledBalance = 0
			pos.BalanceType = BalanceTypeDeposit
			tokenAmount -= owed
			if tokenAmount == 0 {
				return
			}
		}
		delta := fpmath.TokenToScaled(tokenAmount, m.CumulativeDepositInterest, fpmath.RoundDown)
		pos.ScaledBalance += delta
		m.DepositBalanceScaled += delta
		return
	}

	// direction == BalanceTypeBorrow
	if pos.BalanceType == BalanceTypeDeposit && pos.ScaledBalance > 0 {
		held := m.TokenAmount(pos.ScaledBalance, BalanceTypeDeposit)
		if tokenAmount <= held {
			delta := fpmath.TokenToScaled(tokenAmount, m.CumulativeDepositInterest, fpmath.RoundUp)
			if delta > pos.ScaledBalance {
				delta = pos.ScaledBalance
			}
			pos.ScaledBalance -= delta
			m.DepositBalanceScaled -= delta
			return
		}
		// Withdrawal exceeds the deposit; the shortfall becomes a borrow.
		m.DepositBalanceScaled -= pos.ScaledBalance
		pos.ScaledBalance = 0
		tokenAmount -= held
	}
	pos.BalanceType = BalanceTypeBorrow
	delta := fpmath.TokenToScaled(tokenAmount, m.CumulativeBorrowInterest, fpmath.RoundUp)
	pos.ScaledBalance += delta
	m.BorrowBalanceScaled += delta
}

// Deposit credits tokens to an account's position in a market.
func (l *Ledger) Deposit(a *Account, m *Market, tokenAmount uint64, nowTs int64) {
	m.SettleInterest(nowTs)
	pos := a.EnsureSpotPosition(m.MarketIndex)
	l.ApplyTransfer(pos, m, BalanceTypeDeposit, tokenAmount)
}

// Withdraw debits tokens from an account's position in a market. Withdrawing
// beyond the deposit flips the position to a borrow.
func (l *Ledger) Withdraw(a *Account, m *Market, tokenAmount uint64, nowTs int64) {
	m.SettleInterest(nowTs)
	pos := a.EnsureSpotPosition(m.MarketIndex)
	l.ApplyTransfer(pos, m, BalanceTypeBorrow, tokenAmount)
}
