package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"clearinghouse/internal/event"
	"clearinghouse/internal/ledger"
	"clearinghouse/internal/observability"
	"clearinghouse/internal/oracle"
	"clearinghouse/internal/orders"
	"clearinghouse/internal/risk"
	"clearinghouse/internal/signing"
)

// CoreOutput is one applied operation leaving the core: the hash-chained
// envelope for the event log plus the projection payload.
type CoreOutput struct {
	Envelope *event.Envelope
}

// ClearingHouse is the single-threaded operation processor. Every mutating
// operation validates preconditions, applies its deltas in one step, and
// emits an envelope; a failed operation leaves no observable state change.
// The core never reads the wall clock for state: every operation carries a
// versioned timestamp (logical tick) from its caller.
type ClearingHouse struct {
	sequence int64
	hasher   *StateHasher

	ledger     *ledger.Ledger
	validator  *ledger.InvariantValidator
	riskEngine *risk.Engine
	oracleFeed *oracle.Feed
	verifier   signing.Verifier

	maxOracleAge int64

	books        map[uint16]*orders.Book
	replayStores map[ledger.AccountKey]*orders.ReplayStore
	// signedOrders marks resting orders that originated from a signed
	// message, so tearing down the owner's order store can invalidate them.
	signedOrders map[orders.OrderRef]bool
	// pendingTriggers holds take-profit/stop-loss params until the parent
	// order's first fill materializes them as resting trigger orders.
	pendingTriggers map[orders.OrderRef]pendingTriggers

	metrics *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type pendingTriggers struct {
	takeProfit *orders.TriggerParams
	stopLoss   *orders.TriggerParams
}

func NewClearingHouse(
	startSequence int64,
	verifier signing.Verifier,
	maxOracleAge int64,
	persistChan, projectionChan chan<- CoreOutput,
	metrics *observability.Metrics,
) *ClearingHouse {
	l := ledger.New()
	feed := oracle.NewFeed()

	return &ClearingHouse{
		sequence:        startSequence,
		hasher:          NewStateHasher(),
		ledger:          l,
		validator:       ledger.NewInvariantValidator(l),
		riskEngine:      risk.NewEngine(l, feed, maxOracleAge),
		oracleFeed:      feed,
		verifier:        verifier,
		maxOracleAge:    maxOracleAge,
		books:           make(map[uint16]*orders.Book),
		replayStores:    make(map[ledger.AccountKey]*orders.ReplayStore),
		signedOrders:    make(map[orders.OrderRef]bool),
		pendingTriggers: make(map[orders.OrderRef]pendingTriggers),
		metrics:         metrics,
		persistChan:     persistChan,
		projectionChan:  projectionChan,
	}
}

// Ledger exposes the state store for read-side queries. Callers must be on
// the core goroutine.
func (c *ClearingHouse) Ledger() *ledger.Ledger {
	return c.ledger
}

func (c *ClearingHouse) Sequence() int64 {
	return c.sequence
}

// SetOraclePrice records a price observation from the oracle subscriber.
func (c *ClearingHouse) SetOraclePrice(key string, pd oracle.PriceData) {
	c.oracleFeed.SetPrice(key, pd)
}

// OraclePrice returns the latest observation for a key.
func (c *ClearingHouse) OraclePrice(key string) (oracle.PriceData, bool) {
	return c.oracleFeed.GetPrice(key)
}

// InitializeMarket registers a market and its order book.
func (c *ClearingHouse) InitializeMarket(m *ledger.Market) error {
	if err := c.ledger.InitializeMarket(m); err != nil {
		c.rejected("initialize_market", err)
		return err
	}
	c.books[m.MarketIndex] = orders.NewBook(m.MarketIndex)
	return nil
}

// InitializeAccount registers an account keyed by account id and sub-account
// index, bound to its signing authority.
func (c *ClearingHouse) InitializeAccount(key ledger.AccountKey, authority []byte) error {
	if _, err := c.ledger.InitializeAccount(key, authority); err != nil {
		c.rejected("initialize_account", err)
		return err
	}
	return nil
}

// Deposit credits tokens to an account and logs a deposit record.
func (c *ClearingHouse) Deposit(key ledger.AccountKey, marketIndex uint16, tokenAmount uint64, transferID uuid.UUID, nowTs int64) error {
	start := time.Now()
	a, err := c.ledger.Account(key)
	if err != nil {
		c.rejected("deposit", err)
		return err
	}
	m, err := c.ledger.Market(marketIndex)
	if err != nil {
		c.rejected("deposit", err)
		return err
	}

	c.ledger.Deposit(a, m, tokenAmount, nowTs)

	c.emit(&event.DepositRecord{
		Ts:          nowTs,
		TransferID:  transferID,
		Account:     key,
		Market:      marketIndex,
		TokenAmount: tokenAmount,
	}, nowTs)
	c.applied("deposit", start)
	return nil
}

// Withdraw debits tokens from an account. A withdrawal beyond the deposit
// flips the position into a borrow, so the account must retain margin above
// maintenance afterwards.
func (c *ClearingHouse) Withdraw(key ledger.AccountKey, marketIndex uint16, tokenAmount uint64, transferID uuid.UUID, nowTs int64) error {
	start := time.Now()
	a, err := c.ledger.Account(key)
	if err != nil {
		c.rejected("withdraw", err)
		return err
	}
	m, err := c.ledger.Market(marketIndex)
	if err != nil {
		c.rejected("withdraw", err)
		return err
	}

	c.ledger.Withdraw(a, m, tokenAmount, nowTs)

	// Withdrawing collateral while any borrow is outstanding, in this market
	// or another, must leave the account above maintenance. Without a fresh
	// margin read the withdrawal cannot proceed.
	if a.HasBorrows() {
		calc, err := risk.ComputeMargin(c.ledger, a, c.oracleFeed, nowTs, c.maxOracleAge)
		if err != nil {
			c.ledger.Deposit(a, m, tokenAmount, nowTs)
			c.rejected("withdraw", err)
			return err
		}
		if calc.CanBeLiquidated() {
			c.ledger.Deposit(a, m, tokenAmount, nowTs)
			err := fmt.Errorf("withdrawal of %d would breach maintenance margin: %w", tokenAmount, ledger.ErrInsufficientBalance)
			c.rejected("withdraw", err)
			return err
		}
	}

	c.emit(&event.WithdrawalRecord{
		Ts:          nowTs,
		TransferID:  transferID,
		Account:     key,
		Market:      marketIndex,
		TokenAmount: tokenAmount,
	}, nowTs)
	c.applied("withdraw", start)
	return nil
}

// LiquidateSpot runs one liquidation step of victim by liquidator and logs
// the outcome. Later conflicting attempts re-evaluate preconditions and fail
// cleanly once margin is restored.
func (c *ClearingHouse) LiquidateSpot(liquidatorKey, victimKey ledger.AccountKey, assetMarketIndex, liabilityMarketIndex uint16, maxLiabilityTransfer uint64, nowTs int64) (risk.LiquidateSpotResult, error) {
	start := time.Now()
	victim, err := c.ledger.Account(victimKey)
	if err != nil {
		c.rejected("liquidate_spot", err)
		return risk.LiquidateSpotResult{}, err
	}
	liquidator, err := c.ledger.Account(liquidatorKey)
	if err != nil {
		c.rejected("liquidate_spot", err)
		return risk.LiquidateSpotResult{}, err
	}

	res, err := c.riskEngine.LiquidateSpot(victim, liquidator, assetMarketIndex, liabilityMarketIndex, maxLiabilityTransfer, nowTs)
	if err != nil {
		c.rejected("liquidate_spot", err)
		return risk.LiquidateSpotResult{}, err
	}

	for _, idx := range []uint16{assetMarketIndex, liabilityMarketIndex} {
		if err := c.validator.ValidateMarketAggregates(idx); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated after liquidation: %v", err))
		}
	}

	c.emit(&event.LiquidationRecord{
		Ts:            nowTs,
		RecordID:      uuid.New(),
		Account:       victimKey,
		Liquidator:    liquidatorKey,
		LiquidationID: res.LiquidationID,
		Details: event.LiquidateSpotDetails{
			AssetMarketIndex:     assetMarketIndex,
			LiabilityMarketIndex: liabilityMarketIndex,
			AssetPrice:           res.AssetPrice,
			LiabilityPrice:       res.LiabilityPrice,
			AssetTransfer:        res.AssetTransfer,
			LiabilityTransfer:    res.LiabilityTransfer,
			IfFee:                res.IfFee,
		},
	}, nowTs)

	if c.metrics != nil {
		c.metrics.LiquidationsTotal.Inc()
	}
	c.applied("liquidate_spot", start)
	return res, nil
}

// ResolveSpotBankruptcy forgives a bankrupt account's residual borrow and
// socializes the loss across the market's depositors.
func (c *ClearingHouse) ResolveSpotBankruptcy(liquidatorKey, victimKey ledger.AccountKey, marketIndex uint16, nowTs int64) (risk.BankruptcyResult, error) {
	start := time.Now()
	victim, err := c.ledger.Account(victimKey)
	if err != nil {
		c.rejected("resolve_bankruptcy", err)
		return risk.BankruptcyResult{}, err
	}
	if _, err := c.ledger.Account(liquidatorKey); err != nil {
		c.rejected("resolve_bankruptcy", err)
		return risk.BankruptcyResult{}, err
	}

	res, err := c.riskEngine.ResolveSpotBankruptcy(victim, marketIndex, nowTs)
	if err != nil {
		c.rejected("resolve_bankruptcy", err)
		return risk.BankruptcyResult{}, err
	}

	if err := c.validator.ValidateMarketAggregates(marketIndex); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after bankruptcy resolution: %v", err))
	}

	c.emit(&event.LiquidationRecord{
		Ts:            nowTs,
		RecordID:      uuid.New(),
		Account:       victimKey,
		Liquidator:    liquidatorKey,
		LiquidationID: res.LiquidationID,
		Details: event.SpotBankruptcyDetails{
			MarketIndex:                    marketIndex,
			BorrowAmount:                   res.BorrowAmount,
			CumulativeDepositInterestDelta: res.CumulativeDepositInterestDelta,
		},
	}, nowTs)

	if c.metrics != nil {
		c.metrics.BankruptciesTotal.Inc()
		c.metrics.SocializedLossTotal.Add(float64(res.BorrowAmount))
	}
	c.applied("resolve_bankruptcy", start)
	return res, nil
}

// emit seals an envelope over the record, chains the state hash and hands the
// output to the persistence and projection workers. The persist send blocks
// so no applied operation is ever lost; the projection send drops on a full
// channel since projections rebuild from the log.
func (c *ClearingHouse) emit(rec event.Record, ts int64) {
	digest := c.computeStateDigest(rec)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, digest)

	envelope := &event.Envelope{
		Sequence:    c.sequence,
		RecordType:  rec.RecordType(),
		Key:         rec.Key(),
		MarketIndex: rec.MarketIndex(),
		Ts:          ts,
		Payload:     rec,
		StateHash:   stateHash,
		PrevHash:    prevHash,
	}
	c.sequence++

	out := CoreOutput{Envelope: envelope}

	if c.persistChan != nil {
		c.persistChan <- out
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- out:
		default:
			// Dropped; projections catch up from the event log.
		}
	}

	if c.metrics != nil {
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}
}

// computeStateDigest builds canonical bytes over the record identity and the
// affected market's aggregates.
func (c *ClearingHouse) computeStateDigest(rec event.Record) []byte {
	digest := make([]byte, 0, 128)

	key := rec.Key()
	digest = append(digest, byte(len(key)))
	digest = append(digest, []byte(key)...)

	markets := c.ledger.Markets()
	if idx := rec.MarketIndex(); idx != nil {
		if m, err := c.ledger.Market(*idx); err == nil {
			markets = []*ledger.Market{m}
		}
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].MarketIndex < markets[j].MarketIndex
	})
	for _, m := range markets {
		digest = appendUint64LE(digest, uint64(m.MarketIndex))
		digest = appendUint64LE(digest, m.DepositBalanceScaled)
		digest = appendUint64LE(digest, m.BorrowBalanceScaled)
		digest = appendUint64LE(digest, m.CumulativeDepositInterest)
		digest = appendUint64LE(digest, m.CumulativeBorrowInterest)
	}
	return digest
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (c *ClearingHouse) applied(op string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.OpsApplied.WithLabelValues(op).Inc()
	c.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (c *ClearingHouse) rejected(op string, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.OpsRejected.WithLabelValues(op, reasonLabel(err)).Inc()
}

func reasonLabel(err error) string {
	switch {
	case err == nil:
		return "unknown"
	default:
		return errClass(err)
	}
}

func errClass(err error) string {
	switch {
	case isAny(err, risk.ErrNotLiquidatable, risk.ErrNotBankrupt):
		return "precondition_failed"
	case isAny(err, risk.ErrInsufficientLiquidatorCollateral, orders.ErrReplayStoreFull):
		return "resource_exhausted"
	case isAny(err, orders.ErrInvalidOrderParams, orders.ErrAuctionParamsRequired, orders.ErrUnsupportedOrderType):
		return "invalid_order_params"
	case isAny(err, oracle.ErrStalePrice, oracle.ErrNoPrice):
		return "stale_oracle"
	case isAny(err, orders.ErrReplayDetected):
		return "replay_detected"
	default:
		return "other"
	}
}
