package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clearinghouse/internal/event"
	"clearinghouse/internal/fpmath"
	"clearinghouse/internal/ledger"
	"clearinghouse/internal/oracle"
	"clearinghouse/internal/orders"
	"clearinghouse/internal/signing"
)

var (
	ErrOrderStoreExists = errors.New("order store already initialized")
	ErrOrdersDontCross  = errors.New("taker price does not cross maker price")
	ErrMarketTypeUnsupported = errors.New("order matching only settles perp markets")
)

// replayRetentionSlots is how long past its sequence number a signed order's
// replay entry stays live before its ring slot may be evicted.
const replayRetentionSlots = 120

// PlaceAndMakeResult reports one atomic maker/taker cross.
type PlaceAndMakeResult struct {
	TakerOrderID uint32
	MakerOrderID uint32
	FillPrice    uint64
	BaseFilled   uint64
	Hash         string
}

// InitializeOrderStore creates the fixed-capacity replay-protection ring for
// an account. It must exist before the account can place signed taker orders.
func (c *ClearingHouse) InitializeOrderStore(key ledger.AccountKey) error {
	if _, err := c.ledger.Account(key); err != nil {
		c.rejected("initialize_order_store", err)
		return err
	}
	if _, ok := c.replayStores[key]; ok {
		c.rejected("initialize_order_store", ErrOrderStoreExists)
		return ErrOrderStoreExists
	}
	c.replayStores[key] = orders.NewReplayStore()
	return nil
}

// DeleteOrderStore tears down an account's replay store and cancels any
// still-resting orders that originated from signed messages tied to it.
func (c *ClearingHouse) DeleteOrderStore(key ledger.AccountKey, nowTick int64) error {
	if _, ok := c.replayStores[key]; !ok {
		c.rejected("delete_order_store", orders.ErrStoreNotInitialized)
		return orders.ErrStoreNotInitialized
	}
	delete(c.replayStores, key)

	for _, book := range c.books {
		for _, o := range book.OrdersOf(key) {
			ref := orders.OrderRef{Owner: key, OrderID: o.OrderID}
			if !c.signedOrders[ref] {
				continue
			}
			c.cancelResting(book, ref, o, nowTick)
		}
	}
	return nil
}

// PlaceOrder places a resting order for an account, typically the maker leg
// ahead of discovery by takers.
func (c *ClearingHouse) PlaceOrder(key ledger.AccountKey, params orders.OrderParams, nowTick int64) (uint32, error) {
	start := time.Now()
	a, err := c.ledger.Account(key)
	if err != nil {
		c.rejected("place_order", err)
		return 0, err
	}
	book, ok := c.books[params.MarketIndex]
	if !ok {
		c.rejected("place_order", ledger.ErrMarketNotFound)
		return 0, fmt.Errorf("%w: index %d", ledger.ErrMarketNotFound, params.MarketIndex)
	}
	if err := params.Validate(); err != nil {
		c.rejected("place_order", err)
		return 0, err
	}

	o := params.Build(key, a.TakeOrderID(), uint64(nowTick))
	book.Add(o)

	c.emit(&event.OrderActionRecord{
		Ts:           nowTick,
		Action:       event.OrderActionPlace,
		FillID:       uuid.New(),
		Market:       o.MarketIndex,
		Taker:        &key,
		TakerOrderID: o.OrderID,
	}, nowTick)
	c.applied("place_order", start)
	return o.OrderID, nil
}

// CancelOrder removes an account's resting order from the book.
func (c *ClearingHouse) CancelOrder(key ledger.AccountKey, marketIndex uint16, orderID uint32, nowTick int64) error {
	book, ok := c.books[marketIndex]
	if !ok {
		c.rejected("cancel_order", ledger.ErrMarketNotFound)
		return fmt.Errorf("%w: index %d", ledger.ErrMarketNotFound, marketIndex)
	}
	ref := orders.OrderRef{Owner: key, OrderID: orderID}
	o, ok := book.Get(ref)
	if !ok {
		c.rejected("cancel_order", orders.ErrOrderNotFound)
		return orders.ErrOrderNotFound
	}
	c.cancelResting(book, ref, o, nowTick)
	return nil
}

// PlaceSignedTakerOrder is the replay-guarded path: it verifies the message
// signature, persists the signature digest in the account's replay ring, then
// places the taker order as a resting order whose slot is the message's
// embedded sequence number.
func (c *ClearingHouse) PlaceSignedTakerOrder(takerKey ledger.AccountKey, msg *signing.SignedOrderMessage, signature []byte, nowTick int64) (uint32, error) {
	start := time.Now()
	a, err := c.ledger.Account(takerKey)
	if err != nil {
		c.rejected("place_signed_taker_order", err)
		return 0, err
	}
	if !c.verifier.Verify(msg.Encode(), signature, a.Authority) {
		c.rejected("place_signed_taker_order", signing.ErrInvalidSignature)
		return 0, signing.ErrInvalidSignature
	}
	store, ok := c.replayStores[takerKey]
	if !ok {
		c.rejected("place_signed_taker_order", orders.ErrStoreNotInitialized)
		return 0, orders.ErrStoreNotInitialized
	}
	book, ok := c.books[msg.Params.MarketIndex]
	if !ok {
		c.rejected("place_signed_taker_order", ledger.ErrMarketNotFound)
		return 0, fmt.Errorf("%w: index %d", ledger.ErrMarketNotFound, msg.Params.MarketIndex)
	}
	if err := msg.Params.Validate(); err != nil {
		c.rejected("place_signed_taker_order", err)
		return 0, err
	}

	hash := signing.DigestSignature(signature)
	if err := store.Insert(hash, msg.SequenceNumber+replayRetentionSlots, uint64(nowTick)); err != nil {
		if c.metrics != nil && errors.Is(err, orders.ErrReplayDetected) {
			c.metrics.ReplayRejectedTotal.Inc()
		}
		c.rejected("place_signed_taker_order", err)
		return 0, err
	}

	o := msg.Params.Build(takerKey, a.TakeOrderID(), msg.SequenceNumber)
	book.Add(o)

	ref := orders.OrderRef{Owner: takerKey, OrderID: o.OrderID}
	c.signedOrders[ref] = true
	c.stashTriggers(ref, msg)

	c.emit(&event.SignedOrderRecord{
		Ts:      nowTick,
		Account: takerKey,
		Hash:    hash,
		OrderID: o.OrderID,
		Market:  o.MarketIndex,
	}, nowTick)
	c.applied("place_signed_taker_order", start)
	return o.OrderID, nil
}

// PlaceAndMake atomically places the maker's resting limit order and crosses
// it against the signed taker order. The signature is verified but its digest
// is not persisted: replay protection belongs to PlaceSignedTakerOrder alone,
// so replaying an identical message here yields a second independent fill.
func (c *ClearingHouse) PlaceAndMake(takerKey ledger.AccountKey, msg *signing.SignedOrderMessage, signature []byte, makerKey ledger.AccountKey, makerParams orders.OrderParams, nowTick int64) (PlaceAndMakeResult, error) {
	start := time.Now()
	taker, err := c.ledger.Account(takerKey)
	if err != nil {
		c.rejected("place_and_make", err)
		return PlaceAndMakeResult{}, err
	}
	maker, err := c.ledger.Account(makerKey)
	if err != nil {
		c.rejected("place_and_make", err)
		return PlaceAndMakeResult{}, err
	}
	if !c.verifier.Verify(msg.Encode(), signature, taker.Authority) {
		c.rejected("place_and_make", signing.ErrInvalidSignature)
		return PlaceAndMakeResult{}, signing.ErrInvalidSignature
	}
	if msg.Params.Type != orders.OrderTypeMarket {
		c.rejected("place_and_make", orders.ErrUnsupportedOrderType)
		return PlaceAndMakeResult{}, orders.ErrUnsupportedOrderType
	}
	if err := msg.Params.Validate(); err != nil {
		c.rejected("place_and_make", err)
		return PlaceAndMakeResult{}, err
	}
	if err := makerParams.Validate(); err != nil {
		c.rejected("place_and_make", err)
		return PlaceAndMakeResult{}, err
	}
	if msg.Params.MarketType != orders.MarketTypePerp || makerParams.MarketType != orders.MarketTypePerp {
		c.rejected("place_and_make", ErrMarketTypeUnsupported)
		return PlaceAndMakeResult{}, ErrMarketTypeUnsupported
	}
	book, ok := c.books[msg.Params.MarketIndex]
	if !ok {
		c.rejected("place_and_make", ledger.ErrMarketNotFound)
		return PlaceAndMakeResult{}, fmt.Errorf("%w: index %d", ledger.ErrMarketNotFound, msg.Params.MarketIndex)
	}

	makerOrder := makerParams.Build(makerKey, maker.TakeOrderID(), uint64(nowTick))
	takerOrder := msg.Params.Build(takerKey, taker.TakeOrderID(), msg.SequenceNumber)

	takerPrice, ok := orders.AuctionPrice(takerOrder, uint64(nowTick))
	if !ok || !orders.Crosses(takerOrder.Direction, takerPrice, makerOrder.Price) {
		c.rejected("place_and_make", ErrOrdersDontCross)
		return PlaceAndMakeResult{}, ErrOrdersDontCross
	}
	if takerOrder.Direction == makerOrder.Direction {
		c.rejected("place_and_make", orders.ErrInvalidOrderParams)
		return PlaceAndMakeResult{}, fmt.Errorf("%w: maker and taker on the same side", orders.ErrInvalidOrderParams)
	}

	// Fills execute at the maker's resting price.
	fillBase := takerOrder.RemainingBase()
	if makerOrder.RemainingBase() < fillBase {
		fillBase = makerOrder.RemainingBase()
	}

	c.settleFill(taker, maker, takerOrder, makerOrder, makerOrder.Price, fillBase, nowTick)

	// The maker's residual rests in the book; the taker's market order does
	// not outlive the atomic step.
	if makerOrder.RemainingBase() > 0 {
		book.Add(makerOrder)
	} else {
		makerOrder.Status = orders.OrderStatusFilled
	}
	if takerOrder.RemainingBase() == 0 {
		takerOrder.Status = orders.OrderStatusFilled
	} else {
		takerOrder.Status = orders.OrderStatusCanceled
	}

	c.createTriggerOrders(taker, takerOrder, msg.TakeProfitParams, msg.StopLossParams, book, nowTick)

	hash := signing.DigestSignature(signature)
	c.emit(&event.SignedOrderRecord{
		Ts:      nowTick,
		Account: takerKey,
		Hash:    hash,
		OrderID: takerOrder.OrderID,
		Market:  takerOrder.MarketIndex,
	}, nowTick)

	if c.metrics != nil {
		c.metrics.FillsTotal.Inc()
	}
	c.applied("place_and_make", start)
	return PlaceAndMakeResult{
		TakerOrderID: takerOrder.OrderID,
		MakerOrderID: makerOrder.OrderID,
		FillPrice:    makerOrder.Price,
		BaseFilled:   fillBase,
		Hash:         hash,
	}, nil
}

// FillRestingOrder crosses a maker's new limit order against a resting taker
// order placed earlier through the signed path. The fill price is the maker's
// limit, bounded by the taker's auction price at the current tick.
func (c *ClearingHouse) FillRestingOrder(makerKey ledger.AccountKey, makerParams orders.OrderParams, takerRef orders.OrderRef, nowTick int64) (PlaceAndMakeResult, error) {
	start := time.Now()
	maker, err := c.ledger.Account(makerKey)
	if err != nil {
		c.rejected("fill_resting_order", err)
		return PlaceAndMakeResult{}, err
	}
	taker, err := c.ledger.Account(takerRef.Owner)
	if err != nil {
		c.rejected("fill_resting_order", err)
		return PlaceAndMakeResult{}, err
	}
	if err := makerParams.Validate(); err != nil {
		c.rejected("fill_resting_order", err)
		return PlaceAndMakeResult{}, err
	}
	book, ok := c.books[makerParams.MarketIndex]
	if !ok {
		c.rejected("fill_resting_order", ledger.ErrMarketNotFound)
		return PlaceAndMakeResult{}, fmt.Errorf("%w: index %d", ledger.ErrMarketNotFound, makerParams.MarketIndex)
	}
	takerOrder, ok := book.Get(takerRef)
	if !ok || !takerOrder.IsOpen() {
		c.rejected("fill_resting_order", orders.ErrOrderNotFound)
		return PlaceAndMakeResult{}, orders.ErrOrderNotFound
	}
	if makerParams.MarketType != orders.MarketTypePerp {
		c.rejected("fill_resting_order", ErrMarketTypeUnsupported)
		return PlaceAndMakeResult{}, ErrMarketTypeUnsupported
	}

	if takerOrder.Type == orders.OrderTypeTriggerLimit {
		m, err := c.ledger.Market(takerOrder.MarketIndex)
		if err != nil {
			c.rejected("fill_resting_order", err)
			return PlaceAndMakeResult{}, err
		}
		pd, err := oracle.FreshPrice(c.oracleFeed, m.OracleKey, nowTick, c.maxOracleAge)
		if err != nil {
			c.rejected("fill_resting_order", err)
			return PlaceAndMakeResult{}, err
		}
		if !takerOrder.Triggered(uint64(pd.Price)) {
			c.rejected("fill_resting_order", ErrOrdersDontCross)
			return PlaceAndMakeResult{}, fmt.Errorf("%w: trigger condition not met", ErrOrdersDontCross)
		}
	}

	makerOrder := makerParams.Build(makerKey, maker.TakeOrderID(), uint64(nowTick))
	takerPrice, priced := orders.AuctionPrice(takerOrder, uint64(nowTick))
	if !priced || !orders.Crosses(takerOrder.Direction, takerPrice, makerOrder.Price) {
		c.rejected("fill_resting_order", ErrOrdersDontCross)
		return PlaceAndMakeResult{}, ErrOrdersDontCross
	}
	if takerOrder.Direction == makerOrder.Direction {
		c.rejected("fill_resting_order", orders.ErrInvalidOrderParams)
		return PlaceAndMakeResult{}, fmt.Errorf("%w: maker and taker on the same side", orders.ErrInvalidOrderParams)
	}

	fillBase := takerOrder.RemainingBase()
	if makerOrder.RemainingBase() < fillBase {
		fillBase = makerOrder.RemainingBase()
	}

	firstFill := takerOrder.BaseFilled == 0
	c.settleFill(taker, maker, takerOrder, makerOrder, makerOrder.Price, fillBase, nowTick)

	if takerOrder.RemainingBase() == 0 {
		takerOrder.Status = orders.OrderStatusFilled
		book.Remove(takerRef)
	}
	if makerOrder.RemainingBase() > 0 {
		book.Add(makerOrder)
	} else {
		makerOrder.Status = orders.OrderStatusFilled
	}

	if firstFill {
		if pend, ok := c.pendingTriggers[takerRef]; ok {
			c.createTriggerOrders(taker, takerOrder, pend.takeProfit, pend.stopLoss, book, nowTick)
			delete(c.pendingTriggers, takerRef)
		}
	}

	if c.metrics != nil {
		c.metrics.FillsTotal.Inc()
	}
	c.applied("fill_resting_order", start)
	return PlaceAndMakeResult{
		TakerOrderID: takerOrder.OrderID,
		MakerOrderID: makerOrder.OrderID,
		FillPrice:    makerOrder.Price,
		BaseFilled:   fillBase,
	}, nil
}

// OpenOrders lists an account's open resting orders across all markets.
func (c *ClearingHouse) OpenOrders(key ledger.AccountKey) []*orders.Order {
	var out []*orders.Order
	for _, book := range c.books {
		for _, o := range book.OrdersOf(key) {
			if o.IsOpen() {
				out = append(out, o)
			}
		}
	}
	return out
}

// settleFill applies symmetric perp position deltas to both sides and emits
// one fill record per counterparty.
func (c *ClearingHouse) settleFill(taker, maker *ledger.Account, takerOrder, makerOrder *orders.Order, fillPrice, baseAmount uint64, nowTick int64) {
	quote := fpmath.BaseToQuote(baseAmount, int64(fillPrice))

	takerPos := taker.EnsurePerpPosition(takerOrder.MarketIndex)
	makerPos := maker.EnsurePerpPosition(makerOrder.MarketIndex)

	if takerOrder.Direction == orders.DirectionLong {
		takerPos.BaseAssetAmount += int64(baseAmount)
		takerPos.QuoteAssetAmount -= int64(quote)
		makerPos.BaseAssetAmount -= int64(baseAmount)
		makerPos.QuoteAssetAmount += int64(quote)
	} else {
		takerPos.BaseAssetAmount -= int64(baseAmount)
		takerPos.QuoteAssetAmount += int64(quote)
		makerPos.BaseAssetAmount += int64(baseAmount)
		makerPos.QuoteAssetAmount -= int64(quote)
	}

	takerOrder.BaseFilled += baseAmount
	makerOrder.BaseFilled += baseAmount

	takerKey, makerKey := taker.Key, maker.Key
	c.emit(&event.OrderActionRecord{
		Ts:           nowTick,
		Action:       event.OrderActionFill,
		FillID:       uuid.New(),
		Market:       takerOrder.MarketIndex,
		FillPrice:    fillPrice,
		BaseFilled:   baseAmount,
		QuoteFilled:  quote,
		Taker:        &takerKey,
		TakerOrderID: takerOrder.OrderID,
	}, nowTick)
	c.emit(&event.OrderActionRecord{
		Ts:           nowTick,
		Action:       event.OrderActionFill,
		FillID:       uuid.New(),
		Market:       makerOrder.MarketIndex,
		FillPrice:    fillPrice,
		BaseFilled:   baseAmount,
		QuoteFilled:  quote,
		Maker:        &makerKey,
		MakerOrderID: makerOrder.OrderID,
	}, nowTick)
}

// createTriggerOrders materializes embedded take-profit and stop-loss params
// as resting trigger-limit orders with fresh IDs and the opposite direction
// of the parent. They stay open after the parent is fully filled.
func (c *ClearingHouse) createTriggerOrders(a *ledger.Account, parent *orders.Order, takeProfit, stopLoss *orders.TriggerParams, book *orders.Book, nowTick int64) {
	for _, tp := range []*orders.TriggerParams{takeProfit, stopLoss} {
		if tp == nil {
			continue
		}
		base := tp.BaseAssetAmount
		if base == 0 {
			base = parent.BaseAssetAmount
		}
		o := &orders.Order{
			OrderID:          a.TakeOrderID(),
			Owner:            a.Key,
			MarketIndex:      parent.MarketIndex,
			MarketType:       parent.MarketType,
			Type:             orders.OrderTypeTriggerLimit,
			Direction:        parent.Direction.Opposite(),
			BaseAssetAmount:  base,
			Price:            tp.TriggerPrice,
			TriggerPrice:     tp.TriggerPrice,
			TriggerCondition: tp.TriggerCondition,
			Slot:             uint64(nowTick),
			Status:           orders.OrderStatusOpen,
		}
		book.Add(o)

		key := a.Key
		c.emit(&event.OrderActionRecord{
			Ts:           nowTick,
			Action:       event.OrderActionPlace,
			FillID:       uuid.New(),
			Market:       o.MarketIndex,
			Taker:        &key,
			TakerOrderID: o.OrderID,
		}, nowTick)
	}
}

func (c *ClearingHouse) cancelResting(book *orders.Book, ref orders.OrderRef, o *orders.Order, nowTick int64) {
	book.Remove(ref)
	o.Status = orders.OrderStatusCanceled
	delete(c.signedOrders, ref)
	delete(c.pendingTriggers, ref)

	owner := ref.Owner
	c.emit(&event.OrderActionRecord{
		Ts:           nowTick,
		Action:       event.OrderActionCancel,
		FillID:       uuid.New(),
		Market:       o.MarketIndex,
		Taker:        &owner,
		TakerOrderID: o.OrderID,
	}, nowTick)
}

func (c *ClearingHouse) stashTriggers(ref orders.OrderRef, msg *signing.SignedOrderMessage) {
	if msg.TakeProfitParams == nil && msg.StopLossParams == nil {
		return
	}
	c.pendingTriggers[ref] = pendingTriggers{
		takeProfit: msg.TakeProfitParams,
		stopLoss:   msg.StopLossParams,
	}
}
