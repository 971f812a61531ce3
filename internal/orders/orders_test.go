package orders_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"clearinghouse/internal/ledger"
	"clearinghouse/internal/orders"
)

// --- Test helpers ---

func testKey() ledger.AccountKey {
	return ledger.AccountKey{AccountID: uuid.New(), SubAccountID: 0}
}

func marketOrderParams(dir orders.Direction, base uint64) orders.OrderParams {
	start := int64(40_000_000)
	end := int64(41_000_000)
	duration := uint16(10)
	return orders.OrderParams{
		MarketIndex:       0,
		MarketType:        orders.MarketTypePerp,
		Type:              orders.OrderTypeMarket,
		Direction:         dir,
		BaseAssetAmount:   base,
		AuctionStartPrice: &start,
		AuctionEndPrice:   &end,
		AuctionDuration:   &duration,
	}
}

func limitOrder(owner ledger.AccountKey, orderID uint32, dir orders.Direction, price, base uint64) *orders.Order {
	return &orders.Order{
		OrderID:         orderID,
		Owner:           owner,
		MarketIndex:     0,
		MarketType:      orders.MarketTypePerp,
		Type:            orders.OrderTypeLimit,
		Direction:       dir,
		BaseAssetAmount: base,
		Price:           price,
		Status:          orders.OrderStatusOpen,
	}
}

// ============================================================================
// Test: order params validation
// ============================================================================

func TestOrderParamsValidate_ZeroBaseRejected(t *testing.T) {
	p := marketOrderParams(orders.DirectionLong, 0)
	if err := p.Validate(); !errors.Is(err, orders.ErrInvalidOrderParams) {
		t.Errorf("got %v, want ErrInvalidOrderParams", err)
	}
}

func TestOrderParamsValidate_PartialAuctionRejected(t *testing.T) {
	start := int64(40_000_000)
	end := int64(41_000_000)
	duration := uint16(10)

	cases := []struct {
		name   string
		mutate func(*orders.OrderParams)
	}{
		{"missing start", func(p *orders.OrderParams) { p.AuctionStartPrice = nil }},
		{"missing end", func(p *orders.OrderParams) { p.AuctionEndPrice = nil }},
		{"missing duration", func(p *orders.OrderParams) { p.AuctionDuration = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := orders.OrderParams{
				MarketType:        orders.MarketTypePerp,
				Type:              orders.OrderTypeMarket,
				Direction:         orders.DirectionLong,
				BaseAssetAmount:   1_000_000_000,
				AuctionStartPrice: &start,
				AuctionEndPrice:   &end,
				AuctionDuration:   &duration,
			}
			tc.mutate(&p)
			if err := p.Validate(); !errors.Is(err, orders.ErrAuctionParamsRequired) {
				t.Errorf("got %v, want ErrAuctionParamsRequired", err)
			}
		})
	}
}

func TestOrderParamsValidate_NoAuctionFieldsAccepted(t *testing.T) {
	p := orders.OrderParams{
		MarketType:      orders.MarketTypePerp,
		Type:            orders.OrderTypeLimit,
		Direction:       orders.DirectionShort,
		BaseAssetAmount: 1_000_000_000,
		Price:           40_000_000,
	}
	if err := p.Validate(); err != nil {
		t.Errorf("limit order without auction fields: %v", err)
	}
}

func TestOrderParamsBuild_ExtremeAuctionBoundsKeptVerbatim(t *testing.T) {
	start := int64(1)
	end := int64(1 << 60)
	duration := uint16(65535)
	p := orders.OrderParams{
		MarketType:        orders.MarketTypePerp,
		Type:              orders.OrderTypeMarket,
		Direction:         orders.DirectionLong,
		BaseAssetAmount:   1_000_000_000,
		AuctionStartPrice: &start,
		AuctionEndPrice:   &end,
		AuctionDuration:   &duration,
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	o := p.Build(testKey(), 1, 100)
	if o.AuctionStartPrice != 1 || o.AuctionEndPrice != 1<<60 || o.AuctionDuration != 65535 {
		t.Errorf("bounds were altered: start=%d end=%d duration=%d",
			o.AuctionStartPrice, o.AuctionEndPrice, o.AuctionDuration)
	}
}

// ============================================================================
// Test: auction pricing
// ============================================================================

func TestAuctionPrice_InterpolatesFromOrderSlot(t *testing.T) {
	p := marketOrderParams(orders.DirectionLong, 1_000_000_000)
	o := p.Build(testKey(), 1, 100)

	cases := []struct {
		tick uint64
		want uint64
	}{
		{100, 40_000_000},
		{105, 40_500_000},
		{110, 41_000_000},
	}
	for _, tc := range cases {
		got, ok := orders.AuctionPrice(o, tc.tick)
		if !ok {
			t.Fatalf("tick %d: no price", tc.tick)
		}
		if got != tc.want {
			t.Errorf("tick %d: got %d, want %d", tc.tick, got, tc.want)
		}
	}
}

func TestAuctionPrice_AfterWindowFallsBackToLimit(t *testing.T) {
	p := marketOrderParams(orders.DirectionLong, 1_000_000_000)
	p.Price = 42_000_000
	o := p.Build(testKey(), 1, 100)

	got, ok := orders.AuctionPrice(o, 200)
	if !ok || got != 42_000_000 {
		t.Errorf("got %d ok=%v, want limit price 42000000", got, ok)
	}
}

func TestAuctionPrice_AfterWindowNoLimitIsUnpriced(t *testing.T) {
	p := marketOrderParams(orders.DirectionLong, 1_000_000_000)
	o := p.Build(testKey(), 1, 100)
	if _, ok := orders.AuctionPrice(o, 200); ok {
		t.Error("expired auction without a limit price should not price")
	}
}

func TestAuctionPrice_DescendingAuction(t *testing.T) {
	start := int64(50_000_000)
	end := int64(48_000_000)
	duration := uint16(4)
	p := orders.OrderParams{
		MarketType:        orders.MarketTypePerp,
		Type:              orders.OrderTypeMarket,
		Direction:         orders.DirectionShort,
		BaseAssetAmount:   1_000_000_000,
		AuctionStartPrice: &start,
		AuctionEndPrice:   &end,
		AuctionDuration:   &duration,
	}
	o := p.Build(testKey(), 1, 0)

	got, _ := orders.AuctionPrice(o, 2)
	if got != 49_000_000 {
		t.Errorf("got %d, want 49000000", got)
	}
}

func TestCrosses(t *testing.T) {
	if !orders.Crosses(orders.DirectionLong, 41_000_000, 40_000_000) {
		t.Error("long taker above maker price should cross")
	}
	if orders.Crosses(orders.DirectionLong, 39_000_000, 40_000_000) {
		t.Error("long taker below maker price should not cross")
	}
	if !orders.Crosses(orders.DirectionShort, 39_000_000, 40_000_000) {
		t.Error("short taker below maker price should cross")
	}
	if orders.Crosses(orders.DirectionShort, 41_000_000, 40_000_000) {
		t.Error("short taker above maker price should not cross")
	}
}

// ============================================================================
// Test: replay store
// ============================================================================

func TestReplayStore_DuplicateHashRejected(t *testing.T) {
	s := orders.NewReplayStore()
	if err := s.Insert("h1", 220, 100); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.Insert("h1", 220, 100); !errors.Is(err, orders.ErrReplayDetected) {
		t.Errorf("got %v, want ErrReplayDetected", err)
	}
}

func TestReplayStore_FullWithLiveEntries(t *testing.T) {
	s := orders.NewReplayStore()
	for i := 0; i < orders.StoreCapacity; i++ {
		if err := s.Insert(fmt.Sprintf("h%d", i), 220, 100); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := s.Insert("overflow", 220, 100); !errors.Is(err, orders.ErrReplayStoreFull) {
		t.Errorf("got %v, want ErrReplayStoreFull", err)
	}
}

func TestReplayStore_ExpiredSlotIsReclaimed(t *testing.T) {
	s := orders.NewReplayStore()
	for i := 0; i < orders.StoreCapacity; i++ {
		if err := s.Insert(fmt.Sprintf("h%d", i), 220, 100); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	// Past every entry's maxSlot the store accepts again.
	if err := s.Insert("fresh", 400, 300); err != nil {
		t.Errorf("insert after expiry: %v", err)
	}
	if s.Live(300) != 1 {
		t.Errorf("live entries: got %d, want 1", s.Live(300))
	}
}

func TestReplayStore_ExpiredHashStillDetectedUntilEvicted(t *testing.T) {
	s := orders.NewReplayStore()
	if err := s.Insert("h1", 120, 100); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Entry expired but not yet overwritten: the hash is still present.
	if err := s.Insert("h1", 400, 300); !errors.Is(err, orders.ErrReplayDetected) {
		t.Errorf("got %v, want ErrReplayDetected", err)
	}
}

func TestReplayStore_EntriesRoundTrip(t *testing.T) {
	s := orders.NewReplayStore()
	s.Insert("a", 150, 100)
	s.Insert("b", 160, 100)

	restored := orders.NewReplayStore()
	restored.Restore(s.Entries())

	if !restored.Contains("a") || !restored.Contains("b") {
		t.Error("restored store lost entries")
	}
	if restored.Live(100) != 2 {
		t.Errorf("live after restore: got %d, want 2", restored.Live(100))
	}
}

// ============================================================================
// Test: book
// ============================================================================

func TestBook_BestCounterForLongTakerIsLowestAsk(t *testing.T) {
	b := orders.NewBook(0)
	maker := testKey()
	b.Add(limitOrder(maker, 1, orders.DirectionShort, 41_000_000, 1_000_000_000))
	b.Add(limitOrder(maker, 2, orders.DirectionShort, 40_000_000, 1_000_000_000))
	b.Add(limitOrder(maker, 3, orders.DirectionShort, 42_000_000, 1_000_000_000))

	best, ok := b.BestCounter(orders.DirectionLong)
	if !ok {
		t.Fatal("expected a counter order")
	}
	if best.Price != 40_000_000 {
		t.Errorf("best ask: got %d, want 40000000", best.Price)
	}
}

func TestBook_BestCounterForShortTakerIsHighestBid(t *testing.T) {
	b := orders.NewBook(0)
	maker := testKey()
	b.Add(limitOrder(maker, 1, orders.DirectionLong, 39_000_000, 1_000_000_000))
	b.Add(limitOrder(maker, 2, orders.DirectionLong, 40_000_000, 1_000_000_000))

	best, ok := b.BestCounter(orders.DirectionShort)
	if !ok {
		t.Fatal("expected a counter order")
	}
	if best.Price != 40_000_000 {
		t.Errorf("best bid: got %d, want 40000000", best.Price)
	}
}

func TestBook_RemoveClearsLookup(t *testing.T) {
	b := orders.NewBook(0)
	maker := testKey()
	b.Add(limitOrder(maker, 1, orders.DirectionLong, 39_000_000, 1_000_000_000))

	ref := orders.OrderRef{Owner: maker, OrderID: 1}
	if _, ok := b.Remove(ref); !ok {
		t.Fatal("remove should find the order")
	}
	if _, ok := b.Get(ref); ok {
		t.Error("removed order still visible")
	}
	if b.Len() != 0 {
		t.Errorf("book length: got %d, want 0", b.Len())
	}
}

func TestBook_OrdersOfFiltersByOwner(t *testing.T) {
	b := orders.NewBook(0)
	alice := testKey()
	bob := testKey()
	b.Add(limitOrder(alice, 1, orders.DirectionLong, 39_000_000, 1_000_000_000))
	b.Add(limitOrder(bob, 1, orders.DirectionShort, 41_000_000, 1_000_000_000))
	b.Add(limitOrder(alice, 2, orders.DirectionShort, 42_000_000, 1_000_000_000))

	mine := b.OrdersOf(alice)
	if len(mine) != 2 {
		t.Fatalf("got %d orders, want 2", len(mine))
	}
	for _, o := range mine {
		if o.Owner != alice {
			t.Errorf("foreign order in result: %+v", o)
		}
	}
}
