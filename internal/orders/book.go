package orders

import (
	"github.com/google/btree"

	"clearinghouse/internal/ledger"
)

type priceLevel struct {
	price  uint64
	orders []*Order
}

type bidItem struct {
	level *priceLevel
}

func (b *bidItem) Less(than btree.Item) bool {
	other := than.(*bidItem)
	return b.level.price > other.level.price
}

type askItem struct {
	level *priceLevel
}

func (a *askItem) Less(than btree.Item) bool {
	other := than.(*askItem)
	return a.level.price < other.level.price
}

// OrderRef addresses an order globally. Order IDs are scoped per account, so
// the owner key is part of the identity.
type OrderRef struct {
	Owner   ledger.AccountKey
	OrderID uint32
}

// Book holds the resting orders of one market as two price-ordered trees plus
// an identity index. It is owned by the engine goroutine and is not safe for
// concurrent use.
type Book struct {
	marketIndex uint16
	bids        *btree.BTree
	asks        *btree.BTree
	orders      map[OrderRef]*Order
}

func NewBook(marketIndex uint16) *Book {
	return &Book{
		marketIndex: marketIndex,
		bids:        btree.New(32),
		asks:        btree.New(32),
		orders:      make(map[OrderRef]*Order),
	}
}

func (b *Book) Len() int {
	return len(b.orders)
}

func (b *Book) Get(ref OrderRef) (*Order, bool) {
	o, ok := b.orders[ref]
	return o, ok
}

func (b *Book) Add(o *Order) {
	b.orders[OrderRef{Owner: o.Owner, OrderID: o.OrderID}] = o

	tree, item := b.lookupItem(o.Direction, o.Price)
	var level *priceLevel
	if existing := tree.Get(item); existing != nil {
		level = levelOf(existing)
	} else {
		level = &priceLevel{price: o.Price}
		if o.Direction == DirectionLong {
			tree.ReplaceOrInsert(&bidItem{level: level})
		} else {
			tree.ReplaceOrInsert(&askItem{level: level})
		}
	}
	level.orders = append(level.orders, o)
}

func (b *Book) Remove(ref OrderRef) (*Order, bool) {
	o, ok := b.orders[ref]
	if !ok {
		return nil, false
	}

	tree, item := b.lookupItem(o.Direction, o.Price)
	if existing := tree.Get(item); existing != nil {
		level := levelOf(existing)
		for i, resting := range level.orders {
			if resting.Owner == o.Owner && resting.OrderID == o.OrderID {
				level.orders = append(level.orders[:i], level.orders[i+1:]...)
				break
			}
		}
		if len(level.orders) == 0 {
			tree.Delete(item)
		}
	}

	delete(b.orders, ref)
	return o, true
}

// BestCounter returns the best-priced open resting order on the side opposite
// takerDirection, in price-time priority.
func (b *Book) BestCounter(takerDirection Direction) (*Order, bool) {
	tree := b.asks
	if takerDirection == DirectionShort {
		tree = b.bids
	}
	var best *Order
	tree.Ascend(func(item btree.Item) bool {
		level := levelOf(item)
		for _, o := range level.orders {
			if o.IsOpen() && o.RemainingBase() > 0 {
				best = o
				return false
			}
		}
		return true
	})
	return best, best != nil
}

// OrdersOf returns every resting order owned by key, used when an account's
// order store is torn down and its orders are invalidated.
func (b *Book) OrdersOf(key ledger.AccountKey) []*Order {
	var out []*Order
	for ref, o := range b.orders {
		if ref.Owner == key {
			out = append(out, o)
		}
	}
	return out
}

func (b *Book) lookupItem(d Direction, price uint64) (*btree.BTree, btree.Item) {
	if d == DirectionLong {
		return b.bids, &bidItem{level: &priceLevel{price: price}}
	}
	return b.asks, &askItem{level: &priceLevel{price: price}}
}

func levelOf(item btree.Item) *priceLevel {
	switch it := item.(type) {
	case *bidItem:
		return it.level
	case *askItem:
		return it.level
	default:
		panic("FATAL: unknown book item type")
	}
}
