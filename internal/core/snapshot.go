package core

import (
	"sort"

	"clearinghouse/internal/ledger"
	"clearinghouse/internal/orders"
)

// SnapshotState is a point-in-time copy of everything the core holds in
// memory. Sequence is the last applied sequence; StateHash is the chain tip
// after that operation.
type SnapshotState struct {
	Sequence  int64
	StateHash [32]byte
	Markets   []ledger.Market
	Accounts  []AccountState
}

// AccountState captures one account together with its order-store contents.
type AccountState struct {
	Account       ledger.Account
	HasOrderStore bool
	ReplayEntries []orders.ReplayEntry
	OpenOrders    []OrderState
}

// OrderState is one resting order plus the core-side bookkeeping that does
// not live on the order itself.
type OrderState struct {
	Order        orders.Order
	SignedOrigin bool
	TakeProfit   *orders.TriggerParams
	StopLoss     *orders.TriggerParams
}

// CreateSnapshotState copies the full in-memory state. Markets, accounts and
// orders are emitted in deterministic order so snapshots of identical state
// are identical.
func (c *ClearingHouse) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:  c.sequence - 1,
		StateHash: c.hasher.GetPrevHash(),
	}

	for _, m := range c.ledger.Markets() {
		snap.Markets = append(snap.Markets, *m)
	}

	accounts := c.ledger.Accounts()
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Key.String() < accounts[j].Key.String()
	})
	for _, a := range accounts {
		as := AccountState{Account: copyAccount(a)}

		if store, ok := c.replayStores[a.Key]; ok {
			as.HasOrderStore = true
			as.ReplayEntries = store.Entries()
		}

		for _, book := range c.books {
			for _, o := range book.OrdersOf(a.Key) {
				ref := orders.OrderRef{Owner: a.Key, OrderID: o.OrderID}
				os := OrderState{Order: *o, SignedOrigin: c.signedOrders[ref]}
				if pt, ok := c.pendingTriggers[ref]; ok {
					os.TakeProfit = pt.takeProfit
					os.StopLoss = pt.stopLoss
				}
				as.OpenOrders = append(as.OpenOrders, os)
			}
		}
		sort.Slice(as.OpenOrders, func(i, j int) bool {
			if as.OpenOrders[i].Order.MarketIndex != as.OpenOrders[j].Order.MarketIndex {
				return as.OpenOrders[i].Order.MarketIndex < as.OpenOrders[j].Order.MarketIndex
			}
			return as.OpenOrders[i].Order.OrderID < as.OpenOrders[j].Order.OrderID
		})

		snap.Accounts = append(snap.Accounts, as)
	}

	return snap
}

// RestoreFromSnapshot rebuilds the in-memory state from a snapshot. Must be
// called on a freshly constructed core before any operation is applied.
func (c *ClearingHouse) RestoreFromSnapshot(snap *SnapshotState) error {
	for i := range snap.Markets {
		m := snap.Markets[i]
		if err := c.InitializeMarket(&m); err != nil {
			return err
		}
	}

	for i := range snap.Accounts {
		as := &snap.Accounts[i]
		key := as.Account.Key

		a, err := c.ledger.InitializeAccount(key, as.Account.Authority)
		if err != nil {
			return err
		}
		for _, p := range as.Account.SpotPositions {
			cp := *p
			a.SpotPositions = append(a.SpotPositions, &cp)
		}
		for _, p := range as.Account.PerpPositions {
			cp := *p
			a.PerpPositions = append(a.PerpPositions, &cp)
		}
		a.IsBeingLiquidated = as.Account.IsBeingLiquidated
		a.IsBankrupt = as.Account.IsBankrupt
		a.NextLiquidationID = as.Account.NextLiquidationID
		a.NextOrderID = as.Account.NextOrderID

		if as.HasOrderStore {
			store := orders.NewReplayStore()
			store.Restore(as.ReplayEntries)
			c.replayStores[key] = store
		}

		for j := range as.OpenOrders {
			os := &as.OpenOrders[j]
			o := os.Order
			book, ok := c.books[o.MarketIndex]
			if !ok {
				return ledger.ErrMarketNotFound
			}
			book.Add(&o)
			ref := orders.OrderRef{Owner: key, OrderID: o.OrderID}
			if os.SignedOrigin {
				c.signedOrders[ref] = true
			}
			if os.TakeProfit != nil || os.StopLoss != nil {
				c.pendingTriggers[ref] = pendingTriggers{
					takeProfit: os.TakeProfit,
					stopLoss:   os.StopLoss,
				}
			}
		}
	}

	c.sequence = snap.Sequence + 1
	c.hasher.Restore(snap.StateHash)
	return nil
}

func copyAccount(a *ledger.Account) ledger.Account {
	cp := *a
	cp.SpotPositions = nil
	cp.PerpPositions = nil
	for _, p := range a.SpotPositions {
		pp := *p
		cp.SpotPositions = append(cp.SpotPositions, &pp)
	}
	for _, p := range a.PerpPositions {
		pp := *p
		cp.PerpPositions = append(cp.PerpPositions, &pp)
	}
	return cp
}

// GetStateHash returns the current chain tip.
func (c *ClearingHouse) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}
