package orders

import (
	"errors"

	"clearinghouse/internal/ledger"
)

var (
	ErrInvalidOrderParams     = errors.New("invalid order params")
	ErrAuctionParamsRequired  = errors.New("auction params required: start, end and duration must be supplied together")
	ErrUnsupportedOrderType   = errors.New("unsupported order type for atomic maker fill")
	ErrOrderNotFound          = errors.New("order not found")
)

type MarketType uint8

const (
	MarketTypeSpot MarketType = iota
	MarketTypePerp
)

func (mt MarketType) String() string {
	switch mt {
	case MarketTypeSpot:
		return "Spot"
	case MarketTypePerp:
		return "Perp"
	default:
		return "Unknown"
	}
}

type Direction uint8

const (
	DirectionLong Direction = iota
	DirectionShort
)

func (d Direction) String() string {
	if d == DirectionLong {
		return "Long"
	}
	return "Short"
}

// Opposite returns the reducing direction, used when deriving trigger
// sub-orders from a parent position-opening order.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

type OrderType uint8

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
	OrderTypeTriggerLimit
)

func (ot OrderType) String() string {
	switch ot {
	case OrderTypeMarket:
		return "Market"
	case OrderTypeLimit:
		return "Limit"
	case OrderTypeTriggerLimit:
		return "TriggerLimit"
	default:
		return "Unknown"
	}
}

type TriggerCondition uint8

const (
	TriggerConditionAbove TriggerCondition = iota
	TriggerConditionBelow
)

func (tc TriggerCondition) String() string {
	if tc == TriggerConditionAbove {
		return "Above"
	}
	return "Below"
}

type OrderStatus uint8

const (
	OrderStatusOpen OrderStatus = iota
	OrderStatusFilled
	OrderStatusCanceled
)

func (os OrderStatus) String() string {
	switch os {
	case OrderStatusOpen:
		return "Open"
	case OrderStatusFilled:
		return "Filled"
	case OrderStatusCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// Order is a resting or in-flight order owned by one sub-account. Slot is the
// logical tick the order was placed at; for signed taker orders it is the
// message's embedded sequence number, so auction windows are anchored to the
// client's clock rather than arrival time.
type Order struct {
	OrderID           uint32
	Owner             ledger.AccountKey
	MarketIndex       uint16
	MarketType        MarketType
	Type              OrderType
	Direction         Direction
	BaseAssetAmount   uint64
	BaseFilled        uint64
	Price             uint64
	AuctionStartPrice int64
	AuctionEndPrice   int64
	AuctionDuration   uint16
	HasAuction        bool
	PostOnly          bool
	ImmediateOrCancel bool
	TriggerPrice      uint64
	TriggerCondition  TriggerCondition
	Slot              uint64
	Status            OrderStatus
}

func (o *Order) RemainingBase() uint64 {
	return o.BaseAssetAmount - o.BaseFilled
}

func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusOpen
}

// Triggered reports whether the oracle price satisfies the order's trigger
// condition. Non-trigger orders are always live.
func (o *Order) Triggered(oraclePrice uint64) bool {
	if o.Type != OrderTypeTriggerLimit {
		return true
	}
	if o.TriggerCondition == TriggerConditionAbove {
		return oraclePrice > o.TriggerPrice
	}
	return oraclePrice < o.TriggerPrice
}

// TriggerParams carries an embedded take-profit or stop-loss request on a
// signed order message.
type TriggerParams struct {
	TriggerPrice     uint64
	BaseAssetAmount  uint64
	TriggerCondition TriggerCondition
}

// OrderParams is the client-supplied shape of an order before the engine
// assigns an ID and slot. Auction bounds are pointers so "absent" and "zero"
// stay distinguishable.
type OrderParams struct {
	MarketIndex       uint16
	MarketType        MarketType
	Type              OrderType
	Direction         Direction
	BaseAssetAmount   uint64
	Price             uint64
	AuctionStartPrice *int64
	AuctionEndPrice   *int64
	AuctionDuration   *uint16
	PostOnly          bool
	ImmediateOrCancel bool
	TriggerPrice      uint64
	TriggerCondition  TriggerCondition
}

// Validate checks structural well-formedness. Auction bounds are all-or-none:
// supplying any of the three fields requires all three. The bounds themselves
// are taken as given and never clamped.
func (p *OrderParams) Validate() error {
	if p.BaseAssetAmount == 0 {
		return ErrInvalidOrderParams
	}
	supplied := 0
	if p.AuctionStartPrice != nil {
		supplied++
	}
	if p.AuctionEndPrice != nil {
		supplied++
	}
	if p.AuctionDuration != nil {
		supplied++
	}
	if supplied != 0 && supplied != 3 {
		return ErrAuctionParamsRequired
	}
	return nil
}

func (p *OrderParams) hasAuction() bool {
	return p.AuctionStartPrice != nil && p.AuctionEndPrice != nil && p.AuctionDuration != nil
}

// Build materializes an Order from validated params. The caller supplies the
// fresh order ID and the placement slot.
func (p *OrderParams) Build(owner ledger.AccountKey, orderID uint32, slot uint64) *Order {
	o := &Order{
		OrderID:           orderID,
		Owner:             owner,
		MarketIndex:       p.MarketIndex,
		MarketType:        p.MarketType,
		Type:              p.Type,
		Direction:         p.Direction,
		BaseAssetAmount:   p.BaseAssetAmount,
		Price:             p.Price,
		PostOnly:          p.PostOnly,
		ImmediateOrCancel: p.ImmediateOrCancel,
		TriggerPrice:      p.TriggerPrice,
		TriggerCondition:  p.TriggerCondition,
		Slot:              slot,
		Status:            OrderStatusOpen,
	}
	if p.hasAuction() {
		o.AuctionStartPrice = *p.AuctionStartPrice
		o.AuctionEndPrice = *p.AuctionEndPrice
		o.AuctionDuration = *p.AuctionDuration
		o.HasAuction = true
	}
	return o
}
