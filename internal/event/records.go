package event

import (
	"fmt"

	"github.com/google/uuid"

	"clearinghouse/internal/ledger"
)

// OrderAction enumerates what happened to an order in one engine step.
type OrderAction uint8

const (
	OrderActionPlace OrderAction = iota
	OrderActionFill
	OrderActionCancel
	OrderActionTrigger
	OrderActionExpire
)

func (a OrderAction) String() string {
	switch a {
	case OrderActionPlace:
		return "Place"
	case OrderActionFill:
		return "Fill"
	case OrderActionCancel:
		return "Cancel"
	case OrderActionTrigger:
		return "Trigger"
	case OrderActionExpire:
		return "Expire"
	default:
		return "Unknown"
	}
}

// OrderActionRecord is emitted once per order action. Fill actions carry both
// counterparties; place and cancel actions carry only the taker side.
type OrderActionRecord struct {
	Ts          int64
	Action      OrderAction
	FillID      uuid.UUID
	Market      uint16
	FillPrice   uint64
	BaseFilled  uint64
	QuoteFilled uint64

	Taker        *ledger.AccountKey
	TakerOrderID uint32
	Maker        *ledger.AccountKey
	MakerOrderID uint32
}

func (r *OrderActionRecord) RecordType() RecordType { return RecordTypeOrderAction }

func (r *OrderActionRecord) MarketIndex() *uint16 {
	idx := r.Market
	return &idx
}

func (r *OrderActionRecord) Key() string {
	return fmt.Sprintf("orderaction:%s:%s", r.Action, r.FillID)
}

// SignedOrderRecord ties an accepted signed order message to the order it
// produced. Hash is the base64 digest of the taker signature and is the value
// held in the account's replay-protection store.
type SignedOrderRecord struct {
	Ts      int64
	Account ledger.AccountKey
	Hash    string
	OrderID uint32
	Market  uint16
}

func (r *SignedOrderRecord) RecordType() RecordType { return RecordTypeSignedOrder }

func (r *SignedOrderRecord) MarketIndex() *uint16 {
	idx := r.Market
	return &idx
}

func (r *SignedOrderRecord) Key() string {
	return fmt.Sprintf("signedorder:%s", r.Hash)
}

// DepositRecord is emitted for every accepted deposit.
type DepositRecord struct {
	Ts          int64
	TransferID  uuid.UUID
	Account     ledger.AccountKey
	Market      uint16
	TokenAmount uint64
}

func (r *DepositRecord) RecordType() RecordType { return RecordTypeDeposit }

func (r *DepositRecord) MarketIndex() *uint16 {
	idx := r.Market
	return &idx
}

func (r *DepositRecord) Key() string {
	return fmt.Sprintf("deposit:%s", r.TransferID)
}

// WithdrawalRecord is emitted for every accepted withdrawal.
type WithdrawalRecord struct {
	Ts          int64
	TransferID  uuid.UUID
	Account     ledger.AccountKey
	Market      uint16
	TokenAmount uint64
}

func (r *WithdrawalRecord) RecordType() RecordType { return RecordTypeWithdrawal }

func (r *WithdrawalRecord) MarketIndex() *uint16 {
	idx := r.Market
	return &idx
}

func (r *WithdrawalRecord) Key() string {
	return fmt.Sprintf("withdrawal:%s", r.TransferID)
}
