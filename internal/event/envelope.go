package event

// RecordType discriminates event payloads in the log.
type RecordType int32

const (
	RecordTypeUnknown RecordType = iota
	RecordTypeLiquidation
	RecordTypeOrderAction
	RecordTypeSignedOrder
	RecordTypeDeposit
	RecordTypeWithdrawal
)

func (rt RecordType) String() string {
	switch rt {
	case RecordTypeLiquidation:
		return "Liquidation"
	case RecordTypeOrderAction:
		return "OrderAction"
	case RecordTypeSignedOrder:
		return "SignedOrder"
	case RecordTypeDeposit:
		return "Deposit"
	case RecordTypeWithdrawal:
		return "Withdrawal"
	default:
		return "Unknown"
	}
}

// Record is the interface all emitted payloads implement. Records are
// append-only and immutable once emitted.
type Record interface {
	RecordType() RecordType

	// MarketIndex returns the market context (nil for account-global records).
	MarketIndex() *uint16

	// Key returns a stable identity for the record in the event log.
	Key() string
}

// Envelope wraps every record written to the log. The state-hash chain makes
// the log tamper-evident: each entry commits to the ledger state after the
// operation and to the previous entry's hash.
type Envelope struct {
	// Global monotonic sequence assigned by the core.
	Sequence int64

	RecordType RecordType

	Key string

	MarketIndex *uint16

	// Versioned operation timestamp (logical tick), never wall-clock.
	Ts int64

	Payload Record

	StateHash [32]byte
	PrevHash  [32]byte
}
