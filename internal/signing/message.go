package signing

import (
	"encoding/binary"

	"clearinghouse/internal/orders"
)

// SignedOrderMessage is the off-chain taker order envelope. SequenceNumber is
// the client's logical clock tick and doubles as the placed order's slot.
// Nonce makes otherwise-identical messages distinct, so distinct signatures
// hash to distinct replay entries.
type SignedOrderMessage struct {
	SubAccountID     uint16
	Params           orders.OrderParams
	SequenceNumber   uint64
	Nonce            [8]byte
	TakeProfitParams *orders.TriggerParams
	StopLossParams   *orders.TriggerParams
}

// Encode produces the canonical wire form covered by the signature. Layout is
// fixed-order little-endian fields; optional fields are a presence byte
// followed by the payload when present. Clients must produce byte-identical
// encodings for signatures to verify.
func (m *SignedOrderMessage) Encode() []byte {
	buf := make([]byte, 0, 96)

	buf = binary.LittleEndian.AppendUint16(buf, m.SubAccountID)
	buf = appendOrderParams(buf, &m.Params)
	buf = binary.LittleEndian.AppendUint64(buf, m.SequenceNumber)
	buf = append(buf, m.Nonce[:]...)
	buf = appendTriggerParams(buf, m.TakeProfitParams)
	buf = appendTriggerParams(buf, m.StopLossParams)

	return buf
}

func appendOrderParams(buf []byte, p *orders.OrderParams) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, p.MarketIndex)
	buf = append(buf, byte(p.MarketType), byte(p.Type), byte(p.Direction))
	buf = binary.LittleEndian.AppendUint64(buf, p.BaseAssetAmount)
	buf = binary.LittleEndian.AppendUint64(buf, p.Price)

	buf = appendOptionalInt64(buf, p.AuctionStartPrice)
	buf = appendOptionalInt64(buf, p.AuctionEndPrice)
	if p.AuctionDuration != nil {
		buf = append(buf, 1)
		buf = binary.LittleEndian.AppendUint16(buf, *p.AuctionDuration)
	} else {
		buf = append(buf, 0)
	}

	buf = append(buf, boolByte(p.PostOnly), boolByte(p.ImmediateOrCancel))
	buf = binary.LittleEndian.AppendUint64(buf, p.TriggerPrice)
	buf = append(buf, byte(p.TriggerCondition))
	return buf
}

func appendTriggerParams(buf []byte, t *orders.TriggerParams) []byte {
	if t == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	buf = binary.LittleEndian.AppendUint64(buf, t.TriggerPrice)
	buf = binary.LittleEndian.AppendUint64(buf, t.BaseAssetAmount)
	buf = append(buf, byte(t.TriggerCondition))
	return buf
}

func appendOptionalInt64(buf []byte, v *int64) []byte {
	if v == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return binary.LittleEndian.AppendUint64(buf, uint64(*v))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
