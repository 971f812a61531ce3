package signing_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"clearinghouse/internal/orders"
	"clearinghouse/internal/signing"
)

func testMessage() *signing.SignedOrderMessage {
	start := int64(40_000_000)
	end := int64(41_000_000)
	duration := uint16(10)
	return &signing.SignedOrderMessage{
		SubAccountID: 0,
		Params: orders.OrderParams{
			MarketIndex:       0,
			MarketType:        orders.MarketTypePerp,
			Type:              orders.OrderTypeMarket,
			Direction:         orders.DirectionLong,
			BaseAssetAmount:   1_000_000_000,
			AuctionStartPrice: &start,
			AuctionEndPrice:   &end,
			AuctionDuration:   &duration,
		},
		SequenceNumber: 100,
		Nonce:          [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
}

func TestEncode_Deterministic(t *testing.T) {
	a := testMessage().Encode()
	b := testMessage().Encode()
	if !bytes.Equal(a, b) {
		t.Error("identical messages must encode identically")
	}
}

func TestEncode_NonceChangesEncoding(t *testing.T) {
	a := testMessage()
	b := testMessage()
	b.Nonce = [8]byte{9, 9, 9, 9, 9, 9, 9, 9}
	if bytes.Equal(a.Encode(), b.Encode()) {
		t.Error("distinct nonces must produce distinct encodings")
	}
}

func TestEncode_NilAndZeroAuctionDiffer(t *testing.T) {
	a := testMessage()
	b := testMessage()
	b.Params.AuctionStartPrice = nil
	b.Params.AuctionEndPrice = nil
	b.Params.AuctionDuration = nil
	if bytes.Equal(a.Encode(), b.Encode()) {
		t.Error("absent auction fields must encode differently from present ones")
	}
}

func TestEncode_TriggerAttachmentsCovered(t *testing.T) {
	a := testMessage()
	b := testMessage()
	b.TakeProfitParams = &orders.TriggerParams{
		TriggerPrice:     45_000_000,
		TriggerCondition: orders.TriggerConditionAbove,
	}
	if bytes.Equal(a.Encode(), b.Encode()) {
		t.Error("take-profit attachment must change the signed bytes")
	}
}

func TestEd25519Verifier_RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	msg := testMessage().Encode()
	sig := ed25519.Sign(priv, msg)

	v := signing.Ed25519Verifier{}
	if !v.Verify(msg, sig, pub) {
		t.Error("valid signature rejected")
	}

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xff
	if v.Verify(tampered, sig, pub) {
		t.Error("tampered message accepted")
	}
}

func TestEd25519Verifier_WrongKeySizes(t *testing.T) {
	v := signing.Ed25519Verifier{}
	if v.Verify([]byte("m"), make([]byte, 64), []byte("short")) {
		t.Error("short public key accepted")
	}
	if v.Verify([]byte("m"), []byte("short"), make([]byte, 32)) {
		t.Error("short signature accepted")
	}
}

func TestDigestSignature_DistinctSignaturesDistinctDigests(t *testing.T) {
	a := signing.DigestSignature([]byte("signature-a"))
	b := signing.DigestSignature([]byte("signature-b"))
	if a == b {
		t.Error("distinct signatures must digest differently")
	}
	if a != signing.DigestSignature([]byte("signature-a")) {
		t.Error("digest must be deterministic")
	}
}
