package persistence_test

import (
	"context"
	"testing"
	"time"

	"clearinghouse/internal/event"
	"clearinghouse/internal/ledger"
	"clearinghouse/internal/persistence"
	"clearinghouse/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func envelope(seq int64, marketIndex uint16) *event.Envelope {
	key := ledger.AccountKey{AccountID: uuid.New(), SubAccountID: 0}
	idx := marketIndex
	var stateHash, prevHash [32]byte
	stateHash[0] = byte(seq + 1)
	prevHash[0] = byte(seq)
	return &event.Envelope{
		Sequence:    seq,
		RecordType:  event.RecordTypeDeposit,
		Key:         key.String(),
		MarketIndex: &idx,
		Ts:          seq * 10,
		Payload: &event.DepositRecord{
			Ts:          seq * 10,
			TransferID:  uuid.New(),
			Account:     key,
			Market:      marketIndex,
			TokenAmount: 1_000_000,
		},
		StateHash: stateHash,
		PrevHash:  prevHash,
	}
}

// ============================================================================
// Test: event log writer
// ============================================================================

func TestEventLogWriter_BatchIsIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	writer := persistence.NewEventLogWriter(db)

	var rows []persistence.EnvelopeRow
	for seq := int64(0); seq < 5; seq++ {
		row, err := persistence.EnvelopeToRow(envelope(seq, 0))
		if err != nil {
			t.Fatalf("envelope to row: %v", err)
		}
		rows = append(rows, row)
	}

	writeBatch := func() {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := writer.WriteBatch(ctx, tx, rows); err != nil {
			tx.Rollback()
			t.Fatalf("write batch: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	writeBatch()
	writeBatch() // conflicting sequences are dropped, not duplicated

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.records`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 5 {
		t.Errorf("records: got %d, want 5", count)
	}

	last, err := writer.LastSequence(ctx)
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != 4 {
		t.Errorf("last sequence: got %d, want 4", last)
	}
}

func TestEventLogWriter_LastSequenceEmptyLog(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	last, err := persistence.NewEventLogWriter(db).LastSequence(ctx)
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != -1 {
		t.Errorf("empty log sequence: got %d, want -1", last)
	}
}

// ============================================================================
// Test: snapshot manager
// ============================================================================

func TestSnapshotManager_SaveLoadVerifyCycle(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sm := persistence.NewSnapshotManager(db)

	// Cold start: no snapshot yet.
	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load on cold start: %v", err)
	}
	if snap != nil {
		t.Fatal("cold start should return nil snapshot")
	}

	stored := &persistence.SnapshotData{
		Sequence:  42,
		StateHash: []byte{1, 2, 3},
		Markets: []persistence.MarketSnapshot{{
			MarketIndex:               0,
			Name:                      "USDC",
			Decimals:                  6,
			OracleKey:                 "usdc",
			CumulativeDepositInterest: 10_000_000_000,
			CumulativeBorrowInterest:  10_000_000_000,
		}},
		Accounts: []persistence.AccountSnapshot{{
			AccountID:     uuid.NewString(),
			SubAccountID:  0,
			HasOrderStore: true,
			ReplayEntries: []persistence.ReplayEntrySnapshot{{Hash: "abc", MaxSlot: 220}},
		}},
		CreatedAt: time.Now().UTC(),
	}
	if err := sm.SaveSnapshot(ctx, stored); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	// Unverified snapshots are invisible to recovery.
	snap, err = sm.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap != nil {
		t.Fatal("unverified snapshot must not be loaded")
	}

	if err := sm.MarkVerified(ctx, 42); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	snap, err = sm.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load after verify: %v", err)
	}
	if snap == nil {
		t.Fatal("verified snapshot should be loaded")
	}
	if snap.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", snap.Sequence)
	}
	if len(snap.Markets) != 1 || snap.Markets[0].Name != "USDC" {
		t.Errorf("markets: %+v", snap.Markets)
	}
	if len(snap.Accounts) != 1 || !snap.Accounts[0].HasOrderStore {
		t.Errorf("accounts: %+v", snap.Accounts)
	}
	if len(snap.Accounts[0].ReplayEntries) != 1 || snap.Accounts[0].ReplayEntries[0].MaxSlot != 220 {
		t.Errorf("replay entries: %+v", snap.Accounts[0].ReplayEntries)
	}
}

// ============================================================================
// Test: migrations
// ============================================================================

func TestMigrator_UpIsIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	m := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := m.Up(context.Background()); err != nil {
		t.Fatalf("first up: %v", err)
	}
	if err := m.Up(context.Background()); err != nil {
		t.Fatalf("second up: %v", err)
	}
}
