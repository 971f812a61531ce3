package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"clearinghouse/internal/event"
)

// EventLogWriter writes hash-chained envelopes to Postgres using multi-row
// INSERT. Writes are idempotent on sequence, so a crashed worker can replay
// its batch safely.
type EventLogWriter struct {
	db *sql.DB
}

// EnvelopeRow is a row in event_log.records.
type EnvelopeRow struct {
	Sequence    int64
	RecordType  string
	Key         string
	MarketIndex *int32
	Payload     []byte // JSON-encoded record
	StateHash   []byte
	PrevHash    []byte
	Ts          int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// EnvelopeToRow flattens an envelope for storage.
func EnvelopeToRow(env *event.Envelope) (EnvelopeRow, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return EnvelopeRow{}, fmt.Errorf("marshal payload for seq %d: %w", env.Sequence, err)
	}

	var marketIndex *int32
	if env.MarketIndex != nil {
		idx := int32(*env.MarketIndex)
		marketIndex = &idx
	}

	return EnvelopeRow{
		Sequence:    env.Sequence,
		RecordType:  env.RecordType.String(),
		Key:         env.Key,
		MarketIndex: marketIndex,
		Payload:     payload,
		StateHash:   env.StateHash[:],
		PrevHash:    env.PrevHash[:],
		Ts:          env.Ts,
	}, nil
}

// WriteBatch writes a batch of envelope rows inside the given transaction.
func (w *EventLogWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []EnvelopeRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.records
		(sequence, record_type, record_key, market_index, payload, state_hash, prev_hash, ts)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)

	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.Sequence, r.RecordType, r.Key, r.MarketIndex,
			r.Payload, r.StateHash, r.PrevHash, r.Ts,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LastSequence returns the highest persisted sequence, or -1 when the log is
// empty. Used to seed the core's sequence counter on startup.
func (w *EventLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.records`).Scan(&seq)
	if err != nil {
		return -1, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
