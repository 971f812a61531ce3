package persistence

import (
	"context"
	"database/sql"
	"time"
)

// ReplayHashReader recovers an account's recently accepted signed-order
// hashes from the event log, used to warm the in-core replay ring after a
// restart.
type ReplayHashReader struct {
	db *sql.DB
}

func NewReplayHashReader(db *sql.DB) *ReplayHashReader {
	return &ReplayHashReader{db: db}
}

// RecentHashes returns the latest signed-order hashes for a sub-account,
// newest first, capped at limit.
func (r *ReplayHashReader) RecentHashes(accountID string, subAccountID uint16, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT payload->>'Hash'
		FROM event_log.records
		WHERE record_type = 'SignedOrder'
		  AND payload->'Account'->>'AccountID' = $1
		  AND (payload->'Account'->>'SubAccountID')::int = $2
		ORDER BY sequence DESC
		LIMIT $3
	`, accountID, int(subAccountID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h sql.NullString
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		if h.Valid {
			hashes = append(hashes, h.String)
		}
	}
	return hashes, rows.Err()
}

// IsKnownHash checks whether a signed-order hash already exists in the event
// log, a second-tier guard behind the in-core ring.
func (r *ReplayHashReader) IsKnownHash(hash string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.records
		WHERE record_type = 'SignedOrder' AND record_key = 'signedorder:' || $1
		LIMIT 1
	`, hash).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
