package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"vote-spin/src/helpers"
	"vote-spin/src/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// -----------------------------------------------------------------------------

// stamp truncates to the precision both backends can store.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// -----------------------------------------------------------------------------

func encodeAction(a models.MAction) (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to encode action: %w", err)
	}
	return string(b), nil
}

// -----------------------------------------------------------------------------

func decodeAction(payload string) (models.MAction, error) {
	var a models.MAction
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return a, helpers.NewConsistencyViolation("stored action payload is not valid JSON: %v", err)
	}
	return a, nil
}

// -----------------------------------------------------------------------------

// mergeEntities returns the sorted union of both lists without duplicates.
func mergeEntities(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, e := range list {
			if _, ok := seen[e]; ok || e == "" {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------

// checkClaim verifies the row the store handed back was claimed by us.
func checkClaim(cmd *models.MCommand, claimedAt time.Time) error {
	if cmd.ClaimedAt == nil {
		return helpers.NewConsistencyViolation("command %d returned from claim without claimed_at", cmd.ID)
	}
	if !cmd.ClaimedAt.Equal(claimedAt) {
		return helpers.NewConsistencyViolation("command %d was already claimed at %s", cmd.ID, cmd.ClaimedAt.Format(time.RFC3339Nano))
	}
	return nil
}

// -----------------------------------------------------------------------------

// withTx runs fn in a transaction, rolling back on any error.
func withTx(ctx context.Context, db *sql.DB, classify func(string, error) error, operation string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify(operation, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify(operation, err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// isNoRows reports whether err means "no matching row".
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
