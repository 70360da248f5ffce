package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vote-spin/src/helpers"
	"vote-spin/src/logger"
	"vote-spin/src/models"

	"github.com/jonboulle/clockwork"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// -----------------------------------------------------------------------------

type AsyncSQLiteDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
	clock  clockwork.Clock
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MConfig, log *logger.Logger, clock clockwork.Clock) (*AsyncSQLiteDB, error) {
	return &AsyncSQLiteDB{
		Config: cfg,
		Logger: log,
		clock:  clock,
	}, nil
}

// -----------------------------------------------------------------------------

func classifySQLite(operation string, err error) error {
	if err == nil {
		return nil
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_TOOBIG:
			return helpers.NewValidationError("%s rejected by store: %s", operation, sqlErr.Error())
		}
	}
	return helpers.NewTransientStoreError(operation, err)
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize(ctx context.Context) error {
	dsn := d.Config.Storage.DBPath

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	// One writer connection serialises every claim and transaction.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return classifySQLite("ping", err)
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		d.Logger.Warning("Failed to set busy timeout: %v", err)
	}

	if err := d.createTables(ctx); err != nil {
		return err
	}

	d.Logger.Info("SQLite store initialized (%s)", dsn)
	return nil
}

// -----------------------------------------------------------------------------

// createTables never drops anything: the log and the command table survive
// restarts.
func (d *AsyncSQLiteDB) createTables(ctx context.Context) error {
	// Timestamps are unix microseconds.
	statements := []string{
		`
			CREATE TABLE IF NOT EXISTS vote_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				entity_id TEXT NOT NULL,
				value INTEGER NOT NULL CHECK (value IN (0, 1)),
				source TEXT NOT NULL,
				created_at INTEGER NOT NULL
			);
		`,
		`CREATE INDEX IF NOT EXISTS vote_events_entity_latest ON vote_events (entity_id, created_at DESC, id DESC)`,
		`
			CREATE TABLE IF NOT EXISTS commands (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				queue TEXT NOT NULL,
				target_id TEXT NOT NULL,
				action_type TEXT NOT NULL,
				action_payload TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				claimed_at INTEGER
			);
		`,
		`CREATE INDEX IF NOT EXISTS commands_pending ON commands (queue, id) WHERE claimed_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS commands_reset ON commands (created_at) WHERE action_type = 'reset'`,
	}

	for _, stmt := range statements {
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Ping(ctx context.Context) error {
	return classifySQLite("ping", d.DB.PingContext(ctx))
}

// -----------------------------------------------------------------------------

type sqliteExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (d *AsyncSQLiteDB) insertEvent(ctx context.Context, q sqliteExecer, e models.MVoteEvent) (models.MVoteEvent, error) {
	e.CreatedAt = stamp(d.clock.Now())
	res, err := q.ExecContext(ctx,
		`INSERT INTO vote_events (entity_id, value, source, created_at) VALUES (?, ?, ?, ?)`,
		e.EntityID, e.Value, e.Source, e.CreatedAt.UnixMicro())
	if err != nil {
		return e, classifySQLite("append event", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return e, classifySQLite("append event", err)
	}
	return e, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) insertCommand(ctx context.Context, q sqliteExecer, c models.MCommand) (models.MCommand, error) {
	payload, err := encodeAction(c.Action)
	if err != nil {
		return c, err
	}
	c.CreatedAt = stamp(d.clock.Now())
	c.ClaimedAt = nil

	res, err := q.ExecContext(ctx,
		`INSERT INTO commands (queue, target_id, action_type, action_payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.Queue, c.TargetID, c.Action.Type, payload, c.CreatedAt.UnixMicro())
	if err != nil {
		return c, classifySQLite("enqueue command", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return c, classifySQLite("enqueue command", err)
	}
	return c, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) AppendEvent(ctx context.Context, event models.MVoteEvent) (models.MVoteEvent, error) {
	return d.insertEvent(ctx, d.DB, event)
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) EnqueueCommand(ctx context.Context, cmd models.MCommand) (models.MCommand, error) {
	return d.insertCommand(ctx, d.DB, cmd)
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) AppendEventWithCommand(ctx context.Context, event models.MVoteEvent, cmd models.MCommand) (models.MVoteEvent, models.MCommand, error) {
	var storedEvent models.MVoteEvent
	var storedCmd models.MCommand

	err := withTx(ctx, d.DB, classifySQLite, "vote and enqueue", func(tx *sql.Tx) error {
		var err error
		if storedEvent, err = d.insertEvent(ctx, tx, event); err != nil {
			return err
		}
		storedCmd, err = d.insertCommand(ctx, tx, cmd)
		return err
	})
	return storedEvent, storedCmd, err
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) ResetAll(ctx context.Context, entities []string, queues []string) (time.Time, error) {
	at := stamp(d.clock.Now())

	err := withTx(ctx, d.DB, classifySQLite, "reset", func(tx *sql.Tx) error {
		logged, err := d.listEntities(ctx, tx)
		if err != nil {
			return err
		}

		for _, entity := range mergeEntities(entities, logged) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO vote_events (entity_id, value, source, created_at) VALUES (?, 0, ?, ?)`,
				entity, models.SourceReset, at.UnixMicro()); err != nil {
				return classifySQLite("reset event", err)
			}
		}

		payload, err := encodeAction(models.ResetAction())
		if err != nil {
			return err
		}
		for _, q := range queues {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO commands (queue, target_id, action_type, action_payload, created_at) VALUES (?, ?, ?, ?, ?)`,
				q, models.TargetAll, models.ActionReset, payload, at.UnixMicro()); err != nil {
				return classifySQLite("reset command", err)
			}
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// -----------------------------------------------------------------------------

// ClaimNextCommand is a single UPDATE ... RETURNING statement. SQLite runs
// writers one at a time, so two pollers can never return the same row.
func (d *AsyncSQLiteDB) ClaimNextCommand(ctx context.Context, queue string, afterID int64) (*models.MCommand, error) {
	claimedAt := stamp(d.clock.Now())
	row := d.DB.QueryRowContext(ctx, `
		UPDATE commands
		SET claimed_at = ?
		WHERE id = (
			SELECT id FROM commands
			WHERE queue = ? AND id > ? AND claimed_at IS NULL
			ORDER BY id
			LIMIT 1
		) AND claimed_at IS NULL
		RETURNING id, queue, target_id, action_payload, created_at, claimed_at
	`, claimedAt.UnixMicro(), queue, afterID)

	cmd, err := scanSQLiteCommand(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := checkClaim(cmd, claimedAt); err != nil {
		return nil, err
	}
	return cmd, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) ListCommandsAfter(ctx context.Context, queue string, afterID int64, limit int) ([]models.MCommand, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, queue, target_id, action_payload, created_at, claimed_at
		FROM commands
		WHERE queue = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`, queue, afterID, limit)
	if err != nil {
		return nil, classifySQLite("list commands", err)
	}
	defer rows.Close()

	var out []models.MCommand
	for rows.Next() {
		cmd, err := scanSQLiteCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cmd)
	}
	return out, classifySQLite("list commands", rows.Err())
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) LatestEvents(ctx context.Context) ([]models.MVoteEvent, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, entity_id, value, source, created_at FROM (
			SELECT id, entity_id, value, source, created_at,
				ROW_NUMBER() OVER (PARTITION BY entity_id ORDER BY created_at DESC, id DESC) AS rn
			FROM vote_events
		)
		WHERE rn = 1
		ORDER BY entity_id
	`)
	if err != nil {
		return nil, classifySQLite("latest events", err)
	}
	defer rows.Close()

	var out []models.MVoteEvent
	for rows.Next() {
		var (
			e  models.MVoteEvent
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &e.Value, &e.Source, &ts); err != nil {
			return nil, classifySQLite("latest events", err)
		}
		e.CreatedAt = time.UnixMicro(ts).UTC()
		out = append(out, e)
	}
	return out, classifySQLite("latest events", rows.Err())
}

// -----------------------------------------------------------------------------

type sqliteQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (d *AsyncSQLiteDB) listEntities(ctx context.Context, q sqliteQueryer) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT entity_id FROM vote_events ORDER BY entity_id`)
	if err != nil {
		return nil, classifySQLite("list entities", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classifySQLite("list entities", err)
		}
		out = append(out, id)
	}
	return out, classifySQLite("list entities", rows.Err())
}

func (d *AsyncSQLiteDB) ListEntities(ctx context.Context) ([]string, error) {
	return d.listEntities(ctx, d.DB)
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) LastReset(ctx context.Context) (time.Time, error) {
	var ts sql.NullInt64
	if err := d.DB.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM commands WHERE action_type = ?`, models.ActionReset).Scan(&ts); err != nil {
		return time.Time{}, classifySQLite("last reset", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.UnixMicro(ts.Int64).UTC(), nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------

func scanSQLiteCommand(row rowScanner) (*models.MCommand, error) {
	var (
		cmd       models.MCommand
		payload   string
		createdAt int64
		claimedAt sql.NullInt64
	)
	if err := row.Scan(&cmd.ID, &cmd.Queue, &cmd.TargetID, &payload, &createdAt, &claimedAt); err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, classifySQLite("scan command", err)
	}

	action, err := decodeAction(payload)
	if err != nil {
		return nil, err
	}
	cmd.Action = action
	cmd.CreatedAt = time.UnixMicro(createdAt).UTC()
	if claimedAt.Valid {
		t := time.UnixMicro(claimedAt.Int64).UTC()
		cmd.ClaimedAt = &t
	}
	return &cmd, nil
}
