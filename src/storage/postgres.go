package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"vote-spin/src/helpers"
	"vote-spin/src/logger"
	"vote-spin/src/models"

	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
)

var unsafeSchemaChars = regexp.MustCompile(`[^a-z0-9_]+`)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
	clock  clockwork.Clock
}

// -----------------------------------------------------------------------------

// NewPostgresDB prepares a Postgres-backed store. Tables live in a schema
// named after the application so several deployments can share a database.
func NewPostgresDB(cfg *models.MConfig, log *logger.Logger, clock clockwork.Clock) (*PostgresDB, error) {
	name := strings.ToLower(cfg.Name)
	name = unsafeSchemaChars.ReplaceAllString(name, "_")
	if name == "" {
		return nil, fmt.Errorf("cannot derive schema name from application name %q", cfg.Name)
	}

	return &PostgresDB{
		Config: cfg,
		Schema: name,
		Logger: log,
		clock:  clock,
	}, nil
}

// -----------------------------------------------------------------------------

func classifyPostgres(operation string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return helpers.NewValidationError("%s rejected by store: %s", operation, pqErr.Message)
		}
	}
	return helpers.NewTransientStoreError(operation, err)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) table(name string) string {
	return fmt.Sprintf(`"%s"."%s"`, d.Schema, name)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize(ctx context.Context) error {
	db, err := sql.Open("postgres", d.Config.Storage.DBConnectionString)
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return classifyPostgres("ping", err)
	}

	d.DB = db

	if _, err := d.DB.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.createTables(ctx); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

// createTables is idempotent. The event log and command table are the audit
// trail, so nothing is ever dropped here.
func (d *PostgresDB) createTables(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				entity_id TEXT NOT NULL,
				value SMALLINT NOT NULL CHECK (value IN (0, 1)),
				source TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			);
		`, d.table("vote_events")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS vote_events_entity_latest ON %s (entity_id, created_at DESC, id DESC)`,
			d.table("vote_events")),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				queue TEXT NOT NULL,
				target_id TEXT NOT NULL,
				action_type TEXT NOT NULL,
				action_payload TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				claimed_at TIMESTAMPTZ
			);
		`, d.table("commands")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS commands_pending ON %s (queue, id) WHERE claimed_at IS NULL`,
			d.table("commands")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS commands_reset ON %s (created_at) WHERE action_type = 'reset'`,
			d.table("commands")),
	}

	for _, stmt := range statements {
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Ping(ctx context.Context) error {
	return classifyPostgres("ping", d.DB.PingContext(ctx))
}

// -----------------------------------------------------------------------------

type pgExecer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *PostgresDB) insertEvent(ctx context.Context, q pgExecer, e models.MVoteEvent) (models.MVoteEvent, error) {
	e.CreatedAt = stamp(d.clock.Now())
	query := fmt.Sprintf(`
		INSERT INTO %s (entity_id, value, source, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, d.table("vote_events"))

	if err := q.QueryRowContext(ctx, query, e.EntityID, e.Value, e.Source, e.CreatedAt).Scan(&e.ID); err != nil {
		return e, classifyPostgres("append event", err)
	}
	return e, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) insertCommand(ctx context.Context, q pgExecer, c models.MCommand) (models.MCommand, error) {
	payload, err := encodeAction(c.Action)
	if err != nil {
		return c, err
	}
	c.CreatedAt = stamp(d.clock.Now())
	c.ClaimedAt = nil

	query := fmt.Sprintf(`
		INSERT INTO %s (queue, target_id, action_type, action_payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, d.table("commands"))

	if err := q.QueryRowContext(ctx, query, c.Queue, c.TargetID, c.Action.Type, payload, c.CreatedAt).Scan(&c.ID); err != nil {
		return c, classifyPostgres("enqueue command", err)
	}
	return c, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) AppendEvent(ctx context.Context, event models.MVoteEvent) (models.MVoteEvent, error) {
	return d.insertEvent(ctx, d.DB, event)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) EnqueueCommand(ctx context.Context, cmd models.MCommand) (models.MCommand, error) {
	return d.insertCommand(ctx, d.DB, cmd)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) AppendEventWithCommand(ctx context.Context, event models.MVoteEvent, cmd models.MCommand) (models.MVoteEvent, models.MCommand, error) {
	var storedEvent models.MVoteEvent
	var storedCmd models.MCommand

	err := withTx(ctx, d.DB, classifyPostgres, "vote and enqueue", func(tx *sql.Tx) error {
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

func (d *PostgresDB) ResetAll(ctx context.Context, entities []string, queues []string) (time.Time, error) {
	at := stamp(d.clock.Now())

	err := withTx(ctx, d.DB, classifyPostgres, "reset", func(tx *sql.Tx) error {
		logged, err := d.listEntities(ctx, tx)
		if err != nil {
			return err
		}

		eventQuery := fmt.Sprintf(`
			INSERT INTO %s (entity_id, value, source, created_at) VALUES ($1, 0, $2, $3)
		`, d.table("vote_events"))
		for _, entity := range mergeEntities(entities, logged) {
			if _, err := tx.ExecContext(ctx, eventQuery, entity, models.SourceReset, at); err != nil {
				return classifyPostgres("reset event", err)
			}
		}

		payload, err := encodeAction(models.ResetAction())
		if err != nil {
			return err
		}
		cmdQuery := fmt.Sprintf(`
			INSERT INTO %s (queue, target_id, action_type, action_payload, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, d.table("commands"))
		for _, q := range queues {
			if _, err := tx.ExecContext(ctx, cmdQuery, q, models.TargetAll, models.ActionReset, payload, at); err != nil {
				return classifyPostgres("reset command", err)
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

// ClaimNextCommand relies on FOR UPDATE SKIP LOCKED: concurrent pollers on
// other connections or other instances skip a row being claimed and move on
// to the next one instead of blocking.
func (d *PostgresDB) ClaimNextCommand(ctx context.Context, queue string, afterID int64) (*models.MCommand, error) {
	claimedAt := stamp(d.clock.Now())
	query := fmt.Sprintf(`
		UPDATE %[1]s
		SET claimed_at = $3
		WHERE id = (
			SELECT id FROM %[1]s
			WHERE queue = $1 AND id > $2 AND claimed_at IS NULL
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND claimed_at IS NULL
		RETURNING id, queue, target_id, action_payload, created_at, claimed_at
	`, d.table("commands"))

	cmd, err := scanPostgresCommand(d.DB.QueryRowContext(ctx, query, queue, afterID, claimedAt))
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

func (d *PostgresDB) ListCommandsAfter(ctx context.Context, queue string, afterID int64, limit int) ([]models.MCommand, error) {
	query := fmt.Sprintf(`
		SELECT id, queue, target_id, action_payload, created_at, claimed_at
		FROM %s
		WHERE queue = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`, d.table("commands"))

	rows, err := d.DB.QueryContext(ctx, query, queue, afterID, limit)
	if err != nil {
		return nil, classifyPostgres("list commands", err)
	}
	defer rows.Close()

	var out []models.MCommand
	for rows.Next() {
		cmd, err := scanPostgresCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cmd)
	}
	return out, classifyPostgres("list commands", rows.Err())
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) LatestEvents(ctx context.Context) ([]models.MVoteEvent, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT ON (entity_id) id, entity_id, value, source, created_at
		FROM %s
		ORDER BY entity_id, created_at DESC, id DESC
	`, d.table("vote_events"))

	rows, err := d.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyPostgres("latest events", err)
	}
	defer rows.Close()

	var out []models.MVoteEvent
	for rows.Next() {
		var e models.MVoteEvent
		if err := rows.Scan(&e.ID, &e.EntityID, &e.Value, &e.Source, &e.CreatedAt); err != nil {
			return nil, classifyPostgres("latest events", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, classifyPostgres("latest events", rows.Err())
}

// -----------------------------------------------------------------------------

type pgQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (d *PostgresDB) listEntities(ctx context.Context, q pgQueryer) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT entity_id FROM %s ORDER BY entity_id`, d.table("vote_events")))
	if err != nil {
		return nil, classifyPostgres("list entities", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classifyPostgres("list entities", err)
		}
		out = append(out, id)
	}
	return out, classifyPostgres("list entities", rows.Err())
}

func (d *PostgresDB) ListEntities(ctx context.Context) ([]string, error) {
	return d.listEntities(ctx, d.DB)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) LastReset(ctx context.Context) (time.Time, error) {
	var ts sql.NullTime
	query := fmt.Sprintf(`SELECT MAX(created_at) FROM %s WHERE action_type = $1`, d.table("commands"))
	if err := d.DB.QueryRowContext(ctx, query, models.ActionReset).Scan(&ts); err != nil {
		return time.Time{}, classifyPostgres("last reset", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time.UTC(), nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------

func scanPostgresCommand(row rowScanner) (*models.MCommand, error) {
	var (
		cmd       models.MCommand
		payload   string
		claimedAt sql.NullTime
	)
	if err := row.Scan(&cmd.ID, &cmd.Queue, &cmd.TargetID, &payload, &cmd.CreatedAt, &claimedAt); err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, classifyPostgres("scan command", err)
	}

	action, err := decodeAction(payload)
	if err != nil {
		return nil, err
	}
	cmd.Action = action
	cmd.CreatedAt = cmd.CreatedAt.UTC()
	if claimedAt.Valid {
		t := claimedAt.Time.UTC()
		cmd.ClaimedAt = &t
	}
	return &cmd, nil
}
