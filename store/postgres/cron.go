package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vantor/conveyor"
	"github.com/vantor/conveyor/cron"
	"github.com/vantor/conveyor/id"
)

const cronColumns = `
	id, name, schedule, queue, job_name, payload,
	last_run_at, next_run_at, enabled, created_at, updated_at`

// RegisterCron persists a new cron entry. The unique constraint on name
// rejects duplicate registrations.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_cron (`+cronColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.Queue, entry.JobName, entry.Payload,
		entry.LastRunAt, entry.NextRunAt, entry.Enabled, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrDuplicateCron
		}
		return fmt.Errorf("conveyor/postgres: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cronColumns+` FROM conveyor_cron WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrCronNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get cron: %w", err)
	}
	return e, nil
}

// GetCronByName retrieves a cron entry by its unique name.
func (s *Store) GetCronByName(ctx context.Context, name string) (*cron.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cronColumns+` FROM conveyor_cron WHERE name = $1`,
		name,
	)

	e, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrCronNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get cron by name: %w", err)
	}
	return e, nil
}

// ListCrons returns all cron entries.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cronColumns+` FROM conveyor_cron ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list crons: %w", err)
	}
	defer rows.Close()

	var entries []*cron.Entry
	for rows.Next() {
		e, scanErr := scanCron(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan cron row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate cron rows: %w", err)
	}
	return entries, nil
}

// UpdateCronEntry persists changes to an existing cron entry.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_cron SET
			name = $2, schedule = $3, queue = $4, job_name = $5, payload = $6,
			last_run_at = $7, next_run_at = $8, enabled = $9, updated_at = NOW()
		WHERE id = $1`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.Queue, entry.JobName, entry.Payload,
		entry.LastRunAt, entry.NextRunAt, entry.Enabled,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: update cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conveyor_cron WHERE id = $1`, entryID.String())
	if err != nil {
		return fmt.Errorf("conveyor/postgres: delete cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrCronNotFound
	}
	return nil
}

// scanCron scans a single cron entry row.
func scanCron(row pgx.Row) (*cron.Entry, error) {
	var (
		e     cron.Entry
		idStr string
	)
	err := row.Scan(
		&idStr, &e.Name, &e.Schedule, &e.Queue, &e.JobName, &e.Payload,
		&e.LastRunAt, &e.NextRunAt, &e.Enabled, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseCronID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse cron id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	return &e, nil
}
