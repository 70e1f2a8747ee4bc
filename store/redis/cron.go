package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vantor/conveyor"
	"github.com/vantor/conveyor/cron"
	"github.com/vantor/conveyor/id"
)

// RegisterCron persists a new cron entry. The names hash guards against
// duplicate registration under the same name.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	eID := entry.ID.String()

	ok, err := s.client.HSetNX(ctx, cronNamesKey, entry.Name, eID).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: register cron claim name: %w", err)
	}
	if !ok {
		return conveyor.ErrDuplicateCron
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, cronKey(eID), cronToMap(entry))
	pipe.SAdd(ctx, cronIDsKey, eID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	vals, err := s.client.HGetAll(ctx, cronKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get cron: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrCronNotFound
	}
	return mapToCron(vals)
}

// GetCronByName retrieves a cron entry by its unique name.
func (s *Store) GetCronByName(ctx context.Context, name string) (*cron.Entry, error) {
	eID, err := s.client.HGet(ctx, cronNamesKey, name).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, conveyor.ErrCronNotFound
		}
		return nil, fmt.Errorf("conveyor/redis: get cron by name: %w", err)
	}

	parsed, err := id.ParseCronID(eID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse cron id: %w", err)
	}
	return s.GetCron(ctx, parsed)
}

// ListCrons returns all cron entries.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	ids, err := s.client.SMembers(ctx, cronIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list crons: %w", err)
	}

	entries := make([]*cron.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, cronKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToCron(vals)
		if convErr != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// UpdateCronEntry persists changes to an existing cron entry.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	key := cronKey(entry.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: update cron exists: %w", err)
	}
	if exists == 0 {
		return conveyor.ErrCronNotFound
	}

	entry.UpdatedAt = time.Now().UTC()
	if _, err = s.client.HSet(ctx, key, cronToMap(entry)).Result(); err != nil {
		return fmt.Errorf("conveyor/redis: update cron: %w", err)
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	eID := entryID.String()
	key := cronKey(eID)

	name, err := s.client.HGet(ctx, key, "name").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return conveyor.ErrCronNotFound
		}
		return fmt.Errorf("conveyor/redis: delete cron get name: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, cronIDsKey, eID)
	pipe.HDel(ctx, cronNamesKey, name)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: delete cron: %w", err)
	}
	return nil
}

// ── helpers ──

func cronToMap(e *cron.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":         e.ID.String(),
		"name":       e.Name,
		"schedule":   e.Schedule,
		"queue":      e.Queue,
		"job_name":   e.JobName,
		"payload":    string(e.Payload),
		"enabled":    strconv.FormatBool(e.Enabled),
		"created_at": e.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": e.UpdatedAt.Format(time.RFC3339Nano),
	}
	if e.LastRunAt != nil {
		m["last_run_at"] = e.LastRunAt.Format(time.RFC3339Nano)
	} else {
		m["last_run_at"] = ""
	}
	if e.NextRunAt != nil {
		m["next_run_at"] = e.NextRunAt.Format(time.RFC3339Nano)
	} else {
		m["next_run_at"] = ""
	}
	return m
}

func mapToCron(m map[string]string) (*cron.Entry, error) {
	eID, err := id.ParseCronID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse cron id: %w", err)
	}

	enabled, _ := strconv.ParseBool(m["enabled"])                 //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &cron.Entry{
		ID:        eID,
		Name:      m["name"],
		Schedule:  m["schedule"],
		Queue:     m["queue"],
		JobName:   m["job_name"],
		Payload:   []byte(m["payload"]),
		Enabled:   enabled,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}

	if v := m["last_run_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.LastRunAt = &t
	}
	if v := m["next_run_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.NextRunAt = &t
	}
	return e, nil
}
