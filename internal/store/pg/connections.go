package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/interchat-hq/interchat/internal/store"
)

// PGConnectionStore persists channel-to-hub bindings.
type PGConnectionStore struct {
	db *sql.DB
}

func NewPGConnectionStore(db *sql.DB) *PGConnectionStore {
	return &PGConnectionStore{db: db}
}

const connColumns = `id, channel_id, server_id, hub_id, connected, webhook_url, compact, embed_color, invite_url, last_active, created_at`

func scanConnection(row interface{ Scan(...any) error }) (*store.Connection, error) {
	var c store.Connection
	err := row.Scan(&c.ID, &c.ChannelID, &c.ServerID, &c.HubID, &c.Connected,
		&c.WebhookURL, &c.Compact, &c.EmbedColor, &c.InviteURL, &c.LastActive, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PGConnectionStore) Find(ctx context.Context, channelID string) (*store.Connection, error) {
	c, err := scanConnection(s.db.QueryRowContext(ctx,
		`SELECT `+connColumns+` FROM connections WHERE channel_id = $1`, channelID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find connection: %w", err)
	}
	return c, nil
}

func (s *PGConnectionStore) FindByHub(ctx context.Context, hubID string) ([]store.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connColumns+` FROM connections WHERE hub_id = $1 ORDER BY created_at`, hubID)
	if err != nil {
		return nil, fmt.Errorf("find hub connections: %w", err)
	}
	defer rows.Close()

	var out []store.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PGConnectionStore) FindByServer(ctx context.Context, serverID string) ([]store.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connColumns+` FROM connections WHERE server_id = $1 ORDER BY created_at`, serverID)
	if err != nil {
		return nil, fmt.Errorf("find server connections: %w", err)
	}
	defer rows.Close()

	var out []store.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PGConnectionStore) Upsert(ctx context.Context, c store.Connection) error {
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastActive.IsZero() {
		c.LastActive = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (`+connColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (channel_id) DO UPDATE SET
		   server_id = EXCLUDED.server_id,
		   hub_id = EXCLUDED.hub_id,
		   connected = EXCLUDED.connected,
		   webhook_url = EXCLUDED.webhook_url,
		   compact = EXCLUDED.compact,
		   embed_color = EXCLUDED.embed_color,
		   invite_url = EXCLUDED.invite_url,
		   last_active = EXCLUDED.last_active`,
		c.ID, c.ChannelID, c.ServerID, c.HubID, c.Connected,
		c.WebhookURL, c.Compact, c.EmbedColor, c.InviteURL, c.LastActive, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert connection: %w", err)
	}
	return nil
}

func (s *PGConnectionStore) SetWebhookURL(ctx context.Context, channelID, url string) error {
	return s.exec(ctx, `UPDATE connections SET webhook_url = $2 WHERE channel_id = $1`, channelID, url)
}

func (s *PGConnectionStore) SetConnected(ctx context.Context, channelID string, connected bool) error {
	return s.exec(ctx, `UPDATE connections SET connected = $2 WHERE channel_id = $1`, channelID, connected)
}

func (s *PGConnectionStore) Touch(ctx context.Context, channelID string, at time.Time) error {
	return s.exec(ctx, `UPDATE connections SET last_active = $2 WHERE channel_id = $1`, channelID, at)
}

func (s *PGConnectionStore) exec(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PGConnectionStore) Delete(ctx context.Context, channelID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PGConnectionStore) DeleteByServer(ctx context.Context, serverID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE server_id = $1`, serverID)
	if err != nil {
		return 0, fmt.Errorf("delete server connections: %w", err)
	}
	return res.RowsAffected()
}
