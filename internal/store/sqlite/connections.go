package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/interchat-hq/interchat/internal/store"
)

// SQLiteConnectionStore persists channel-to-hub bindings.
type SQLiteConnectionStore struct {
	db *sql.DB
}

func NewSQLiteConnectionStore(db *sql.DB) *SQLiteConnectionStore {
	return &SQLiteConnectionStore{db: db}
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

func (s *SQLiteConnectionStore) Find(ctx context.Context, channelID string) (*store.Connection, error) {
	c, err := scanConnection(s.db.QueryRowContext(ctx,
		`SELECT `+connColumns+` FROM connections WHERE channel_id = ?`, channelID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find connection: %w", err)
	}
	return c, nil
}

func (s *SQLiteConnectionStore) FindByHub(ctx context.Context, hubID string) ([]store.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connColumns+` FROM connections WHERE hub_id = ? ORDER BY datetime(created_at), id`, hubID)
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

func (s *SQLiteConnectionStore) FindByServer(ctx context.Context, serverID string) ([]store.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connColumns+` FROM connections WHERE server_id = ? ORDER BY datetime(created_at), id`, serverID)
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

func (s *SQLiteConnectionStore) Upsert(ctx context.Context, c store.Connection) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (channel_id) DO UPDATE SET
		   server_id = excluded.server_id,
		   hub_id = excluded.hub_id,
		   connected = excluded.connected,
		   webhook_url = excluded.webhook_url,
		   compact = excluded.compact,
		   embed_color = excluded.embed_color,
		   invite_url = excluded.invite_url,
		   last_active = excluded.last_active`,
		c.ID, c.ChannelID, c.ServerID, c.HubID, c.Connected,
		c.WebhookURL, c.Compact, c.EmbedColor, c.InviteURL, c.LastActive, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert connection: %w", err)
	}
	return nil
}

func (s *SQLiteConnectionStore) SetWebhookURL(ctx context.Context, channelID, url string) error {
	return s.exec(ctx, `UPDATE connections SET webhook_url = ? WHERE channel_id = ?`, url, channelID)
}

func (s *SQLiteConnectionStore) SetConnected(ctx context.Context, channelID string, connected bool) error {
	return s.exec(ctx, `UPDATE connections SET connected = ? WHERE channel_id = ?`, connected, channelID)
}

func (s *SQLiteConnectionStore) Touch(ctx context.Context, channelID string, at time.Time) error {
	return s.exec(ctx, `UPDATE connections SET last_active = ? WHERE channel_id = ?`, at, channelID)
}

func (s *SQLiteConnectionStore) exec(ctx context.Context, q string, args ...any) error {
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

func (s *SQLiteConnectionStore) Delete(ctx context.Context, channelID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE channel_id = ?`, channelID)
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

func (s *SQLiteConnectionStore) DeleteByServer(ctx context.Context, serverID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE server_id = ?`, serverID)
	if err != nil {
		return 0, fmt.Errorf("delete server connections: %w", err)
	}
	return res.RowsAffected()
}
