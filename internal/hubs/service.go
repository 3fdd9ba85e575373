// Package hubs orchestrates hub and connection management over the entity
// stores: creating hubs, binding channels to them, and the owner-facing
// policy knobs. All writes go through the invalidating store decorators so
// the resolve cache never serves a stale binding.
package hubs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/webhooks"
)

// DefaultMaxPerOwner caps how many hubs one user may own.
const DefaultMaxPerOwner = 3

var (
	// ErrQuotaExceeded refuses a hub create past the per-owner cap.
	ErrQuotaExceeded = errors.New("hub quota reached")
	// ErrBadName refuses hub names outside the allowed shape.
	ErrBadName = errors.New("invalid hub name")
	// ErrPrivateHub refuses joining a private hub by name.
	ErrPrivateHub = errors.New("hub is private")
	// ErrAlreadyConnected refuses binding a channel that has a connection.
	ErrAlreadyConnected = errors.New("channel already has a connection")
	// ErrNotConnected means the channel has no connection to act on.
	ErrNotConnected = errors.New("channel has no connection")
	// ErrNotOwner refuses owner-only operations from anyone else.
	ErrNotOwner = errors.New("only the hub owner may do this")
)

// RuleInvalidator drops cached compiled anti-swear rules after a mutation.
type RuleInvalidator interface {
	InvalidateRules(hubID string)
}

// Service is pure orchestration over the stores; it owns no state of its own.
type Service struct {
	stores      store.Stores
	prov        *webhooks.Provisioner
	rules       RuleInvalidator
	maxPerOwner int
}

// New wires a hub service. stores must be the invalidating decorated set.
// rules may be nil when no admission pipeline is running.
func New(stores store.Stores, prov *webhooks.Provisioner, rules RuleInvalidator, maxPerOwner int) *Service {
	if maxPerOwner <= 0 {
		maxPerOwner = DefaultMaxPerOwner
	}
	return &Service{stores: stores, prov: prov, rules: rules, maxPerOwner: maxPerOwner}
}

// Create makes a new hub owned by ownerUserID.
func (s *Service) Create(ctx context.Context, ownerUserID, name, description string, private bool) (*store.Hub, error) {
	name = strings.TrimSpace(name)
	if len(name) < 3 || len(name) > store.MaxHubNameLen || strings.ContainsAny(name, "`#@\n") {
		return nil, ErrBadName
	}
	n, err := s.stores.Hubs.CountByOwner(ctx, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("count owned hubs: %w", err)
	}
	if n >= s.maxPerOwner {
		return nil, ErrQuotaExceeded
	}

	h := store.Hub{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Name:        name,
		Description: description,
		OwnerUserID: ownerUserID,
		Private:     private,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.stores.Hubs.Create(ctx, h); err != nil {
		return nil, err
	}
	slog.Info("hub created", "hub_id", h.ID, "name", h.Name, "owner", ownerUserID)
	return &h, nil
}

// Join binds a channel to the named hub and provisions its webhook. The
// webhook is best-effort here: a failure leaves the URL empty and the first
// broadcast provisions it lazily.
func (s *Service) Join(ctx context.Context, hubName, channelID, serverID, userID string) (*store.Connection, error) {
	hub, err := s.stores.Hubs.FindByName(ctx, hubName)
	if err != nil {
		return nil, err
	}
	if hub.Private && hub.OwnerUserID != userID {
		return nil, ErrPrivateHub
	}
	if existing, err := s.stores.Connections.Find(ctx, channelID); err == nil {
		if existing.HubID == hub.ID && !existing.Connected {
			// Rejoining the same hub resumes the paused connection.
			if err := s.stores.Connections.SetConnected(ctx, channelID, true); err != nil {
				return nil, err
			}
			existing.Connected = true
			return existing, nil
		}
		return nil, ErrAlreadyConnected
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check existing connection: %w", err)
	}

	conn := store.Connection{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ChannelID: channelID,
		ServerID:  serverID,
		HubID:     hub.ID,
		Connected: true,
	}
	if err := s.stores.Connections.Upsert(ctx, conn); err != nil {
		return nil, err
	}
	if url, err := s.prov.Ensure(ctx, &conn); err != nil {
		slog.Warn("webhook provisioning deferred", "channel_id", channelID, "error", err)
	} else {
		conn.WebhookURL = url
	}
	slog.Info("channel joined hub", "hub_id", hub.ID, "channel_id", channelID, "server_id", serverID)
	return &conn, nil
}

// Leave pauses the channel's connection. The row stays so the channel can
// resume without re-provisioning.
func (s *Service) Leave(ctx context.Context, channelID string) error {
	return s.setConnected(ctx, channelID, false)
}

// Resume re-enables a paused connection.
func (s *Service) Resume(ctx context.Context, channelID string) error {
	return s.setConnected(ctx, channelID, true)
}

func (s *Service) setConnected(ctx context.Context, channelID string, connected bool) error {
	if _, err := s.stores.Connections.Find(ctx, channelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotConnected
		}
		return err
	}
	return s.stores.Connections.SetConnected(ctx, channelID, connected)
}

// Delete removes a hub and everything hanging off it. Owner only.
func (s *Service) Delete(ctx context.Context, hubID, userID string) error {
	hub, err := s.stores.Hubs.Find(ctx, hubID)
	if err != nil {
		return err
	}
	if hub.OwnerUserID != userID {
		return ErrNotOwner
	}
	if err := s.stores.Hubs.Delete(ctx, hubID); err != nil {
		return err
	}
	slog.Info("hub deleted", "hub_id", hubID, "name", hub.Name, "owner", userID)
	return nil
}

// ByName resolves a hub by its public name.
func (s *Service) ByName(ctx context.Context, name string) (*store.Hub, error) {
	return s.stores.Hubs.FindByName(ctx, name)
}

// Connections lists the hub's channel bindings, connected or paused.
func (s *Service) Connections(ctx context.Context, hubID string) ([]store.Connection, error) {
	return s.stores.Connections.FindByHub(ctx, hubID)
}

// ownedHub loads a hub and checks the caller owns it.
func (s *Service) ownedHub(ctx context.Context, hubID, userID string) (*store.Hub, error) {
	hub, err := s.stores.Hubs.Find(ctx, hubID)
	if err != nil {
		return nil, err
	}
	if hub.OwnerUserID != userID {
		return nil, ErrNotOwner
	}
	return hub, nil
}

// SetVisibility flips a hub between private and public.
func (s *Service) SetVisibility(ctx context.Context, hubID, userID string, private bool) error {
	hub, err := s.ownedHub(ctx, hubID, userID)
	if err != nil {
		return err
	}
	hub.Private = private
	return s.stores.Hubs.Update(ctx, *hub)
}

// SetDescription replaces the hub description.
func (s *Service) SetDescription(ctx context.Context, hubID, userID, description string) error {
	hub, err := s.ownedHub(ctx, hubID, userID)
	if err != nil {
		return err
	}
	hub.Description = description
	return s.stores.Hubs.Update(ctx, *hub)
}

// SetRules replaces the hub's ordered rule list. Emptying the list lifts the
// acceptance requirement for future messages.
func (s *Service) SetRules(ctx context.Context, hubID, userID string, rules []string) error {
	hub, err := s.ownedHub(ctx, hubID, userID)
	if err != nil {
		return err
	}
	hub.Rules = rules
	return s.stores.Hubs.Update(ctx, *hub)
}

// Toggle flips one policy switch on the hub and reports the new state.
func (s *Service) Toggle(ctx context.Context, hubID, userID string, flag store.HubSettings) (bool, error) {
	hub, err := s.ownedHub(ctx, hubID, userID)
	if err != nil {
		return false, err
	}
	if hub.Settings.Has(flag) {
		hub.Settings = hub.Settings.Without(flag)
	} else {
		hub.Settings = hub.Settings.With(flag)
	}
	if err := s.stores.Hubs.Update(ctx, *hub); err != nil {
		return false, err
	}
	return hub.Settings.Has(flag), nil
}

// UpsertAntiSwearRule writes a rule set and drops its compiled cache.
func (s *Service) UpsertAntiSwearRule(ctx context.Context, hubID, userID string, r store.AntiSwearRule) error {
	if _, err := s.ownedHub(ctx, hubID, userID); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.Must(uuid.NewV7()).String()
	}
	r.HubID = hubID
	if err := s.stores.Hubs.UpsertAntiSwearRule(ctx, r); err != nil {
		return err
	}
	if s.rules != nil {
		s.rules.InvalidateRules(hubID)
	}
	return nil
}

// DeleteAntiSwearRule removes a rule set and drops its compiled cache.
func (s *Service) DeleteAntiSwearRule(ctx context.Context, hubID, userID, ruleID string) error {
	if _, err := s.ownedHub(ctx, hubID, userID); err != nil {
		return err
	}
	if err := s.stores.Hubs.DeleteAntiSwearRule(ctx, ruleID); err != nil {
		return err
	}
	if s.rules != nil {
		s.rules.InvalidateRules(hubID)
	}
	return nil
}

// Blacklist excludes a user or server from the hub, optionally until expires.
func (s *Service) Blacklist(ctx context.Context, hubID, userID string, e store.BlacklistEntry) error {
	if _, err := s.ownedHub(ctx, hubID, userID); err != nil {
		return err
	}
	e.HubID = hubID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return s.stores.Hubs.AddBlacklistEntry(ctx, e)
}

// Unblacklist lifts a hub exclusion.
func (s *Service) Unblacklist(ctx context.Context, hubID, userID, subjectID string) error {
	if _, err := s.ownedHub(ctx, hubID, userID); err != nil {
		return err
	}
	return s.stores.Hubs.RemoveBlacklistEntry(ctx, hubID, subjectID)
}

// SetCompact switches a connection between embed and compact rendering.
func (s *Service) SetCompact(ctx context.Context, channelID string, compact bool) error {
	conn, err := s.stores.Connections.Find(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotConnected
		}
		return err
	}
	conn.Compact = compact
	return s.stores.Connections.Upsert(ctx, *conn)
}

// SetEmbedColor sets the connection's embed accent color ("#RRGGBB").
func (s *Service) SetEmbedColor(ctx context.Context, channelID, color string) error {
	conn, err := s.stores.Connections.Find(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotConnected
		}
		return err
	}
	conn.EmbedColor = color
	return s.stores.Connections.Upsert(ctx, *conn)
}
