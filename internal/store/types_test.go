package store

import (
	"testing"
	"time"
)

// TestBanEffectiveStatus verifies lazy expiry: stored state is advisory for
// TEMPORARY bans past their deadline.
func TestBanEffectiveStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ban  Ban
		want BanStatus
	}{
		{
			name: "active permanent stays active",
			ban:  Ban{Kind: BanPermanent, Status: BanActive},
			want: BanActive,
		},
		{
			name: "active temporary before deadline stays active",
			ban:  Ban{Kind: BanTemporary, Status: BanActive, ExpiresAt: now.Add(time.Hour)},
			want: BanActive,
		},
		{
			name: "active temporary at deadline is expired",
			ban:  Ban{Kind: BanTemporary, Status: BanActive, ExpiresAt: now},
			want: BanExpired,
		},
		{
			name: "active temporary past deadline is expired",
			ban:  Ban{Kind: BanTemporary, Status: BanActive, ExpiresAt: now.Add(-time.Minute)},
			want: BanExpired,
		},
		{
			name: "revoked temporary past deadline stays revoked",
			ban:  Ban{Kind: BanTemporary, Status: BanRevoked, ExpiresAt: now.Add(-time.Minute)},
			want: BanRevoked,
		},
		{
			name: "expired stays expired",
			ban:  Ban{Kind: BanTemporary, Status: BanExpired, ExpiresAt: now.Add(-time.Minute)},
			want: BanExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ban.EffectiveStatus(now); got != tt.want {
				t.Errorf("EffectiveStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHubSettingsBitmask(t *testing.T) {
	var s HubSettings

	s = s.With(SettingBlockNSFW).With(SettingHideLinks)
	if !s.Has(SettingBlockNSFW) || !s.Has(SettingHideLinks) {
		t.Fatalf("settings %b missing switches that were set", s)
	}
	if s.Has(SettingSpamFilter) {
		t.Errorf("settings %b has SettingSpamFilter, want unset", s)
	}

	s = s.Without(SettingBlockNSFW)
	if s.Has(SettingBlockNSFW) {
		t.Errorf("settings %b still has SettingBlockNSFW after Without", s)
	}
	if !s.Has(SettingHideLinks) {
		t.Errorf("settings %b lost SettingHideLinks", s)
	}
}

func TestBlacklistEntryExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		entry BlacklistEntry
		want  bool
	}{
		{"indefinite never expires", BlacklistEntry{}, false},
		{"future deadline", BlacklistEntry{ExpiresAt: now.Add(time.Hour)}, false},
		{"at deadline", BlacklistEntry{ExpiresAt: now}, true},
		{"past deadline", BlacklistEntry{ExpiresAt: now.Add(-time.Second)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}
