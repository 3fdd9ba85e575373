// Package admission runs the ordered policy checks that decide whether an
// inbound hub message may be broadcast. The first failing check decides:
// ban, server ban, hub blacklist, spam, NSFW policy, anti-swear, global
// content filter. A check either blocks, rewrites the text and continues,
// or passes.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"time"

	"github.com/interchat-hq/interchat/internal/cache"
	"github.com/interchat-hq/interchat/internal/store"
)

// Reason names the check that blocked a message.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUserBanned
	ReasonServerBanned
	ReasonBlacklisted
	ReasonSpam
	ReasonNSFW
	ReasonAntiSwear
	ReasonContentFilter
	ReasonInviteLink
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUserBanned:
		return "user_banned"
	case ReasonServerBanned:
		return "server_banned"
	case ReasonBlacklisted:
		return "blacklisted"
	case ReasonSpam:
		return "spam"
	case ReasonNSFW:
		return "nsfw"
	case ReasonAntiSwear:
		return "anti_swear"
	case ReasonContentFilter:
		return "content_filter"
	case ReasonInviteLink:
		return "invite_link"
	}
	return "unknown"
}

// Request is the immutable snapshot the pipeline judges.
type Request struct {
	UserID        string
	ServerID      string
	ChannelID     string
	Text          string
	AttachmentURL string
	ImageURL      string // set when the attachment is an image
}

// Decision is the pipeline verdict. When Blocked is false, Text carries the
// message content with any replace-action rewrites applied.
type Decision struct {
	Blocked bool
	Reason  Reason
	Detail  string // rule name or filter category, for notices and logs
	Text    string
	Warn    bool // author should be told what happened
}

// ContentFilter is the global content-policy classifier slot.
type ContentFilter interface {
	Check(ctx context.Context, text, attachmentURL string) (blocked bool, category string, err error)
}

var (
	inviteRe = regexp.MustCompile(`(?i)\b(?:discord\.gg|discord(?:app)?\.com/invite)/\S+`)
	linkRe   = regexp.MustCompile(`https?://\S+`)
)

const ruleCacheTTL = time.Minute

type compiledRule struct {
	name                 string
	block, warn, replace bool
	list                 wordList
}

// Pipeline evaluates the admission checks in their fixed order. The nsfw
// and filter slots may be nil, which disables those checks.
type Pipeline struct {
	bans   store.BanStore
	hubs   store.HubStore
	spam   *SpamGuard
	nsfw   NSFWDetector
	filter ContentFilter
	rules  *cache.Local[[]compiledRule]
}

func NewPipeline(bans store.BanStore, hubs store.HubStore, spam *SpamGuard, nsfw NSFWDetector, filter ContentFilter) *Pipeline {
	return &Pipeline{
		bans:   bans,
		hubs:   hubs,
		spam:   spam,
		nsfw:   nsfw,
		filter: filter,
		rules:  cache.NewLocal[[]compiledRule](ruleCacheTTL),
	}
}

func (p *Pipeline) Close() {
	p.rules.Close()
	if p.spam != nil {
		p.spam.Close()
	}
}

// Check judges one message against hub policy. A returned error means a
// dependency failed and the message must not be broadcast.
func (p *Pipeline) Check(ctx context.Context, req Request, hub *store.Hub) (Decision, error) {
	pass := Decision{Text: req.Text}

	if blocked, err := p.activeBan(ctx, store.SubjectUser, req.UserID); err != nil {
		return pass, err
	} else if blocked {
		return Decision{Blocked: true, Reason: ReasonUserBanned, Text: req.Text}, nil
	}
	if blocked, err := p.activeBan(ctx, store.SubjectServer, req.ServerID); err != nil {
		return pass, err
	} else if blocked {
		return Decision{Blocked: true, Reason: ReasonServerBanned, Text: req.Text}, nil
	}

	for _, subject := range []string{req.UserID, req.ServerID} {
		entry, err := p.hubs.FindBlacklistEntry(ctx, hub.ID, subject)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return pass, fmt.Errorf("check hub blacklist: %w", err)
		}
		if !entry.Expired(time.Now()) {
			return Decision{Blocked: true, Reason: ReasonBlacklisted, Detail: entry.Reason, Text: req.Text}, nil
		}
	}

	if p.spam != nil && hub.Settings.Has(store.SettingSpamFilter) {
		if !p.spam.Allow(req.UserID, req.ChannelID) {
			return Decision{Blocked: true, Reason: ReasonSpam, Text: req.Text}, nil
		}
	}

	if p.nsfw != nil && hub.Settings.Has(store.SettingBlockNSFW) && req.ImageURL != "" {
		unsafe, err := p.nsfw.IsUnsafe(ctx, req.ImageURL)
		if err != nil {
			// Classifier outages must not silence the whole hub.
			slog.Warn("nsfw check failed", "channel_id", req.ChannelID, "error", err)
		} else if unsafe {
			return Decision{Blocked: true, Reason: ReasonNSFW, Text: req.Text, Warn: true}, nil
		}
	}

	text := req.Text
	rules, err := p.hubRules(ctx, hub.ID)
	if err != nil {
		return pass, err
	}
	detail := ""
	for _, r := range rules {
		if _, hit := r.list.Match(text); !hit {
			continue
		}
		if r.block {
			return Decision{Blocked: true, Reason: ReasonAntiSwear, Detail: r.name, Text: req.Text, Warn: r.warn}, nil
		}
		if r.replace {
			text, _ = r.list.Mask(text)
			detail = r.name
		}
	}

	if hub.Settings.Has(store.SettingBlockInvites) && inviteRe.MatchString(text) {
		return Decision{Blocked: true, Reason: ReasonInviteLink, Text: req.Text, Warn: true}, nil
	}
	if hub.Settings.Has(store.SettingHideLinks) {
		text = linkRe.ReplaceAllString(text, "[link hidden]")
	}

	if p.filter != nil {
		blocked, category, err := p.filter.Check(ctx, text, req.AttachmentURL)
		if err != nil {
			slog.Warn("content filter failed", "channel_id", req.ChannelID, "error", err)
		} else if blocked {
			return Decision{Blocked: true, Reason: ReasonContentFilter, Detail: category, Text: req.Text, Warn: true}, nil
		}
	}

	return Decision{Text: text, Detail: detail}, nil
}

func (p *Pipeline) activeBan(ctx context.Context, kind store.SubjectKind, subjectID string) (bool, error) {
	_, err := p.bans.FindActive(ctx, kind, subjectID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("check %s ban: %w", kind, err)
}

// hubRules returns the hub's anti-swear rules with patterns pre-compiled,
// cached briefly so the hot path does not hit the store per message.
func (p *Pipeline) hubRules(ctx context.Context, hubID string) ([]compiledRule, error) {
	if rules, ok := p.rules.Get(hubID); ok {
		return rules, nil
	}
	raw, err := p.hubs.ListAntiSwearRules(ctx, hubID)
	if err != nil {
		return nil, fmt.Errorf("load anti-swear rules: %w", err)
	}
	rules := make([]compiledRule, 0, len(raw))
	for _, r := range raw {
		list := compilePatterns(r.Patterns)
		if list.Empty() {
			continue
		}
		rules = append(rules, compiledRule{
			name:    r.Name,
			block:   slices.Contains(r.Actions, store.ActionBlock),
			warn:    slices.Contains(r.Actions, store.ActionWarn),
			replace: slices.Contains(r.Actions, store.ActionReplace),
			list:    list,
		})
	}
	p.rules.Set(hubID, rules)
	return rules, nil
}

// InvalidateRules drops the cached rule set after a moderator edits it.
func (p *Pipeline) InvalidateRules(hubID string) {
	p.rules.Delete(hubID)
}

// ListFilter is a ContentFilter backed by a static pattern list, the
// process-wide floor under per-hub anti-swear rules.
type ListFilter struct {
	list wordList
}

func NewListFilter(patterns []string) *ListFilter {
	return &ListFilter{list: compilePatterns(patterns)}
}

func (f *ListFilter) Check(_ context.Context, text, _ string) (bool, string, error) {
	if _, hit := f.list.Match(text); hit {
		return true, "blocked-term", nil
	}
	return false, "", nil
}
