package services

import (
	"context"
	"sort"
	"time"

	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/config"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/apperrors"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/cache"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ParticipantView is a roster entry joined with its profile.
type ParticipantView struct {
	Wallet    string                   `json:"wallet"`
	Username  string                   `json:"username,omitempty"`
	AvatarURL *string                  `json:"avatar_url,omitempty"`
	Role      models.ParticipantRole   `json:"role"`
	Status    models.ParticipantStatus `json:"status"`
	Entries   []EntryView              `json:"entries"`
	Votes     int                      `json:"votes"`
}

// EntryView is one submitted round entry.
type EntryView struct {
	ID          uuid.UUID `json:"id"`
	Wallet      string    `json:"wallet"`
	Round       int       `json:"round"`
	AudioURL    string    `json:"audio_url"`
	Lyrics      *string   `json:"lyrics,omitempty"`
	Description *string   `json:"description,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// EventView is the denormalized read model for a single event.
type EventView struct {
	Event        *models.Event     `json:"event"`
	Participants []ParticipantView `json:"participants"`
	Timeline     []EntryView       `json:"timeline"`
	Tally        map[string]int    `json:"tally"`
	TotalVotes   int               `json:"total_votes"`
	UserVote     *string           `json:"user_vote,omitempty"`
	CanSubmit    bool              `json:"can_submit"`
	CanVote      bool              `json:"can_vote"`
}

// Views serves the read side: event detail, listings and leaderboards.
// Event reads run the lazy closure check first so a lapsed voting event is
// never observed in a non-terminal phase.
type Views struct {
	events       EventStore
	participants ParticipantStore
	submissions  SubmissionStore
	votes        VoteStore
	profiles     ProfileStore
	stats        StatsStore
	engine       *Engine
	cache        *cache.RedisCache
	cfg          config.EngineConfig
	now          func() time.Time
}

// NewViews creates the read-side service. cacheClient may be nil.
func NewViews(
	events EventStore,
	participants ParticipantStore,
	submissions SubmissionStore,
	votes VoteStore,
	profiles ProfileStore,
	stats StatsStore,
	engine *Engine,
	cacheClient *cache.RedisCache,
	cfg config.EngineConfig,
) *Views {
	return &Views{
		events:       events,
		participants: participants,
		submissions:  submissions,
		votes:        votes,
		profiles:     profiles,
		stats:        stats,
		engine:       engine,
		cache:        cacheClient,
		cfg:          cfg,
		now:          time.Now,
	}
}

// GetEvent assembles the denormalized view of one event for a viewer.
// viewer may be empty for anonymous reads. Only the anonymous view is
// cached; per-viewer fields make personalized views uncacheable, and the
// engine invalidates the anonymous key on every mutation.
func (v *Views) GetEvent(ctx context.Context, id uuid.UUID, viewer string) (*EventView, error) {
	cacheKey := cache.GetEventViewCacheKey(id)
	if v.cache != nil && viewer == "" {
		var cached EventView
		if err := v.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	event, err := v.events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	event, err = v.engine.FinalizeIfDue(ctx, event)
	if err != nil {
		return nil, err
	}

	view, err := v.assemble(ctx, event, viewer)
	if err != nil {
		return nil, err
	}

	if v.cache != nil && viewer == "" {
		if err := v.cache.Set(ctx, cacheKey, view, v.cfg.ViewCacheTTL); err != nil {
			log.Debug().Err(err).Str("key", cacheKey).Msg("Failed to cache event view")
		}
	}
	return view, nil
}

// GetEventByInviteCode resolves a challenge by invite code without joining.
func (v *Views) GetEventByInviteCode(ctx context.Context, code, viewer string) (*EventView, error) {
	event, err := v.events.GetByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	event, err = v.engine.FinalizeIfDue(ctx, event)
	if err != nil {
		return nil, err
	}
	return v.assemble(ctx, event, viewer)
}

func (v *Views) assemble(ctx context.Context, event *models.Event, viewer string) (*EventView, error) {
	roster, err := v.participants.ListByEvent(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	entries, err := v.submissions.ListByEvent(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	tally, err := v.votes.Tally(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	wallets := make([]string, 0, len(roster))
	for _, p := range roster {
		wallets = append(wallets, p.Wallet)
	}
	profileByWallet, err := v.profiles.GetByWallets(ctx, wallets)
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("Failed to load participant profiles")
		profileByWallet = nil
	}

	entriesByWallet := make(map[string][]EntryView)
	timeline := make([]EntryView, 0, len(entries))
	for _, s := range entries {
		ev := EntryView{
			ID:          s.ID,
			Wallet:      s.Wallet,
			Round:       s.Round,
			AudioURL:    s.AudioURL,
			Lyrics:      s.Lyrics,
			Description: s.Description,
			SubmittedAt: s.SubmittedAt,
		}
		entriesByWallet[s.Wallet] = append(entriesByWallet[s.Wallet], ev)
		timeline = append(timeline, ev)
	}
	// Playback order: round first, then submission time within a round.
	sort.SliceStable(timeline, func(i, j int) bool {
		if timeline[i].Round != timeline[j].Round {
			return timeline[i].Round < timeline[j].Round
		}
		return timeline[i].SubmittedAt.Before(timeline[j].SubmittedAt)
	})

	totalVotes := 0
	for _, n := range tally {
		totalVotes += n
	}

	participantViews := make([]ParticipantView, 0, len(roster))
	viewerOnRoster := false
	for _, p := range roster {
		if p.Wallet == viewer {
			viewerOnRoster = true
		}
		pv := ParticipantView{
			Wallet:  p.Wallet,
			Role:    p.Role,
			Status:  p.Status,
			Entries: entriesByWallet[p.Wallet],
			Votes:   tally[p.Wallet],
		}
		if pv.Entries == nil {
			pv.Entries = []EntryView{}
		}
		if prof, ok := profileByWallet[p.Wallet]; ok {
			pv.Username = prof.Username
			pv.AvatarURL = prof.AvatarURL
		}
		participantViews = append(participantViews, pv)
	}

	view := &EventView{
		Event:        event,
		Participants: participantViews,
		Timeline:     timeline,
		Tally:        tally,
		TotalVotes:   totalVotes,
	}

	policy := policyFor(event.Kind)
	expired := v.now().After(event.ExpiresAt)
	if viewer != "" {
		if viewerOnRoster {
			view.CanSubmit = policy.submittablePhases[event.Phase] && !expired
		} else if event.Phase == models.PhaseVoting {
			userVote, err := v.votes.GetByVoter(ctx, event.ID, viewer)
			switch {
			case err == nil:
				view.UserVote = &userVote.WinnerWallet
			case apperrors.Is(err, apperrors.KindNotFound):
				view.CanVote = true
			default:
				return nil, err
			}
		}
	}
	return view, nil
}

// ListEvents returns events matching the filter, newest first.
func (v *Views) ListEvents(ctx context.Context, filter EventFilter) ([]models.Event, error) {
	if filter.Limit <= 0 || filter.Limit > 50 {
		filter.Limit = 20
	}
	return v.events.List(ctx, filter)
}

// LeaderboardView is a ranked page plus overall platform stats.
type LeaderboardView struct {
	Period  string        `json:"period"`
	Entries []RankedEntry `json:"entries"`
	Stats   OverallStats  `json:"stats"`
}

// Leaderboard ranks wallets by completed-event results over a period.
// period is one of week, month or all.
func (v *Views) Leaderboard(ctx context.Context, period, category string, limit int) (*LeaderboardView, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	if category != "" && !validCategories[category] {
		return nil, apperrors.Validation("unknown category %q", category)
	}

	var since *time.Time
	switch period {
	case "", "all":
		period = "all"
	case "week":
		t := v.now().AddDate(0, 0, -7)
		since = &t
	case "month":
		t := v.now().AddDate(0, -1, 0)
		since = &t
	default:
		return nil, apperrors.Validation("period must be week, month or all")
	}

	cacheKey := cache.GetLeaderboardCacheKey(period, category, limit)
	if v.cache != nil {
		var cached LeaderboardView
		if err := v.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	entries, err := v.stats.Leaderboard(ctx, since, category, limit)
	if err != nil {
		return nil, err
	}
	stats, err := v.stats.Overall(ctx, since)
	if err != nil {
		return nil, err
	}

	view := &LeaderboardView{Period: period, Entries: entries, Stats: stats}
	if v.cache != nil {
		if err := v.cache.Set(ctx, cacheKey, view, v.cfg.LeaderboardCacheTTL); err != nil {
			log.Debug().Err(err).Str("key", cacheKey).Msg("Failed to cache leaderboard")
		}
	}
	return view, nil
}

// GetProfile returns a wallet's profile, creating nothing on miss. Profiles
// change on every award, so the cache rides on a short TTL instead of
// invalidation.
func (v *Views) GetProfile(ctx context.Context, wallet string) (*models.Profile, error) {
	if wallet == "" {
		return nil, apperrors.Validation("wallet is required")
	}

	cacheKey := cache.GetProfileCacheKey(wallet)
	if v.cache != nil {
		var cached models.Profile
		if err := v.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	profile, err := v.profiles.GetByWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if v.cache != nil {
		if err := v.cache.Set(ctx, cacheKey, profile, v.cfg.ProfileCacheTTL); err != nil {
			log.Debug().Err(err).Str("key", cacheKey).Msg("Failed to cache profile")
		}
	}
	return profile, nil
}
