package services

import (
	"context"
	"time"

	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/models"

	"github.com/google/uuid"
)

// EventFilter narrows ListEvents queries.
type EventFilter struct {
	Phase  models.Phase // empty means all phases
	Kind   models.EventKind
	Limit  int
	Offset int
}

// PhaseStamp carries the metadata written together with a phase advance.
// Nil fields are left untouched; SetWinner distinguishes "winner is null"
// (a tie) from "do not write the winner column".
type PhaseStamp struct {
	StartedAt    *time.Time
	VotingEndsAt *time.Time
	CompletedAt  *time.Time
	SetWinner    bool
	Winner       *string
}

// EventStore is the persistence port for events. AdvancePhase must be a
// conditional update: it succeeds only if the stored phase still equals from,
// and reports whether this caller won the transition.
type EventStore interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	GetByInviteCode(ctx context.Context, code string) (*models.Event, error)
	List(ctx context.Context, filter EventFilter) ([]models.Event, error)
	AdvancePhase(ctx context.Context, id uuid.UUID, from, to models.Phase, stamp PhaseStamp) (bool, error)
	ListLapsedVoting(ctx context.Context, now time.Time, limit int) ([]models.Event, error)
}

// ParticipantStore is the persistence port for the roster.
type ParticipantStore interface {
	Add(ctx context.Context, participant *models.Participant) error
	Get(ctx context.Context, eventID uuid.UUID, wallet string) (*models.Participant, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Participant, error)
	CountAccepted(ctx context.Context, eventID uuid.UUID) (int64, error)
}

// SubmissionStore is the append-only persistence port for entries.
type SubmissionStore interface {
	Append(ctx context.Context, submission *models.Submission) error
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Submission, error)
	CountPerWallet(ctx context.Context, eventID uuid.UUID) (map[string]int, error)
}

// VoteStore is the append-only persistence port for votes.
type VoteStore interface {
	Append(ctx context.Context, vote *models.Vote) error
	GetByVoter(ctx context.Context, eventID uuid.UUID, wallet string) (*models.Vote, error)
	Tally(ctx context.Context, eventID uuid.UUID) (map[string]int, error)
}

// ProfileStore is the persistence port for user profiles.
type ProfileStore interface {
	GetByWallet(ctx context.Context, wallet string) (*models.Profile, error)
	GetByWallets(ctx context.Context, wallets []string) (map[string]models.Profile, error)
	Credit(ctx context.Context, wallet string, amount int64, level int) error
}

// ReputationStore appends to the XP ledger.
type ReputationStore interface {
	Append(ctx context.Context, entry *models.ReputationEntry) error
}

// ActivityStore appends to the activity log.
type ActivityStore interface {
	Append(ctx context.Context, activity *models.Activity) error
}

// RankedEntry is one leaderboard row derived from completed events.
type RankedEntry struct {
	Rank        int     `json:"rank"`
	Wallet      string  `json:"wallet"`
	Name        string  `json:"name"`
	Level       int     `json:"level"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	TotalEvents int     `json:"total_events"`
	WinRate     float64 `json:"win_rate"`
	Winnings    int64   `json:"winnings"`
	Score       int     `json:"score"`
}

// OverallStats summarizes engine-wide activity for list and leaderboard views.
type OverallStats struct {
	TotalEvents      int `json:"total_events"`
	ActiveVoting     int `json:"active_voting"`
	ActiveInProgress int `json:"active_in_progress"`
	UniqueContenders int `json:"unique_contenders"`
}

// StatsStore serves the aggregate read paths.
type StatsStore interface {
	Leaderboard(ctx context.Context, since *time.Time, category string, limit int) ([]RankedEntry, error)
	Overall(ctx context.Context, since *time.Time) (OverallStats, error)
}

// ResultIndexer indexes completed event outcomes for search. Best-effort.
type ResultIndexer interface {
	IndexEventResult(ctx context.Context, event *models.Event, tally map[string]int) error
}

// ActivityPublisher fans activity records out to the notification sink.
// Best-effort; a publish failure never fails the triggering write.
type ActivityPublisher interface {
	Publish(ctx context.Context, activity *models.Activity) error
}
