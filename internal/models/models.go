package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// EventKind distinguishes the two competitive formats.
type EventKind string

const (
	KindBattle    EventKind = "battle"    // 1v1, fixed or open opponent
	KindChallenge EventKind = "challenge" // multi-participant, invite-code entry
)

// Phase is an event's position in its lifecycle. Transitions are strictly
// forward-only and owned by the lifecycle resolver; nothing else writes it.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseAccepted   Phase = "accepted" // challenges only: roster minimum reached
	PhaseActive     Phase = "active"   // battles only: both sides have submitted
	PhaseInProgress Phase = "in_progress"
	PhaseVoting     Phase = "voting"
	PhaseCompleted  Phase = "completed"
)

// ParticipantRole describes how an identity is attached to an event.
type ParticipantRole string

const (
	RoleCreator    ParticipantRole = "creator"
	RoleChallenger ParticipantRole = "challenger"
	RoleOpponent   ParticipantRole = "opponent"
	RoleMember     ParticipantRole = "member"
)

// ParticipantStatus tracks roster admission.
type ParticipantStatus string

const (
	ParticipantPending  ParticipantStatus = "pending"
	ParticipantAccepted ParticipantStatus = "accepted"
)

// ReputationReason is the reason code on a reputation ledger entry.
type ReputationReason string

const (
	ReasonBattleSubmission    ReputationReason = "battle_submission"
	ReasonBattleVote          ReputationReason = "battle_vote"
	ReasonBattleWin           ReputationReason = "battle_win"
	ReasonBattleLoss          ReputationReason = "battle_loss"
	ReasonChallengeSubmission ReputationReason = "challenge_submission"
	ReasonChallengeVote       ReputationReason = "challenge_vote"
	ReasonChallengeWin        ReputationReason = "challenge_win"
)

// Event is a battle or challenge instance.
type Event struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
	Kind            EventKind      `gorm:"not null;index" json:"kind"`
	Phase           Phase          `gorm:"not null;index" json:"phase"`
	Title           string         `gorm:"not null" json:"title"`
	Description     *string        `json:"description,omitempty"`
	Category        string         `gorm:"not null;index" json:"category"`
	Mode            string         `gorm:"not null" json:"mode"`
	InviteCode      *string        `gorm:"uniqueIndex" json:"invite_code,omitempty"`
	CreatorWallet   string         `gorm:"not null;index" json:"creator_wallet"`
	MinParticipants int            `gorm:"not null" json:"min_participants"`
	MaxParticipants int            `gorm:"not null" json:"max_participants"`
	Rounds          int            `gorm:"not null" json:"rounds"`
	BarsPerRound    int            `gorm:"not null" json:"bars_per_round"`
	StakeAmount     *int64         `json:"stake_amount,omitempty"`
	StakeCurrency   string         `json:"stake_currency,omitempty"`
	IsPublic        bool           `gorm:"not null;default:true" json:"is_public"`
	WinnerWallet    *string        `json:"winner_wallet,omitempty"`
	ExpiresAt       time.Time      `gorm:"not null" json:"expires_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	VotingEndsAt    *time.Time     `json:"voting_ends_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Participants    []Participant  `gorm:"foreignKey:EventID" json:"-"`
	Submissions     []Submission   `gorm:"foreignKey:EventID" json:"-"`
	Votes           []Vote         `gorm:"foreignKey:EventID" json:"-"`
}

// Participant links a wallet to an event with a role. One row per
// (event, wallet), enforced by the unique index.
type Participant struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"created_at"`
	EventID   uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_participant_event_wallet" json:"event_id"`
	Wallet    string            `gorm:"not null;uniqueIndex:idx_participant_event_wallet;index" json:"wallet"`
	Role      ParticipantRole   `gorm:"not null" json:"role"`
	Status    ParticipantStatus `gorm:"not null" json:"status"`
	Event     Event             `gorm:"foreignKey:EventID" json:"-"`
}

// Submission is one entry for one round. Append-only; the unique index on
// (event, wallet, round) is the constraint the state machine leans on.
type Submission struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EventID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_submission_event_wallet_round" json:"event_id"`
	Wallet      string    `gorm:"not null;uniqueIndex:idx_submission_event_wallet_round;index" json:"wallet"`
	Round       int       `gorm:"not null;uniqueIndex:idx_submission_event_wallet_round" json:"round"`
	AudioURL    string    `gorm:"not null" json:"audio_url"`
	Lyrics      *string   `json:"lyrics,omitempty"`
	Description *string   `json:"description,omitempty"`
	SubmittedAt time.Time `gorm:"autoCreateTime" json:"submitted_at"`
	Event       Event     `gorm:"foreignKey:EventID" json:"-"`
}

// Vote is one spectator vote. Append-only; unique per (event, voter).
type Vote struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EventID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_vote_event_voter" json:"event_id"`
	VoterWallet  string    `gorm:"not null;uniqueIndex:idx_vote_event_voter" json:"voter_wallet"`
	WinnerWallet string    `gorm:"not null;index" json:"winner_wallet"`
	CastAt       time.Time `gorm:"autoCreateTime" json:"cast_at"`
	Event        Event     `gorm:"foreignKey:EventID" json:"-"`
}

// Profile is the denormalized per-wallet reputation view joined into reads.
type Profile struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Wallet    string         `gorm:"not null;uniqueIndex" json:"wallet"`
	Username  string         `json:"username"`
	AvatarURL *string        `json:"avatar_url,omitempty"`
	XP        int64          `gorm:"not null;default:0" json:"xp"`
	Level     int            `gorm:"not null;default:1" json:"level"`
}

// ReputationEntry is an append-only XP ledger row. Never mutated.
type ReputationEntry struct {
	ID            uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	Wallet        string           `gorm:"not null;index" json:"wallet"`
	Amount        int64            `gorm:"not null" json:"amount"`
	Reason        ReputationReason `gorm:"not null" json:"reason"`
	CorrelationID string           `gorm:"not null" json:"correlation_id"`
	Description   string           `json:"description"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// Activity is a best-effort append-only activity log row.
type Activity struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Wallet    string    `gorm:"not null;index" json:"wallet"`
	Type      string    `gorm:"not null" json:"type"`
	Data      []byte    `gorm:"type:jsonb" json:"data"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Event{},
		&Participant{},
		&Submission{},
		&Vote{},
		&Profile{},
		&ReputationEntry{},
		&Activity{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}
	return nil
}
