package services

import (
	"context"
	"math"

	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/metrics"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// xpAmounts is the source of truth for XP per reason code.
var xpAmounts = map[models.ReputationReason]int64{
	models.ReasonBattleSubmission:    25,
	models.ReasonBattleVote:          10,
	models.ReasonBattleWin:           150,
	models.ReasonBattleLoss:          50,
	models.ReasonChallengeSubmission: 30,
	models.ReasonChallengeVote:       15,
	models.ReasonChallengeWin:        100,
}

var xpDescriptions = map[models.ReputationReason]string{
	models.ReasonBattleSubmission:    "Submitted a battle verse",
	models.ReasonBattleVote:          "Voted on a rap battle",
	models.ReasonBattleWin:           "Won a rap battle",
	models.ReasonBattleLoss:          "Battle participation",
	models.ReasonChallengeSubmission: "Submitted a challenge entry",
	models.ReasonChallengeVote:       "Voted on a challenge",
	models.ReasonChallengeWin:        "Won a challenge",
}

// LevelForXP maps cumulative XP to a level, capped at 120.
func LevelForXP(xp int64) int {
	if xp < 0 {
		xp = 0
	}
	level := int(math.Sqrt(float64(xp)/100)) + 1
	if level > 120 {
		level = 120
	}
	return level
}

// ReputationAwarder converts qualifying actions into XP ledger credits.
// Awarding is fire-and-forget relative to the triggering write: event-state
// correctness is strict, reputation bookkeeping is best-effort. Failures are
// logged and never surfaced to the caller.
type ReputationAwarder struct {
	ledger    ReputationStore
	profiles  ProfileStore
	collector *metrics.Metrics
}

// NewReputationAwarder creates a new awarder.
func NewReputationAwarder(ledger ReputationStore, profiles ProfileStore) *ReputationAwarder {
	return &ReputationAwarder{ledger: ledger, profiles: profiles}
}

// AttachCollector enables error counting on award failures.
func (a *ReputationAwarder) AttachCollector(c *metrics.Metrics) {
	a.collector = c
}

func (a *ReputationAwarder) countError(name string) {
	if a.collector != nil {
		a.collector.RecordError(name)
	}
}

// Award appends a ledger entry for the reason code and bumps the wallet's
// denormalized XP and level. The returned amount is informational only.
func (a *ReputationAwarder) Award(ctx context.Context, wallet string, reason models.ReputationReason, correlationID string) int64 {
	amount, ok := xpAmounts[reason]
	if !ok {
		log.Warn().Str("reason", string(reason)).Msg("Unknown reputation reason, skipping award")
		return 0
	}

	entry := &models.ReputationEntry{
		ID:            uuid.New(),
		Wallet:        wallet,
		Amount:        amount,
		Reason:        reason,
		CorrelationID: correlationID,
		Description:   xpDescriptions[reason],
	}
	if err := a.ledger.Append(ctx, entry); err != nil {
		log.Warn().Err(err).
			Str("wallet", wallet).
			Str("reason", string(reason)).
			Msg("Failed to append reputation ledger entry")
		a.countError("reputation_ledger")
		return 0
	}

	profile, err := a.profiles.GetByWallet(ctx, wallet)
	var total int64
	if err == nil && profile != nil {
		total = profile.XP + amount
	} else {
		total = amount
	}
	if err := a.profiles.Credit(ctx, wallet, amount, LevelForXP(total)); err != nil {
		log.Warn().Err(err).
			Str("wallet", wallet).
			Str("reason", string(reason)).
			Msg("Failed to credit profile XP")
		a.countError("profile_credit")
	}

	log.Debug().
		Str("wallet", wallet).
		Str("reason", string(reason)).
		Int64("amount", amount).
		Msg("Reputation awarded")
	return amount
}
