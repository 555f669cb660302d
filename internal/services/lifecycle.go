package services

import (
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/models"
)

// kindPolicy captures the differences between the battle and challenge
// lifecycles so the engine runs one code path for both. Battles go
// pending → active → voting → completed; challenges go
// pending → accepted → in_progress → voting → completed.
type kindPolicy struct {
	kind              models.EventKind
	submittablePhases map[models.Phase]bool
	joinablePhases    map[models.Phase]bool
	// startPhase is entered when submissions begin arriving while the
	// roster requirement is already satisfied.
	startPhase       models.Phase
	submissionReason models.ReputationReason
	voteReason       models.ReputationReason
	winReason        models.ReputationReason
	// lossReason is zero for kinds that award nothing on a loss.
	lossReason models.ReputationReason
}

var battlePolicy = kindPolicy{
	kind: models.KindBattle,
	submittablePhases: map[models.Phase]bool{
		models.PhasePending: true,
		models.PhaseActive:  true,
	},
	joinablePhases: map[models.Phase]bool{
		models.PhasePending: true,
	},
	startPhase:       models.PhaseActive,
	submissionReason: models.ReasonBattleSubmission,
	voteReason:       models.ReasonBattleVote,
	winReason:        models.ReasonBattleWin,
	lossReason:       models.ReasonBattleLoss,
}

var challengePolicy = kindPolicy{
	kind: models.KindChallenge,
	submittablePhases: map[models.Phase]bool{
		models.PhasePending:    true,
		models.PhaseAccepted:   true,
		models.PhaseInProgress: true,
	},
	joinablePhases: map[models.Phase]bool{
		models.PhasePending:  true,
		models.PhaseAccepted: true,
	},
	startPhase:       models.PhaseInProgress,
	submissionReason: models.ReasonChallengeSubmission,
	voteReason:       models.ReasonChallengeVote,
	winReason:        models.ReasonChallengeWin,
}

func policyFor(kind models.EventKind) kindPolicy {
	if kind == models.KindChallenge {
		return challengePolicy
	}
	return battlePolicy
}

// phaseRank orders phases for the forward-only invariant. Higher rank never
// transitions to lower.
var phaseRank = map[models.Phase]int{
	models.PhasePending:    0,
	models.PhaseAccepted:   1,
	models.PhaseActive:     1,
	models.PhaseInProgress: 2,
	models.PhaseVoting:     3,
	models.PhaseCompleted:  4,
}

// rosterComplete reports whether enough participants are enrolled for the
// event to run to a vote.
func rosterComplete(event *models.Event, acceptedCount int) bool {
	return acceptedCount >= event.MinParticipants
}

// allRoundsSubmitted reports whether every accepted participant has an entry
// for every round. Participants with zero submissions count against closure,
// so an event never reaches voting while a slot is silent.
func allRoundsSubmitted(event *models.Event, wallets []string, perWallet map[string]int) bool {
	if len(wallets) < event.MinParticipants {
		return false
	}
	for _, w := range wallets {
		if perWallet[w] < event.Rounds {
			return false
		}
	}
	return true
}

// nextPhase computes the phase an event should move to after a submission
// write, from fresh roster and submission counts. Returns the current phase
// when no transition applies.
func nextPhase(event *models.Event, wallets []string, perWallet map[string]int) models.Phase {
	policy := policyFor(event.Kind)

	if allRoundsSubmitted(event, wallets, perWallet) {
		return models.PhaseVoting
	}

	// Battles activate once both sides have at least one entry; challenges
	// start as soon as any entry lands on a complete roster.
	if event.Phase == models.PhasePending || event.Phase == models.PhaseAccepted {
		if event.Kind == models.KindBattle {
			if len(wallets) == event.MinParticipants && everyWalletSubmitted(wallets, perWallet) {
				return policy.startPhase
			}
		} else if rosterComplete(event, len(wallets)) && totalSubmissions(perWallet) > 0 {
			return policy.startPhase
		}
	}

	return event.Phase
}

func everyWalletSubmitted(wallets []string, perWallet map[string]int) bool {
	for _, w := range wallets {
		if perWallet[w] == 0 {
			return false
		}
	}
	return len(wallets) > 0
}

func totalSubmissions(perWallet map[string]int) int {
	n := 0
	for _, c := range perWallet {
		n += c
	}
	return n
}

// winnerFromTally resolves the winner as the participant holding a strict
// vote-count majority over every other. A tie for the top count yields nil.
func winnerFromTally(tally map[string]int) *string {
	var winner string
	best, runnerUp := -1, -1
	for wallet, count := range tally {
		switch {
		case count > best:
			runnerUp = best
			best = count
			winner = wallet
		case count > runnerUp:
			runnerUp = count
		}
	}
	if best <= 0 || best == runnerUp {
		return nil
	}
	return &winner
}
