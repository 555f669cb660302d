package services

import (
	"testing"

	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/models"

	"github.com/stretchr/testify/require"
)

func testEvent(kind models.EventKind, phase models.Phase, rounds, minParticipants int) *models.Event {
	return &models.Event{
		Kind:            kind,
		Phase:           phase,
		Rounds:          rounds,
		MinParticipants: minParticipants,
		MaxParticipants: minParticipants,
	}
}

func TestNextPhaseBattle(t *testing.T) {
	tests := []struct {
		name      string
		phase     models.Phase
		wallets   []string
		perWallet map[string]int
		want      models.Phase
	}{
		{
			name:      "no entries stays pending",
			phase:     models.PhasePending,
			wallets:   []string{"a", "b"},
			perWallet: map[string]int{},
			want:      models.PhasePending,
		},
		{
			name:      "one side submitted stays pending",
			phase:     models.PhasePending,
			wallets:   []string{"a", "b"},
			perWallet: map[string]int{"a": 1},
			want:      models.PhasePending,
		},
		{
			name:      "both sides submitted activates",
			phase:     models.PhasePending,
			wallets:   []string{"a", "b"},
			perWallet: map[string]int{"a": 1, "b": 1},
			want:      models.PhaseActive,
		},
		{
			name:      "all rounds in moves to voting",
			phase:     models.PhaseActive,
			wallets:   []string{"a", "b"},
			perWallet: map[string]int{"a": 2, "b": 2},
			want:      models.PhaseVoting,
		},
		{
			name:      "all rounds in from pending skips straight to voting",
			phase:     models.PhasePending,
			wallets:   []string{"a", "b"},
			perWallet: map[string]int{"a": 2, "b": 2},
			want:      models.PhaseVoting,
		},
		{
			name:      "missing opponent never reaches voting",
			phase:     models.PhaseActive,
			wallets:   []string{"a"},
			perWallet: map[string]int{"a": 2},
			want:      models.PhaseActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := testEvent(models.KindBattle, tt.phase, 2, 2)
			got := nextPhase(event, tt.wallets, tt.perWallet)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNextPhaseChallenge(t *testing.T) {
	tests := []struct {
		name      string
		phase     models.Phase
		wallets   []string
		perWallet map[string]int
		want      models.Phase
	}{
		{
			name:      "incomplete roster stays pending",
			phase:     models.PhasePending,
			wallets:   []string{"a"},
			perWallet: map[string]int{"a": 1},
			want:      models.PhasePending,
		},
		{
			name:      "first entry on full roster starts the challenge",
			phase:     models.PhaseAccepted,
			wallets:   []string{"a", "b", "c"},
			perWallet: map[string]int{"a": 1},
			want:      models.PhaseInProgress,
		},
		{
			name:      "partial rounds stay in progress",
			phase:     models.PhaseInProgress,
			wallets:   []string{"a", "b", "c"},
			perWallet: map[string]int{"a": 1, "b": 1, "c": 0},
			want:      models.PhaseInProgress,
		},
		{
			name:      "every member done moves to voting",
			phase:     models.PhaseInProgress,
			wallets:   []string{"a", "b", "c"},
			perWallet: map[string]int{"a": 1, "b": 1, "c": 1},
			want:      models.PhaseVoting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := testEvent(models.KindChallenge, tt.phase, 1, 3)
			got := nextPhase(event, tt.wallets, tt.perWallet)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestAllRoundsSubmittedCountsSilentSlots(t *testing.T) {
	event := testEvent(models.KindChallenge, models.PhaseInProgress, 2, 2)

	// A wallet with zero submissions holds closure open
	require.False(t, allRoundsSubmitted(event, []string{"a", "b"}, map[string]int{"a": 2}))
	require.True(t, allRoundsSubmitted(event, []string{"a", "b"}, map[string]int{"a": 2, "b": 2}))
	// Below the participant minimum nothing closes
	require.False(t, allRoundsSubmitted(event, []string{"a"}, map[string]int{"a": 2}))
}

func TestWinnerFromTally(t *testing.T) {
	tests := []struct {
		name  string
		tally map[string]int
		want  *string
	}{
		{name: "empty tally has no winner", tally: map[string]int{}, want: nil},
		{name: "clear majority wins", tally: map[string]int{"a": 5, "b": 2}, want: strPtr("a")},
		{name: "tie yields no winner", tally: map[string]int{"a": 3, "b": 3}, want: nil},
		{name: "single candidate wins", tally: map[string]int{"a": 1}, want: strPtr("a")},
		{name: "zero votes is no winner", tally: map[string]int{"a": 0}, want: nil},
		{name: "three way tie at top", tally: map[string]int{"a": 2, "b": 2, "c": 2}, want: nil},
		{name: "majority over several", tally: map[string]int{"a": 4, "b": 2, "c": 2}, want: strPtr("a")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := winnerFromTally(tt.tally)
			if tt.want == nil {
				require.Nil(t, got)
			} else {
				require.NotNil(t, got)
				require.Equal(t, *tt.want, *got)
			}
		})
	}
}

func TestPhaseRankIsForwardOnly(t *testing.T) {
	require.Less(t, phaseRank[models.PhasePending], phaseRank[models.PhaseActive])
	require.Less(t, phaseRank[models.PhaseAccepted], phaseRank[models.PhaseInProgress])
	require.Less(t, phaseRank[models.PhaseInProgress], phaseRank[models.PhaseVoting])
	require.Less(t, phaseRank[models.PhaseVoting], phaseRank[models.PhaseCompleted])
}

func strPtr(s string) *string {
	return &s
}
