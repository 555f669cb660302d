package services

import (
	"context"
	"testing"

	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/apperrors"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestLevelForXP(t *testing.T) {
	tests := []struct {
		xp    int64
		level int
	}{
		{0, 1},
		{99, 1},
		{100, 2},
		{399, 2},
		{400, 3},
		{10000, 11},
		{200000000, 120}, // capped
	}

	for _, tt := range tests {
		require.Equal(t, tt.level, LevelForXP(tt.xp), "xp=%d", tt.xp)
	}
}

func TestAwardCreditsLedgerAndProfile(t *testing.T) {
	ledger := new(MockReputationStore)
	profiles := new(MockProfileStore)
	awarder := NewReputationAwarder(ledger, profiles)

	ledger.On("Append", mock.Anything, mock.MatchedBy(func(e *models.ReputationEntry) bool {
		return e.Wallet == "fighterA" && e.Amount == 150 && e.Reason == models.ReasonBattleWin
	})).Return(nil)
	profiles.On("GetByWallet", mock.Anything, "fighterA").
		Return(&models.Profile{Wallet: "fighterA", XP: 350, Level: 2}, nil)
	// 350 + 150 = 500 XP puts the wallet at level 3
	profiles.On("Credit", mock.Anything, "fighterA", int64(150), 3).Return(nil)

	amount := awarder.Award(context.Background(), "fighterA", models.ReasonBattleWin, "event-1")

	require.Equal(t, int64(150), amount)
	ledger.AssertExpectations(t)
	profiles.AssertExpectations(t)
}

func TestAwardFirstCreditStartsFromZero(t *testing.T) {
	ledger := new(MockReputationStore)
	profiles := new(MockProfileStore)
	awarder := NewReputationAwarder(ledger, profiles)

	ledger.On("Append", mock.Anything, mock.AnythingOfType("*models.ReputationEntry")).Return(nil)
	profiles.On("GetByWallet", mock.Anything, "newcomer").
		Return(nil, apperrors.NotFound("no profile for wallet newcomer"))
	profiles.On("Credit", mock.Anything, "newcomer", int64(25), 1).Return(nil)

	amount := awarder.Award(context.Background(), "newcomer", models.ReasonBattleSubmission, "sub-1")

	require.Equal(t, int64(25), amount)
	profiles.AssertExpectations(t)
}

func TestAwardSwallowsLedgerFailure(t *testing.T) {
	ledger := new(MockReputationStore)
	profiles := new(MockProfileStore)
	awarder := NewReputationAwarder(ledger, profiles)

	ledger.On("Append", mock.Anything, mock.AnythingOfType("*models.ReputationEntry")).
		Return(apperrors.Dependency(nil, "ledger unavailable"))

	amount := awarder.Award(context.Background(), "fighterA", models.ReasonBattleVote, "vote-1")

	require.Equal(t, int64(0), amount)
	profiles.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAwardUnknownReasonIsNoop(t *testing.T) {
	ledger := new(MockReputationStore)
	profiles := new(MockProfileStore)
	awarder := NewReputationAwarder(ledger, profiles)

	amount := awarder.Award(context.Background(), "fighterA", models.ReputationReason("unknown"), "x")

	require.Equal(t, int64(0), amount)
	ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}
