package services

import (
	"context"
	"testing"
	"time"

	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/apperrors"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStatsStore struct {
	mock.Mock
}

func (m *MockStatsStore) Leaderboard(ctx context.Context, since *time.Time, category string, limit int) ([]RankedEntry, error) {
	args := m.Called(ctx, since, category, limit)
	return args.Get(0).([]RankedEntry), args.Error(1)
}

func (m *MockStatsStore) Overall(ctx context.Context, since *time.Time) (OverallStats, error) {
	args := m.Called(ctx, since)
	return args.Get(0).(OverallStats), args.Error(1)
}

type viewsFixture struct {
	*engineFixture
	stats *MockStatsStore
	views *Views
}

func newViewsFixture(t *testing.T) *viewsFixture {
	t.Helper()
	ef := newEngineFixture(t)
	f := &viewsFixture{
		engineFixture: ef,
		stats:         new(MockStatsStore),
	}
	f.views = NewViews(
		ef.events, ef.participants, ef.submissions, ef.votes,
		ef.profiles, f.stats, ef.engine, nil, ef.engine.cfg,
	)
	f.views.now = func() time.Time { return ef.now }
	return f
}

func TestGetEventAssemblesTimelineInPlaybackOrder(t *testing.T) {
	f := newViewsFixture(t)
	event := f.battle(models.PhaseVoting)
	ends := f.now.Add(time.Hour)
	event.VotingEndsAt = &ends

	late := f.now.Add(-time.Minute)
	early := f.now.Add(-time.Hour)
	entries := []models.Submission{
		{ID: uuid.New(), EventID: event.ID, Wallet: "fighterB", Round: 2, AudioURL: "b2", SubmittedAt: late},
		{ID: uuid.New(), EventID: event.ID, Wallet: "fighterA", Round: 1, AudioURL: "a1", SubmittedAt: early},
		{ID: uuid.New(), EventID: event.ID, Wallet: "fighterB", Round: 1, AudioURL: "b1", SubmittedAt: late},
		{ID: uuid.New(), EventID: event.ID, Wallet: "fighterA", Round: 2, AudioURL: "a2", SubmittedAt: early},
	}

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)
	f.participants.On("ListByEvent", mock.Anything, event.ID).Return(f.roster(event.ID, "fighterA", "fighterB"), nil)
	f.submissions.On("ListByEvent", mock.Anything, event.ID).Return(entries, nil)
	f.votes.On("Tally", mock.Anything, event.ID).Return(map[string]int{"fighterA": 2, "fighterB": 1}, nil)
	f.profiles.On("GetByWallets", mock.Anything, []string{"fighterA", "fighterB"}).
		Return(map[string]models.Profile{
			"fighterA": {Wallet: "fighterA", Username: "MC Alpha", Level: 4},
		}, nil)

	view, err := f.views.GetEvent(context.Background(), event.ID, "")

	require.NoError(t, err)
	require.Len(t, view.Timeline, 4)
	// Round 1 entries first, ordered by submission time within the round
	require.Equal(t, "a1", view.Timeline[0].AudioURL)
	require.Equal(t, "b1", view.Timeline[1].AudioURL)
	require.Equal(t, "a2", view.Timeline[2].AudioURL)
	require.Equal(t, "b2", view.Timeline[3].AudioURL)

	require.Equal(t, 3, view.TotalVotes)
	require.Equal(t, "MC Alpha", view.Participants[0].Username)
	require.Equal(t, 2, view.Participants[0].Votes)
	// Anonymous viewers get no action hints
	require.False(t, view.CanVote)
	require.False(t, view.CanSubmit)
}

func TestGetEventReportsViewerVote(t *testing.T) {
	f := newViewsFixture(t)
	event := f.battle(models.PhaseVoting)
	ends := f.now.Add(time.Hour)
	event.VotingEndsAt = &ends

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)
	f.participants.On("ListByEvent", mock.Anything, event.ID).Return(f.roster(event.ID, "fighterA", "fighterB"), nil)
	f.submissions.On("ListByEvent", mock.Anything, event.ID).Return([]models.Submission{}, nil)
	f.votes.On("Tally", mock.Anything, event.ID).Return(map[string]int{"fighterA": 1}, nil)
	f.profiles.On("GetByWallets", mock.Anything, mock.Anything).Return(map[string]models.Profile{}, nil)
	f.votes.On("GetByVoter", mock.Anything, event.ID, "spectator").
		Return(&models.Vote{EventID: event.ID, VoterWallet: "spectator", WinnerWallet: "fighterA"}, nil)

	view, err := f.views.GetEvent(context.Background(), event.ID, "spectator")

	require.NoError(t, err)
	require.NotNil(t, view.UserVote)
	require.Equal(t, "fighterA", *view.UserVote)
	require.False(t, view.CanVote)
}

func TestGetEventOffersVoteToFreshSpectator(t *testing.T) {
	f := newViewsFixture(t)
	event := f.battle(models.PhaseVoting)
	ends := f.now.Add(time.Hour)
	event.VotingEndsAt = &ends

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)
	f.participants.On("ListByEvent", mock.Anything, event.ID).Return(f.roster(event.ID, "fighterA", "fighterB"), nil)
	f.submissions.On("ListByEvent", mock.Anything, event.ID).Return([]models.Submission{}, nil)
	f.votes.On("Tally", mock.Anything, event.ID).Return(map[string]int{}, nil)
	f.profiles.On("GetByWallets", mock.Anything, mock.Anything).Return(map[string]models.Profile{}, nil)
	f.votes.On("GetByVoter", mock.Anything, event.ID, "spectator").
		Return(nil, apperrors.NotFound("no vote from wallet spectator"))

	view, err := f.views.GetEvent(context.Background(), event.ID, "spectator")

	require.NoError(t, err)
	require.Nil(t, view.UserVote)
	require.True(t, view.CanVote)
}

func TestGetEventOffersSubmitToParticipant(t *testing.T) {
	f := newViewsFixture(t)
	event := f.battle(models.PhaseActive)

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)
	f.participants.On("ListByEvent", mock.Anything, event.ID).Return(f.roster(event.ID, "fighterA", "fighterB"), nil)
	f.submissions.On("ListByEvent", mock.Anything, event.ID).Return([]models.Submission{}, nil)
	f.votes.On("Tally", mock.Anything, event.ID).Return(map[string]int{}, nil)
	f.profiles.On("GetByWallets", mock.Anything, mock.Anything).Return(map[string]models.Profile{}, nil)

	view, err := f.views.GetEvent(context.Background(), event.ID, "fighterA")

	require.NoError(t, err)
	require.True(t, view.CanSubmit)
	require.False(t, view.CanVote)
}

func TestLeaderboardRejectsUnknownPeriod(t *testing.T) {
	f := newViewsFixture(t)

	_, err := f.views.Leaderboard(context.Background(), "decade", "", 10)

	require.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestLeaderboardRejectsUnknownCategory(t *testing.T) {
	f := newViewsFixture(t)

	_, err := f.views.Leaderboard(context.Background(), "all", "yodeling", 10)

	require.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestLeaderboardWeekPeriodPassesWindow(t *testing.T) {
	f := newViewsFixture(t)

	weekAgo := f.now.AddDate(0, 0, -7)
	f.stats.On("Leaderboard", mock.Anything, mock.MatchedBy(func(since *time.Time) bool {
		return since != nil && since.Equal(weekAgo)
	}), "flow", 10).Return([]RankedEntry{
		{Rank: 1, Wallet: "fighterA", Wins: 4, TotalEvents: 5, WinRate: 0.8, Score: 52},
	}, nil)
	f.stats.On("Overall", mock.Anything, mock.Anything).Return(OverallStats{TotalEvents: 12}, nil)

	view, err := f.views.Leaderboard(context.Background(), "week", "flow", 10)

	require.NoError(t, err)
	require.Equal(t, "week", view.Period)
	require.Len(t, view.Entries, 1)
	require.Equal(t, 12, view.Stats.TotalEvents)
	f.stats.AssertExpectations(t)
}
