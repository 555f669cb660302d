package services

import (
	"context"
	"testing"
	"time"

	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/config"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/apperrors"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock stores for testing
type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) Create(ctx context.Context, event *models.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Event), args.Error(1)
}

func (m *MockEventStore) GetByInviteCode(ctx context.Context, code string) (*models.Event, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Event), args.Error(1)
}

func (m *MockEventStore) List(ctx context.Context, filter EventFilter) ([]models.Event, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]models.Event), args.Error(1)
}

func (m *MockEventStore) AdvancePhase(ctx context.Context, id uuid.UUID, from, to models.Phase, stamp PhaseStamp) (bool, error) {
	args := m.Called(ctx, id, from, to, stamp)
	return args.Bool(0), args.Error(1)
}

func (m *MockEventStore) ListLapsedVoting(ctx context.Context, now time.Time, limit int) ([]models.Event, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]models.Event), args.Error(1)
}

type MockParticipantStore struct {
	mock.Mock
}

func (m *MockParticipantStore) Add(ctx context.Context, participant *models.Participant) error {
	args := m.Called(ctx, participant)
	return args.Error(0)
}

func (m *MockParticipantStore) Get(ctx context.Context, eventID uuid.UUID, wallet string) (*models.Participant, error) {
	args := m.Called(ctx, eventID, wallet)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Participant), args.Error(1)
}

func (m *MockParticipantStore) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Participant, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).([]models.Participant), args.Error(1)
}

func (m *MockParticipantStore) CountAccepted(ctx context.Context, eventID uuid.UUID) (int64, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(int64), args.Error(1)
}

type MockSubmissionStore struct {
	mock.Mock
}

func (m *MockSubmissionStore) Append(ctx context.Context, submission *models.Submission) error {
	args := m.Called(ctx, submission)
	return args.Error(0)
}

func (m *MockSubmissionStore) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Submission, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).([]models.Submission), args.Error(1)
}

func (m *MockSubmissionStore) CountPerWallet(ctx context.Context, eventID uuid.UUID) (map[string]int, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(map[string]int), args.Error(1)
}

type MockVoteStore struct {
	mock.Mock
}

func (m *MockVoteStore) Append(ctx context.Context, vote *models.Vote) error {
	args := m.Called(ctx, vote)
	return args.Error(0)
}

func (m *MockVoteStore) GetByVoter(ctx context.Context, eventID uuid.UUID, wallet string) (*models.Vote, error) {
	args := m.Called(ctx, eventID, wallet)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Vote), args.Error(1)
}

func (m *MockVoteStore) Tally(ctx context.Context, eventID uuid.UUID) (map[string]int, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(map[string]int), args.Error(1)
}

type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) GetByWallet(ctx context.Context, wallet string) (*models.Profile, error) {
	args := m.Called(ctx, wallet)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Profile), args.Error(1)
}

func (m *MockProfileStore) GetByWallets(ctx context.Context, wallets []string) (map[string]models.Profile, error) {
	args := m.Called(ctx, wallets)
	return args.Get(0).(map[string]models.Profile), args.Error(1)
}

func (m *MockProfileStore) Credit(ctx context.Context, wallet string, amount int64, level int) error {
	args := m.Called(ctx, wallet, amount, level)
	return args.Error(0)
}

type MockReputationStore struct {
	mock.Mock
}

func (m *MockReputationStore) Append(ctx context.Context, entry *models.ReputationEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

type MockActivityStore struct {
	mock.Mock
}

func (m *MockActivityStore) Append(ctx context.Context, activity *models.Activity) error {
	args := m.Called(ctx, activity)
	return args.Error(0)
}

type MockResultIndexer struct {
	mock.Mock
}

func (m *MockResultIndexer) IndexEventResult(ctx context.Context, event *models.Event, tally map[string]int) error {
	args := m.Called(ctx, event, tally)
	return args.Error(0)
}

type engineFixture struct {
	events       *MockEventStore
	participants *MockParticipantStore
	submissions  *MockSubmissionStore
	votes        *MockVoteStore
	profiles     *MockProfileStore
	ledger       *MockReputationStore
	activities   *MockActivityStore
	engine       *Engine
	now          time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		events:       new(MockEventStore),
		participants: new(MockParticipantStore),
		submissions:  new(MockSubmissionStore),
		votes:        new(MockVoteStore),
		profiles:     new(MockProfileStore),
		ledger:       new(MockReputationStore),
		activities:   new(MockActivityStore),
		now:          time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	cfg := config.EngineConfig{
		VotingWindow:      48 * time.Hour,
		BattleDuration:    24 * time.Hour,
		ChallengeDuration: 72 * time.Hour,
		SweepBatchSize:    100,
	}
	awarder := NewReputationAwarder(f.ledger, f.profiles)
	f.engine = NewEngine(
		f.events, f.participants, f.submissions, f.votes,
		awarder, f.activities, nil, nil, nil, cfg,
	)
	f.engine.now = func() time.Time { return f.now }
	return f
}

// allowSideEffects lets the best-effort XP and activity writes succeed
// without pinning down their arguments.
func (f *engineFixture) allowSideEffects() {
	f.ledger.On("Append", mock.Anything, mock.AnythingOfType("*models.ReputationEntry")).Return(nil).Maybe()
	f.profiles.On("GetByWallet", mock.Anything, mock.AnythingOfType("string")).Return(nil, apperrors.NotFound("no profile")).Maybe()
	f.profiles.On("Credit", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("int64"), mock.AnythingOfType("int")).Return(nil).Maybe()
	f.activities.On("Append", mock.Anything, mock.AnythingOfType("*models.Activity")).Return(nil).Maybe()
}

func (f *engineFixture) battle(phase models.Phase) *models.Event {
	return &models.Event{
		ID:              uuid.New(),
		Kind:            models.KindBattle,
		Phase:           phase,
		Category:        "freestyle",
		Mode:            "1v1",
		CreatorWallet:   "fighterA",
		MinParticipants: 2,
		MaxParticipants: 2,
		Rounds:          2,
		BarsPerRound:    16,
		StakeCurrency:   "XP",
		ExpiresAt:       f.now.Add(24 * time.Hour),
	}
}

func (f *engineFixture) roster(eventID uuid.UUID, wallets ...string) []models.Participant {
	out := make([]models.Participant, 0, len(wallets))
	for i, w := range wallets {
		role := models.RoleChallenger
		if i > 0 {
			role = models.RoleOpponent
		}
		out = append(out, models.Participant{
			ID:      uuid.New(),
			EventID: eventID,
			Wallet:  w,
			Role:    role,
			Status:  models.ParticipantAccepted,
		})
	}
	return out
}

func TestCreateBattleAdmitsBothFighters(t *testing.T) {
	f := newEngineFixture(t)
	f.allowSideEffects()

	f.events.On("Create", mock.Anything, mock.AnythingOfType("*models.Event")).Return(nil)
	f.participants.On("Add", mock.Anything, mock.AnythingOfType("*models.Participant")).Return(nil).Twice()

	opponent := "fighterB"
	event, err := f.engine.CreateEvent(context.Background(), CreateEventInput{
		Kind:           models.KindBattle,
		CreatorWallet:  "fighterA",
		OpponentWallet: &opponent,
		Category:       "wordplay",
		Rounds:         3,
	})

	require.NoError(t, err)
	require.Equal(t, models.PhasePending, event.Phase)
	require.Equal(t, "1v1", event.Mode)
	require.Equal(t, 2, event.MaxParticipants)
	require.Nil(t, event.InviteCode)
	require.Equal(t, f.now.Add(24*time.Hour), event.ExpiresAt)

	f.events.AssertExpectations(t)
	f.participants.AssertExpectations(t)
}

func TestCreateBattleRejectsSelfOpponent(t *testing.T) {
	f := newEngineFixture(t)

	self := "fighterA"
	_, err := f.engine.CreateEvent(context.Background(), CreateEventInput{
		Kind:           models.KindBattle,
		CreatorWallet:  "fighterA",
		OpponentWallet: &self,
	})

	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestCreateChallengeGeneratesInviteCode(t *testing.T) {
	f := newEngineFixture(t)
	f.allowSideEffects()

	f.events.On("Create", mock.Anything, mock.AnythingOfType("*models.Event")).Return(nil)
	f.participants.On("Add", mock.Anything, mock.AnythingOfType("*models.Participant")).Return(nil).Once()

	event, err := f.engine.CreateEvent(context.Background(), CreateEventInput{
		Kind:            models.KindChallenge,
		CreatorWallet:   "hostWallet",
		Title:           "Friday cypher",
		Mode:            "group",
		MaxParticipants: 8,
	})

	require.NoError(t, err)
	require.NotNil(t, event.InviteCode)
	require.Len(t, *event.InviteCode, 6)
	require.Equal(t, f.now.Add(72*time.Hour), event.ExpiresAt)
}

func TestCreateChallengeInviteCollisionConflicts(t *testing.T) {
	f := newEngineFixture(t)

	f.events.On("Create", mock.Anything, mock.AnythingOfType("*models.Event")).
		Return(apperrors.Conflict("invite code is already in use"))

	_, err := f.engine.CreateEvent(context.Background(), CreateEventInput{
		Kind:          models.KindChallenge,
		CreatorWallet: "hostWallet",
		Title:         "Friday cypher",
	})

	require.True(t, apperrors.Is(err, apperrors.KindConflict))
	f.participants.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
}

func TestCreateEventRejectsBadRounds(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.CreateEvent(context.Background(), CreateEventInput{
		Kind:          models.KindBattle,
		CreatorWallet: "fighterA",
		Rounds:        6,
	})

	require.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestJoinEventRejectsFullRoster(t *testing.T) {
	f := newEngineFixture(t)
	event := f.battle(models.PhasePending)

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)
	f.participants.On("CountAccepted", mock.Anything, event.ID).Return(int64(2), nil)

	_, err := f.engine.JoinEvent(context.Background(), event.ID, "lateJoiner")

	require.True(t, apperrors.Is(err, apperrors.KindForbidden))
	f.participants.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
}

func TestJoinEventRejectsLapsedEvent(t *testing.T) {
	f := newEngineFixture(t)
	event := f.battle(models.PhasePending)
	event.ExpiresAt = f.now.Add(-time.Minute)

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)

	_, err := f.engine.JoinEvent(context.Background(), event.ID, "lateJoiner")

	require.True(t, apperrors.Is(err, apperrors.KindState))
}

func TestJoinChallengeAdvancesToAcceptedAtMinimum(t *testing.T) {
	f := newEngineFixture(t)
	f.allowSideEffects()
	event := f.battle(models.PhasePending)
	event.Kind = models.KindChallenge
	event.MaxParticipants = 4

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)
	f.participants.On("CountAccepted", mock.Anything, event.ID).Return(int64(1), nil).Once()
	f.participants.On("Add", mock.Anything, mock.AnythingOfType("*models.Participant")).Return(nil)
	f.participants.On("CountAccepted", mock.Anything, event.ID).Return(int64(2), nil).Once()
	f.events.On("AdvancePhase", mock.Anything, event.ID, models.PhasePending, models.PhaseAccepted, PhaseStamp{}).
		Return(true, nil)

	participant, err := f.engine.JoinEvent(context.Background(), event.ID, "secondMember")

	require.NoError(t, err)
	require.Equal(t, models.RoleMember, participant.Role)
	f.events.AssertExpectations(t)
}

func TestSubmitFinalEntryMovesBattleToVoting(t *testing.T) {
	f := newEngineFixture(t)
	f.allowSideEffects()
	event := f.battle(models.PhaseActive)

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil).Once()
	f.participants.On("Get", mock.Anything, event.ID, "fighterB").
		Return(&models.Participant{Wallet: "fighterB", Status: models.ParticipantAccepted}, nil)
	f.submissions.On("Append", mock.Anything, mock.AnythingOfType("*models.Submission")).Return(nil)
	f.participants.On("ListByEvent", mock.Anything, event.ID).Return(f.roster(event.ID, "fighterA", "fighterB"), nil)
	f.submissions.On("CountPerWallet", mock.Anything, event.ID).
		Return(map[string]int{"fighterA": 2, "fighterB": 2}, nil)
	f.events.On("AdvancePhase", mock.Anything, event.ID, models.PhaseActive, models.PhaseVoting,
		mock.MatchedBy(func(stamp PhaseStamp) bool {
			return stamp.VotingEndsAt != nil && stamp.VotingEndsAt.Equal(f.now.Add(48*time.Hour))
		})).Return(true, nil)

	_, phase, err := f.engine.SubmitEntry(context.Background(), SubmitEntryInput{
		EventID:  event.ID,
		Wallet:   "fighterB",
		Round:    2,
		AudioURL: "https://cdn.example/verse.mp3",
	})

	require.NoError(t, err)
	require.Equal(t, models.PhaseVoting, phase)
	f.events.AssertExpectations(t)
}

func TestSubmitEntryLosingTransitionRaceReportsFreshPhase(t *testing.T) {
	f := newEngineFixture(t)
	f.allowSideEffects()
	event := f.battle(models.PhaseActive)

	advanced := f.battle(models.PhaseVoting)
	advanced.ID = event.ID

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil).Once()
	f.participants.On("Get", mock.Anything, event.ID, "fighterA").
		Return(&models.Participant{Wallet: "fighterA", Status: models.ParticipantAccepted}, nil)
	f.submissions.On("Append", mock.Anything, mock.AnythingOfType("*models.Submission")).Return(nil)
	f.participants.On("ListByEvent", mock.Anything, event.ID).Return(f.roster(event.ID, "fighterA", "fighterB"), nil)
	f.submissions.On("CountPerWallet", mock.Anything, event.ID).
		Return(map[string]int{"fighterA": 2, "fighterB": 2}, nil)
	// Another request already claimed active -> voting
	f.events.On("AdvancePhase", mock.Anything, event.ID, models.PhaseActive, models.PhaseVoting, mock.Anything).
		Return(false, nil)
	f.events.On("GetByID", mock.Anything, event.ID).Return(advanced, nil).Once()

	_, phase, err := f.engine.SubmitEntry(context.Background(), SubmitEntryInput{
		EventID:  event.ID,
		Wallet:   "fighterA",
		Round:    2,
		AudioURL: "https://cdn.example/verse.mp3",
	})

	require.NoError(t, err)
	require.Equal(t, models.PhaseVoting, phase)
}

func TestSubmitEntryDuplicateRoundConflicts(t *testing.T) {
	f := newEngineFixture(t)
	event := f.battle(models.PhaseActive)

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)
	f.participants.On("Get", mock.Anything, event.ID, "fighterA").
		Return(&models.Participant{Wallet: "fighterA", Status: models.ParticipantAccepted}, nil)
	f.submissions.On("Append", mock.Anything, mock.AnythingOfType("*models.Submission")).
		Return(apperrors.Conflict("round 1 already has an entry from fighterA"))

	_, _, err := f.engine.SubmitEntry(context.Background(), SubmitEntryInput{
		EventID:  event.ID,
		Wallet:   "fighterA",
		Round:    1,
		AudioURL: "https://cdn.example/verse.mp3",
	})

	require.True(t, apperrors.Is(err, apperrors.KindConflict))
	f.submissions.AssertNotCalled(t, "CountPerWallet", mock.Anything, mock.Anything)
}

func TestSubmitEntryRejectsVotingPhase(t *testing.T) {
	f := newEngineFixture(t)
	event := f.battle(models.PhaseVoting)
	ends := f.now.Add(time.Hour)
	event.VotingEndsAt = &ends

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)

	_, _, err := f.engine.SubmitEntry(context.Background(), SubmitEntryInput{
		EventID:  event.ID,
		Wallet:   "fighterA",
		Round:    1,
		AudioURL: "https://cdn.example/verse.mp3",
	})

	require.True(t, apperrors.Is(err, apperrors.KindState))
	f.submissions.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestSubmitEntryRejectsNonParticipant(t *testing.T) {
	f := newEngineFixture(t)
	event := f.battle(models.PhaseActive)

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)
	f.participants.On("Get", mock.Anything, event.ID, "spectator").
		Return(nil, apperrors.NotFound("wallet spectator is not enrolled"))

	_, _, err := f.engine.SubmitEntry(context.Background(), SubmitEntryInput{
		EventID:  event.ID,
		Wallet:   "spectator",
		Round:    1,
		AudioURL: "https://cdn.example/verse.mp3",
	})

	require.True(t, apperrors.Is(err, apperrors.KindForbidden))
}

func TestSubmitEntryRejectsOutOfRangeRound(t *testing.T) {
	f := newEngineFixture(t)
	event := f.battle(models.PhaseActive)

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)

	_, _, err := f.engine.SubmitEntry(context.Background(), SubmitEntryInput{
		EventID:  event.ID,
		Wallet:   "fighterA",
		Round:    3,
		AudioURL: "https://cdn.example/verse.mp3",
	})

	require.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestCastVoteRejectsParticipant(t *testing.T) {
	f := newEngineFixture(t)
	event := f.battle(models.PhaseVoting)
	ends := f.now.Add(time.Hour)
	event.VotingEndsAt = &ends

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)
	f.participants.On("ListByEvent", mock.Anything, event.ID).Return(f.roster(event.ID, "fighterA", "fighterB"), nil)

	_, _, err := f.engine.CastVote(context.Background(), CastVoteInput{
		EventID:      event.ID,
		VoterWallet:  "fighterA",
		WinnerWallet: "fighterB",
	})

	require.True(t, apperrors.Is(err, apperrors.KindForbidden))
	f.votes.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestCastVoteRejectsUnknownChoice(t *testing.T) {
	f := newEngineFixture(t)
	event := f.battle(models.PhaseVoting)
	ends := f.now.Add(time.Hour)
	event.VotingEndsAt = &ends

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)
	f.participants.On("ListByEvent", mock.Anything, event.ID).Return(f.roster(event.ID, "fighterA", "fighterB"), nil)

	_, _, err := f.engine.CastVote(context.Background(), CastVoteInput{
		EventID:      event.ID,
		VoterWallet:  "spectator",
		WinnerWallet: "someoneElse",
	})

	require.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestCastVoteRecordsAndTallies(t *testing.T) {
	f := newEngineFixture(t)
	f.allowSideEffects()
	event := f.battle(models.PhaseVoting)
	ends := f.now.Add(time.Hour)
	event.VotingEndsAt = &ends

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)
	f.participants.On("ListByEvent", mock.Anything, event.ID).Return(f.roster(event.ID, "fighterA", "fighterB"), nil)
	f.votes.On("Append", mock.Anything, mock.AnythingOfType("*models.Vote")).Return(nil)
	f.votes.On("Tally", mock.Anything, event.ID).Return(map[string]int{"fighterB": 3, "fighterA": 1}, nil)

	vote, tally, err := f.engine.CastVote(context.Background(), CastVoteInput{
		EventID:      event.ID,
		VoterWallet:  "spectator",
		WinnerWallet: "fighterB",
	})

	require.NoError(t, err)
	require.Equal(t, "fighterB", vote.WinnerWallet)
	require.Equal(t, 3, tally["fighterB"])
}

func TestCastVoteDuplicateConflicts(t *testing.T) {
	f := newEngineFixture(t)
	event := f.battle(models.PhaseVoting)
	ends := f.now.Add(time.Hour)
	event.VotingEndsAt = &ends

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)
	f.participants.On("ListByEvent", mock.Anything, event.ID).Return(f.roster(event.ID, "fighterA", "fighterB"), nil)
	f.votes.On("Append", mock.Anything, mock.AnythingOfType("*models.Vote")).
		Return(apperrors.Conflict("wallet spectator has already voted"))

	_, _, err := f.engine.CastVote(context.Background(), CastVoteInput{
		EventID:      event.ID,
		VoterWallet:  "spectator",
		WinnerWallet: "fighterA",
	})

	require.True(t, apperrors.Is(err, apperrors.KindConflict))
	f.votes.AssertNotCalled(t, "Tally", mock.Anything, mock.Anything)
	f.ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestCastVoteRejectsNonVotingPhase(t *testing.T) {
	f := newEngineFixture(t)
	event := f.battle(models.PhaseActive)

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil)

	_, _, err := f.engine.CastVote(context.Background(), CastVoteInput{
		EventID:      event.ID,
		VoterWallet:  "spectator",
		WinnerWallet: "fighterA",
	})

	require.True(t, apperrors.Is(err, apperrors.KindState))
}

func TestLapsedVotingEventFinalizesOnTouch(t *testing.T) {
	f := newEngineFixture(t)
	f.allowSideEffects()
	event := f.battle(models.PhaseVoting)
	ends := f.now.Add(-time.Hour)
	event.VotingEndsAt = &ends

	completed := f.battle(models.PhaseCompleted)
	completed.ID = event.ID
	winner := "fighterB"
	completed.WinnerWallet = &winner

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil).Once()
	f.votes.On("Tally", mock.Anything, event.ID).Return(map[string]int{"fighterB": 5, "fighterA": 2}, nil)
	f.events.On("AdvancePhase", mock.Anything, event.ID, models.PhaseVoting, models.PhaseCompleted,
		mock.MatchedBy(func(stamp PhaseStamp) bool {
			return stamp.SetWinner && stamp.Winner != nil && *stamp.Winner == "fighterB" && stamp.CompletedAt != nil
		})).Return(true, nil)
	f.participants.On("ListByEvent", mock.Anything, event.ID).Return(f.roster(event.ID, "fighterA", "fighterB"), nil)
	f.events.On("GetByID", mock.Anything, event.ID).Return(completed, nil).Once()

	// Any write path touching the event runs the closure check first; a vote
	// after the window reports the completed state instead of recording.
	_, _, err := f.engine.CastVote(context.Background(), CastVoteInput{
		EventID:      event.ID,
		VoterWallet:  "spectator",
		WinnerWallet: "fighterB",
	})

	require.True(t, apperrors.Is(err, apperrors.KindState))
	f.events.AssertExpectations(t)
}

func TestCompleteEventTieSetsNoWinner(t *testing.T) {
	f := newEngineFixture(t)
	f.allowSideEffects()
	event := f.battle(models.PhaseVoting)
	ends := f.now.Add(-time.Minute)
	event.VotingEndsAt = &ends

	completed := f.battle(models.PhaseCompleted)
	completed.ID = event.ID

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil).Once()
	f.votes.On("Tally", mock.Anything, event.ID).Return(map[string]int{"fighterA": 2, "fighterB": 2}, nil)
	f.events.On("AdvancePhase", mock.Anything, event.ID, models.PhaseVoting, models.PhaseCompleted,
		mock.MatchedBy(func(stamp PhaseStamp) bool {
			return stamp.SetWinner && stamp.Winner == nil
		})).Return(true, nil)
	f.events.On("GetByID", mock.Anything, event.ID).Return(completed, nil).Once()

	fresh, err := f.engine.loadFresh(context.Background(), event.ID)

	require.NoError(t, err)
	require.Equal(t, models.PhaseCompleted, fresh.Phase)
	require.Nil(t, fresh.WinnerWallet)
	// No winner means no win or loss awards
	f.ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestCompleteEventLosingRaceSkipsSideEffects(t *testing.T) {
	f := newEngineFixture(t)
	event := f.battle(models.PhaseVoting)
	ends := f.now.Add(-time.Minute)
	event.VotingEndsAt = &ends

	completed := f.battle(models.PhaseCompleted)
	completed.ID = event.ID

	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil).Once()
	f.votes.On("Tally", mock.Anything, event.ID).Return(map[string]int{"fighterA": 4}, nil)
	f.events.On("AdvancePhase", mock.Anything, event.ID, models.PhaseVoting, models.PhaseCompleted, mock.Anything).
		Return(false, nil)
	f.events.On("GetByID", mock.Anything, event.ID).Return(completed, nil).Once()

	_, err := f.engine.loadFresh(context.Background(), event.ID)

	require.NoError(t, err)
	f.ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	f.activities.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestCompleteEventIndexesCompletedSnapshot(t *testing.T) {
	f := newEngineFixture(t)
	f.allowSideEffects()
	indexer := new(MockResultIndexer)
	f.engine.indexer = indexer

	event := f.battle(models.PhaseVoting)
	ends := f.now.Add(-time.Hour)
	event.VotingEndsAt = &ends

	completed := f.battle(models.PhaseCompleted)
	completed.ID = event.ID
	winner := "fighterB"
	completed.WinnerWallet = &winner

	var indexed *models.Event
	f.events.On("GetByID", mock.Anything, event.ID).Return(event, nil).Once()
	f.votes.On("Tally", mock.Anything, event.ID).Return(map[string]int{"fighterB": 5, "fighterA": 2}, nil)
	f.events.On("AdvancePhase", mock.Anything, event.ID, models.PhaseVoting, models.PhaseCompleted, mock.Anything).
		Return(true, nil)
	f.participants.On("ListByEvent", mock.Anything, event.ID).Return(f.roster(event.ID, "fighterA", "fighterB"), nil)
	indexer.On("IndexEventResult", mock.Anything, mock.AnythingOfType("*models.Event"), mock.Anything).
		Run(func(args mock.Arguments) { indexed = args.Get(1).(*models.Event) }).
		Return(nil)
	f.events.On("GetByID", mock.Anything, event.ID).Return(completed, nil).Once()

	_, err := f.engine.loadFresh(context.Background(), event.ID)

	require.NoError(t, err)
	// The index document is built from the event the closure holds, so it
	// must carry the completed state rather than the voting snapshot.
	require.NotNil(t, indexed)
	require.Equal(t, models.PhaseCompleted, indexed.Phase)
	require.NotNil(t, indexed.WinnerWallet)
	require.Equal(t, "fighterB", *indexed.WinnerWallet)
	require.NotNil(t, indexed.CompletedAt)
	require.Equal(t, f.now, *indexed.CompletedAt)
	indexer.AssertExpectations(t)
}

func TestSweepLapsedVotingCompletesBatch(t *testing.T) {
	f := newEngineFixture(t)
	f.allowSideEffects()

	first := f.battle(models.PhaseVoting)
	second := f.battle(models.PhaseVoting)
	ends := f.now.Add(-2 * time.Hour)
	first.VotingEndsAt = &ends
	second.VotingEndsAt = &ends

	f.events.On("ListLapsedVoting", mock.Anything, f.now, 100).
		Return([]models.Event{*first, *second}, nil)
	f.votes.On("Tally", mock.Anything, first.ID).Return(map[string]int{"fighterA": 1}, nil)
	f.votes.On("Tally", mock.Anything, second.ID).Return(map[string]int{}, nil)
	f.events.On("AdvancePhase", mock.Anything, first.ID, models.PhaseVoting, models.PhaseCompleted, mock.Anything).
		Return(true, nil)
	f.events.On("AdvancePhase", mock.Anything, second.ID, models.PhaseVoting, models.PhaseCompleted,
		mock.MatchedBy(func(stamp PhaseStamp) bool { return stamp.Winner == nil })).
		Return(true, nil)
	f.participants.On("ListByEvent", mock.Anything, first.ID).Return(f.roster(first.ID, "fighterA", "fighterB"), nil)

	err := f.engine.SweepLapsedVoting(context.Background())

	require.NoError(t, err)
	f.events.AssertExpectations(t)
}

func TestJoinByInviteCodeUppercasesLookup(t *testing.T) {
	f := newEngineFixture(t)
	f.allowSideEffects()
	event := f.battle(models.PhasePending)
	event.Kind = models.KindChallenge
	event.MaxParticipants = 4
	code := "XK42QP"
	event.InviteCode = &code

	f.events.On("GetByInviteCode", mock.Anything, "XK42QP").Return(event, nil)
	f.participants.On("CountAccepted", mock.Anything, event.ID).Return(int64(1), nil).Once()
	f.participants.On("Add", mock.Anything, mock.AnythingOfType("*models.Participant")).Return(nil)
	f.participants.On("CountAccepted", mock.Anything, event.ID).Return(int64(2), nil).Once()
	f.events.On("AdvancePhase", mock.Anything, event.ID, models.PhasePending, models.PhaseAccepted, PhaseStamp{}).
		Return(true, nil)

	_, participant, err := f.engine.JoinByInviteCode(context.Background(), "xk42qp", "newMember")

	require.NoError(t, err)
	require.Equal(t, "newMember", participant.Wallet)
	f.events.AssertExpectations(t)
}
