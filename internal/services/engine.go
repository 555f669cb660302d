package services

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/config"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/apperrors"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/cache"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/metrics"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// inviteAlphabet avoids ambiguous characters (0/O, 1/I).
const inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var validCategories = map[string]bool{
	"conscious":    true,
	"wordplay":     true,
	"flow":         true,
	"freestyle":    true,
	"storytelling": true,
}

var validModes = map[string]bool{
	"1v1":   true,
	"group": true,
	"open":  true,
}

// Engine runs the competitive submission and voting lifecycle: event
// creation, roster admission, round submissions, peer voting, phase
// transitions and winner resolution. Phase transitions are decided from
// fresh count queries and written with conditional updates, so two racing
// requests cannot both claim the same transition.
type Engine struct {
	events       EventStore
	participants ParticipantStore
	submissions  SubmissionStore
	votes        VoteStore
	awarder      *ReputationAwarder
	activities   ActivityStore
	publisher    ActivityPublisher
	indexer      ResultIndexer
	collector    *metrics.Metrics
	viewCache    *cache.RedisCache
	cfg          config.EngineConfig

	// now is swapped in tests to drive expiry
	now func() time.Time
}

// NewEngine creates a new lifecycle engine. publisher and indexer may be nil;
// their side effects are best-effort and skipped when absent.
func NewEngine(
	events EventStore,
	participants ParticipantStore,
	submissions SubmissionStore,
	votes VoteStore,
	awarder *ReputationAwarder,
	activities ActivityStore,
	publisher ActivityPublisher,
	indexer ResultIndexer,
	collector *metrics.Metrics,
	cfg config.EngineConfig,
) *Engine {
	return &Engine{
		events:       events,
		participants: participants,
		submissions:  submissions,
		votes:        votes,
		awarder:      awarder,
		activities:   activities,
		publisher:    publisher,
		indexer:      indexer,
		collector:    collector,
		cfg:          cfg,
		now:          time.Now,
	}
}

// AttachViewCache enables invalidation of the anonymous event view cache on
// mutation. Without it mutations still work, stale reads just live until TTL.
func (e *Engine) AttachViewCache(c *cache.RedisCache) {
	e.viewCache = c
}

func (e *Engine) invalidateView(ctx context.Context, eventID uuid.UUID) {
	if e.viewCache == nil {
		return
	}
	if err := e.viewCache.Invalidate(ctx, cache.GetEventViewCacheKey(eventID)); err != nil {
		log.Debug().Err(err).Str("event_id", eventID.String()).Msg("view cache invalidation failed")
	}
}

// CreateEventInput is the event creation request.
type CreateEventInput struct {
	Kind            models.EventKind
	CreatorWallet   string
	OpponentWallet  *string // battles only; nil leaves the opponent slot open
	Title           string
	Description     *string
	Category        string
	Mode            string
	Rounds          int
	BarsPerRound    int
	Duration        time.Duration
	StakeAmount     *int64
	StakeCurrency   string
	MaxParticipants int
	IsPublic        bool
}

// CreateEvent validates the request, persists the event in phase pending and
// admits the creator (and a fixed battle opponent) to the roster.
func (e *Engine) CreateEvent(ctx context.Context, in CreateEventInput) (*models.Event, error) {
	if in.CreatorWallet == "" {
		return nil, apperrors.Validation("creator wallet is required")
	}
	if in.Kind != models.KindBattle && in.Kind != models.KindChallenge {
		return nil, apperrors.Validation("kind must be battle or challenge")
	}
	if in.Category == "" {
		in.Category = "freestyle"
	}
	if !validCategories[in.Category] {
		return nil, apperrors.Validation("unknown category %q", in.Category)
	}
	if in.Rounds == 0 {
		in.Rounds = 1
	}
	if in.Rounds < 1 || in.Rounds > 5 {
		return nil, apperrors.Validation("rounds must be between 1 and 5")
	}
	if in.BarsPerRound == 0 {
		in.BarsPerRound = 16
	}
	if in.StakeCurrency == "" {
		in.StakeCurrency = "XP"
	}
	if in.StakeCurrency != "XP" && in.StakeCurrency != "SOL" {
		return nil, apperrors.Validation("stake currency must be XP or SOL")
	}
	if in.StakeAmount != nil && *in.StakeAmount <= 0 {
		return nil, apperrors.Validation("stake amount must be positive")
	}

	now := e.now()
	event := &models.Event{
		ID:            uuid.New(),
		Kind:          in.Kind,
		Phase:         models.PhasePending,
		Title:         strings.TrimSpace(in.Title),
		Description:   in.Description,
		Category:      in.Category,
		CreatorWallet: in.CreatorWallet,
		Rounds:        in.Rounds,
		BarsPerRound:  in.BarsPerRound,
		StakeAmount:   in.StakeAmount,
		StakeCurrency: in.StakeCurrency,
		IsPublic:      in.IsPublic,
	}

	switch in.Kind {
	case models.KindBattle:
		event.Mode = "1v1"
		event.MinParticipants = 2
		event.MaxParticipants = 2
		if in.OpponentWallet != nil && *in.OpponentWallet == in.CreatorWallet {
			return nil, apperrors.Validation("opponent must differ from challenger")
		}
		if in.Duration == 0 {
			in.Duration = e.cfg.BattleDuration
		}
	case models.KindChallenge:
		if event.Title == "" {
			return nil, apperrors.Validation("title is required")
		}
		if in.Mode == "" {
			in.Mode = "1v1"
		}
		if !validModes[in.Mode] {
			return nil, apperrors.Validation("unknown mode %q", in.Mode)
		}
		event.Mode = in.Mode
		event.MinParticipants = 2
		event.MaxParticipants = in.MaxParticipants
		if event.MaxParticipants == 0 {
			event.MaxParticipants = 2
		}
		if event.MaxParticipants < event.MinParticipants {
			return nil, apperrors.Validation("max participants must be at least %d", event.MinParticipants)
		}
		code := generateInviteCode()
		event.InviteCode = &code
		if in.Duration == 0 {
			in.Duration = e.cfg.ChallengeDuration
		}
	}
	event.ExpiresAt = now.Add(in.Duration)

	if err := e.events.Create(ctx, event); err != nil {
		return nil, err
	}

	creatorRole := models.RoleCreator
	if in.Kind == models.KindBattle {
		creatorRole = models.RoleChallenger
	}
	creator := &models.Participant{
		ID:      uuid.New(),
		EventID: event.ID,
		Wallet:  in.CreatorWallet,
		Role:    creatorRole,
		Status:  models.ParticipantAccepted,
	}
	if err := e.participants.Add(ctx, creator); err != nil {
		return nil, err
	}

	if in.Kind == models.KindBattle && in.OpponentWallet != nil {
		opponent := &models.Participant{
			ID:      uuid.New(),
			EventID: event.ID,
			Wallet:  *in.OpponentWallet,
			Role:    models.RoleOpponent,
			Status:  models.ParticipantAccepted,
		}
		if err := e.participants.Add(ctx, opponent); err != nil {
			return nil, err
		}
	}

	e.count("events_created")
	e.recordActivity(ctx, in.CreatorWallet, "event_created", map[string]interface{}{
		"event_id": event.ID.String(),
		"kind":     event.Kind,
		"category": event.Category,
		"rounds":   event.Rounds,
	})

	log.Info().
		Str("event_id", event.ID.String()).
		Str("kind", string(event.Kind)).
		Str("creator", in.CreatorWallet).
		Msg("Event created")
	return event, nil
}

// JoinEvent admits a wallet to an event's roster. For open battles the first
// joiner takes the opponent slot; for challenges reaching the participant
// minimum advances pending to accepted.
func (e *Engine) JoinEvent(ctx context.Context, eventID uuid.UUID, wallet string) (*models.Participant, error) {
	if wallet == "" {
		return nil, apperrors.Validation("wallet is required")
	}
	event, err := e.loadFresh(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return e.join(ctx, event, wallet)
}

// JoinByInviteCode admits a wallet to a challenge found by its invite code.
func (e *Engine) JoinByInviteCode(ctx context.Context, code, wallet string) (*models.Event, *models.Participant, error) {
	if wallet == "" {
		return nil, nil, apperrors.Validation("wallet is required")
	}
	event, err := e.events.GetByInviteCode(ctx, strings.ToUpper(code))
	if err != nil {
		return nil, nil, err
	}
	event, err = e.finalizeIfDue(ctx, event)
	if err != nil {
		return nil, nil, err
	}
	participant, err := e.join(ctx, event, wallet)
	if err != nil {
		return nil, nil, err
	}
	return event, participant, nil
}

func (e *Engine) join(ctx context.Context, event *models.Event, wallet string) (*models.Participant, error) {
	policy := policyFor(event.Kind)
	if event.Phase == models.PhaseCompleted {
		return nil, apperrors.State("event is completed")
	}
	if e.now().After(event.ExpiresAt) {
		return nil, apperrors.State("event has expired")
	}
	if !policy.joinablePhases[event.Phase] {
		return nil, apperrors.State("event is already %s", event.Phase)
	}

	accepted, err := e.participants.CountAccepted(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	if int(accepted) >= event.MaxParticipants {
		return nil, apperrors.Forbidden("event roster is full")
	}

	role := models.RoleMember
	if event.Kind == models.KindBattle {
		role = models.RoleOpponent
	}
	participant := &models.Participant{
		ID:      uuid.New(),
		EventID: event.ID,
		Wallet:  wallet,
		Role:    role,
		Status:  models.ParticipantAccepted,
	}
	// The unique index on (event, wallet) rejects a second enrollment.
	if err := e.participants.Add(ctx, participant); err != nil {
		return nil, err
	}

	// Re-count after the insert so concurrent joins converge on the same
	// decision, then advance pending challenges that hit their minimum.
	if event.Kind == models.KindChallenge && event.Phase == models.PhasePending {
		accepted, err = e.participants.CountAccepted(ctx, event.ID)
		if err == nil && rosterComplete(event, int(accepted)) {
			if _, err := e.events.AdvancePhase(ctx, event.ID, models.PhasePending, models.PhaseAccepted, PhaseStamp{}); err != nil {
				log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("Failed to advance challenge to accepted")
			}
		}
	}

	e.invalidateView(ctx, event.ID)
	e.count("participants_joined")
	e.recordActivity(ctx, wallet, "event_joined", map[string]interface{}{
		"event_id": event.ID.String(),
		"kind":     event.Kind,
	})
	return participant, nil
}

// SubmitEntryInput is one round entry.
type SubmitEntryInput struct {
	EventID     uuid.UUID
	Wallet      string
	Round       int
	AudioURL    string
	Lyrics      *string
	Description *string
}

// SubmitEntry appends a round entry and re-evaluates the event's phase.
// Duplicate submissions for the same (event, wallet, round) are rejected
// with a conflict, never overwritten.
func (e *Engine) SubmitEntry(ctx context.Context, in SubmitEntryInput) (*models.Submission, models.Phase, error) {
	if in.Wallet == "" || in.AudioURL == "" {
		return nil, "", apperrors.Validation("wallet and audio URL are required")
	}

	event, err := e.loadFresh(ctx, in.EventID)
	if err != nil {
		return nil, "", err
	}

	policy := policyFor(event.Kind)
	if event.Phase == models.PhaseCompleted {
		return nil, "", apperrors.State("event is completed")
	}
	if !policy.submittablePhases[event.Phase] {
		return nil, "", apperrors.State("cannot submit while event is %s", event.Phase)
	}
	if e.now().After(event.ExpiresAt) {
		return nil, "", apperrors.State("event has expired")
	}
	if in.Round < 1 || in.Round > event.Rounds {
		return nil, "", apperrors.Validation("round must be between 1 and %d", event.Rounds)
	}

	participant, err := e.participants.Get(ctx, event.ID, in.Wallet)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, "", apperrors.Forbidden("only participants can submit entries")
		}
		return nil, "", err
	}
	if participant.Status != models.ParticipantAccepted {
		return nil, "", apperrors.Forbidden("participant is not accepted")
	}

	submission := &models.Submission{
		ID:          uuid.New(),
		EventID:     event.ID,
		Wallet:      in.Wallet,
		Round:       in.Round,
		AudioURL:    in.AudioURL,
		Lyrics:      in.Lyrics,
		Description: in.Description,
	}
	if err := e.submissions.Append(ctx, submission); err != nil {
		return nil, "", err
	}
	e.count("submissions_recorded")

	newPhase, err := e.resolveAfterSubmission(ctx, event)
	if err != nil {
		// The entry is durably committed; a failed transition check will be
		// retried by the next write or read touching this event.
		log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("Phase resolution after submission failed")
		newPhase = event.Phase
	}
	e.invalidateView(ctx, event.ID)

	e.awarder.Award(ctx, in.Wallet, policy.submissionReason, submission.ID.String())
	e.recordActivity(ctx, in.Wallet, "entry_submitted", map[string]interface{}{
		"event_id":      event.ID.String(),
		"submission_id": submission.ID.String(),
		"round":         in.Round,
	})

	log.Info().
		Str("event_id", event.ID.String()).
		Str("wallet", in.Wallet).
		Int("round", in.Round).
		Str("phase", string(newPhase)).
		Msg("Entry submitted")
	return submission, newPhase, nil
}

// resolveAfterSubmission recomputes the phase from durably committed counts,
// never from the record that triggered the check. Two submissions racing to
// be the one that closes a round both converge here; the conditional update
// lets exactly one of them win the transition.
func (e *Engine) resolveAfterSubmission(ctx context.Context, event *models.Event) (models.Phase, error) {
	roster, err := e.participants.ListByEvent(ctx, event.ID)
	if err != nil {
		return event.Phase, err
	}
	wallets := acceptedWallets(roster)
	perWallet, err := e.submissions.CountPerWallet(ctx, event.ID)
	if err != nil {
		return event.Phase, err
	}

	target := nextPhase(event, wallets, perWallet)
	if target == event.Phase || phaseRank[target] < phaseRank[event.Phase] {
		return event.Phase, nil
	}

	now := e.now()
	stamp := PhaseStamp{}
	switch target {
	case models.PhaseActive, models.PhaseInProgress:
		stamp.StartedAt = &now
	case models.PhaseVoting:
		ends := now.Add(e.cfg.VotingWindow)
		stamp.VotingEndsAt = &ends
	}

	won, err := e.events.AdvancePhase(ctx, event.ID, event.Phase, target, stamp)
	if err != nil {
		return event.Phase, err
	}
	if won {
		e.count("phase_transitions")
		log.Info().
			Str("event_id", event.ID.String()).
			Str("from", string(event.Phase)).
			Str("to", string(target)).
			Msg("Event phase advanced")
		return target, nil
	}
	// Lost the race: another request already advanced the event. Re-read for
	// an accurate answer to the caller.
	fresh, err := e.events.GetByID(ctx, event.ID)
	if err != nil {
		return target, nil
	}
	return fresh.Phase, nil
}

// CastVoteInput is one spectator vote.
type CastVoteInput struct {
	EventID      uuid.UUID
	VoterWallet  string
	WinnerWallet string
}

// CastVote appends a vote for one of the event's participants and checks
// for closure. Participants cannot vote on their own event; a voter votes
// at most once.
func (e *Engine) CastVote(ctx context.Context, in CastVoteInput) (*models.Vote, map[string]int, error) {
	if in.VoterWallet == "" || in.WinnerWallet == "" {
		return nil, nil, apperrors.Validation("voter and winner choice are required")
	}

	event, err := e.loadFresh(ctx, in.EventID)
	if err != nil {
		return nil, nil, err
	}
	if event.Phase != models.PhaseVoting {
		return nil, nil, apperrors.State("cannot vote while event is %s", event.Phase)
	}

	roster, err := e.participants.ListByEvent(ctx, event.ID)
	if err != nil {
		return nil, nil, err
	}
	choiceValid := false
	for _, p := range roster {
		if p.Wallet == in.VoterWallet {
			return nil, nil, apperrors.Forbidden("participants cannot vote on their own event")
		}
		if p.Wallet == in.WinnerWallet && p.Status == models.ParticipantAccepted {
			choiceValid = true
		}
	}
	if !choiceValid {
		return nil, nil, apperrors.NotFound("winner choice is not a participant of this event")
	}

	vote := &models.Vote{
		ID:           uuid.New(),
		EventID:      event.ID,
		VoterWallet:  in.VoterWallet,
		WinnerWallet: in.WinnerWallet,
	}
	if err := e.votes.Append(ctx, vote); err != nil {
		return nil, nil, err
	}
	e.invalidateView(ctx, event.ID)
	e.count("votes_recorded")

	tally, err := e.votes.Tally(ctx, event.ID)
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("Tally read after vote failed")
		tally = map[string]int{in.WinnerWallet: 1}
	}

	// The voter pool is unbounded, so expiry is the closure trigger; the
	// lazy check on the next touch (or the sweep) completes the event.
	policy := policyFor(event.Kind)
	e.awarder.Award(ctx, in.VoterWallet, policy.voteReason, vote.ID.String())
	e.recordActivity(ctx, in.VoterWallet, "vote_cast", map[string]interface{}{
		"event_id": event.ID.String(),
		"choice":   in.WinnerWallet,
	})

	log.Info().
		Str("event_id", event.ID.String()).
		Str("voter", in.VoterWallet).
		Msg("Vote recorded")
	return vote, tally, nil
}

// loadFresh fetches an event and finalizes it first if its voting window
// already lapsed, so callers always observe the terminal phase.
func (e *Engine) loadFresh(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	event, err := e.events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.finalizeIfDue(ctx, event)
}

// FinalizeIfDue exposes the lazy closure check to the read path.
func (e *Engine) FinalizeIfDue(ctx context.Context, event *models.Event) (*models.Event, error) {
	return e.finalizeIfDue(ctx, event)
}

func (e *Engine) finalizeIfDue(ctx context.Context, event *models.Event) (*models.Event, error) {
	if event.Phase != models.PhaseVoting || event.VotingEndsAt == nil || e.now().Before(*event.VotingEndsAt) {
		return event, nil
	}
	if err := e.completeEvent(ctx, event); err != nil {
		return nil, err
	}
	return e.events.GetByID(ctx, event.ID)
}

// completeEvent closes a voting event: computes the winner from the tally,
// writes voting → completed with a conditional update, and fires the
// best-effort side effects only if this caller won the transition.
func (e *Engine) completeEvent(ctx context.Context, event *models.Event) error {
	tally, err := e.votes.Tally(ctx, event.ID)
	if err != nil {
		return err
	}
	winner := winnerFromTally(tally)

	now := e.now()
	stamp := PhaseStamp{CompletedAt: &now, SetWinner: true, Winner: winner}
	won, err := e.events.AdvancePhase(ctx, event.ID, models.PhaseVoting, models.PhaseCompleted, stamp)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	// The stamp only went to the store; mirror it onto the event so the
	// side effects below see the completed state, not the voting snapshot.
	event.Phase = models.PhaseCompleted
	event.CompletedAt = &now
	event.WinnerWallet = winner
	e.invalidateView(ctx, event.ID)
	e.count("events_completed")

	policy := policyFor(event.Kind)
	if winner != nil {
		e.awarder.Award(ctx, *winner, policy.winReason, event.ID.String())
		if policy.lossReason != "" {
			roster, err := e.participants.ListByEvent(ctx, event.ID)
			if err == nil {
				for _, p := range roster {
					if p.Status == models.ParticipantAccepted && p.Wallet != *winner {
						e.awarder.Award(ctx, p.Wallet, policy.lossReason, event.ID.String())
					}
				}
			}
		}
		e.recordActivity(ctx, *winner, "event_won", map[string]interface{}{
			"event_id": event.ID.String(),
			"kind":     event.Kind,
		})
	}

	if e.indexer != nil {
		if err := e.indexer.IndexEventResult(ctx, event, tally); err != nil {
			log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("Failed to index event result")
			e.countError("result_indexing")
		}
	}

	log.Info().
		Str("event_id", event.ID.String()).
		Str("winner", stringOrTie(winner)).
		Msg("Event completed")
	return nil
}

// SweepLapsedVoting finalizes events whose voting window lapsed without a
// write touching them. Runs from the worker as a fallback to the lazy check.
func (e *Engine) SweepLapsedVoting(ctx context.Context) error {
	lapsed, err := e.events.ListLapsedVoting(ctx, e.now(), e.cfg.SweepBatchSize)
	if err != nil {
		return err
	}
	if len(lapsed) == 0 {
		return nil
	}
	log.Info().Int("count", len(lapsed)).Msg("Finalizing lapsed voting events")
	for i := range lapsed {
		if err := e.completeEvent(ctx, &lapsed[i]); err != nil {
			log.Error().Err(err).Str("event_id", lapsed[i].ID.String()).Msg("Failed to finalize lapsed event")
			// Continue to the next event
		}
	}
	return nil
}

func (e *Engine) recordActivity(ctx context.Context, wallet, activityType string, data map[string]interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Warn().Err(err).Str("type", activityType).Msg("Failed to marshal activity data")
		return
	}
	activity := &models.Activity{
		ID:     uuid.New(),
		Wallet: wallet,
		Type:   activityType,
		Data:   payload,
	}
	if e.activities != nil {
		if err := e.activities.Append(ctx, activity); err != nil {
			log.Warn().Err(err).Str("type", activityType).Msg("Failed to log activity")
			e.countError("activity_log")
		}
	}
	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, activity); err != nil {
			log.Warn().Err(err).Str("type", activityType).Msg("Failed to publish activity event")
			e.countError("activity_publish")
		}
	}
}

func (e *Engine) count(name string) {
	if e.collector != nil {
		e.collector.IncrementCounter(name)
	}
}

func (e *Engine) countError(name string) {
	if e.collector != nil {
		e.collector.RecordError(name)
	}
}

func acceptedWallets(roster []models.Participant) []string {
	wallets := make([]string, 0, len(roster))
	for _, p := range roster {
		if p.Status == models.ParticipantAccepted {
			wallets = append(wallets, p.Wallet)
		}
	}
	return wallets
}

func stringOrTie(winner *string) string {
	if winner == nil {
		return "tie"
	}
	return *winner
}

func generateInviteCode() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = inviteAlphabet[rand.Intn(len(inviteAlphabet))]
	}
	return string(b)
}
