package repositories

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/apperrors"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/models"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/services"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRepository provides access to event data
type EventRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB, readOnlyDB *gorm.DB) *EventRepository {
	return &EventRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create persists a new event. The unique index on invite_code surfaces a
// generated-code collision as a conflict, not a dependency failure.
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("invite code is already in use")
		}
		return apperrors.Dependency(err, "failed to create event")
	}
	return nil
}

// GetByID gets an event by ID
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := r.readOnlyDB.WithContext(ctx).First(&event, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("event %s not found", id)
		}
		return nil, apperrors.Dependency(err, "failed to get event")
	}
	return &event, nil
}

// GetByInviteCode gets an event by its invite code
func (r *EventRepository) GetByInviteCode(ctx context.Context, code string) (*models.Event, error) {
	var event models.Event
	err := r.readOnlyDB.WithContext(ctx).Where("invite_code = ?", code).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("no event with invite code %s", code)
		}
		return nil, apperrors.Dependency(err, "failed to get event by invite code")
	}
	return &event, nil
}

// List returns events matching the filter, newest first
func (r *EventRepository) List(ctx context.Context, filter services.EventFilter) ([]models.Event, error) {
	q := r.readOnlyDB.WithContext(ctx).Model(&models.Event{})
	if filter.Phase != "" {
		q = q.Where("phase = ?", filter.Phase)
	} else {
		// Unfiltered listings surface voting events first
		q = q.Order("CASE WHEN phase = 'voting' THEN 0 ELSE 1 END")
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	var events []models.Event
	err := q.Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&events).Error
	if err != nil {
		return nil, apperrors.Dependency(err, "failed to list events")
	}
	return events, nil
}

// AdvancePhase moves an event from one phase to another with a conditional
// update. The WHERE clause re-checks the expected phase so two concurrent
// callers cannot both claim the same transition; the loser sees zero rows
// affected and no error.
func (r *EventRepository) AdvancePhase(ctx context.Context, id uuid.UUID, from, to models.Phase, stamp services.PhaseStamp) (bool, error) {
	updates := map[string]interface{}{"phase": to}
	if stamp.StartedAt != nil {
		updates["started_at"] = *stamp.StartedAt
	}
	if stamp.VotingEndsAt != nil {
		updates["voting_ends_at"] = *stamp.VotingEndsAt
	}
	if stamp.CompletedAt != nil {
		updates["completed_at"] = *stamp.CompletedAt
	}
	if stamp.SetWinner {
		updates["winner_wallet"] = stamp.Winner
	}

	result := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ? AND phase = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, apperrors.Dependency(result.Error, "failed to advance event phase")
	}
	return result.RowsAffected > 0, nil
}

// ListLapsedVoting returns voting events whose window closed before now
func (r *EventRepository) ListLapsedVoting(ctx context.Context, now time.Time, limit int) ([]models.Event, error) {
	var events []models.Event
	err := r.readOnlyDB.WithContext(ctx).
		Where("phase = ? AND voting_ends_at IS NOT NULL AND voting_ends_at <= ?", models.PhaseVoting, now).
		Order("voting_ends_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, apperrors.Dependency(err, "failed to list lapsed voting events")
	}
	return events, nil
}

// ParticipantRepository provides access to event rosters
type ParticipantRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewParticipantRepository creates a new participant repository
func NewParticipantRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ParticipantRepository {
	return &ParticipantRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Add enrolls a wallet. The unique index on (event_id, wallet) makes a
// second enrollment a conflict.
func (r *ParticipantRepository) Add(ctx context.Context, participant *models.Participant) error {
	if err := r.db.WithContext(ctx).Create(participant).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("wallet %s is already enrolled", participant.Wallet)
		}
		return apperrors.Dependency(err, "failed to add participant")
	}
	return nil
}

// Get finds one roster entry by event and wallet
func (r *ParticipantRepository) Get(ctx context.Context, eventID uuid.UUID, wallet string) (*models.Participant, error) {
	var participant models.Participant
	err := r.readOnlyDB.WithContext(ctx).
		Where("event_id = ? AND wallet = ?", eventID, wallet).
		First(&participant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("wallet %s is not enrolled", wallet)
		}
		return nil, apperrors.Dependency(err, "failed to get participant")
	}
	return &participant, nil
}

// ListByEvent returns the full roster in enrollment order
func (r *ParticipantRepository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Participant, error) {
	var roster []models.Participant
	err := r.readOnlyDB.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at ASC").
		Find(&roster).Error
	if err != nil {
		return nil, apperrors.Dependency(err, "failed to list participants")
	}
	return roster, nil
}

// CountAccepted counts accepted roster entries. Counts run against the
// write database: admission decisions must see just-committed rows.
func (r *ParticipantRepository) CountAccepted(ctx context.Context, eventID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("event_id = ? AND status = ?", eventID, models.ParticipantAccepted).
		Count(&count).Error
	if err != nil {
		return 0, apperrors.Dependency(err, "failed to count participants")
	}
	return count, nil
}

// SubmissionRepository provides append-only access to round entries
type SubmissionRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewSubmissionRepository creates a new submission repository
func NewSubmissionRepository(db *gorm.DB, readOnlyDB *gorm.DB) *SubmissionRepository {
	return &SubmissionRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Append records a round entry. The unique index on (event_id, wallet,
// round) rejects a resubmission of the same round.
func (r *SubmissionRepository) Append(ctx context.Context, submission *models.Submission) error {
	if err := r.db.WithContext(ctx).Create(submission).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("round %d already has an entry from %s", submission.Round, submission.Wallet)
		}
		return apperrors.Dependency(err, "failed to append submission")
	}
	return nil
}

// ListByEvent returns all entries for an event ordered by round then time
func (r *SubmissionRepository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Submission, error) {
	var entries []models.Submission
	err := r.readOnlyDB.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("round ASC, submitted_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, apperrors.Dependency(err, "failed to list submissions")
	}
	return entries, nil
}

// CountPerWallet counts committed entries per wallet. Phase transition
// decisions read from the write database so they never act on a replica
// that has not caught up.
func (r *SubmissionRepository) CountPerWallet(ctx context.Context, eventID uuid.UUID) (map[string]int, error) {
	type row struct {
		Wallet string
		N      int
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Select("wallet, COUNT(*) AS n").
		Where("event_id = ?", eventID).
		Group("wallet").
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.Dependency(err, "failed to count submissions")
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Wallet] = r.N
	}
	return counts, nil
}

// VoteRepository provides append-only access to votes
type VoteRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewVoteRepository creates a new vote repository
func NewVoteRepository(db *gorm.DB, readOnlyDB *gorm.DB) *VoteRepository {
	return &VoteRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Append records a vote. The unique index on (event_id, voter_wallet)
// rejects a second vote from the same wallet.
func (r *VoteRepository) Append(ctx context.Context, vote *models.Vote) error {
	if err := r.db.WithContext(ctx).Create(vote).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.Conflict("wallet %s has already voted", vote.VoterWallet)
		}
		return apperrors.Dependency(err, "failed to append vote")
	}
	return nil
}

// GetByVoter finds a voter's vote on an event
func (r *VoteRepository) GetByVoter(ctx context.Context, eventID uuid.UUID, wallet string) (*models.Vote, error) {
	var vote models.Vote
	err := r.readOnlyDB.WithContext(ctx).
		Where("event_id = ? AND voter_wallet = ?", eventID, wallet).
		First(&vote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("no vote from wallet %s", wallet)
		}
		return nil, apperrors.Dependency(err, "failed to get vote")
	}
	return &vote, nil
}

// Tally counts votes per chosen winner. Winner resolution reads from the
// write database for the same reason transition checks do.
func (r *VoteRepository) Tally(ctx context.Context, eventID uuid.UUID) (map[string]int, error) {
	type row struct {
		WinnerWallet string
		N            int
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.Vote{}).
		Select("winner_wallet, COUNT(*) AS n").
		Where("event_id = ?", eventID).
		Group("winner_wallet").
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.Dependency(err, "failed to tally votes")
	}
	tally := make(map[string]int, len(rows))
	for _, r := range rows {
		tally[r.WinnerWallet] = r.N
	}
	return tally, nil
}

// ProfileRepository provides access to wallet profiles
type ProfileRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ProfileRepository {
	return &ProfileRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByWallet gets a profile by wallet address
func (r *ProfileRepository) GetByWallet(ctx context.Context, wallet string) (*models.Profile, error) {
	var profile models.Profile
	err := r.readOnlyDB.WithContext(ctx).Where("wallet = ?", wallet).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("no profile for wallet %s", wallet)
		}
		return nil, apperrors.Dependency(err, "failed to get profile")
	}
	return &profile, nil
}

// GetByWallets loads profiles in bulk, keyed by wallet. Missing wallets
// are simply absent from the result.
func (r *ProfileRepository) GetByWallets(ctx context.Context, wallets []string) (map[string]models.Profile, error) {
	if len(wallets) == 0 {
		return map[string]models.Profile{}, nil
	}
	var profiles []models.Profile
	err := r.readOnlyDB.WithContext(ctx).Where("wallet IN ?", wallets).Find(&profiles).Error
	if err != nil {
		return nil, apperrors.Dependency(err, "failed to load profiles")
	}
	byWallet := make(map[string]models.Profile, len(profiles))
	for _, p := range profiles {
		byWallet[p.Wallet] = p
	}
	return byWallet, nil
}

// Credit adds XP to a wallet's profile and stores the recomputed level,
// creating the profile on first award.
func (r *ProfileRepository) Credit(ctx context.Context, wallet string, amount int64, level int) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Profile{}).
			Where("wallet = ?", wallet).
			Updates(map[string]interface{}{
				"xp":    gorm.Expr("xp + ?", amount),
				"level": level,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}
		profile := models.Profile{
			ID:       uuid.New(),
			Wallet:   wallet,
			Username: defaultUsername(wallet),
			XP:       amount,
			Level:    level,
		}
		if err := tx.Create(&profile).Error; err != nil {
			// A concurrent first award created it; retry the increment.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return tx.Model(&models.Profile{}).
					Where("wallet = ?", wallet).
					Updates(map[string]interface{}{
						"xp":    gorm.Expr("xp + ?", amount),
						"level": level,
					}).Error
			}
			return err
		}
		return nil
	})
	if err != nil {
		return apperrors.Dependency(err, "failed to credit profile")
	}
	return nil
}

// defaultUsername derives a display name for auto-provisioned profiles
func defaultUsername(wallet string) string {
	if len(wallet) > 6 {
		wallet = wallet[:6]
	}
	return "User_" + wallet
}

// ReputationRepository appends to the XP ledger
type ReputationRepository struct {
	db *gorm.DB
}

// NewReputationRepository creates a new reputation repository
func NewReputationRepository(db *gorm.DB) *ReputationRepository {
	return &ReputationRepository{db: db}
}

// Append records one ledger entry. The ledger is append-only.
func (r *ReputationRepository) Append(ctx context.Context, entry *models.ReputationEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return apperrors.Dependency(err, "failed to append reputation entry")
	}
	return nil
}

// ActivityRepository appends to the activity log
type ActivityRepository struct {
	db *gorm.DB
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Append records one activity entry
func (r *ActivityRepository) Append(ctx context.Context, activity *models.Activity) error {
	if err := r.db.WithContext(ctx).Create(activity).Error; err != nil {
		return apperrors.Dependency(err, "failed to append activity")
	}
	return nil
}

// StatsRepository serves the aggregate read paths
type StatsRepository struct {
	readOnlyDB *gorm.DB
}

// NewStatsRepository creates a new stats repository
func NewStatsRepository(readOnlyDB *gorm.DB) *StatsRepository {
	return &StatsRepository{readOnlyDB: readOnlyDB}
}

// Leaderboard ranks wallets over completed events. Score weighs total wins
// and win rate so a wallet cannot climb on volume alone.
func (r *StatsRepository) Leaderboard(ctx context.Context, since *time.Time, category string, limit int) ([]services.RankedEntry, error) {
	type row struct {
		Wallet      string
		Wins        int
		TotalEvents int
		Winnings    int64
	}

	base := r.readOnlyDB.WithContext(ctx).
		Table("participants AS p").
		Joins("JOIN events e ON e.id = p.event_id").
		Where("e.phase = ? AND p.status = ?", models.PhaseCompleted, models.ParticipantAccepted)
	if since != nil {
		base = base.Where("e.completed_at >= ?", *since)
	}
	if category != "" {
		base = base.Where("e.category = ?", category)
	}

	var rows []row
	err := base.
		Select(`p.wallet,
			COUNT(*) FILTER (WHERE e.winner_wallet = p.wallet) AS wins,
			COUNT(*) AS total_events,
			COALESCE(SUM(e.stake_amount) FILTER (WHERE e.winner_wallet = p.wallet AND e.stake_currency = 'XP'), 0) AS winnings`).
		Group("p.wallet").
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.Dependency(err, "failed to query leaderboard")
	}

	wallets := make([]string, 0, len(rows))
	for _, r := range rows {
		wallets = append(wallets, r.Wallet)
	}
	var profiles []models.Profile
	if len(wallets) > 0 {
		if err := r.readOnlyDB.WithContext(ctx).Where("wallet IN ?", wallets).Find(&profiles).Error; err != nil {
			return nil, apperrors.Dependency(err, "failed to load leaderboard profiles")
		}
	}
	profileByWallet := make(map[string]models.Profile, len(profiles))
	for _, p := range profiles {
		profileByWallet[p.Wallet] = p
	}

	entries := make([]services.RankedEntry, 0, len(rows))
	for _, rw := range rows {
		var winRate float64
		if rw.TotalEvents > 0 {
			winRate = float64(rw.Wins) / float64(rw.TotalEvents)
		}
		entry := services.RankedEntry{
			Wallet:      rw.Wallet,
			Name:        rw.Wallet,
			Wins:        rw.Wins,
			Losses:      rw.TotalEvents - rw.Wins,
			TotalEvents: rw.TotalEvents,
			WinRate:     winRate,
			Winnings:    rw.Winnings,
			Score:       rw.Wins*3 + int(winRate*50),
		}
		if prof, ok := profileByWallet[rw.Wallet]; ok {
			entry.Name = prof.Username
			entry.Level = prof.Level
		}
		entries = append(entries, entry)
	}

	sortRanked(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// Overall summarizes engine-wide activity
func (r *StatsRepository) Overall(ctx context.Context, since *time.Time) (services.OverallStats, error) {
	var stats services.OverallStats

	events := r.readOnlyDB.WithContext(ctx).Model(&models.Event{})
	if since != nil {
		events = events.Where("created_at >= ?", *since)
	}
	var total, voting, inProgress int64
	if err := events.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return stats, apperrors.Dependency(err, "failed to count events")
	}
	if err := events.Session(&gorm.Session{}).Where("phase = ?", models.PhaseVoting).Count(&voting).Error; err != nil {
		return stats, apperrors.Dependency(err, "failed to count voting events")
	}
	if err := events.Session(&gorm.Session{}).
		Where("phase IN ?", []models.Phase{models.PhaseActive, models.PhaseInProgress}).
		Count(&inProgress).Error; err != nil {
		return stats, apperrors.Dependency(err, "failed to count running events")
	}

	var contenders int64
	if err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Participant{}).
		Distinct("wallet").
		Count(&contenders).Error; err != nil {
		return stats, apperrors.Dependency(err, "failed to count contenders")
	}

	stats.TotalEvents = int(total)
	stats.ActiveVoting = int(voting)
	stats.ActiveInProgress = int(inProgress)
	stats.UniqueContenders = int(contenders)
	return stats, nil
}

// sortRanked orders highest score first; wins break ties so the ordering
// is stable across requests.
func sortRanked(entries []services.RankedEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Wins > entries[j].Wins
	})
}
