/*
Package sqlite provides the SQLite-backed implementation of every engine
collaborator interface.

PURPOSE:
  One Store implements ikimina.RoundStore, SlotStore, RuleStore,
  ActivityStore, ScheduleConfigProvider, MemberDirectory, NotifyStateStore
  and OutboxStore. The same patterns apply to PostgreSQL with minor dialect
  changes.

INVARIANTS ENFORCED HERE:
  - idx_unique_settlement on (slot_id, member_id): a member settles a slot
    at most once, even under concurrent submissions. The conflict maps to
    ikimina.ErrSlotAlreadySettled.
  - idx_unique_slot_occurrence on (round_id, date, time_of_day, label):
    racing slot generations conflict instead of double-writing; maps to
    ikimina.ErrSlotsAlreadyGenerated.
  - Round status updates carry the monotonicity guard in SQL: the UPDATE
    only matches rows whose stored rank is lower than the new rank.

KEY TABLES:
  rounds, slots, saving_rules, saving_activities, members,
  schedule_entries, notify_state, notification_outbox

CONCURRENCY:
  WAL mode plus a sync.RWMutex, the same discipline the rest of this
  codebase uses for SQLite's single-writer model.

USAGE:
  store, err := sqlite.New("./data/ikimina.db")

SEE ALSO:
  - ikimina/store.go: Interface contracts
  - ikimina/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/umusanzu/ikimina-engine/ikimina"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite is single-writer anyway, and :memory:
	// databases exist per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rounds (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		round_number INTEGER NOT NULL,
		round_year INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		status TEXT NOT NULL,
		cycle_count INTEGER NOT NULL,
		frequency TEXT NOT NULL,
		allowed_weekdays TEXT NOT NULL DEFAULT '',
		allowed_days_of_month TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rounds_group_start
		ON rounds(group_id, start_date);

	CREATE TABLE IF NOT EXISTS slots (
		id TEXT PRIMARY KEY,
		round_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		date TEXT NOT NULL,
		time_of_day TEXT NOT NULL,
		schedule_label TEXT NOT NULL,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_slots_round_date
		ON slots(round_id, date, time_of_day);

	-- Racing generations conflict instead of double-writing a slot set.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_slot_occurrence
		ON slots(round_id, date, time_of_day, schedule_label);

	CREATE TABLE IF NOT EXISTS saving_rules (
		group_id TEXT NOT NULL,
		round_id TEXT NOT NULL,
		unit_amount TEXT NOT NULL,
		time_delay_penalty TEXT NOT NULL,
		date_delay_penalty TEXT NOT NULL,
		time_limit_minutes INTEGER NOT NULL,
		PRIMARY KEY (group_id, round_id)
	);

	CREATE TABLE IF NOT EXISTS saving_activities (
		id TEXT PRIMARY KEY,
		slot_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		penalty_type TEXT NOT NULL,
		penalty_amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: a slot can be settled by a member only once.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_settlement
		ON saving_activities(slot_id, member_id);

	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'waiting'
	);
	CREATE INDEX IF NOT EXISTS idx_members_group ON members(group_id);

	CREATE TABLE IF NOT EXISTS schedule_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id TEXT NOT NULL,
		frequency TEXT NOT NULL,
		weekday TEXT NOT NULL DEFAULT '',
		day_of_month INTEGER NOT NULL DEFAULT 0,
		time_of_day TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_schedule_group ON schedule_entries(group_id);

	-- Durable de-dup memo: last notified status per round/group key.
	CREATE TABLE IF NOT EXISTS notify_state (
		key TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notification_outbox (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		sent_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_pending
		ON notification_outbox(created_at) WHERE sent_at IS NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ROUND STORE
// =============================================================================

const roundColumns = `id, group_id, round_number, round_year, start_date, end_date,
	status, cycle_count, frequency, allowed_weekdays, allowed_days_of_month,
	created_at, updated_at`

func (s *Store) ListRoundsByGroup(ctx context.Context, groupID ikimina.GroupID) ([]ikimina.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + roundColumns + ` FROM rounds WHERE group_id = ? ORDER BY start_date`
	return s.queryRounds(ctx, query, groupID)
}

func (s *Store) GetRound(ctx context.Context, id ikimina.RoundID) (*ikimina.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rounds, err := s.queryRounds(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rounds) == 0 {
		return nil, ikimina.ErrRoundNotFound
	}
	return &rounds[0], nil
}

func (s *Store) CreateRound(ctx context.Context, r ikimina.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO rounds (` + roundColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.GroupID, r.RoundNumber, r.RoundYear,
		r.StartDate.String(), r.EndDate.String(),
		r.Status, r.CycleCount, r.Frequency,
		joinWeekdays(r.AllowedDays.Weekdays), joinDaysOfMonth(r.AllowedDays.DaysOfMonth),
		r.CreatedAt.UTC().Format(time.RFC3339), r.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert round: %w", err)
	}
	return nil
}

func (s *Store) UpdateRound(ctx context.Context, r ikimina.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE rounds SET round_number = ?, round_year = ?, start_date = ?, end_date = ?,
			status = ?, cycle_count = ?, frequency = ?, allowed_weekdays = ?,
			allowed_days_of_month = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		r.RoundNumber, r.RoundYear, r.StartDate.String(), r.EndDate.String(),
		r.Status, r.CycleCount, r.Frequency,
		joinWeekdays(r.AllowedDays.Weekdays), joinDaysOfMonth(r.AllowedDays.DaysOfMonth),
		time.Now().UTC().Format(time.RFC3339), r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update round: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ikimina.ErrRoundNotFound
	}
	return nil
}

func (s *Store) DeleteRound(ctx context.Context, id ikimina.RoundID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM rounds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete round: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ikimina.ErrRoundNotFound
	}
	return nil
}

// UpdateRoundStatus applies a status transition with the monotonicity guard
// in the statement itself: the row only matches when the stored rank is
// strictly lower, so racing ticks cannot regress a round.
func (s *Store) UpdateRoundStatus(ctx context.Context, id ikimina.RoundID, status ikimina.RoundStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE rounds SET status = ?, updated_at = ?
		WHERE id = ?
		  AND (CASE status WHEN 'upcoming' THEN 0 WHEN 'active' THEN 1 ELSE 2 END)
		    < (CASE ? WHEN 'upcoming' THEN 0 WHEN 'active' THEN 1 ELSE 2 END)
	`
	res, err := s.db.ExecContext(ctx, query, status, time.Now().UTC().Format(time.RFC3339), id, status)
	if err != nil {
		return fmt.Errorf("failed to update round status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM rounds WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check round: %w", err)
		}
		if exists == 0 {
			return ikimina.ErrRoundNotFound
		}
		return ikimina.ErrStatusRegression
	}
	return nil
}

func (s *Store) ListGroups(ctx context.Context) ([]ikimina.GroupID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT group_id FROM rounds ORDER BY group_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []ikimina.GroupID
	for rows.Next() {
		var g ikimina.GroupID
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) queryRounds(ctx context.Context, query string, args ...any) ([]ikimina.Round, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []ikimina.Round
	for rows.Next() {
		var (
			r                   ikimina.Round
			startStr, endStr    string
			weekdays, daysStr   string
			createdStr, updated string
		)
		if err := rows.Scan(&r.ID, &r.GroupID, &r.RoundNumber, &r.RoundYear,
			&startStr, &endStr, &r.Status, &r.CycleCount, &r.Frequency,
			&weekdays, &daysStr, &createdStr, &updated); err != nil {
			return nil, err
		}
		if r.StartDate, err = ikimina.ParseCivilDate(startStr); err != nil {
			return nil, err
		}
		if r.EndDate, err = ikimina.ParseCivilDate(endStr); err != nil {
			return nil, err
		}
		r.AllowedDays = ikimina.AllowedDays{
			Weekdays:    splitWeekdays(weekdays),
			DaysOfMonth: splitDaysOfMonth(daysStr),
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// =============================================================================
// SLOT STORE
// =============================================================================

func (s *Store) HasSlots(ctx context.Context, roundID ikimina.RoundID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM slots WHERE round_id = ?`, roundID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count slots: %w", err)
	}
	return count > 0, nil
}

func (s *Store) BulkInsertSlots(ctx context.Context, roundID ikimina.RoundID, slots []ikimina.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Atomic check inside the write transaction; the unique index backs
	// this up if another connection raced past it.
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM slots WHERE round_id = ?`, roundID).Scan(&count); err != nil {
		return fmt.Errorf("failed to check existing slots: %w", err)
	}
	if count > 0 {
		return ikimina.ErrSlotsAlreadyGenerated
	}

	query := `
		INSERT INTO slots (id, round_id, group_id, date, time_of_day, schedule_label, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, slot := range slots {
		if _, err := tx.ExecContext(ctx, query,
			slot.ID, slot.RoundID, slot.GroupID,
			slot.Date.String(), slot.Time.String(), slot.ScheduleLabel, slot.Status,
		); err != nil {
			if isUniqueConstraintError(err) {
				return ikimina.ErrSlotsAlreadyGenerated
			}
			return fmt.Errorf("failed to insert slot: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListSlotsByRound(ctx context.Context, roundID ikimina.RoundID) ([]ikimina.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, round_id, group_id, date, time_of_day, schedule_label, status
		FROM slots WHERE round_id = ? ORDER BY date, time_of_day
	`
	return s.querySlots(ctx, query, roundID)
}

func (s *Store) GetSlot(ctx context.Context, id ikimina.SlotID) (*ikimina.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slots, err := s.querySlots(ctx, `
		SELECT id, round_id, group_id, date, time_of_day, schedule_label, status
		FROM slots WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, ikimina.ErrSlotNotFound
	}
	return &slots[0], nil
}

func (s *Store) UpdateSlotStatus(ctx context.Context, id ikimina.SlotID, status ikimina.SlotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE slots SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update slot status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ikimina.ErrSlotNotFound
	}
	return nil
}

func (s *Store) DeleteSlotsByRound(ctx context.Context, roundID ikimina.RoundID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM slots WHERE round_id = ?`, roundID)
	if err != nil {
		return fmt.Errorf("failed to delete slots: %w", err)
	}
	return nil
}

func (s *Store) querySlots(ctx context.Context, query string, args ...any) ([]ikimina.Slot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	defer rows.Close()

	var slots []ikimina.Slot
	for rows.Next() {
		var (
			slot             ikimina.Slot
			dateStr, timeStr string
		)
		if err := rows.Scan(&slot.ID, &slot.RoundID, &slot.GroupID,
			&dateStr, &timeStr, &slot.ScheduleLabel, &slot.Status); err != nil {
			return nil, err
		}
		if slot.Date, err = ikimina.ParseCivilDate(dateStr); err != nil {
			return nil, err
		}
		if slot.Time, err = ikimina.ParseCivilTime(timeStr); err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// =============================================================================
// RULE STORE
// =============================================================================

func (s *Store) GetRule(ctx context.Context, groupID ikimina.GroupID, roundID ikimina.RoundID) (*ikimina.SavingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rule                   ikimina.SavingRule
		unit, timePen, datePen string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT group_id, round_id, unit_amount, time_delay_penalty, date_delay_penalty, time_limit_minutes
		FROM saving_rules WHERE group_id = ? AND round_id = ?`,
		groupID, roundID,
	).Scan(&rule.GroupID, &rule.RoundID, &unit, &timePen, &datePen, &rule.TimeLimitMinutes)
	if err == sql.ErrNoRows {
		return nil, ikimina.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rule: %w", err)
	}
	rule.UnitAmount = mustDecimal(unit)
	rule.TimeDelayPenalty = mustDecimal(timePen)
	rule.DateDelayPenalty = mustDecimal(datePen)
	return &rule, nil
}

// SaveRule upserts a rule. Callers enforce the rule-mutability window
// (not while the round is active/completed) before reaching the store.
func (s *Store) SaveRule(ctx context.Context, rule ikimina.SavingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO saving_rules (group_id, round_id, unit_amount, time_delay_penalty, date_delay_penalty, time_limit_minutes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id, round_id) DO UPDATE SET
			unit_amount = excluded.unit_amount,
			time_delay_penalty = excluded.time_delay_penalty,
			date_delay_penalty = excluded.date_delay_penalty,
			time_limit_minutes = excluded.time_limit_minutes
	`
	_, err := s.db.ExecContext(ctx, query,
		rule.GroupID, rule.RoundID,
		rule.UnitAmount.String(), rule.TimeDelayPenalty.String(), rule.DateDelayPenalty.String(),
		rule.TimeLimitMinutes,
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

// =============================================================================
// ACTIVITY STORE
// =============================================================================

func (s *Store) InsertActivity(ctx context.Context, a ikimina.SavingActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO saving_activities
		(id, slot_id, member_id, amount, submitted_at, penalty_type, penalty_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.SlotID, a.MemberID,
		a.Amount.String(), a.SubmittedAt.UTC().Format(time.RFC3339),
		a.PenaltyType, a.PenaltyAmount.String(),
		a.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ikimina.ErrSlotAlreadySettled
		}
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

func (s *Store) ListActivitiesBySlot(ctx context.Context, slotID ikimina.SlotID) ([]ikimina.SavingActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slot_id, member_id, amount, submitted_at, penalty_type, penalty_amount, created_at
		FROM saving_activities WHERE slot_id = ? ORDER BY submitted_at`, slotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var activities []ikimina.SavingActivity
	for rows.Next() {
		var (
			a                             ikimina.SavingActivity
			amount, penalty, subStr, cStr string
		)
		if err := rows.Scan(&a.ID, &a.SlotID, &a.MemberID, &amount, &subStr,
			&a.PenaltyType, &penalty, &cStr); err != nil {
			return nil, err
		}
		a.Amount = mustDecimal(amount)
		a.PenaltyAmount = mustDecimal(penalty)
		a.SubmittedAt, _ = time.Parse(time.RFC3339, subStr)
		a.CreatedAt, _ = time.Parse(time.RFC3339, cStr)
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// =============================================================================
// SCHEDULE CONFIGURATION
// =============================================================================

func (s *Store) GetSchedule(ctx context.Context, groupID ikimina.GroupID) (*ikimina.GroupSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT frequency, weekday, day_of_month, time_of_day
		FROM schedule_entries WHERE group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule: %w", err)
	}
	defer rows.Close()

	schedule := &ikimina.GroupSchedule{GroupID: groupID}
	for rows.Next() {
		var (
			freq  ikimina.Frequency
			entry ikimina.ScheduleEntry
		)
		if err := rows.Scan(&freq, &entry.Weekday, &entry.DayOfMonth, &entry.TimeOfDay); err != nil {
			return nil, err
		}
		schedule.Frequency = freq
		schedule.Entries = append(schedule.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(schedule.Entries) == 0 {
		return nil, fmt.Errorf("no schedule configured for group %s", groupID)
	}
	return schedule, nil
}

// SaveSchedule replaces a group's schedule entries.
func (s *Store) SaveSchedule(ctx context.Context, schedule ikimina.GroupSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_entries WHERE group_id = ?`, schedule.GroupID); err != nil {
		return fmt.Errorf("failed to clear schedule: %w", err)
	}
	for _, e := range schedule.Entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schedule_entries (group_id, frequency, weekday, day_of_month, time_of_day)
			VALUES (?, ?, ?, ?, ?)`,
			schedule.GroupID, schedule.Frequency, e.Weekday, e.DayOfMonth, e.TimeOfDay,
		); err != nil {
			return fmt.Errorf("failed to insert schedule entry: %w", err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// MEMBER DIRECTORY
// =============================================================================

func (s *Store) ListContacts(ctx context.Context, groupID ikimina.GroupID) ([]ikimina.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phone, email FROM members WHERE group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var contacts []ikimina.Contact
	for rows.Next() {
		var c ikimina.Contact
		if err := rows.Scan(&c.MemberID, &c.Phone, &c.Email); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (s *Store) SetStatus(ctx context.Context, groupID ikimina.GroupID, status ikimina.MemberStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE members SET status = ? WHERE group_id = ?`, status, groupID)
	if err != nil {
		return fmt.Errorf("failed to update member statuses: %w", err)
	}
	return nil
}

// SaveMember upserts a member record (used by seeding and dev tooling;
// registration proper lives outside this core).
func (s *Store) SaveMember(ctx context.Context, groupID ikimina.GroupID, contact ikimina.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, group_id, phone, email)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET phone = excluded.phone, email = excluded.email`,
		contact.MemberID, groupID, contact.Phone, contact.Email,
	)
	if err != nil {
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

// =============================================================================
// NOTIFY STATE
// =============================================================================

func (s *Store) LastNotified(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM notify_state WHERE key = ?`, key).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query notify state: %w", err)
	}
	return status, nil
}

func (s *Store) SetLastNotified(ctx context.Context, key string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notify_state (key, status, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		key, status, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to set notify state: %w", err)
	}
	return nil
}

// =============================================================================
// OUTBOX
// =============================================================================

func (s *Store) Enqueue(ctx context.Context, notifications []ikimina.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, n := range notifications {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notification_outbox (id, group_id, member_id, phone, email, message, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.GroupID, n.Contact.MemberID, n.Contact.Phone, n.Contact.Email,
			n.Message, n.CreatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("failed to enqueue notification: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListPending(ctx context.Context, limit int, maxAttempts int) ([]ikimina.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, member_id, phone, email, message, attempts, last_error, created_at
		FROM notification_outbox
		WHERE sent_at IS NULL AND attempts < ?
		ORDER BY created_at LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var pending []ikimina.Notification
	for rows.Next() {
		var (
			n    ikimina.Notification
			cStr string
		)
		if err := rows.Scan(&n.ID, &n.GroupID, &n.Contact.MemberID, &n.Contact.Phone,
			&n.Contact.Email, &n.Message, &n.Attempts, &n.LastError, &cStr); err != nil {
			return nil, err
		}
		n.CreatedAt, _ = time.Parse(time.RFC3339, cStr)
		pending = append(pending, n)
	}
	return pending, rows.Err()
}

func (s *Store) MarkSent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE notification_outbox SET sent_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE notification_outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		reason, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func joinWeekdays(weekdays []string) string {
	return strings.Join(weekdays, ",")
}

func splitWeekdays(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func joinDaysOfMonth(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return strings.Join(parts, ",")
}

func splitDaysOfMonth(s string) []int {
	if s == "" {
		return nil
	}
	var days []int
	for _, part := range strings.Split(s, ",") {
		var d int
		if _, err := fmt.Sscanf(part, "%d", &d); err == nil {
			days = append(days, d)
		}
	}
	return days
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
