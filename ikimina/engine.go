/*
engine.go - Engine entry points

PURPOSE:
  Composes the calculators, lifecycle manager, projector and evaluator
  behind the operations the API layer calls: round CRUD, slot generation
  and reset, contribution submission, and the scheduler tick.

CONCURRENCY MODEL:
  Tick fans groups out across a bounded worker pool. Work within one group
  (round transitions, then slot projection) runs in order under a per-group
  lock; a tick that finds a group still being processed by the previous
  tick skips it rather than overlapping. One group's failure or panic is
  caught and logged and never aborts the remaining groups.

  SubmitContribution runs concurrently with ticks and with other
  submissions; its single-settlement invariant is enforced by the activity
  store's atomic check-and-insert, not by an application-level read.

SEE ALSO:
  - lifecycle.go, projector.go, penalty.go, cycle.go, slots.go
  - api/scheduler.go: The fixed-interval driver calling Tick
*/
package ikimina

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultTickWorkers = 8

// Engine wires the collaborator seams into the exposed operations.
type Engine struct {
	Rounds      RoundStore
	Slots       SlotStore
	Rules       RuleStore
	Activities  ActivityStore
	Schedules   ScheduleConfigProvider
	Members     MemberDirectory
	NotifyState NotifyStateStore
	Outbox      OutboxStore
	Clock       Clock
	Log         *logrus.Logger

	// TickWorkers bounds the per-tick fan-out across groups.
	TickWorkers int

	lifecycle *LifecycleManager
	projector *Projector
	generator *SlotGenerator
	evaluator *PenaltyEvaluator

	groupLocks sync.Map // GroupID -> *sync.Mutex
	initOnce   sync.Once
}

func (e *Engine) init() {
	e.initOnce.Do(func() {
		e.lifecycle = &LifecycleManager{
			Rounds:      e.Rounds,
			Members:     e.Members,
			NotifyState: e.NotifyState,
			Outbox:      e.Outbox,
			Log:         e.Log,
		}
		e.projector = &Projector{Slots: e.Slots, Log: e.Log}
		e.generator = &SlotGenerator{Log: e.Log}
		e.evaluator = &PenaltyEvaluator{Loc: e.Clock.Location()}
	})
}

// =============================================================================
// ROUND CRUD
// =============================================================================

// CreateRoundInput carries the validated-by-caller fields of a new round.
type CreateRoundInput struct {
	GroupID     GroupID
	StartDate   CivilDate
	Frequency   Frequency
	AllowedDays AllowedDays
	CycleCount  int
}

// CreateRound validates the round invariants, computes the end date and
// persists the round as upcoming.
func (e *Engine) CreateRound(ctx context.Context, in CreateRoundInput) (*Round, error) {
	e.init()

	if in.GroupID == "" {
		return nil, &ValidationError{Field: "group_id", Message: "required"}
	}
	if !in.Frequency.Valid() {
		return nil, &ValidationError{Field: "frequency", Message: fmt.Sprintf("unknown frequency %q", in.Frequency)}
	}
	if in.StartDate.IsZero() {
		return nil, &ValidationError{Field: "start_date", Message: "required"}
	}
	if in.CycleCount < 1 {
		return nil, &ValidationError{Field: "cycle_count", Message: "must be at least 1"}
	}
	if err := ValidateAllowedDays(in.Frequency, in.AllowedDays); err != nil {
		return nil, err
	}
	if !isOccupied(in.StartDate, in.Frequency, in.AllowedDays) {
		return nil, &InvariantError{
			Reason:  ErrStartDayNotAllowed,
			GroupID: in.GroupID,
			Detail:  fmt.Sprintf("start date %s", in.StartDate),
		}
	}

	existing, err := e.Rounds.ListRoundsByGroup(ctx, in.GroupID)
	if err != nil {
		return nil, &TransientError{Op: "rounds.list", Err: err}
	}
	if err := e.checkNoOverlap(in.GroupID, in.StartDate, existing, ""); err != nil {
		return nil, err
	}

	endDate, err := ComputeEndDate(in.StartDate, in.Frequency, in.AllowedDays, in.CycleCount)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	round := Round{
		ID:          RoundID(uuid.NewString()),
		GroupID:     in.GroupID,
		RoundNumber: len(existing) + 1,
		RoundYear:   in.StartDate.Year,
		StartDate:   in.StartDate,
		EndDate:     endDate,
		Status:      RoundUpcoming,
		CycleCount:  in.CycleCount,
		Frequency:   in.Frequency,
		AllowedDays: in.AllowedDays,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Rounds.CreateRound(ctx, round); err != nil {
		return nil, &TransientError{Op: "rounds.create", Err: err}
	}
	e.log().WithFields(logrus.Fields{
		"group_id": round.GroupID,
		"round_id": round.ID,
		"start":    round.StartDate.String(),
		"end":      round.EndDate.String(),
	}).Info("round created")
	return &round, nil
}

// checkNoOverlap enforces the total ordering of a group's rounds: a new
// start must be strictly after every other round's end date, and not
// before today when the group has no rounds yet.
func (e *Engine) checkNoOverlap(groupID GroupID, start CivilDate, existing []Round, ignore RoundID) error {
	others := 0
	for _, r := range existing {
		if r.ID == ignore {
			continue
		}
		others++
		if !start.After(r.EndDate) {
			return &InvariantError{
				Reason:  ErrRoundOverlap,
				GroupID: groupID,
				RoundID: r.ID,
				Detail:  fmt.Sprintf("start %s is not after round %d end %s", start, r.RoundNumber, r.EndDate),
			}
		}
	}
	if others == 0 && start.Before(e.Clock.Today()) {
		return &ValidationError{Field: "start_date", Message: "first round may not start in the past"}
	}
	return nil
}

// EditRoundInput carries the editable fields. Zero values leave the
// current value unchanged.
type EditRoundInput struct {
	StartDate   *CivilDate
	CycleCount  *int
	AllowedDays *AllowedDays
}

// EditRound updates dates/cycle count of a round that has not started yet
// and recomputes the end date.
func (e *Engine) EditRound(ctx context.Context, id RoundID, in EditRoundInput) (*Round, error) {
	e.init()

	round, err := e.getRound(ctx, id)
	if err != nil {
		return nil, err
	}
	if round.Status != RoundUpcoming {
		return nil, &InvariantError{Reason: ErrRoundNotEditable, RoundID: id, Detail: string(round.Status)}
	}

	if in.StartDate != nil {
		round.StartDate = *in.StartDate
	}
	if in.CycleCount != nil {
		round.CycleCount = *in.CycleCount
	}
	if in.AllowedDays != nil {
		round.AllowedDays = *in.AllowedDays
	}

	if round.CycleCount < 1 {
		return nil, &ValidationError{Field: "cycle_count", Message: "must be at least 1"}
	}
	if err := ValidateAllowedDays(round.Frequency, round.AllowedDays); err != nil {
		return nil, err
	}
	if !isOccupied(round.StartDate, round.Frequency, round.AllowedDays) {
		return nil, &InvariantError{Reason: ErrStartDayNotAllowed, RoundID: id, Detail: fmt.Sprintf("start date %s", round.StartDate)}
	}

	existing, err := e.Rounds.ListRoundsByGroup(ctx, round.GroupID)
	if err != nil {
		return nil, &TransientError{Op: "rounds.list", Err: err}
	}
	if err := e.checkNoOverlap(round.GroupID, round.StartDate, existing, id); err != nil {
		return nil, err
	}

	endDate, err := ComputeEndDate(round.StartDate, round.Frequency, round.AllowedDays, round.CycleCount)
	if err != nil {
		return nil, err
	}
	round.EndDate = endDate
	round.RoundYear = round.StartDate.Year
	round.UpdatedAt = time.Now()

	if err := e.Rounds.UpdateRound(ctx, *round); err != nil {
		return nil, &TransientError{Op: "rounds.update", Err: err}
	}
	return round, nil
}

// DeleteRound removes an upcoming round and any slots generated for it.
func (e *Engine) DeleteRound(ctx context.Context, id RoundID) error {
	e.init()

	round, err := e.getRound(ctx, id)
	if err != nil {
		return err
	}
	if round.Status != RoundUpcoming {
		return &InvariantError{Reason: ErrRoundNotEditable, RoundID: id, Detail: string(round.Status)}
	}
	if err := e.Slots.DeleteSlotsByRound(ctx, id); err != nil {
		return &TransientError{Op: "slots.delete", Err: err}
	}
	if err := e.Rounds.DeleteRound(ctx, id); err != nil {
		return &TransientError{Op: "rounds.delete", Err: err}
	}
	return nil
}

// ListRounds returns a group's rounds ordered by start date.
func (e *Engine) ListRounds(ctx context.Context, groupID GroupID) ([]Round, error) {
	rounds, err := e.Rounds.ListRoundsByGroup(ctx, groupID)
	if err != nil {
		return nil, &TransientError{Op: "rounds.list", Err: err}
	}
	return rounds, nil
}

// =============================================================================
// SLOT GENERATION
// =============================================================================

// GenerateSlots expands the round into its full slot set. Exactly-once:
// a round that already has slots rejects regeneration.
func (e *Engine) GenerateSlots(ctx context.Context, roundID RoundID) ([]Slot, error) {
	e.init()

	round, err := e.getRound(ctx, roundID)
	if err != nil {
		return nil, err
	}

	has, err := e.Slots.HasSlots(ctx, roundID)
	if err != nil {
		return nil, &TransientError{Op: "slots.has", Err: err}
	}
	if has {
		return nil, &InvariantError{Reason: ErrSlotsAlreadyGenerated, RoundID: roundID}
	}

	schedule, err := e.Schedules.GetSchedule(ctx, round.GroupID)
	if err != nil {
		return nil, &TransientError{Op: "schedules.get", Err: err}
	}

	slots, err := e.generator.Generate(*round, *schedule)
	if err != nil {
		return nil, err
	}
	if err := e.Slots.BulkInsertSlots(ctx, roundID, slots); err != nil {
		if IsInvariantViolation(err) {
			return nil, err
		}
		return nil, &TransientError{Op: "slots.bulk_insert", Err: err}
	}
	e.log().WithFields(logrus.Fields{
		"round_id": roundID,
		"slots":    len(slots),
	}).Info("slots generated")
	return slots, nil
}

// ResetSlots deletes a round's slot set so it can be regenerated.
// Rejected once the round is active or completed.
func (e *Engine) ResetSlots(ctx context.Context, roundID RoundID) error {
	e.init()

	round, err := e.getRound(ctx, roundID)
	if err != nil {
		return err
	}
	if round.Status != RoundUpcoming {
		return &InvariantError{Reason: ErrRoundNotEditable, RoundID: roundID, Detail: string(round.Status)}
	}
	if err := e.Slots.DeleteSlotsByRound(ctx, roundID); err != nil {
		return &TransientError{Op: "slots.delete", Err: err}
	}
	return nil
}

// ListSlots returns a round's slots ordered by date and time.
func (e *Engine) ListSlots(ctx context.Context, roundID RoundID) ([]Slot, error) {
	if _, err := e.getRound(ctx, roundID); err != nil {
		return nil, err
	}
	slots, err := e.Slots.ListSlotsByRound(ctx, roundID)
	if err != nil {
		return nil, &TransientError{Op: "slots.list", Err: err}
	}
	return slots, nil
}

// =============================================================================
// CONTRIBUTION SUBMISSION
// =============================================================================

// SubmitContribution evaluates and records a member's contribution against
// a slot. At most one settlement per (slot, member); the second attempt
// fails with ErrSlotAlreadySettled.
func (e *Engine) SubmitContribution(ctx context.Context, slotID SlotID, memberID MemberID, amount decimal.Decimal, submittedAt time.Time) (*SavingActivity, error) {
	e.init()

	if memberID == "" {
		return nil, &ValidationError{Field: "member_id", Message: "required"}
	}
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if submittedAt.IsZero() {
		submittedAt = e.Clock.Now()
	}

	slot, err := e.Slots.GetSlot(ctx, slotID)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, &TransientError{Op: "slots.get", Err: err}
	}

	rule, err := e.Rules.GetRule(ctx, slot.GroupID, slot.RoundID)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, &TransientError{Op: "rules.get", Err: err}
	}

	result := e.evaluator.Evaluate(*slot, *rule, submittedAt)
	activity := SavingActivity{
		ID:            ActivityID(uuid.NewString()),
		SlotID:        slotID,
		MemberID:      memberID,
		Amount:        amount,
		SubmittedAt:   submittedAt,
		PenaltyType:   result.Type,
		PenaltyAmount: result.Amount,
		CreatedAt:     time.Now(),
	}
	if err := e.Activities.InsertActivity(ctx, activity); err != nil {
		if IsInvariantViolation(err) {
			return nil, err
		}
		return nil, &TransientError{Op: "activities.insert", Err: err}
	}

	e.log().WithFields(logrus.Fields{
		"slot_id":      slotID,
		"member_id":    memberID,
		"penalty_type": result.Type,
	}).Info("contribution recorded")

	if result.Type == PenaltyDate {
		e.notifyPenalty(ctx, *slot, memberID, result)
	}
	return &activity, nil
}

// notifyPenalty enqueues a penalty notice to the settling member. Best
// effort: a failure here never affects the recorded settlement.
func (e *Engine) notifyPenalty(ctx context.Context, slot Slot, memberID MemberID, result PenaltyResult) {
	contacts, err := e.Members.ListContacts(ctx, slot.GroupID)
	if err != nil {
		e.log().WithError(err).Warn("penalty notice: listing contacts failed")
		return
	}
	for _, c := range contacts {
		if c.MemberID != memberID || !c.Reachable() {
			continue
		}
		n := Notification{
			ID:        uuid.NewString(),
			GroupID:   slot.GroupID,
			Contact:   c,
			Message:   fmt.Sprintf("Your contribution for %s was received late. A penalty of %s was applied.", slot.Date, result.Amount),
			CreatedAt: time.Now(),
		}
		if err := e.Outbox.Enqueue(ctx, []Notification{n}); err != nil {
			e.log().WithError(err).Warn("penalty notice: enqueue failed")
		}
		return
	}
}

// =============================================================================
// TICK - Scheduler entry point
// =============================================================================

// TickReport summarizes one tick for logging and the admin endpoint.
type TickReport struct {
	Groups       int
	Skipped      int
	Failed       int
	SlotsUpdated int
}

// Tick runs one pass of the lifecycle manager and slot projector over
// every group. Groups are processed in parallel up to TickWorkers, with
// at most one in-flight tick per group; a group still locked from a
// previous tick is skipped, not queued.
func (e *Engine) Tick(ctx context.Context) TickReport {
	e.init()

	report := TickReport{}
	groups, err := e.Rounds.ListGroups(ctx)
	if err != nil {
		e.log().WithError(err).Error("tick: listing groups failed")
		report.Failed++
		return report
	}
	report.Groups = len(groups)

	workers := e.TickWorkers
	if workers <= 0 {
		workers = defaultTickWorkers
	}

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, workers)
		mu  sync.Mutex // guards report counters
	)
	for _, groupID := range groups {
		groupID := groupID
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			updated, err := e.tickGroup(ctx, groupID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == errGroupBusy:
				report.Skipped++
			case err != nil:
				report.Failed++
			default:
				report.SlotsUpdated += updated
			}
		}()
	}
	wg.Wait()

	e.log().WithFields(logrus.Fields{
		"groups":        report.Groups,
		"skipped":       report.Skipped,
		"failed":        report.Failed,
		"slots_updated": report.SlotsUpdated,
	}).Debug("tick completed")
	return report
}

// errGroupBusy signals a group whose previous tick is still in flight.
var errGroupBusy = fmt.Errorf("group tick already in flight")

// tickGroup runs lifecycle-then-projection for one group under its lock.
// Panics are contained here so one group cannot abort the tick.
func (e *Engine) tickGroup(ctx context.Context, groupID GroupID) (updated int, err error) {
	lockAny, _ := e.groupLocks.LoadOrStore(groupID, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	if !lock.TryLock() {
		e.log().WithField("group_id", groupID).Warn("tick: previous tick still in flight, skipping group")
		return 0, errGroupBusy
	}
	defer lock.Unlock()

	defer func() {
		if r := recover(); r != nil {
			e.log().WithField("group_id", groupID).Errorf("tick: panic recovered: %v", r)
			err = fmt.Errorf("panic in group tick: %v", r)
		}
	}()

	today := e.Clock.Today()
	rounds, err := e.lifecycle.TickGroup(ctx, groupID, today)
	if err != nil {
		e.log().WithField("group_id", groupID).WithError(err).Error("tick: lifecycle failed, group skipped until next tick")
		return 0, err
	}

	for _, round := range rounds {
		n, err := e.projector.ProjectRound(ctx, round, today)
		updated += n
		if err != nil {
			e.log().WithFields(logrus.Fields{
				"group_id": groupID,
				"round_id": round.ID,
			}).WithError(err).Error("tick: slot projection failed")
			return updated, err
		}
	}
	return updated, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) getRound(ctx context.Context, id RoundID) (*Round, error) {
	round, err := e.Rounds.GetRound(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, &TransientError{Op: "rounds.get", Err: err}
	}
	return round, nil
}

func (e *Engine) log() *logrus.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}
