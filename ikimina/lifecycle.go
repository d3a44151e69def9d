/*
lifecycle.go - Round lifecycle management

PURPOSE:
  Owns round state transitions (upcoming -> active -> completed, plus the
  implicit no-round group state) and their first-transition side effects:
  the bulk member-status change and the one-shot notification fan-out.

AT-MOST-ONCE SIDE EFFECTS:
  Every status a round passes through is notified exactly once. The memo
  of the last-notified status is durable (NotifyStateStore), keyed by
  round ID and, for the no-round state, by group ID, so a process restart
  cannot replay a notification storm. Fan-out goes through the outbox;
  a notifier outage can never threaten the status transition itself.

TRANSITION RULES (evaluated once per tick per group):
  upcoming -> active     when today >= start date
  active   -> completed  when today >  end date
  no upcoming/active round at all -> group enters no_round

MEMBER STATUS MAPPING:
  active -> "active", upcoming -> "waiting",
  completed / no_round -> "inactive"

SEE ALSO:
  - engine.go: Tick drives this manager then the projector, per group
  - outbox.go: Asynchronous delivery of the enqueued fan-out
*/
package ikimina

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// noRoundState is the memo value recorded once a group's no-round fan-out
// has fired; any other value re-arms it.
const noRoundState = "no_round"

// hasRoundState re-arms the no-round memo while the group has a live round.
const hasRoundState = "has_round"

func roundMemoKey(id RoundID) string { return "round:" + string(id) }
func groupMemoKey(id GroupID) string { return "group:" + string(id) }

// LifecycleManager advances round status over calendar time.
type LifecycleManager struct {
	Rounds      RoundStore
	Members     MemberDirectory
	NotifyState NotifyStateStore
	Outbox      OutboxStore
	Log         *logrus.Logger
}

// TickGroup evaluates transitions for one group against today. It returns
// the group's rounds with statuses already advanced, so the caller can
// project slots without re-reading. Transient store failures abort the
// group's tick (retried next tick); fan-out problems never do.
func (m *LifecycleManager) TickGroup(ctx context.Context, groupID GroupID, today CivilDate) ([]Round, error) {
	rounds, err := m.Rounds.ListRoundsByGroup(ctx, groupID)
	if err != nil {
		return nil, &TransientError{Op: "rounds.list", Err: err}
	}

	for i := range rounds {
		if err := m.advanceRound(ctx, &rounds[i], today); err != nil {
			return nil, err
		}
	}

	// One-shot side effects for each round whose status has not been
	// notified yet. Processing in start-date order means a catch-up tick
	// (old round completed, new round upcoming) leaves the member status
	// reflecting the newest round.
	for i := range rounds {
		if err := m.ensureNotified(ctx, rounds[i]); err != nil {
			return nil, err
		}
	}

	if err := m.ensureNoRoundState(ctx, groupID, rounds); err != nil {
		return nil, err
	}
	return rounds, nil
}

// desiredStatus returns the status a round should have today.
func desiredStatus(r Round, today CivilDate) RoundStatus {
	switch {
	case today.After(r.EndDate):
		return RoundCompleted
	case today.AfterOrEqual(r.StartDate):
		return RoundActive
	default:
		return RoundUpcoming
	}
}

// advanceRound steps the round's persisted status forward, one transition
// at a time, until it matches the calendar. Each step is a separate write
// so the regression guard in the store applies to every hop.
func (m *LifecycleManager) advanceRound(ctx context.Context, r *Round, today CivilDate) error {
	want := desiredStatus(*r, today)
	for r.Status.rank() < want.rank() {
		next := RoundActive
		if r.Status == RoundActive {
			next = RoundCompleted
		}
		if err := m.Rounds.UpdateRoundStatus(ctx, r.ID, next); err != nil {
			return &TransientError{Op: "rounds.update_status", Err: err}
		}
		m.log().WithFields(logrus.Fields{
			"group_id": r.GroupID,
			"round_id": r.ID,
			"from":     r.Status,
			"to":       next,
		}).Info("round status transition")
		r.Status = next
	}
	return nil
}

// ensureNotified fires the member-status change and notification fan-out
// for the round's current status if it has not been notified before.
func (m *LifecycleManager) ensureNotified(ctx context.Context, r Round) error {
	key := roundMemoKey(r.ID)
	last, err := m.NotifyState.LastNotified(ctx, key)
	if err != nil {
		return &TransientError{Op: "notify_state.get", Err: err}
	}
	if last == string(r.Status) {
		return nil
	}

	if err := m.Members.SetStatus(ctx, r.GroupID, memberStatusFor(r.Status)); err != nil {
		return &TransientError{Op: "members.set_status", Err: err}
	}
	if err := m.fanOut(ctx, r.GroupID, statusMessage(r)); err != nil {
		return err
	}
	if err := m.NotifyState.SetLastNotified(ctx, key, string(r.Status)); err != nil {
		return &TransientError{Op: "notify_state.set", Err: err}
	}
	return nil
}

// ensureNoRoundState handles the implicit group state when no upcoming or
// active round exists. The memo re-arms whenever a live round appears.
func (m *LifecycleManager) ensureNoRoundState(ctx context.Context, groupID GroupID, rounds []Round) error {
	live := false
	for _, r := range rounds {
		if r.Status != RoundCompleted {
			live = true
			break
		}
	}

	key := groupMemoKey(groupID)
	last, err := m.NotifyState.LastNotified(ctx, key)
	if err != nil {
		return &TransientError{Op: "notify_state.get", Err: err}
	}

	if live {
		if last == noRoundState || last == "" {
			if err := m.NotifyState.SetLastNotified(ctx, key, hasRoundState); err != nil {
				return &TransientError{Op: "notify_state.set", Err: err}
			}
		}
		return nil
	}

	if last == noRoundState {
		return nil
	}
	if err := m.Members.SetStatus(ctx, groupID, MemberInactive); err != nil {
		return &TransientError{Op: "members.set_status", Err: err}
	}
	msg := "Your savings group has no scheduled round. Contributions are paused until a new round is created."
	if err := m.fanOut(ctx, groupID, msg); err != nil {
		return err
	}
	if err := m.NotifyState.SetLastNotified(ctx, key, noRoundState); err != nil {
		return &TransientError{Op: "notify_state.set", Err: err}
	}
	m.log().WithField("group_id", groupID).Info("group entered no-round state")
	return nil
}

// fanOut enqueues one notification per reachable member. Enqueueing is the
// transition's only coupling to delivery; the outbox worker sends later.
func (m *LifecycleManager) fanOut(ctx context.Context, groupID GroupID, message string) error {
	contacts, err := m.Members.ListContacts(ctx, groupID)
	if err != nil {
		return &TransientError{Op: "members.list_contacts", Err: err}
	}

	now := time.Now()
	var batch []Notification
	for _, c := range contacts {
		if !c.Reachable() {
			continue
		}
		batch = append(batch, Notification{
			ID:        uuid.NewString(),
			GroupID:   groupID,
			Contact:   c,
			Message:   message,
			CreatedAt: now,
		})
	}
	if len(batch) == 0 {
		return nil
	}
	if err := m.Outbox.Enqueue(ctx, batch); err != nil {
		return &TransientError{Op: "outbox.enqueue", Err: err}
	}
	m.log().WithFields(logrus.Fields{
		"group_id":   groupID,
		"recipients": len(batch),
	}).Info("notification batch enqueued")
	return nil
}

func memberStatusFor(s RoundStatus) MemberStatus {
	switch s {
	case RoundActive:
		return MemberActive
	case RoundUpcoming:
		return MemberWaiting
	default:
		return MemberInactive
	}
}

func statusMessage(r Round) string {
	switch r.Status {
	case RoundUpcoming:
		return fmt.Sprintf("Round %d of your savings group starts on %s.", r.RoundNumber, r.StartDate)
	case RoundActive:
		return fmt.Sprintf("Round %d of your savings group is now active. Contributions are open.", r.RoundNumber)
	default:
		return fmt.Sprintf("Round %d of your savings group has completed. Thank you for saving.", r.RoundNumber)
	}
}

func (m *LifecycleManager) log() *logrus.Logger {
	if m.Log != nil {
		return m.Log
	}
	return logrus.StandardLogger()
}
