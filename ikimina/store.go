/*
store.go - Collaborator interfaces consumed by the engine

PURPOSE:
  Defines the seams between the lifecycle engine and the excluded
  persistence/notification layers. The engine never touches a database or
  a delivery channel directly; it talks to these interfaces.

KEY INTERFACES:
  RoundStore:      Round persistence and status updates
  SlotStore:       Slot persistence, exactly-once generation support
  RuleStore:       Saving-rule lookup
  ActivityStore:   Settlement records with atomic single-settlement check
  ScheduleConfigProvider: Group contribution schedules
  MemberDirectory: Member contacts and bulk status updates
  NotifyStateStore: Durable last-notified status per round/group
  OutboxStore:     Queued notification jobs (see outbox.go)
  Notifier:        Best-effort delivery of a single message

INVARIANT ENFORCEMENT AT THE STORAGE LAYER:
  Two invariants must hold under concurrent callers and are therefore
  contracts on the store, not just on the engine:
  - ActivityStore.Insert must be an atomic check-and-insert on
    (slot_id, member_id), returning ErrSlotAlreadySettled on conflict.
  - SlotStore.BulkInsert must conflict rather than double-write when two
    generations race (unique index on the slot identity).

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store (all interfaces)
  - ikimina/store: in-memory store for tests and development

SEE ALSO:
  - engine.go: The operations composed from these seams
  - lifecycle.go, projector.go, penalty.go: The consumers
*/
package ikimina

import "context"

// =============================================================================
// ROUND STORE
// =============================================================================

type RoundStore interface {
	// ListByGroup returns the group's rounds ordered by start date.
	ListRoundsByGroup(ctx context.Context, groupID GroupID) ([]Round, error)

	// Get returns a round by ID, ErrRoundNotFound when absent.
	GetRound(ctx context.Context, id RoundID) (*Round, error)

	CreateRound(ctx context.Context, r Round) error
	UpdateRound(ctx context.Context, r Round) error
	DeleteRound(ctx context.Context, id RoundID) error

	// UpdateStatus persists a status transition. Implementations reject
	// regressions (new rank must exceed stored rank) with
	// ErrStatusRegression so racing ticks cannot move a round backwards.
	UpdateRoundStatus(ctx context.Context, id RoundID, status RoundStatus) error

	// ListGroups returns every group that has at least one round. The
	// scheduler drives ticks from this set.
	ListGroups(ctx context.Context) ([]GroupID, error)
}

// =============================================================================
// SLOT STORE
// =============================================================================

type SlotStore interface {
	// HasSlots reports whether any slot exists for the round.
	HasSlots(ctx context.Context, roundID RoundID) (bool, error)

	// BulkInsert persists a generated slot set atomically. A concurrent
	// duplicate generation must fail with ErrSlotsAlreadyGenerated rather
	// than insert a second set.
	BulkInsertSlots(ctx context.Context, roundID RoundID, slots []Slot) error

	// ListByRound returns the round's slots ordered by date then time.
	ListSlotsByRound(ctx context.Context, roundID RoundID) ([]Slot, error)

	GetSlot(ctx context.Context, id SlotID) (*Slot, error)

	// UpdateStatus writes a slot's display status.
	UpdateSlotStatus(ctx context.Context, id SlotID, status SlotStatus) error

	// DeleteByRound removes all slots for a round (slot reset).
	DeleteSlotsByRound(ctx context.Context, roundID RoundID) error
}

// =============================================================================
// RULE AND ACTIVITY STORES
// =============================================================================

type RuleStore interface {
	// GetRule returns the rule for (group, round), ErrRuleNotFound when absent.
	GetRule(ctx context.Context, groupID GroupID, roundID RoundID) (*SavingRule, error)
}

type ActivityStore interface {
	// Insert persists a settlement. Must be an atomic check-and-insert:
	// a second activity for the same (slot, member) fails with
	// ErrSlotAlreadySettled even under concurrent submissions.
	InsertActivity(ctx context.Context, a SavingActivity) error

	// ListBySlot returns settlements recorded against a slot.
	ListActivitiesBySlot(ctx context.Context, slotID SlotID) ([]SavingActivity, error)
}

// =============================================================================
// SCHEDULE CONFIGURATION
// =============================================================================

type ScheduleConfigProvider interface {
	// GetSchedule returns the group's frequency and schedule entries.
	GetSchedule(ctx context.Context, groupID GroupID) (*GroupSchedule, error)
}

// =============================================================================
// MEMBERS AND NOTIFICATION SEAMS
// =============================================================================

type MemberDirectory interface {
	// ListContacts returns contact info for every member of the group.
	ListContacts(ctx context.Context, groupID GroupID) ([]Contact, error)

	// SetStatus bulk-updates every group member's status.
	SetStatus(ctx context.Context, groupID GroupID, status MemberStatus) error
}

// NotifyStateStore remembers, durably, the last status already notified
// for a round (or for a group's no-round state), so scheduler restarts
// cannot re-fire a transition's fan-out.
type NotifyStateStore interface {
	// LastNotified returns the recorded status for the key, "" when none.
	LastNotified(ctx context.Context, key string) (string, error)

	// SetLastNotified records the status for the key.
	SetLastNotified(ctx context.Context, key string, status string) error
}

// OutboxStore queues notification jobs decoupled from state transitions.
type OutboxStore interface {
	// Enqueue persists notifications as pending jobs.
	Enqueue(ctx context.Context, notifications []Notification) error

	// ListPending returns up to limit undelivered jobs, oldest first,
	// excluding jobs that exhausted their attempts.
	ListPending(ctx context.Context, limit int, maxAttempts int) ([]Notification, error)

	// MarkSent records successful delivery.
	MarkSent(ctx context.Context, id string) error

	// MarkFailed increments the attempt count and records the error.
	MarkFailed(ctx context.Context, id string, reason string) error
}

// Notifier delivers one message to one contact. Best effort: the delivery
// layer retries or drops; the engine only logs failures.
type Notifier interface {
	Send(ctx context.Context, contact Contact, message string) error
}
