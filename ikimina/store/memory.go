// Package store provides an in-memory implementation of every engine
// collaborator interface, used by tests and local development. Semantics
// mirror the SQLite store, including the two storage-level invariants
// (single settlement, exactly-once slot generation).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/umusanzu/ikimina-engine/ikimina"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type memberRecord struct {
	contact ikimina.Contact
	status  ikimina.MemberStatus
}

type Memory struct {
	mu          sync.RWMutex
	rounds      map[ikimina.RoundID]ikimina.Round
	slots       map[ikimina.SlotID]ikimina.Slot
	rules       map[ruleKey]ikimina.SavingRule
	activities  map[activityKey]ikimina.SavingActivity
	schedules   map[ikimina.GroupID]ikimina.GroupSchedule
	members     map[ikimina.GroupID][]memberRecord
	notifyState map[string]string
	outbox      []ikimina.Notification
}

type ruleKey struct {
	GroupID ikimina.GroupID
	RoundID ikimina.RoundID
}

type activityKey struct {
	SlotID   ikimina.SlotID
	MemberID ikimina.MemberID
}

func NewMemory() *Memory {
	return &Memory{
		rounds:      make(map[ikimina.RoundID]ikimina.Round),
		slots:       make(map[ikimina.SlotID]ikimina.Slot),
		rules:       make(map[ruleKey]ikimina.SavingRule),
		activities:  make(map[activityKey]ikimina.SavingActivity),
		schedules:   make(map[ikimina.GroupID]ikimina.GroupSchedule),
		members:     make(map[ikimina.GroupID][]memberRecord),
		notifyState: make(map[string]string),
	}
}

// =============================================================================
// ROUND STORE
// =============================================================================

func (m *Memory) ListRoundsByGroup(_ context.Context, groupID ikimina.GroupID) ([]ikimina.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ikimina.Round
	for _, r := range m.rounds {
		if r.GroupID == groupID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartDate.Before(result[j].StartDate)
	})
	return result, nil
}

func (m *Memory) GetRound(_ context.Context, id ikimina.RoundID) (*ikimina.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rounds[id]
	if !ok {
		return nil, ikimina.ErrRoundNotFound
	}
	return &r, nil
}

func (m *Memory) CreateRound(_ context.Context, r ikimina.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds[r.ID] = r
	return nil
}

func (m *Memory) UpdateRound(_ context.Context, r ikimina.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rounds[r.ID]; !ok {
		return ikimina.ErrRoundNotFound
	}
	m.rounds[r.ID] = r
	return nil
}

func (m *Memory) DeleteRound(_ context.Context, id ikimina.RoundID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rounds[id]; !ok {
		return ikimina.ErrRoundNotFound
	}
	delete(m.rounds, id)
	return nil
}

func (m *Memory) UpdateRoundStatus(_ context.Context, id ikimina.RoundID, status ikimina.RoundStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[id]
	if !ok {
		return ikimina.ErrRoundNotFound
	}
	if !r.Status.CanTransitionTo(status) {
		return ikimina.ErrStatusRegression
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	m.rounds[id] = r
	return nil
}

func (m *Memory) ListGroups(_ context.Context) ([]ikimina.GroupID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[ikimina.GroupID]bool)
	var groups []ikimina.GroupID
	for _, r := range m.rounds {
		if !seen[r.GroupID] {
			seen[r.GroupID] = true
			groups = append(groups, r.GroupID)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups, nil
}

// =============================================================================
// SLOT STORE
// =============================================================================

func (m *Memory) HasSlots(_ context.Context, roundID ikimina.RoundID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasSlotsLocked(roundID), nil
}

func (m *Memory) hasSlotsLocked(roundID ikimina.RoundID) bool {
	for _, s := range m.slots {
		if s.RoundID == roundID {
			return true
		}
	}
	return false
}

func (m *Memory) BulkInsertSlots(_ context.Context, roundID ikimina.RoundID, slots []ikimina.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Atomic check-and-insert: a racing duplicate generation conflicts
	// instead of producing a second slot set.
	if m.hasSlotsLocked(roundID) {
		return ikimina.ErrSlotsAlreadyGenerated
	}
	for _, s := range slots {
		m.slots[s.ID] = s
	}
	return nil
}

func (m *Memory) ListSlotsByRound(_ context.Context, roundID ikimina.RoundID) ([]ikimina.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ikimina.Slot
	for _, s := range m.slots {
		if s.RoundID == roundID {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].Time.String() < result[j].Time.String()
	})
	return result, nil
}

func (m *Memory) GetSlot(_ context.Context, id ikimina.SlotID) (*ikimina.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.slots[id]
	if !ok {
		return nil, ikimina.ErrSlotNotFound
	}
	return &s, nil
}

func (m *Memory) UpdateSlotStatus(_ context.Context, id ikimina.SlotID, status ikimina.SlotStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok {
		return ikimina.ErrSlotNotFound
	}
	s.Status = status
	m.slots[id] = s
	return nil
}

func (m *Memory) DeleteSlotsByRound(_ context.Context, roundID ikimina.RoundID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.slots {
		if s.RoundID == roundID {
			delete(m.slots, id)
		}
	}
	return nil
}

// =============================================================================
// RULE AND ACTIVITY STORES
// =============================================================================

func (m *Memory) GetRule(_ context.Context, groupID ikimina.GroupID, roundID ikimina.RoundID) (*ikimina.SavingRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[ruleKey{GroupID: groupID, RoundID: roundID}]
	if !ok {
		return nil, ikimina.ErrRuleNotFound
	}
	return &r, nil
}

// SetRule seeds a rule (test/dev helper; production rules come from the
// excluded registration layer).
func (m *Memory) SetRule(rule ikimina.SavingRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[ruleKey{GroupID: rule.GroupID, RoundID: rule.RoundID}] = rule
}

func (m *Memory) InsertActivity(_ context.Context, a ikimina.SavingActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := activityKey{SlotID: a.SlotID, MemberID: a.MemberID}
	if _, exists := m.activities[k]; exists {
		return ikimina.ErrSlotAlreadySettled
	}
	m.activities[k] = a
	return nil
}

func (m *Memory) ListActivitiesBySlot(_ context.Context, slotID ikimina.SlotID) ([]ikimina.SavingActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ikimina.SavingActivity
	for k, a := range m.activities {
		if k.SlotID == slotID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SubmittedAt.Before(result[j].SubmittedAt)
	})
	return result, nil
}

// =============================================================================
// SCHEDULE CONFIGURATION
// =============================================================================

func (m *Memory) GetSchedule(_ context.Context, groupID ikimina.GroupID) (*ikimina.GroupSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[groupID]
	if !ok {
		return nil, ikimina.ErrRoundNotFound
	}
	return &s, nil
}

func (m *Memory) SetSchedule(s ikimina.GroupSchedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.GroupID] = s
}

// =============================================================================
// MEMBER DIRECTORY
// =============================================================================

func (m *Memory) AddMember(groupID ikimina.GroupID, contact ikimina.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[groupID] = append(m.members[groupID], memberRecord{
		contact: contact,
		status:  ikimina.MemberWaiting,
	})
}

func (m *Memory) ListContacts(_ context.Context, groupID ikimina.GroupID) ([]ikimina.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ikimina.Contact
	for _, rec := range m.members[groupID] {
		result = append(result, rec.contact)
	}
	return result, nil
}

func (m *Memory) SetStatus(_ context.Context, groupID ikimina.GroupID, status ikimina.MemberStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.members[groupID]
	for i := range recs {
		recs[i].status = status
	}
	m.members[groupID] = recs
	return nil
}

// MemberStatuses returns each member's current status (test helper).
func (m *Memory) MemberStatuses(groupID ikimina.GroupID) map[ikimina.MemberID]ikimina.MemberStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[ikimina.MemberID]ikimina.MemberStatus)
	for _, rec := range m.members[groupID] {
		out[rec.contact.MemberID] = rec.status
	}
	return out
}

// =============================================================================
// NOTIFY STATE
// =============================================================================

func (m *Memory) LastNotified(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.notifyState[key], nil
}

func (m *Memory) SetLastNotified(_ context.Context, key string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyState[key] = status
	return nil
}

// =============================================================================
// OUTBOX
// =============================================================================

func (m *Memory) Enqueue(_ context.Context, notifications []ikimina.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, notifications...)
	return nil
}

func (m *Memory) ListPending(_ context.Context, limit int, maxAttempts int) ([]ikimina.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ikimina.Notification
	for _, n := range m.outbox {
		if n.SentAt != nil || n.Attempts >= maxAttempts {
			continue
		}
		result = append(result, n)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) MarkSent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.outbox {
		if m.outbox[i].ID == id {
			now := time.Now()
			m.outbox[i].SentAt = &now
			return nil
		}
	}
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.outbox {
		if m.outbox[i].ID == id {
			m.outbox[i].Attempts++
			m.outbox[i].LastError = reason
			return nil
		}
	}
	return nil
}

// OutboxContents returns a copy of the queue (test helper).
func (m *Memory) OutboxContents() []ikimina.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ikimina.Notification, len(m.outbox))
	copy(out, m.outbox)
	return out
}
