/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Round:
    RoundDTO, CreateRoundRequest, EditRoundRequest

  Slot:
    SlotDTO

  Contribution:
    SubmitContributionRequest, ActivityDTO

  Tick:
    TickReportDTO

VALIDATION:
  Structural validation (parseable dates, positive amounts) happens in
  handlers; domain validation happens in the engine. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ikimina/types.go: The domain model these project
*/
package api

import (
	"github.com/umusanzu/ikimina-engine/ikimina"
)

// =============================================================================
// ROUND TYPES
// =============================================================================

// RoundDTO represents a round in API responses.
type RoundDTO struct {
	ID          string `json:"id"`
	GroupID     string `json:"group_id"`
	RoundNumber int    `json:"round_number"`
	RoundYear   int    `json:"round_year"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Status      string `json:"status"`
	CycleCount  int    `json:"cycle_count"`
	Frequency   string `json:"frequency"`
	Weekdays    []string `json:"weekdays,omitempty"`
	DaysOfMonth []int    `json:"days_of_month,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// CreateRoundRequest is the request to create a round.
type CreateRoundRequest struct {
	StartDate   string   `json:"start_date"`
	Frequency   string   `json:"frequency"`
	CycleCount  int      `json:"cycle_count"`
	Weekdays    []string `json:"weekdays,omitempty"`
	DaysOfMonth []int    `json:"days_of_month,omitempty"`
}

// EditRoundRequest carries the editable round fields. Absent fields keep
// their current value.
type EditRoundRequest struct {
	StartDate   *string  `json:"start_date,omitempty"`
	CycleCount  *int     `json:"cycle_count,omitempty"`
	Weekdays    []string `json:"weekdays,omitempty"`
	DaysOfMonth []int    `json:"days_of_month,omitempty"`
}

// =============================================================================
// SLOT AND CONTRIBUTION TYPES
// =============================================================================

// SlotDTO represents a contribution slot in API responses.
type SlotDTO struct {
	ID            string `json:"id"`
	RoundID       string `json:"round_id"`
	GroupID       string `json:"group_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	ScheduleLabel string `json:"schedule_label"`
	Status        string `json:"status"`
}

// SubmitContributionRequest is the request to record a contribution.
// submitted_at is optional; absent means "now".
type SubmitContributionRequest struct {
	MemberID    string `json:"member_id"`
	Amount      string `json:"amount"`
	SubmittedAt string `json:"submitted_at,omitempty"`
}

// ActivityDTO represents a recorded settlement in API responses.
type ActivityDTO struct {
	ID            string `json:"id"`
	SlotID        string `json:"slot_id"`
	MemberID      string `json:"member_id"`
	Amount        string `json:"amount"`
	SubmittedAt   string `json:"submitted_at"`
	PenaltyType   string `json:"penalty_type"`
	PenaltyAmount string `json:"penalty_amount"`
}

// =============================================================================
// ADMIN TYPES
// =============================================================================

// TickReportDTO summarizes a tick pass for the admin endpoint.
type TickReportDTO struct {
	Groups       int `json:"groups"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
	SlotsUpdated int `json:"slots_updated"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toRoundDTO(r ikimina.Round) RoundDTO {
	dto := RoundDTO{
		ID:          string(r.ID),
		GroupID:     string(r.GroupID),
		RoundNumber: r.RoundNumber,
		RoundYear:   r.RoundYear,
		StartDate:   r.StartDate.String(),
		EndDate:     r.EndDate.String(),
		Status:      string(r.Status),
		CycleCount:  r.CycleCount,
		Frequency:   string(r.Frequency),
		Weekdays:    r.AllowedDays.Weekdays,
		DaysOfMonth: r.AllowedDays.DaysOfMonth,
	}
	if !r.CreatedAt.IsZero() {
		dto.CreatedAt = r.CreatedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	if !r.UpdatedAt.IsZero() {
		dto.UpdatedAt = r.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return dto
}

func toSlotDTO(s ikimina.Slot) SlotDTO {
	return SlotDTO{
		ID:            string(s.ID),
		RoundID:       string(s.RoundID),
		GroupID:       string(s.GroupID),
		Date:          s.Date.String(),
		Time:          s.Time.String(),
		ScheduleLabel: s.ScheduleLabel,
		Status:        string(s.Status),
	}
}

func toActivityDTO(a ikimina.SavingActivity) ActivityDTO {
	return ActivityDTO{
		ID:            string(a.ID),
		SlotID:        string(a.SlotID),
		MemberID:      string(a.MemberID),
		Amount:        a.Amount.String(),
		SubmittedAt:   a.SubmittedAt.Format("2006-01-02T15:04:05Z07:00"),
		PenaltyType:   string(a.PenaltyType),
		PenaltyAmount: a.PenaltyAmount.String(),
	}
}
