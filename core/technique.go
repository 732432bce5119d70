package core

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// EngagementStatus is the outcome of a technique against a single target.
// "unknown" means the outcome has not been recorded yet.
type EngagementStatus string

const (
	EngagementStatusUnknown   EngagementStatus = "unknown"
	EngagementStatusSucceeded EngagementStatus = "succeeded"
	EngagementStatusFailed    EngagementStatus = "failed"
)

// IsValid checks if the engagement status is valid
func (s EngagementStatus) IsValid() bool {
	switch s {
	case EngagementStatusUnknown, EngagementStatusSucceeded, EngagementStatusFailed:
		return true
	}
	return false
}

// TargetEngagement records the outcome of a technique against one target.
// A technique has at most one engagement per target.
type TargetEngagement struct {
	ID          string           `json:"id"`
	TechniqueID string           `json:"technique_id"`
	TargetID    string           `json:"target_id" validate:"required"`
	Status      EngagementStatus `json:"status" validate:"required"`
	Target      *Target          `json:"target,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Technique is one recorded action within an operation, mapped onto the
// MITRE ATT&CK taxonomy.
type Technique struct {
	ID                  string     `json:"id"`
	OperationID         string     `json:"operation_id"`
	Description         string     `json:"description"`
	MitreTechniqueID    string     `json:"mitre_technique_id,omitempty"`
	MitreSubTechniqueID string     `json:"mitre_sub_technique_id,omitempty"`
	StartTime           *time.Time `json:"start_time,omitempty"`
	EndTime             *time.Time `json:"end_time,omitempty"`
	SourceIP            string     `json:"source_ip,omitempty"`
	TargetSystem        string     `json:"target_system,omitempty"`
	// ExecutedSuccessfully is tri-state: nil means not yet assessed.
	ExecutedSuccessfully *bool     `json:"executed_successfully"`
	SortOrder            int       `json:"sort_order"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`

	// Hydrated relations, populated on read paths
	Operation         *OperationRef      `json:"operation,omitempty"`
	Tools             []Tool             `json:"tools"`
	TargetEngagements []TargetEngagement `json:"target_engagements"`
}

// Validate performs validation on technique fields that do not require
// storage lookups. Referential checks live in the service layer.
func (t *Technique) Validate() error {
	if t.OperationID == "" {
		return fmt.Errorf("technique operation_id is required")
	}
	if len(t.Description) > MaxDescriptionLength {
		return fmt.Errorf("technique description too long (max %d characters)", MaxDescriptionLength)
	}
	if t.SourceIP != "" {
		if err := ValidateSourceIP(t.SourceIP); err != nil {
			return err
		}
	}
	if len(t.TargetSystem) > MaxFreeTextLength {
		return fmt.Errorf("target_system too long (max %d characters)", MaxFreeTextLength)
	}
	if err := ValidateTimeWindow(t.StartTime, t.EndTime); err != nil {
		return err
	}
	for _, e := range t.TargetEngagements {
		if !e.Status.IsValid() {
			return fmt.Errorf("invalid engagement status: %s", e.Status)
		}
	}
	return nil
}

// ValidateSourceIP rejects source addresses that are not parseable IPs
func ValidateSourceIP(ip string) error {
	if len(ip) > MaxFreeTextLength {
		return fmt.Errorf("source_ip too long (max %d characters)", MaxFreeTextLength)
	}
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("source_ip is not a valid IP address: %s", ip)
	}
	return nil
}

// ValidateTimeWindow rejects an end time earlier than the start time.
// The check only applies when both times are set.
func ValidateTimeWindow(start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return fmt.Errorf("end time cannot be before start time")
	}
	return nil
}

// NewTechnique creates a new Technique with a generated ID
func NewTechnique(operationID, description string) *Technique {
	now := time.Now().UTC()
	return &Technique{
		ID:                uuid.New().String(),
		OperationID:       operationID,
		Description:       description,
		CreatedAt:         now,
		UpdatedAt:         now,
		Tools:             []Tool{},
		TargetEngagements: []TargetEngagement{},
	}
}
