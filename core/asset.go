package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tool is a reusable offensive tool referencable by many techniques.
type Tool struct {
	ID          string    `json:"id"`
	Name        string    `json:"name" validate:"required,min=1,max=200" example:"Cobalt Strike"`
	Description string    `json:"description,omitempty" validate:"max=5000"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Target is an asset techniques can be executed against. Crown jewels are
// targets flagged as especially high business value.
type Target struct {
	ID           string    `json:"id"`
	Name         string    `json:"name" validate:"required,min=1,max=200" example:"AD Domain Controller"`
	Description  string    `json:"description,omitempty" validate:"max=5000"`
	IsCrownJewel bool      `json:"is_crown_jewel"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate performs validation on the tool
func (t *Tool) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if len(t.Name) > MaxNameLength {
		return fmt.Errorf("tool name too long (max %d characters)", MaxNameLength)
	}
	return nil
}

// Validate performs validation on the target
func (t *Target) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("target name is required")
	}
	if len(t.Name) > MaxNameLength {
		return fmt.Errorf("target name too long (max %d characters)", MaxNameLength)
	}
	return nil
}

// NewTool creates a new Tool with a generated ID
func NewTool(name, description string) *Tool {
	now := time.Now().UTC()
	return &Tool{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewTarget creates a new Target with a generated ID
func NewTarget(name, description string, crownJewel bool) *Target {
	now := time.Now().UTC()
	return &Target{
		ID:           uuid.New().String(),
		Name:         name,
		Description:  description,
		IsCrownJewel: crownJewel,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
