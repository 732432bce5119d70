package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation is a tracked red-team engagement containing an ordered list of techniques.
type Operation struct {
	ID          string    `json:"id" example:"8f9b2f1a-7a31-4a9e-9a6e-0d8f1f2a3b4c"`
	Name        string    `json:"name" validate:"required,min=1,max=200" example:"Q3 Purple Team Exercise"`
	Description string    `json:"description,omitempty" validate:"max=5000"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OperationRef is the reduced operation shape embedded in hydrated techniques
// and audit events.
type OperationRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// OperationMember links a user to an operation for access scoping.
type OperationMember struct {
	OperationID string    `json:"operation_id"`
	Username    string    `json:"username"`
	AddedAt     time.Time `json:"added_at"`
	AddedBy     string    `json:"added_by,omitempty"`
}

// Validate performs validation on the operation
func (o *Operation) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("operation name is required")
	}
	if len(o.Name) > MaxNameLength {
		return fmt.Errorf("operation name too long (max %d characters)", MaxNameLength)
	}
	if len(o.Description) > MaxDescriptionLength {
		return fmt.Errorf("operation description too long (max %d characters)", MaxDescriptionLength)
	}
	return nil
}

// NewOperation creates a new Operation with a generated ID
func NewOperation(name, description, createdBy string) *Operation {
	now := time.Now().UTC()
	return &Operation{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
