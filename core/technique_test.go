package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTechniqueValidate(t *testing.T) {
	tech := NewTechnique("op-1", "lateral movement")
	require.NoError(t, tech.Validate())

	tech.OperationID = ""
	assert.Error(t, tech.Validate())
	tech.OperationID = "op-1"

	tech.Description = strings.Repeat("x", MaxDescriptionLength+1)
	assert.Error(t, tech.Validate())
	tech.Description = "ok"

	tech.SourceIP = "not-an-ip"
	assert.Error(t, tech.Validate())
	tech.SourceIP = "10.4.2.17"
	require.NoError(t, tech.Validate())
	tech.SourceIP = "fe80::1"
	require.NoError(t, tech.Validate())

	tech.TargetEngagements = []TargetEngagement{{TargetID: "t1", Status: "maybe"}}
	assert.Error(t, tech.Validate())
}

func TestValidateTimeWindow(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	assert.NoError(t, ValidateTimeWindow(nil, nil))
	assert.NoError(t, ValidateTimeWindow(&start, nil))
	assert.NoError(t, ValidateTimeWindow(nil, &end))
	assert.NoError(t, ValidateTimeWindow(&start, &end))
	assert.NoError(t, ValidateTimeWindow(&start, &start), "equal endpoints are allowed")

	bad := start.Add(-time.Minute)
	assert.Error(t, ValidateTimeWindow(&start, &bad))
}

func TestEngagementStatusIsValid(t *testing.T) {
	assert.True(t, EngagementStatusUnknown.IsValid())
	assert.True(t, EngagementStatusSucceeded.IsValid())
	assert.True(t, EngagementStatusFailed.IsValid())
	assert.False(t, EngagementStatus("").IsValid())
	assert.False(t, EngagementStatus("partial").IsValid())
}

func TestTechniqueFiltersNormalize(t *testing.T) {
	f := TechniqueFilters{}
	f.Normalize()
	assert.Equal(t, DefaultListLimit, f.Limit)

	f = TechniqueFilters{Limit: MaxListLimit + 50}
	f.Normalize()
	assert.Equal(t, MaxListLimit, f.Limit)

	f = TechniqueFilters{Limit: 10}
	f.Normalize()
	assert.Equal(t, 10, f.Limit)
}
