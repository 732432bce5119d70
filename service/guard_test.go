package service

import (
	"testing"

	"redtrace/access"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAccessGuard_PreAuthorization(t *testing.T) {
	f := setupServiceFixture(t)

	logger := zap.NewNop().Sugar()
	guard := NewAccessGuard(f.operations, access.NewRoleChecker(f.users, logger), logger)

	// A missing operation is not found, never forbidden
	_, err := guard.RequireModify(f.admin, "44444444-4444-4444-4444-444444444444", "operation not found")
	assert.Equal(t, KindNotFound, KindOf(err))

	// Authorization hands back the resolved operation
	op, err := guard.RequireModify(f.admin, f.op.ID, "operation not found")
	require.NoError(t, err)
	assert.Equal(t, "Crimson Dawn", op.Name)

	// A non-member operator can see the operation, so the denial is forbidden
	_, err = guard.RequireModify(f.operator, f.op.ID, "operation not found")
	assert.Equal(t, KindForbidden, KindOf(err))

	// A non-member viewer cannot see it at all, so the denial is masked
	_, err = guard.RequireModify(f.viewer, f.op.ID, "technique not found")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.EqualError(t, err, "technique not found")

	// A view denial is masked with the entity's own message
	err = guard.RequireView(f.viewer, f.op.ID, "technique not found")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.EqualError(t, err, "technique not found")

	// Role gates
	require.NoError(t, guard.RequireCreator(f.operator))
	assert.Equal(t, KindForbidden, KindOf(guard.RequireCreator(f.viewer)))
	assert.Equal(t, KindForbidden, KindOf(guard.RequireAdmin(f.operator, "admins only")))
	require.NoError(t, guard.RequireAdmin(f.admin, "admins only"))
}
