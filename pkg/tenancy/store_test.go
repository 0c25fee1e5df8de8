package tenancy

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPGStoreGrantAccessTxUpsertsMappingAndRoles(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPGStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO user_tenant_mappings").
		WithArgs(int64(1), int64(2), false, nil, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectExec("INSERT INTO user_tenant_roles").
		WithArgs(int64(1), int64(2), int64(3), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mapping := &UserTenantMapping{UserID: 1, OrgID: 2}
	require.NoError(t, store.GrantAccessTx(context.Background(), mapping, []int64{3}))
	assert.Equal(t, int64(10), mapping.ID)
	assert.True(t, mapping.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreGrantAccessTxRollsBackOnRoleFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPGStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO user_tenant_mappings").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectExec("INSERT INTO user_tenant_roles").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	mapping := &UserTenantMapping{UserID: 1, OrgID: 2}
	err = store.GrantAccessTx(context.Background(), mapping, []int64{3})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreRevokeAccessTxNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPGStore(db)

	mock.ExpectExec("UPDATE user_tenant_mappings").
		WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.RevokeAccessTx(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreUpdateRolesTxReplacesSet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPGStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM user_tenant_roles").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO user_tenant_roles").
		WithArgs(int64(1), int64(2), int64(5), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpdateRolesTx(context.Background(), 1, 2, []int64{5}, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreGetMappingScansNullables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPGStore(db)

	now := time.Now()
	expires := now.Add(time.Hour)
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "org_id", "is_active", "is_primary",
		"expires_at", "granted_by", "granted_at", "updated_at",
	}).AddRow(int64(7), int64(1), int64(2), true, false, expires, int64(9), now, now)

	mock.ExpectQuery("SELECT (.+) FROM user_tenant_mappings WHERE user_id").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(rows)

	mapping, err := store.GetMapping(context.Background(), 1, 2)
	require.NoError(t, err)
	require.NotNil(t, mapping.ExpiresAt)
	require.NotNil(t, mapping.GrantedBy)
	assert.Equal(t, int64(9), *mapping.GrantedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreDeactivateUserCascadeTxReturnsOrgIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPGStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET is_active").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE user_tenant_mappings").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"org_id"}).AddRow(int64(2)).AddRow(int64(3)))
	mock.ExpectCommit()

	orgIDs, err := store.DeactivateUserCascadeTx(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, orgIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreDeactivateOrgCascadeTxUnknownOrg(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPGStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE organizations SET is_active").
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = store.DeactivateOrgCascadeTx(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
