package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPGStoreCreateRequestMapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPGStore(db)

	mock.ExpectExec("INSERT INTO access_requests").
		WillReturnError(&pq.Error{Code: "23505"})

	err = store.CreateRequest(context.Background(), &AccessRequest{
		ID: "abc", UserID: 1, OrgID: 2, Status: StatusPending,
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrDuplicatePendingRequest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreGetRequestScansRoleIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPGStore(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "org_id", "role_ids", "justification", "status",
		"reviewer_id", "review_reason", "created_at", "expires_at", "reviewed_at",
	}).AddRow("abc", int64(1), int64(2), "{3,4}", "need it", "PENDING",
		nil, nil, now, now.Add(time.Hour), nil)

	mock.ExpectQuery("SELECT (.+) FROM access_requests WHERE id").
		WithArgs("abc").
		WillReturnRows(rows)

	request, err := store.GetRequest(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, request.RoleIDs)
	assert.Nil(t, request.ReviewerID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreMarkReviewedRaceSafe(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPGStore(db)

	mock.ExpectExec("UPDATE access_requests").
		WithArgs("abc", StatusApproved, int64(9), "ok", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.MarkReviewed(context.Background(), "abc", StatusApproved, 9, "ok", time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreSweepExpiredRequests(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPGStore(db)

	mock.ExpectExec("UPDATE access_requests").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	count, err := store.SweepExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	require.NoError(t, mock.ExpectationsWereMet())
}
