package postgres

import (
	"context"
	"testing"
	"time"

	"notify-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *NotificationRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return mock, NewNotificationRepository(gdb)
}

func TestNotificationRepository_Create(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectExec(`INSERT INTO "notifications"`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), &models.Notification{
		ID:       "7f9c2f5e-6a43-4c59-a1b0-3f1f8c0c9a11",
		UserID:   "42",
		Category: "execution",
		Severity: models.SeverityInfo,
		Title:    "Run finished",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_CreateError(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectExec(`INSERT INTO "notifications"`).
		WillReturnError(assert.AnError)

	err := repo.Create(context.Background(), &models.Notification{ID: "x", UserID: "42"})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "create notification")
}

func TestNotificationRepository_MarkRead(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "owner marks read", affected: 1},
		{name: "foreign or missing id", affected: 0, wantErr: ErrNotificationNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, repo := setupMockDB(t)

			mock.ExpectExec(`UPDATE "notifications" SET`).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := repo.MarkRead(context.Background(), "42", "n-1", time.Now())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestNotificationRepository_UnreadCount(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "notifications"`).
		WithArgs("42", false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.UnreadCount(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_ListByUser(t *testing.T) {
	mock, repo := setupMockDB(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "category", "severity", "title", "body", "is_read", "created_at"}).
		AddRow("n-2", "42", "execution", "info", "second", "", false, now).
		AddRow("n-1", "42", "execution", "info", "first", "", true, now.Add(-time.Minute))
	mock.ExpectQuery(`SELECT \* FROM "notifications" WHERE user_id = \$1 ORDER BY created_at DESC`).
		WillReturnRows(rows)

	list, err := repo.ListByUser(context.Background(), "42", 20, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n-2", list[0].ID)
	assert.True(t, list[1].IsRead)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_FindByIDNotFound(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectQuery(`SELECT \* FROM "notifications" WHERE id = \$1 AND user_id = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByID(context.Background(), "42", "missing")
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}
