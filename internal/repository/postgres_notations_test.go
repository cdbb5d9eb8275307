package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BBrian11/reportes-sub000/internal/models"
)

func setupMockNotationsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresNotationsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewPostgresNotationsRepository(db)
	return db, mock, repo
}

func notationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"notation_id", "subject_key", "channel", "event", "text",
		"round_id", "status", "created_at",
	})
}

func TestCreateNotation_Success(t *testing.T) {
	db, mock, repo := setupMockNotationsDB(t)
	defer db.Close()

	notation := &models.Notation{
		ID:         uuid.New().String(),
		SubjectKey: "EDIFICIO NUNEZ",
		Channel:    2,
		Event:      "corte 220v",
		Text:       "cam 2 sin energía",
		Status:     models.StatusMedium,
		CreatedAt:  time.Now(),
	}

	mock.ExpectExec(`INSERT INTO notations`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateNotation(context.Background(), notation)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecent_Success(t *testing.T) {
	db, mock, repo := setupMockNotationsDB(t)
	defer db.Close()

	now := time.Now()
	rows := notationRows().
		AddRow("n1", "EDIFICIO NUNEZ", 2, "offline", "equipo offline", nil, "severe", now).
		AddRow("n2", "EDIFICIO NUNEZ", 0, "nota", "canal 5 intermitente", "r1", "medium", now.Add(-time.Hour))

	mock.ExpectQuery(`SELECT`).
		WithArgs("EDIFICIO NUNEZ", 50).
		WillReturnRows(rows)

	notations, err := repo.ListRecent(context.Background(), "EDIFICIO NUNEZ", 0)

	require.NoError(t, err)
	require.Len(t, notations, 2)
	assert.Equal(t, 2, notations[0].Channel)
	assert.Equal(t, models.StatusSevere, notations[0].Status)
	assert.Equal(t, "r1", notations[1].RoundID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestRecords_DedupesAndParsesChannel(t *testing.T) {
	db, mock, repo := setupMockNotationsDB(t)
	defer db.Close()

	now := time.Now()
	rows := notationRows().
		// 通道 2 最新的一条在前，后面的旧记录要被去重掉
		AddRow("n1", "EDIFICIO NUNEZ", 2, "offline", "equipo offline", nil, "severe", now).
		AddRow("n2", "EDIFICIO NUNEZ", 2, "nota", "viejo", nil, "medium", now.Add(-2*time.Hour)).
		// 通道号缺失，从文本解析出 canal 5
		AddRow("n3", "EDIFICIO NUNEZ", 0, "nota", "canal 5 intermitente", nil, "medium", now.Add(-time.Hour)).
		// 解析不出通道号的条目丢弃
		AddRow("n4", "EDIFICIO NUNEZ", 0, "nota", "sin referencia", nil, "", now.Add(-3*time.Hour))

	mock.ExpectQuery(`SELECT`).
		WithArgs("EDIFICIO NUNEZ", 10).
		WillReturnRows(rows)

	records, err := repo.LatestRecords(context.Background(), "EDIFICIO NUNEZ", 10)

	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 2, records[0].Channel)
	assert.Equal(t, models.StatusSevere, records[0].Status)
	assert.Equal(t, "equipo offline", records[0].Note)
	assert.Equal(t, models.SourceManualNotation, records[0].Source)

	assert.Equal(t, 5, records[1].Channel)
	assert.Equal(t, models.StatusMedium, records[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestRecords_EmptySubject(t *testing.T) {
	db, _, repo := setupMockNotationsDB(t)
	defer db.Close()

	records, err := repo.LatestRecords(context.Background(), "", 10)

	require.NoError(t, err)
	assert.Nil(t, records)
}
