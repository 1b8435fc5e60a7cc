package outcome

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	outcomedom "github.com/arbiterfabric/cogrt/internal/app/domain/outcome"
)

func TestApplyArchiveMigrations_ExecutesEveryEmbeddedFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	entries, err := archiveMigrations.ReadDir("migrations")
	require.NoError(t, err)
	for range entries {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, applyArchiveMigrations(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchive_InsertIssuesUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO outcome_archive").
		WillReturnResult(sqlmock.NewResult(1, 1))

	a := NewArchiveFromDB(db)
	o := outcomedom.Outcome{
		ID: "out-1", Agent: "agent-a", Action: "act-1",
		Success: true, Reward: 0.5, Timestamp: time.Now(),
	}
	require.NoError(t, a.Insert(context.Background(), o))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchive_QueryScansMatchingRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "agent", "action", "context", "result", "success", "reward", "duration_ms", "metadata", "recorded_at"}).
		AddRow("out-1", "agent-a", "act-1", "", "", true, 0.5, nil, nil, now)
	mock.ExpectQuery("SELECT id, agent, action").WillReturnRows(rows)

	a := NewArchiveFromDB(db)
	agent := "agent-a"
	out, err := a.Query(context.Background(), Filter{Agent: &agent})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "out-1", out[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ArchiveAsyncInsertsOnAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO outcome_archive").WillReturnResult(sqlmock.NewResult(1, 1))

	s, err := New(Config{Name: "test", Capacity: 10, Archive: NewArchiveFromDB(db)})
	require.NoError(t, err)

	s.Append(outcomedom.Outcome{Agent: "agent-a", Action: "act-1", Success: true, Reward: 1})
	s.Stop()

	require.NoError(t, mock.ExpectationsWereMet())
}
