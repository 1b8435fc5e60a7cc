package memorytier

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	memdom "github.com/arbiterfabric/cogrt/internal/app/domain/memorytier"
)

func TestSQLColdStore_PutIssuesUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS memory_cold").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := newSQLColdStore(db)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO memory_cold").
		WithArgs("id-1", "some content", []byte("{}"), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(0), 0.5).
		WillReturnResult(sqlmock.NewResult(1, 1))

	now := time.Now()
	err = store.Put(context.Background(), testColdRecord("id-1", "some content", now, 0.5))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLColdStore_GetMissingRowReturnsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS memory_cold").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := newSQLColdStore(db)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, content, meta, created_at, accessed_at, access_count, importance FROM memory_cold").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "meta", "created_at", "accessed_at", "access_count", "importance"}))

	_, found, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSQLColdStore_DeleteStaleReturnsRowsAffected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS memory_cold").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := newSQLColdStore(db)
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM memory_cold WHERE created_at").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.DeleteStale(context.Background(), time.Now(), 0.3)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func testColdRecord(id, content string, at time.Time, importance float64) memdom.ColdRecord {
	return memdom.ColdRecord{ID: id, Content: content, CreatedAt: at, AccessedAt: at, Importance: importance}
}
