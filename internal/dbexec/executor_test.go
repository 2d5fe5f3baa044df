package dbexec

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestStandardExecutorNilDB(t *testing.T) {
	e := NewStandardExecutor(nil)
	_, err := e.QueryContext(context.Background(), "SELECT 1")
	require.Error(t, err)
}

func TestFailoverPrefersReplica(t *testing.T) {
	primary, primaryMock, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()
	replica, replicaMock, err := sqlmock.New()
	require.NoError(t, err)
	defer replica.Close()

	replicaMock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	e := NewFailoverExecutor(primary, replica)
	rows, err := e.QueryContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	require.NoError(t, rows.Close())

	require.NoError(t, replicaMock.ExpectationsWereMet())
	require.NoError(t, primaryMock.ExpectationsWereMet())
}

func TestFailoverFallsBackToPrimaryOnce(t *testing.T) {
	primary, primaryMock, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()
	replica, replicaMock, err := sqlmock.New()
	require.NoError(t, err)
	defer replica.Close()

	replicaErr := errors.New("replica gone")
	replicaMock.ExpectQuery("SELECT 1").WillReturnError(replicaErr)
	primaryMock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	var observed error
	e := NewFailoverExecutor(primary, replica)
	e.OnFallback = func(err error) { observed = err }

	rows, err := e.QueryContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	require.NoError(t, rows.Close())
	require.ErrorIs(t, observed, replicaErr)
}

func TestFailoverReportsBothFailures(t *testing.T) {
	primary, primaryMock, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()
	replica, replicaMock, err := sqlmock.New()
	require.NoError(t, err)
	defer replica.Close()

	replicaMock.ExpectQuery("SELECT 1").WillReturnError(errors.New("replica gone"))
	primaryErr := errors.New("primary gone")
	primaryMock.ExpectQuery("SELECT 1").WillReturnError(primaryErr)

	e := NewFailoverExecutor(primary, replica)
	_, err = e.QueryContext(context.Background(), "SELECT 1")
	require.ErrorIs(t, err, primaryErr)
	require.Contains(t, err.Error(), "replica gone")
}

func TestFailoverWithoutReplicaUsesPrimary(t *testing.T) {
	primary, primaryMock, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()

	primaryMock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	e := NewFailoverExecutor(primary, nil)
	rows, err := e.QueryContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	require.NoError(t, rows.Close())
}
