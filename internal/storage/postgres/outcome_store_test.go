package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
)

func TestRecordOutcomeCompleted(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewOutcomeStoreWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0).UTC()
	out := lookup.Outcome{
		JobID:       "job-1",
		Key:         "12345678901",
		State:       lookup.StateCompleted,
		Found:       true,
		RecordCount: 1,
		FinishedAt:  now,
		Duration:    2500 * time.Millisecond,
		Result:      &lookup.Result{Key: "12345678901", Found: true, FetchedAt: now},
	}

	mock.ExpectExec("INSERT INTO lookup_outcomes").
		WithArgs(
			"job-1",
			"12345678901",
			"completed",
			true,
			1,
			(*string)(nil),
			(*string)(nil),
			false,
			now,
			int64(2500),
			[]byte(`{"key":"12345678901","found":true,"fetched_at":"2023-11-14T22:13:20Z"}`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordOutcome(context.Background(), out))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOutcomeFailed(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewOutcomeStoreWithPool(mock, "outcomes_v2")
	require.NoError(t, err)

	kind := "execution_timeout"
	msg := "deadline exceeded"
	now := time.Unix(1_700_000_000, 0).UTC()
	mock.ExpectExec("INSERT INTO outcomes_v2").
		WithArgs("job-2", "10987654321", "failed", false, 0, &kind, &msg, false, now, int64(0), []byte(nil)).
		WillReturnError(errors.New("connection reset"))

	err = store.RecordOutcome(context.Background(), lookup.Outcome{
		JobID:        "job-2",
		Key:          "10987654321",
		State:        lookup.StateFailed,
		ErrorKind:    lookup.KindExecutionTimeout,
		ErrorMessage: msg,
		FinishedAt:   now,
	})
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewOutcomeStoreWithPool(mock, "")
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS lookup_outcomes").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutcomeStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewOutcomeStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewOutcomeStoreWithPool(mock, "bad-name;drop")
	require.Error(t, err)

	store, err := NewOutcomeStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.RecordOutcome(context.Background(), lookup.Outcome{}))

	_, err = NewOutcomeStore(context.Background(), Config{})
	require.Error(t, err)
}
