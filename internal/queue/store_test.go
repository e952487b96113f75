package queue

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// createTestStore opens a queue database in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func saleMutation(body string) Mutation {
	return Capture("sales", "post", "http://pos.local/api/complete-sale.php",
		http.Header{"Content-Type": {"application/json"}, "Content-Length": {"12"}, "Cookie": {"PHPSESSID=abc"}},
		[]byte(body))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "queue.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		version, err := s.SchemaVersion(context.Background())
		require.NoError(t, err)
		require.Equal(t, currentSchemaVersion, version)
		require.NoError(t, s.Close())
	}
}

func TestCapture_StripsRecomputedHeaders(t *testing.T) {
	m := saleMutation(`{"total":10}`)
	require.Equal(t, "POST", m.Method)
	require.Empty(t, m.Header.Get("Content-Length"))
	require.Equal(t, "PHPSESSID=abc", m.Header.Get("Cookie"))
	require.Equal(t, []byte(`{"total":10}`), m.Body)
}

func TestEnqueue_NoDeduplication(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.Enqueue(ctx, saleMutation(`{"total":10}`))
	require.NoError(t, err)
	second, err := s.Enqueue(ctx, saleMutation(`{"total":10}`))
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID)
	require.NotEqual(t, first.ExternalID, second.ExternalID)

	pending, err := s.Pending(ctx, "sales")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID)
	require.Equal(t, "application/json", pending[0].Header.Get("Content-Type"))
	require.Equal(t, []byte(`{"total":10}`), pending[1].Body)
	require.Zero(t, pending[0].RetryCount)
}

func TestEnqueue_RequiresDomain(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Enqueue(context.Background(), Mutation{Method: "POST", TargetURL: "http://x"})
	require.Error(t, err)
}

func TestPending_PartitionedByDomain(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, saleMutation("a"))
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, Capture("orders", "POST", "http://pos.local/api/complete-order.php", nil, []byte("b")))
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, saleMutation("c"))
	require.NoError(t, err)

	sales, err := s.Pending(ctx, "sales")
	require.NoError(t, err)
	require.Len(t, sales, 2)
	require.Equal(t, []byte("a"), sales[0].Body)
	require.Equal(t, []byte("c"), sales[1].Body)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"sales": 2, "orders": 1}, counts)

	domains, err := s.Domains(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"orders", "sales"}, domains)

	total, err := s.Total(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, total)
}

func TestDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m, err := s.Enqueue(ctx, saleMutation("a"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, m.ID))

	_, err = s.Get(ctx, m.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, m.ID), ErrNotFound)
}

func TestRecordFailure_Unbounded(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m, err := s.Enqueue(ctx, saleMutation("a"))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		dead, err := s.RecordFailure(ctx, m.ID, 0, "status 500")
		require.NoError(t, err)
		require.False(t, dead)
	}

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, 5, got.RetryCount)
	require.Equal(t, m.ExternalID, got.ExternalID)
	require.Equal(t, m.Body, got.Body)
}

func TestRecordFailure_DeadLetters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m, err := s.Enqueue(ctx, saleMutation("a"))
	require.NoError(t, err)

	dead, err := s.RecordFailure(ctx, m.ID, 2, "status 422")
	require.NoError(t, err)
	require.False(t, dead)

	dead, err = s.RecordFailure(ctx, m.ID, 2, "status 422")
	require.NoError(t, err)
	require.True(t, dead)

	_, err = s.Get(ctx, m.ID)
	require.ErrorIs(t, err, ErrNotFound)

	letters, err := s.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, m.ID, letters[0].ID)
	require.Equal(t, "status 422", letters[0].LastError)
	require.Equal(t, 2, letters[0].RetryCount)
	require.Equal(t, m.ExternalID, letters[0].ExternalID)
}

func TestRecordFailure_Missing(t *testing.T) {
	s := createTestStore(t)
	_, err := s.RecordFailure(context.Background(), 42, 0, "x")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReset(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	device, err := s.DeviceID(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.Enqueue(ctx, saleMutation("a"))
		require.NoError(t, err)
	}
	n, err := s.Reset(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	total, err := s.Total(ctx)
	require.NoError(t, err)
	require.Zero(t, total)

	again, err := s.DeviceID(ctx)
	require.NoError(t, err)
	require.Equal(t, device, again)
}

func TestDeviceID_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := Open(path)
	require.NoError(t, err)
	first, err := s.DeviceID(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, first)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	second, err := s.DeviceID(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)
}
