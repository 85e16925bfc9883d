package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsgate/internal/domain/models"
	"smsgate/internal/lib/logger/handlers/slogdiscard"
	"smsgate/internal/storage"
	"smsgate/internal/storage/memory"
)

type sinkFunc func(ctx context.Context, msgs []models.Message) ([]bool, error)

func (f sinkFunc) Deliver(ctx context.Context, msgs []models.Message) ([]bool, error) {
	return f(ctx, msgs)
}

var limits = memory.Limits{Phone: 5, Account: 10}

func setup(t *testing.T, sink Sink, timeout time.Duration) (*Dispatcher, *memory.Storage, clockwork.FakeClock) {
	t.Helper()

	store := memory.New()
	fc := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	return New(slogdiscard.NewDiscardLogger(), store, sink, fc, timeout), store, fc
}

func TestTick_Empty(t *testing.T) {
	called := false
	d, store, _ := setup(t, sinkFunc(func(context.Context, []models.Message) ([]bool, error) {
		called = true
		return nil, nil
	}), time.Second)

	require.NoError(t, d.Tick(context.Background()))

	assert.False(t, called)
	assert.Empty(t, store.Query(models.StatsFilter{}))
}

func TestTick_StubSinkDeliversAll(t *testing.T) {
	d, store, fc := setup(t, nil, 0)

	store.Admit([]models.Message{
		{AccountNumber: 1, PhoneNumber: 10},
		{AccountNumber: 1, PhoneNumber: 11},
		{AccountNumber: 2, PhoneNumber: 20},
	}, limits)

	require.NoError(t, d.Tick(context.Background()))

	assert.Zero(t, store.QueueDepth())

	res := store.Query(models.StatsFilter{})
	require.Len(t, res, 2)
	assert.Equal(t, 2, res[0].SuccessCount)
	assert.Equal(t, fc.Now(), res[0].LastUpdated)
	assert.Equal(t, 1, res[1].PhoneStats[20].SuccessCount)

	for _, phone := range []int{10, 11, 20} {
		n, ok := store.PhoneInflight(phone)
		assert.True(t, ok)
		assert.Zero(t, n)
	}
	n, _ := store.AccountInflight(1)
	assert.Zero(t, n)
}

func TestTick_PerMessageOutcome(t *testing.T) {
	d, store, _ := setup(t, sinkFunc(func(_ context.Context, msgs []models.Message) ([]bool, error) {
		out := make([]bool, len(msgs))
		for i, m := range msgs {
			out[i] = m.PhoneNumber != 13
		}
		return out, nil
	}), time.Second)

	store.Admit([]models.Message{
		{AccountNumber: 1, PhoneNumber: 12},
		{AccountNumber: 1, PhoneNumber: 13},
	}, limits)

	require.NoError(t, d.Tick(context.Background()))

	res := store.Query(models.StatsFilter{})
	require.Len(t, res, 1)
	assert.Equal(t, 1, res[0].SuccessCount)
	assert.Equal(t, 1, res[0].FailureCount)
	assert.Equal(t, 1, res[0].PhoneStats[13].FailureCount)
}

func TestTick_SinkErrorFailsBatchAndReleases(t *testing.T) {
	d, store, _ := setup(t, sinkFunc(func(context.Context, []models.Message) ([]bool, error) {
		return nil, errors.New("connection refused")
	}), time.Second)

	store.Admit([]models.Message{{AccountNumber: 1, PhoneNumber: 2}, {AccountNumber: 1, PhoneNumber: 2}}, limits)

	err := d.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSinkUnavailable)

	res := store.Query(models.StatsFilter{})
	require.Len(t, res, 1)
	assert.Equal(t, 2, res[0].FailureCount)
	assert.Zero(t, res[0].SuccessCount)

	n, _ := store.PhoneInflight(2)
	assert.Zero(t, n)
}

func TestTick_SinkTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	d, store, _ := setup(t, sinkFunc(func(context.Context, []models.Message) ([]bool, error) {
		<-block
		return []bool{true}, nil
	}), 20*time.Millisecond)

	store.Admit([]models.Message{{AccountNumber: 1, PhoneNumber: 2}}, limits)

	err := d.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	res := store.Query(models.StatsFilter{})
	require.Len(t, res, 1)
	assert.Equal(t, 1, res[0].FailureCount)
}

func TestTick_OutcomeCountMismatch(t *testing.T) {
	d, store, _ := setup(t, sinkFunc(func(context.Context, []models.Message) ([]bool, error) {
		return []bool{true}, nil
	}), time.Second)

	store.Admit([]models.Message{{AccountNumber: 1, PhoneNumber: 2}, {AccountNumber: 3, PhoneNumber: 4}}, limits)

	err := d.Tick(context.Background())
	assert.ErrorIs(t, err, ErrSinkUnavailable)

	for _, a := range store.Query(models.StatsFilter{}) {
		assert.Equal(t, 1, a.FailureCount)
	}
}

func TestTick_DispatchesEachMessageOnce(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)

	d, store, _ := setup(t, sinkFunc(func(_ context.Context, msgs []models.Message) ([]bool, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range msgs {
			seen[m.ID]++
		}
		return NopSink{}.Deliver(context.Background(), msgs)
	}), time.Second)

	store.Admit([]models.Message{{ID: "a", AccountNumber: 1, PhoneNumber: 2}}, limits)
	require.NoError(t, d.Tick(context.Background()))
	store.Admit([]models.Message{{ID: "b", AccountNumber: 1, PhoneNumber: 2}}, limits)
	require.NoError(t, d.Tick(context.Background()))
	require.NoError(t, d.Tick(context.Background()))

	assert.Equal(t, map[string]int{"a": 1, "b": 1}, seen)
	assert.Equal(t, 2, store.Query(models.StatsFilter{})[0].SuccessCount)
}

func TestTick_ReportsReleaseUnderflow(t *testing.T) {
	d, store, fc := setup(t, nil, time.Second)

	store.Record([]models.Message{{AccountNumber: 1, PhoneNumber: 2}}, []bool{true}, fc.Now().Add(-time.Hour))
	store.Admit([]models.Message{{AccountNumber: 1, PhoneNumber: 2}}, limits)
	store.Sweep(fc.Now())

	err := d.Tick(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrCounterUnderflow)
	_, ok := store.PhoneInflight(2)
	assert.False(t, ok)
}
