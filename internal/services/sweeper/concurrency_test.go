package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsgate/internal/domain/models"
	"smsgate/internal/lib/logger/handlers/slogdiscard"
	"smsgate/internal/services/dispatcher"
	"smsgate/internal/storage/memory"
)

const (
	submitters = 8
	rounds     = 200
	phones     = 4
	accounts   = 3
)

func submitBatch(w, i int) []models.Message {
	batch := make([]models.Message, 0, 4)
	for j := 0; j < 4; j++ {
		batch = append(batch, models.Message{
			AccountNumber: 1 + (w+j)%accounts,
			PhoneNumber:   10 + (i+j)%phones,
		})
	}

	return batch
}

func checkLimits(t *testing.T, store *memory.Storage) {
	t.Helper()

	for phone := 10; phone < 10+phones; phone++ {
		if n, _ := store.PhoneInflight(phone); n < 0 || n > limits.Phone {
			t.Errorf("phone %d in-flight %d outside [0, %d]", phone, n, limits.Phone)
		}
	}
	for account := 1; account <= accounts; account++ {
		if n, _ := store.AccountInflight(account); n < 0 || n > limits.Account {
			t.Errorf("account %d in-flight %d outside [0, %d]", account, n, limits.Account)
		}
	}
}

// runConcurrently drives submitters against a loop of dispatch ticks, sweeps
// and queries, and fails if everything does not finish in time.
func runConcurrently(t *testing.T, store *memory.Storage, disp *dispatcher.Dispatcher, sweep *Sweeper) []error {
	t.Helper()

	ctx := context.Background()
	stop := make(chan struct{})

	var (
		bgWG   sync.WaitGroup
		errMu  sync.Mutex
		tickEr []error
	)

	bgWG.Add(2)
	go func() {
		defer bgWG.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}

			if err := disp.Tick(ctx); err != nil {
				errMu.Lock()
				tickEr = append(tickEr, err)
				errMu.Unlock()
			}
			_ = sweep.Sweep(ctx)
		}
	}()
	go func() {
		defer bgWG.Done()
		phone := 10
		for {
			select {
			case <-stop:
				return
			default:
			}

			_ = store.Query(models.StatsFilter{})
			_ = store.Query(models.StatsFilter{Phone: &phone})
		}
	}()

	var subWG sync.WaitGroup
	for w := 0; w < submitters; w++ {
		subWG.Add(1)
		go func(w int) {
			defer subWG.Done()
			for i := 0; i < rounds; i++ {
				batch := submitBatch(w, i)
				admitted, rejected := store.Admit(batch, limits)
				if len(admitted)+rejected != len(batch) {
					t.Errorf("admitted %d + rejected %d != %d", len(admitted), rejected, len(batch))
				}
				checkLimits(t, store)
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		subWG.Wait()
		close(stop)
		bgWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("admission, dispatch, sweep and query did not finish: possible deadlock")
	}

	errMu.Lock()
	defer errMu.Unlock()

	return tickEr
}

func TestConcurrent_AdmitDispatchQuery(t *testing.T) {
	store := memory.New()
	log := slogdiscard.NewDiscardLogger()
	clock := clockwork.NewRealClock()

	disp := dispatcher.New(log, store, nil, clock, time.Second)
	sweep := New(log, store, clock, time.Hour)

	tickErrs := runConcurrently(t, store, disp, sweep)
	assert.Empty(t, tickErrs)

	require.NoError(t, disp.Tick(context.Background()))
	assert.Zero(t, store.QueueDepth())

	for phone := 10; phone < 10+phones; phone++ {
		n, ok := store.PhoneInflight(phone)
		assert.True(t, ok)
		assert.Zero(t, n, "phone %d", phone)
	}
	for account := 1; account <= accounts; account++ {
		n, _ := store.AccountInflight(account)
		assert.Zero(t, n, "account %d", account)
	}

	total := 0
	for _, a := range store.Query(models.StatsFilter{}) {
		total += a.SuccessCount
		sum := 0
		for _, ps := range a.PhoneStats {
			sum += ps.SuccessCount
			assert.False(t, ps.LastUpdated.After(a.LastUpdated))
		}
		assert.Equal(t, a.SuccessCount, sum)
	}
	assert.Positive(t, total)
}

func TestConcurrent_AdmitDispatchSweepQuery(t *testing.T) {
	store := memory.New()
	log := slogdiscard.NewDiscardLogger()
	clock := clockwork.NewRealClock()

	disp := dispatcher.New(log, store, nil, clock, time.Second)
	sweep := New(log, store, clock, time.Nanosecond)

	runConcurrently(t, store, disp, sweep)

	_ = disp.Tick(context.Background())
	assert.Zero(t, store.QueueDepth())
	checkLimits(t, store)

	time.Sleep(time.Millisecond)
	_ = sweep.Sweep(context.Background())
	assert.Empty(t, store.Query(models.StatsFilter{}))
	require.NoError(t, sweep.Sweep(context.Background()))
}
