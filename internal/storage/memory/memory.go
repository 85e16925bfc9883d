package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"smsgate/internal/domain/models"
	"smsgate/internal/storage"
)

// Limits caps in-flight messages per phone number and per account number.
type Limits struct {
	Phone   int
	Account int
}

// SweepResult reports what a single eviction pass removed.
type SweepResult struct {
	Accounts   int
	Phones     int
	Violations []error
}

// Storage owns the process-wide mutable state: in-flight counters, the
// delivery queue and per-account stats.
//
// Lock order is countersMu, then statsMu. The queue lock is a leaf and is
// never held while acquiring another lock.
type Storage struct {
	countersMu      sync.Mutex
	phoneInflight   map[int]int
	accountInflight map[int]int

	statsMu  sync.RWMutex
	accounts map[int]*models.AccountStats

	queue *Queue
}

func New() *Storage {
	return &Storage{
		phoneInflight:   make(map[int]int),
		accountInflight: make(map[int]int),
		accounts:        make(map[int]*models.AccountStats),
		queue:           NewQueue(),
	}
}

// Admit evaluates the whole batch under one critical section. A message is
// admitted only while both its phone and account are below their limits;
// admitted messages are counted and queued in batch order, the rest are dropped.
func (s *Storage) Admit(batch []models.Message, limits Limits) (admitted []models.Message, rejected int) {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()

	admitted = make([]models.Message, 0, len(batch))
	for _, msg := range batch {
		phone := s.phoneInflight[msg.PhoneNumber]
		account := s.accountInflight[msg.AccountNumber]

		if phone >= limits.Phone || account >= limits.Account {
			s.phoneInflight[msg.PhoneNumber] = phone
			s.accountInflight[msg.AccountNumber] = account
			rejected++
			continue
		}

		s.phoneInflight[msg.PhoneNumber] = phone + 1
		s.accountInflight[msg.AccountNumber] = account + 1
		admitted = append(admitted, msg)
	}

	s.queue.Enqueue(admitted...)

	return admitted, rejected
}

// Drain takes every message currently queued.
func (s *Storage) Drain() []models.Message {
	return s.queue.Drain()
}

func (s *Storage) QueueDepth() int {
	return s.queue.Len()
}

// Record applies delivery outcomes for a dispatched batch. delivered[i]
// reports the outcome of msgs[i].
func (s *Storage) Record(msgs []models.Message, delivered []bool, now time.Time) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	for i, msg := range msgs {
		acct, ok := s.accounts[msg.AccountNumber]
		if !ok {
			acct = &models.AccountStats{
				AccountNumber: msg.AccountNumber,
				PhoneStats:    make(map[int]*models.PhoneStats),
			}
			s.accounts[msg.AccountNumber] = acct
		}

		ps, ok := acct.PhoneStats[msg.PhoneNumber]
		if !ok {
			ps = &models.PhoneStats{PhoneNumber: msg.PhoneNumber}
			acct.PhoneStats[msg.PhoneNumber] = ps
		}

		if delivered[i] {
			acct.SuccessCount++
			ps.SuccessCount++
		} else {
			acct.FailureCount++
			ps.FailureCount++
		}

		acct.LastUpdated = now
		ps.LastUpdated = now
	}
}

// Release frees the in-flight slot of every dispatched message. A counter
// that is missing or already zero is left untouched and reported.
func (s *Storage) Release(msgs []models.Message) []error {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()

	var violations []error
	for _, msg := range msgs {
		if err := decrement(s.phoneInflight, msg.PhoneNumber); err != nil {
			violations = append(violations, fmt.Errorf("phone %d: %w", msg.PhoneNumber, err))
		}
		if err := decrement(s.accountInflight, msg.AccountNumber); err != nil {
			violations = append(violations, fmt.Errorf("account %d: %w", msg.AccountNumber, err))
		}
	}

	return violations
}

func decrement(counters map[int]int, key int) error {
	n, ok := counters[key]
	if !ok || n <= 0 {
		return storage.ErrCounterUnderflow
	}
	counters[key] = n - 1

	return nil
}

// Sweep removes stats untouched since cutoff together with their counters.
// Stale accounts go entirely; in the remaining accounts only stale phones go,
// the account entry itself is kept. Counters with no stats entry are never
// touched.
func (s *Storage) Sweep(cutoff time.Time) SweepResult {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	var res SweepResult

	for number, acct := range s.accounts {
		if !acct.LastUpdated.Before(cutoff) {
			continue
		}

		if err := s.evictCounter(s.accountInflight, number); err != nil {
			res.Violations = append(res.Violations, fmt.Errorf("account %d: %w", number, err))
		}
		for phone := range acct.PhoneStats {
			if err := s.evictCounter(s.phoneInflight, phone); err != nil {
				res.Violations = append(res.Violations, fmt.Errorf("phone %d: %w", phone, err))
			}
			res.Phones++
		}

		delete(s.accounts, number)
		res.Accounts++
	}

	for _, acct := range s.accounts {
		for phone, ps := range acct.PhoneStats {
			if !ps.LastUpdated.Before(cutoff) {
				continue
			}

			if err := s.evictCounter(s.phoneInflight, phone); err != nil {
				res.Violations = append(res.Violations, fmt.Errorf("phone %d: %w", phone, err))
			}

			delete(acct.PhoneStats, phone)
			res.Phones++
		}
	}

	return res
}

func (s *Storage) evictCounter(counters map[int]int, key int) error {
	n := counters[key]
	delete(counters, key)
	if n > 0 {
		return storage.ErrInflightEvicted
	}

	return nil
}

// Query returns copies of the account stats matching filter, ordered by
// account number.
func (s *Storage) Query(filter models.StatsFilter) []models.AccountStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()

	res := make([]models.AccountStats, 0, len(s.accounts))
	for _, acct := range s.accounts {
		if filter.Match(acct) {
			res = append(res, acct.Clone())
		}
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].AccountNumber < res[j].AccountNumber
	})

	return res
}

// PhoneInflight returns the in-flight count for phone and whether a counter exists.
func (s *Storage) PhoneInflight(phone int) (int, bool) {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()

	n, ok := s.phoneInflight[phone]
	return n, ok
}

// AccountInflight returns the in-flight count for account and whether a counter exists.
func (s *Storage) AccountInflight(account int) (int, bool) {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()

	n, ok := s.accountInflight[account]
	return n, ok
}
