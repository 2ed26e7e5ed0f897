// Package otpstore holds pending locally-issued OTP records keyed by
// canonical phone number.
package otpstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kustom-api/internal/domain"
	"github.com/kustom-api/internal/pkg/clock"
)

// MemoryStore is a process-local, single-use, expiring OTP store. One mutex
// guards the map, so TryConsume is atomic against concurrent Put/TryConsume.
type MemoryStore struct {
	mu          sync.Mutex
	records     map[domain.PhoneNumber]*domain.OTPRecord
	expiry      time.Duration
	maxAttempts int
	clock       clock.Clocker
}

// NewMemoryStore builds a store whose records live for expiry. maxAttempts
// caps mismatched codes per record; 0 disables the cap.
func NewMemoryStore(expiry time.Duration, maxAttempts int, clk clock.Clocker) *MemoryStore {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryStore{
		records:     make(map[domain.PhoneNumber]*domain.OTPRecord),
		expiry:      expiry,
		maxAttempts: maxAttempts,
		clock:       clk,
	}
}

func (s *MemoryStore) Put(_ context.Context, phone domain.PhoneNumber, code string) error {
	s.mu.Lock()
	s.records[phone] = &domain.OTPRecord{Phone: phone, Code: code, IssuedAt: s.clock.Now()}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) TryConsume(_ context.Context, phone domain.PhoneNumber, code string) (domain.ConsumeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[phone]
	if !ok {
		return domain.ConsumeResult{Outcome: domain.ConsumeNotFound}, nil
	}
	if s.expired(rec) {
		delete(s.records, phone)
		return domain.ConsumeResult{Outcome: domain.ConsumeExpired}, nil
	}
	if rec.Code == strings.TrimSpace(code) {
		delete(s.records, phone)
		return domain.ConsumeResult{Outcome: domain.ConsumeOK}, nil
	}

	rec.Attempts++
	if s.maxAttempts <= 0 {
		return domain.ConsumeResult{Outcome: domain.ConsumeInvalid, AttemptsLeft: -1}, nil
	}
	if rec.Attempts >= s.maxAttempts {
		delete(s.records, phone)
		return domain.ConsumeResult{Outcome: domain.ConsumeExhausted}, nil
	}
	return domain.ConsumeResult{Outcome: domain.ConsumeInvalid, AttemptsLeft: s.maxAttempts - rec.Attempts}, nil
}

func (s *MemoryStore) RemainingSeconds(_ context.Context, phone domain.PhoneNumber) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[phone]
	if !ok {
		return 0, nil
	}
	left := s.expiry - s.clock.Now().Sub(rec.IssuedAt)
	if left <= 0 {
		return 0, nil
	}
	return int(left / time.Second), nil
}

func (s *MemoryStore) Delete(_ context.Context, phone domain.PhoneNumber) error {
	s.mu.Lock()
	delete(s.records, phone)
	s.mu.Unlock()
	return nil
}

// SweepExpired drops every expired record in a single traversal.
func (s *MemoryStore) SweepExpired(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for phone, rec := range s.records {
		if s.expired(rec) {
			delete(s.records, phone)
		}
	}
	return nil
}

// Len returns the number of records currently held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// expired: a record is live while its age is <= expiry.
func (s *MemoryStore) expired(rec *domain.OTPRecord) bool {
	return s.clock.Now().Sub(rec.IssuedAt) > s.expiry
}
