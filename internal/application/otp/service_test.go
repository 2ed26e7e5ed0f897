package otp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kustom-api/internal/config"
	"github.com/kustom-api/internal/domain"
	"github.com/kustom-api/internal/infrastructure/otpstore"
	"github.com/kustom-api/internal/pkg/clock"
)

// --- mocks ---

type mockGateway struct {
	mock.Mock
	configured bool
}

func (m *mockGateway) CreateVerification(ctx context.Context, phone domain.PhoneNumber, channel domain.Channel) (*domain.VerificationAttempt, error) {
	args := m.Called(ctx, phone, channel)
	if a, _ := args.Get(0).(*domain.VerificationAttempt); a != nil {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) CheckVerification(ctx context.Context, phone domain.PhoneNumber, code string) (*domain.VerificationAttempt, error) {
	args := m.Called(ctx, phone, code)
	if a, _ := args.Get(0).(*domain.VerificationAttempt); a != nil {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) ConfigurationStatus() domain.GatewayStatus {
	return domain.GatewayStatus{Configured: m.configured}
}

type mockCourier struct{ mock.Mock }

func (m *mockCourier) SendSMS(ctx context.Context, to, message string) error {
	return m.Called(ctx, to, message).Error(0)
}

// --- fixtures ---

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testConfig() config.OTPConfig {
	return config.OTPConfig{
		PrimaryChannel:   "whatsapp",
		SecondaryChannel: "sms",
		Expiry:           5 * time.Minute,
		MaxAttempts:      5,
		GatewayWindow:    10 * time.Minute,
		DefaultRegion:    "US",
	}
}

type fixture struct {
	svc     Service
	gw      *mockGateway
	store   *otpstore.MemoryStore
	clock   *clock.Fake
	courier *mockCourier
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T, cfg config.OTPConfig, configured bool, withCourier bool) *fixture {
	t.Helper()
	clk := clock.NewFake(start)
	core, logs := observer.New(zap.InfoLevel)
	f := &fixture{
		gw:    &mockGateway{configured: configured},
		store: otpstore.NewMemoryStore(cfg.Expiry, cfg.MaxAttempts, clk),
		clock: clk,
		logs:  logs,
	}
	var courier smsSender
	if withCourier {
		f.courier = new(mockCourier)
		courier = f.courier
	}
	f.svc = NewService(f.gw, f.store, courier, cfg, zap.New(core), WithClock(clk))
	return f
}

func localConfig() config.OTPConfig {
	cfg := testConfig()
	cfg.LocalMode = true
	return cfg
}

// --- NormalizePhone ---

func TestNormalizePhone_Equivalence(t *testing.T) {
	inputs := []string{
		"+1 415-555-0100",
		"+14155550100",
		"4155550100",
		"(415) 555-0100",
		"415.555.0100",
		"1 415 555 0100",
		"  +1 (415) 555 0100 ",
	}
	for _, in := range inputs {
		got, err := NormalizePhone(in, "US")
		require.NoError(t, err, in)
		assert.Equal(t, domain.PhoneNumber("+14155550100"), got, in)
	}
}

func TestNormalizePhone_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "+1 415", "12"} {
		_, err := NormalizePhone(in, "US")
		assert.ErrorIs(t, err, domain.ErrInvalidPhone, in)
	}
}

func TestNormalizePhone_DefaultRegion(t *testing.T) {
	got, err := NormalizePhone("98765 43210", "in")
	require.NoError(t, err)
	assert.Equal(t, domain.PhoneNumber("+919876543210"), got)
}

// --- local path ---

func TestLocal_ConcreteScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, localConfig(), false, false)
	f.svc = NewService(f.gw, f.store, nil, localConfig(), zap.NewNop(), WithClock(f.clock),
		WithCodeGenerator(func() (string, error) { return "482913", nil }))

	sent, err := f.svc.SendCode(ctx, "+1 415-555-0100", PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, ViaLocal, sent.Via)
	assert.Equal(t, "482913", sent.DevCode)
	assert.Equal(t, "+14155550100", sent.Attempt.To)
	assert.Equal(t, 300, sent.ExpiresIn)
	assert.Equal(t, 1, f.store.Len())

	res, err := f.svc.VerifyCode(ctx, "4155550100", "000000", PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err(), domain.ErrMismatch)

	res, err = f.svc.VerifyCode(ctx, "+14155550100", sent.DevCode, PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, res.Status)
	assert.NoError(t, res.Err())

	res, err = f.svc.VerifyCode(ctx, "+14155550100", sent.DevCode, PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, res.Status)
	assert.Equal(t, string(domain.ConsumeNotFound), res.Reason)
}

func TestLocal_DevCodeEmissionIsLogged(t *testing.T) {
	f := newFixture(t, localConfig(), false, false)

	_, err := f.svc.SendCode(context.Background(), "+14155550100", PurposeSignin)
	require.NoError(t, err)
	_, err = f.svc.SendCode(context.Background(), "+14155550100", PurposeSignin)
	require.NoError(t, err)

	assert.Equal(t, 2, f.logs.FilterMessageSnippet("demo mode").Len())
}

func TestLocal_ExpiredAfterWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, localConfig(), false, false)

	sent, err := f.svc.SendCode(ctx, "+14155550100", PurposeSignup)
	require.NoError(t, err)

	f.clock.Advance(5*time.Minute + time.Second)
	res, err := f.svc.VerifyCode(ctx, "+14155550100", sent.DevCode, PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, res.Status)
	assert.ErrorIs(t, res.Err(), domain.ErrExpired)
}

func TestLocal_ResendInvalidatesPreviousCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, localConfig(), false, false)

	codes := []string{"111111", "222222"}
	svc := NewService(f.gw, f.store, nil, localConfig(), zap.NewNop(), WithClock(f.clock),
		WithCodeGenerator(func() (string, error) {
			c := codes[0]
			codes = codes[1:]
			return c, nil
		}))

	_, err := svc.SendCode(ctx, "+14155550100", PurposeSignup)
	require.NoError(t, err)
	_, err = svc.SendCode(ctx, "+14155550100", PurposeSignup)
	require.NoError(t, err)

	res, err := svc.VerifyCode(ctx, "+14155550100", "111111", PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)

	res, err = svc.VerifyCode(ctx, "+14155550100", "222222", PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, res.Status)
}

func TestLocal_AttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig()
	cfg.MaxAttempts = 2
	f := newFixture(t, cfg, false, false)
	svc := NewService(f.gw, f.store, nil, cfg, zap.NewNop(), WithClock(f.clock),
		WithCodeGenerator(func() (string, error) { return "123456", nil }))

	_, err := svc.SendCode(ctx, "+14155550100", PurposeSignup)
	require.NoError(t, err)

	res, _ := svc.VerifyCode(ctx, "+14155550100", "000000", PurposeSignup)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, res.AttemptsRemaining)

	res, _ = svc.VerifyCode(ctx, "+14155550100", "000000", PurposeSignup)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, string(domain.ConsumeExhausted), res.Reason)

	res, _ = svc.VerifyCode(ctx, "+14155550100", "123456", PurposeSignup)
	assert.Equal(t, StatusExpired, res.Status)
}

func TestLocal_CourierDeliversPurposeMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, localConfig(), false, true)
	f.courier.On("SendSMS", mock.Anything, "+14155550100",
		mock.MatchedBy(func(msg string) bool {
			return strings.Contains(msg, "Kustom login") && strings.Contains(msg, "5 minutes")
		})).Return(nil)

	sent, err := f.svc.SendCode(ctx, "+14155550100", PurposeSignin)
	require.NoError(t, err)
	assert.Empty(t, sent.DevCode)
	assert.Equal(t, ViaLocal, sent.Via)
	f.courier.AssertExpectations(t)
}

func TestLocal_CourierFailureDropsRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, localConfig(), false, true)
	f.courier.On("SendSMS", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("sns down"))

	_, err := f.svc.SendCode(ctx, "+14155550100", PurposeSignup)
	assert.ErrorIs(t, err, domain.ErrGatewayUnknown)
	assert.Equal(t, 0, f.store.Len())
}

func TestRemainingSeconds_Local(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, localConfig(), false, false)

	_, err := f.svc.SendCode(ctx, "+14155550100", PurposeSignup)
	require.NoError(t, err)

	prev, err := f.svc.RemainingSeconds(ctx, "4155550100")
	require.NoError(t, err)
	assert.InDelta(t, 300, prev, 1)

	for i := 0; i < 10; i++ {
		f.clock.Advance(30 * time.Second)
		left, err := f.svc.RemainingSeconds(ctx, "+14155550100")
		require.NoError(t, err)
		assert.LessOrEqual(t, left, prev)
		prev = left
	}
	assert.Equal(t, 0, prev)
}

// --- gateway path ---

func TestGateway_SendAndVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), true, false)
	phone := domain.PhoneNumber("+14155550100")

	f.gw.On("CreateVerification", mock.Anything, phone, domain.ChannelWhatsApp).
		Return(&domain.VerificationAttempt{ID: "VE1", Status: "pending", Channel: domain.ChannelWhatsApp}, nil)
	f.gw.On("CheckVerification", mock.Anything, phone, "123456").
		Return(&domain.VerificationAttempt{ID: "VE1", Status: domain.VerificationApproved, Valid: true}, nil).Once()

	sent, err := f.svc.SendCode(ctx, "+1 415 555 0100", PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, ViaGateway, sent.Via)
	assert.Equal(t, domain.ChannelWhatsApp, sent.Channel)
	assert.Empty(t, sent.DevCode)
	assert.Equal(t, 600, sent.ExpiresIn)

	res, err := f.svc.VerifyCode(ctx, "4155550100", "123456", PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, res.Status)
	assert.Equal(t, ViaGateway, res.Via)
	f.gw.AssertExpectations(t)
}

func TestGateway_FallsBackToSecondaryChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), true, false)
	phone := domain.PhoneNumber("+14155550100")

	primaryErr := &domain.GatewayError{Kind: domain.ErrGatewayUnknown, Code: 63003, Channel: domain.ChannelWhatsApp, Deliverability: true}
	f.gw.On("CreateVerification", mock.Anything, phone, domain.ChannelWhatsApp).Return(nil, primaryErr).Once()
	f.gw.On("CreateVerification", mock.Anything, phone, domain.ChannelSMS).
		Return(&domain.VerificationAttempt{ID: "VE2", Status: "pending", Channel: domain.ChannelSMS}, nil).Once()

	sent, err := f.svc.SendCode(ctx, "+14155550100", PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelSMS, sent.Channel)
	f.gw.AssertExpectations(t)
}

func TestGateway_SecondaryErrorIsSurfaced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), true, false)
	phone := domain.PhoneNumber("+14155550100")

	primaryErr := &domain.GatewayError{Kind: domain.ErrInvalidPhone, Code: 21614, Channel: domain.ChannelWhatsApp, Deliverability: true}
	secondaryErr := &domain.GatewayError{Kind: domain.ErrRateLimited, Code: 60203, Channel: domain.ChannelSMS}
	f.gw.On("CreateVerification", mock.Anything, phone, domain.ChannelWhatsApp).Return(nil, primaryErr).Once()
	f.gw.On("CreateVerification", mock.Anything, phone, domain.ChannelSMS).Return(nil, secondaryErr).Once()

	_, err := f.svc.SendCode(ctx, "+14155550100", PurposeSignup)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Same(t, secondaryErr, err)
	f.gw.AssertNumberOfCalls(t, "CreateVerification", 2)
}

func TestGateway_NonDeliverabilityErrorIsNotRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), true, false)

	authErr := &domain.GatewayError{Kind: domain.ErrGatewayAuth, Code: 20003}
	f.gw.On("CreateVerification", mock.Anything, mock.Anything, domain.ChannelWhatsApp).Return(nil, authErr).Once()

	_, err := f.svc.SendCode(ctx, "+14155550100", PurposeSignup)
	assert.ErrorIs(t, err, domain.ErrGatewayAuth)
	f.gw.AssertNumberOfCalls(t, "CreateVerification", 1)
}

func TestGateway_VerifyOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		att    *domain.VerificationAttempt
		err    error
		status string
	}{
		{"approved", &domain.VerificationAttempt{Status: domain.VerificationApproved}, nil, StatusVerified},
		{"pending means wrong code", &domain.VerificationAttempt{Status: domain.VerificationPending}, nil, StatusFailed},
		{"provider expired", &domain.VerificationAttempt{Status: domain.VerificationExpired}, nil, StatusExpired},
		{"canceled", &domain.VerificationAttempt{Status: domain.VerificationCanceled}, nil, StatusExpired},
		{"not found", nil, &domain.GatewayError{Kind: domain.ErrVerificationNotFound, Code: 20404}, StatusExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig(), true, false)
			f.gw.On("CheckVerification", mock.Anything, domain.PhoneNumber("+14155550100"), "123456").Return(tt.att, tt.err)

			res, err := f.svc.VerifyCode(context.Background(), "+14155550100", "123456", PurposeSignin)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, ViaGateway, res.Via)
		})
	}
}

func TestGateway_VerifyPassesOtherErrorsThrough(t *testing.T) {
	f := newFixture(t, testConfig(), true, false)
	rl := &domain.GatewayError{Kind: domain.ErrRateLimited, Code: 60202}
	f.gw.On("CheckVerification", mock.Anything, mock.Anything, mock.Anything).Return(nil, rl)

	_, err := f.svc.VerifyCode(context.Background(), "+14155550100", "123456", PurposeSignin)
	assert.Same(t, rl, err)
}

func TestGateway_PrecedenceOverLocalRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), true, false)
	phone := domain.PhoneNumber("+14155550100")
	require.NoError(t, f.store.Put(ctx, phone, "654321"))

	f.gw.On("CheckVerification", mock.Anything, phone, "654321").
		Return(&domain.VerificationAttempt{Status: domain.VerificationPending}, nil)

	res, err := f.svc.VerifyCode(ctx, "+14155550100", "654321", PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 0, f.store.Len())
}

// --- policy ---

func TestSend_UnconfiguredWithoutFallback(t *testing.T) {
	f := newFixture(t, testConfig(), false, false)

	_, err := f.svc.SendCode(context.Background(), "+14155550100", PurposeSignup)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	f.gw.AssertNotCalled(t, "CreateVerification", mock.Anything, mock.Anything, mock.Anything)
}

func TestSend_UnconfiguredWithFallbackGoesLocal(t *testing.T) {
	cfg := testConfig()
	cfg.AllowLocalFallback = true
	f := newFixture(t, cfg, false, false)

	sent, err := f.svc.SendCode(context.Background(), "+14155550100", PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, ViaLocal, sent.Via)
	assert.NotEmpty(t, sent.DevCode)
}

func TestSend_LocalModeBypassesConfiguredGateway(t *testing.T) {
	f := newFixture(t, localConfig(), true, false)

	sent, err := f.svc.SendCode(context.Background(), "+14155550100", PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, ViaLocal, sent.Via)
	f.gw.AssertNotCalled(t, "CreateVerification", mock.Anything, mock.Anything, mock.Anything)
}

func TestValidationFailsBeforeSideEffects(t *testing.T) {
	f := newFixture(t, testConfig(), true, false)

	_, err := f.svc.SendCode(context.Background(), "not a phone", PurposeSignup)
	assert.ErrorIs(t, err, domain.ErrInvalidPhone)

	for _, code := range []string{"", "123", "1234567", "12a456", "-12345", "12.345"} {
		_, err = f.svc.VerifyCode(context.Background(), "+14155550100", code, PurposeSignup)
		assert.ErrorIs(t, err, domain.ErrInvalidCodeFormat, code)
	}
	f.gw.AssertNotCalled(t, "CheckVerification", mock.Anything, mock.Anything, mock.Anything)
}

func TestConfigurationStatus(t *testing.T) {
	cfg := testConfig()
	cfg.AllowLocalFallback = true
	f := newFixture(t, cfg, true, false)

	assert.Equal(t, Status{GatewayConfigured: true, LocalFallback: true}, f.svc.ConfigurationStatus())
}

// --- sweep & concurrency ---

func TestSweep_DropsExpiredState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, localConfig(), false, false)

	_, err := f.svc.SendCode(ctx, "+14155550100", PurposeSignup)
	require.NoError(t, err)
	_, err = f.svc.SendCode(ctx, "+14155550101", PurposeSignup)
	require.NoError(t, err)

	f.clock.Advance(6 * time.Minute)
	require.NoError(t, f.svc.Sweep(ctx))
	assert.Equal(t, 0, f.store.Len())
	assert.Empty(t, f.svc.(*service).challenges)
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	f := newFixture(t, localConfig(), false, false)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.svc.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestConcurrentVerifySucceedsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, localConfig(), false, false)

	sent, err := f.svc.SendCode(ctx, "+14155550100", PurposeSignup)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		verified int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.VerifyCode(ctx, "+14155550100", sent.DevCode, PurposeSignup)
			if err == nil && res.Verified() {
				mu.Lock()
				verified++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, verified)
	assert.Equal(t, 0, f.svc.(*service).locks.size())
}
