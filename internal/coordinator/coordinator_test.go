package coordinator

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs-technology-ru/cash-system/internal/eventbus"
)

// fakeStore is an in-memory repository.Store for coordinator tests.
type fakeStore struct {
	mu sync.Mutex

	billCount, maxBillCount       uint32
	upperCount, lowerCount        uint32
	upperKop, lowerKop            int64
	target, collected             int64
	testMode, bigCoinPriority     bool
	available                     map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		maxBillCount: 100,
		upperCount:   100, lowerCount: 100,
		upperKop: 10000 * 100, lowerKop: 5000 * 100,
		available: map[string]bool{},
	}
}

func (s *fakeStore) BillCount(context.Context) (uint32, error)    { return s.billCount, nil }
func (s *fakeStore) SetBillCount(_ context.Context, n uint32) error { s.billCount = n; return nil }
func (s *fakeStore) IncrBillCount(context.Context) error           { s.billCount++; return nil }
func (s *fakeStore) MaxBillCount(context.Context) (uint32, error)  { return s.maxBillCount, nil }
func (s *fakeStore) SetMaxBillCount(_ context.Context, n uint32) error {
	s.maxBillCount = n
	return nil
}
func (s *fakeStore) BillAcceptorFirmware(context.Context) (string, error) { return "v2", nil }

func (s *fakeStore) DispenserLevels(context.Context) (int64, int64, error) {
	return s.upperKop, s.lowerKop, nil
}
func (s *fakeStore) SetDispenserLevels(_ context.Context, u, l int64) error {
	s.upperKop, s.lowerKop = u, l
	return nil
}
func (s *fakeStore) DispenserCounts(context.Context) (uint32, uint32, error) {
	return s.upperCount, s.lowerCount, nil
}
func (s *fakeStore) SetDispenserCounts(_ context.Context, u, l uint32) error {
	s.upperCount, s.lowerCount = u, l
	return nil
}

func (s *fakeStore) TargetAmount(context.Context) (int64, error) { return s.target, nil }
func (s *fakeStore) SetTargetAmount(_ context.Context, kop int64) error {
	s.target = kop
	return nil
}
func (s *fakeStore) CollectedAmount(context.Context) (int64, error) { return s.collected, nil }
func (s *fakeStore) SetCollectedAmount(_ context.Context, kop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collected = kop
	return nil
}
func (s *fakeStore) IncrCollectedAmount(_ context.Context, byKop int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collected += byKop
	return s.collected, nil
}

func (s *fakeStore) IsTestMode(context.Context) (bool, error)       { return s.testMode, nil }
func (s *fakeStore) AvailableDevices(context.Context) (map[string]bool, error) {
	return s.available, nil
}
func (s *fakeStore) BigCoinPriority(context.Context) (bool, error) { return s.bigCoinPriority, nil }

// fakeNotifier records calls instead of pushing to a websocket.
type fakeNotifier struct {
	mu              sync.Mutex
	bills, coins    []int64
	successCalled   bool
	collected, chg  int64
}

func (n *fakeNotifier) AcceptedBill(v, _ int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bills = append(n.bills, v)
}
func (n *fakeNotifier) AcceptedCoin(v, _ int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.coins = append(n.coins, v)
}
func (n *fakeNotifier) SuccessPayment(collected, change int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successCalled = true
	n.collected = collected
	n.chg = change
}

func TestPlanBillsPrefersLargerDenominationFirst(t *testing.T) {
	// denominations upper=10000kop, lower=5000kop, counts (3,3); change 25000
	// => request (2,1), per spec.md's literal change-planning scenario.
	reqUpper, reqLower := planBills(25000, 10000, 5000, 3, 3)
	assert.Equal(t, 2, reqUpper)
	assert.Equal(t, 1, reqLower)
}

func TestPlanBillsHandlesSwappedDenominations(t *testing.T) {
	// lower cassette configured with the larger note: upper=5000, lower=10000.
	reqUpper, reqLower := planBills(25000, 5000, 10000, 3, 3)
	assert.Equal(t, 1, reqUpper)
	assert.Equal(t, 2, reqLower)
}

func TestPlanBillsCapsAtAvailableCount(t *testing.T) {
	reqUpper, reqLower := planBills(100000, 10000, 5000, 1, 100)
	assert.Equal(t, 1, reqUpper)
	// remainder after 1*10000 = 90000, capped by lower denom*count but count is 100
	assert.Equal(t, 18, reqLower)
}

func TestStartPaymentRejectsWhenDispenserUnderstocked(t *testing.T) {
	store := newFakeStore()
	store.upperCount = 10 // below the 50-minimum precondition
	bus := eventbus.New()
	notifier := &fakeNotifier{}
	c := New(Devices{}, store, bus, notifier, zerolog.Nop())

	err := c.StartPayment(context.Background(), 10000)
	assert.Error(t, err)
}

func TestAccumulationCompletesExactPaymentWithNoChange(t *testing.T) {
	store := newFakeStore()
	bus := eventbus.New()
	notifier := &fakeNotifier{}
	c := New(Devices{}, store, bus, notifier, zerolog.Nop())

	require.NoError(t, c.StartPayment(context.Background(), 15000))

	bus.Publish(eventbus.Event{Kind: eventbus.KindBillAccepted, Bill: eventbus.BillEvent{AmountKop: 10000}})
	bus.Publish(eventbus.Event{Kind: eventbus.KindCoinCredit, Coin: eventbus.CoinCredit{ValueKop: 5000}})

	assert.Equal(t, PhaseCompleted, c.Phase())
	assert.True(t, notifier.successCalled)
	assert.Equal(t, int64(15000), notifier.collected)
	assert.Equal(t, int64(0), notifier.chg)
	assert.Equal(t, int64(0), store.collected)
}

func TestAccumulationIgnoresEventsOutsideAcceptingPhase(t *testing.T) {
	store := newFakeStore()
	bus := eventbus.New()
	notifier := &fakeNotifier{}
	c := New(Devices{}, store, bus, notifier, zerolog.Nop())

	// No StartPayment call: phase is Idle, so this must be a no-op.
	bus.Publish(eventbus.Event{Kind: eventbus.KindCoinCredit, Coin: eventbus.CoinCredit{ValueKop: 5000}})

	assert.Equal(t, PhaseIdle, c.Phase())
	assert.False(t, notifier.successCalled)
}

func TestStopPaymentReturnsCollectedAndResetsPhase(t *testing.T) {
	store := newFakeStore()
	bus := eventbus.New()
	notifier := &fakeNotifier{}
	c := New(Devices{}, store, bus, notifier, zerolog.Nop())

	require.NoError(t, c.StartPayment(context.Background(), 20000))
	bus.Publish(eventbus.Event{Kind: eventbus.KindBillAccepted, Bill: eventbus.BillEvent{AmountKop: 10000}})

	collected := c.StopPayment(context.Background())
	assert.Equal(t, int64(10000), collected)
	assert.Equal(t, PhaseIdle, c.Phase())
}
