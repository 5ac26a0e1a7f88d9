package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs-technology-ru/cash-system/internal/coordinator"
	"github.com/fs-technology-ru/cash-system/internal/eventbus"
)

type nopNotifier struct{}

func (nopNotifier) AcceptedBill(int64, int64)    {}
func (nopNotifier) AcceptedCoin(int64, int64)    {}
func (nopNotifier) SuccessPayment(int64, int64)  {}

// memStore is the minimal repository.Store fake this package's tests need;
// kept separate from coordinator's own fakeStore since that one is
// unexported to its package.
type memStore struct {
	maxBillCount            uint32
	billCount               uint32
	upperCount, lowerCount  uint32
	upperKop, lowerKop      int64
	target, collected       int64
	testMode, bigCoinPrior  bool
}

func (s *memStore) BillCount(context.Context) (uint32, error)     { return s.billCount, nil }
func (s *memStore) SetBillCount(_ context.Context, n uint32) error { s.billCount = n; return nil }
func (s *memStore) IncrBillCount(context.Context) error            { s.billCount++; return nil }
func (s *memStore) MaxBillCount(context.Context) (uint32, error)   { return s.maxBillCount, nil }
func (s *memStore) SetMaxBillCount(_ context.Context, n uint32) error {
	s.maxBillCount = n
	return nil
}
func (s *memStore) BillAcceptorFirmware(context.Context) (string, error) { return "v2", nil }
func (s *memStore) DispenserLevels(context.Context) (int64, int64, error) {
	return s.upperKop, s.lowerKop, nil
}
func (s *memStore) SetDispenserLevels(_ context.Context, u, l int64) error {
	s.upperKop, s.lowerKop = u, l
	return nil
}
func (s *memStore) DispenserCounts(context.Context) (uint32, uint32, error) {
	return s.upperCount, s.lowerCount, nil
}
func (s *memStore) SetDispenserCounts(_ context.Context, u, l uint32) error {
	s.upperCount, s.lowerCount = u, l
	return nil
}
func (s *memStore) TargetAmount(context.Context) (int64, error) { return s.target, nil }
func (s *memStore) SetTargetAmount(_ context.Context, kop int64) error {
	s.target = kop
	return nil
}
func (s *memStore) CollectedAmount(context.Context) (int64, error) { return s.collected, nil }
func (s *memStore) SetCollectedAmount(_ context.Context, kop int64) error {
	s.collected = kop
	return nil
}
func (s *memStore) IncrCollectedAmount(_ context.Context, byKop int64) (int64, error) {
	s.collected += byKop
	return s.collected, nil
}
func (s *memStore) IsTestMode(context.Context) (bool, error) { return s.testMode, nil }
func (s *memStore) AvailableDevices(context.Context) (map[string]bool, error) {
	return map[string]bool{}, nil
}
func (s *memStore) BigCoinPriority(context.Context) (bool, error) { return s.bigCoinPrior, nil }

func newRouter() *Router {
	store := &memStore{maxBillCount: 100, upperCount: 100, lowerCount: 100}
	bus := eventbus.New()
	coord := coordinator.New(coordinator.Devices{}, store, bus, nopNotifier{}, zerolog.Nop())
	return New(coord, zerolog.Nop())
}

func TestDispatchUnknownCommandFails(t *testing.T) {
	r := newRouter()
	resp := r.Dispatch(context.Background(), "not_a_real_command", nil)
	assert.False(t, resp.Success)
}

func TestDispatchInitDevices(t *testing.T) {
	r := newRouter()
	resp := r.Dispatch(context.Background(), "init_devices", nil)
	assert.True(t, resp.Success)
}

func TestDispatchStartAndStopPayment(t *testing.T) {
	r := newRouter()
	payload, err := json.Marshal(map[string]int64{"amount": 5000})
	require.NoError(t, err)

	resp := r.Dispatch(context.Background(), "start_accepting_payment", payload)
	assert.True(t, resp.Success)

	resp = r.Dispatch(context.Background(), "stop_accepting_payment", nil)
	assert.True(t, resp.Success)
}

func TestDispatchSetMaxBillCountRejectsBadJSON(t *testing.T) {
	r := newRouter()
	resp := r.Dispatch(context.Background(), "bill_acceptor_set_max_bill_count", json.RawMessage(`{not-json`))
	assert.False(t, resp.Success)
}
