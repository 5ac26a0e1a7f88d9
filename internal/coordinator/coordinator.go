// Package coordinator implements the PaymentCoordinator: the single
// component that owns all four device drivers, accumulates collected
// value from bus events, and drives change dispensing. Drivers never
// observe the coordinator directly — they only know about the event bus
// and their own serial link, per spec.md §9's cyclic-reference note.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fs-technology-ru/cash-system/internal/eventbus"
	"github.com/fs-technology-ru/cash-system/internal/protocol/ccnet"
	"github.com/fs-technology-ru/cash-system/internal/protocol/cctalk"
	"github.com/fs-technology-ru/cash-system/internal/protocol/errs"
	"github.com/fs-technology-ru/cash-system/internal/protocol/lcdm"
	"github.com/fs-technology-ru/cash-system/internal/protocol/ssp"
	"github.com/fs-technology-ru/cash-system/internal/repository"
)

const coinPollInterval = 300 * time.Millisecond

// Phase is the coordinator's payment state, spec.md §4.6.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAccepting
	PhaseCompleting
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseAccepting:
		return "accepting"
	case PhaseCompleting:
		return "completing"
	case PhaseCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// Notifier is the outbound event surface the coordinator pushes to;
// internal/notify.Hub implements it. Kept as an interface here so the
// coordinator never imports a transport-specific package.
type Notifier interface {
	AcceptedBill(billValueKop, collectedKop int64)
	AcceptedCoin(coinValueKop, collectedKop int64)
	SuccessPayment(collectedKop, changeKop int64)
}

// Devices is the set of driver handles the coordinator owns. A nil field
// means that device's serial port was not opened. Operations skip a nil
// driver; AddCoinCount and CashCollection report Precondition when the
// hopper is nil.
type Devices struct {
	BillAcceptor *ccnet.BillAcceptor
	Dispenser    *lcdm.Dispenser
	CoinAcceptor *cctalk.CoinAcceptor
	Hopper       *ssp.Hopper
}

// paymentState is the mutex-guarded context spec.md §4.6 calls for: event
// handlers acquire the lock, update, possibly transition, and release
// before awaiting any downstream device call.
type paymentState struct {
	phase     Phase
	target    int64
	collected int64
	testMode  bool
}

// Coordinator ties the four device drivers to the repository and event
// bus, implementing init_devices/start_payment/stop_payment/dispense_change.
type Coordinator struct {
	devices  Devices
	store    repository.Store
	bus      *eventbus.Bus
	notifier Notifier
	log      zerolog.Logger

	bigCoinPriority bool

	connected map[string]bool

	mu sync.Mutex
	ps paymentState

	coinPollCancel context.CancelFunc
	coinPollDone   chan struct{}
}

// New wires a Coordinator and subscribes it to BillAccepted/CoinCredit.
func New(devices Devices, store repository.Store, bus *eventbus.Bus, notifier Notifier, log zerolog.Logger) *Coordinator {
	c := &Coordinator{
		devices:   devices,
		store:     store,
		bus:       bus,
		notifier:  notifier,
		log:       log.With().Str("component", "coordinator").Logger(),
		connected: make(map[string]bool),
	}
	bus.Subscribe(eventbus.KindBillAccepted, c.onBillAccepted)
	bus.Subscribe(eventbus.KindCoinCredit, c.onCoinCredit)
	return c
}

// InitDevices runs each driver's connect sequence and records which ones
// answered. The bill acceptor is recorded as present whenever its driver
// exists, since its Connect does not report whether the device reached
// IDLING or UNIT_DISABLED. A device whose link was never opened (nil in Devices) is
// simply absent; this method never opens serial ports itself — that is
// cmd/kiosk's job, since the set of ports to open is deployment config.
func (c *Coordinator) InitDevices(ctx context.Context) (connected []string, allPresent bool, err error) {
	expected, err := c.store.AvailableDevices(ctx)
	if err != nil {
		return nil, false, err
	}

	present := make(map[string]bool)
	if c.devices.BillAcceptor != nil {
		c.devices.BillAcceptor.Connect()
		present["bill_acceptor"] = true
	}
	if c.devices.Dispenser != nil {
		if _, err := c.devices.Dispenser.Status(); err == nil {
			present["bill_dispenser"] = true
		}
	}
	if c.devices.CoinAcceptor != nil && c.devices.CoinAcceptor.SimplePoll() {
		present["coin_acceptor"] = true
	}
	if c.devices.Hopper != nil {
		if err := c.devices.Hopper.Connect(); err == nil {
			present["coin_hopper"] = true
		}
	}

	c.connected = present

	names := make([]string, 0, len(present))
	for name := range present {
		names = append(names, name)
	}
	sort.Strings(names)

	allPresent = true
	for name := range expected {
		if !present[name] {
			allPresent = false
			break
		}
	}
	return names, allPresent, nil
}

// refreshBigCoinPriority re-reads the repository's big_coin_priority flag; called
// at the start of every dispense_change, same rule as the denomination
// re-read decision in the Open Questions.
func (c *Coordinator) refreshBigCoinPriority(ctx context.Context) {
	v, err := c.store.BigCoinPriority(ctx)
	if err == nil {
		c.bigCoinPriority = v
	}
}

// StartPayment validates preconditions, enables both acceptors, and enters
// Accepting with the given target.
func (c *Coordinator) StartPayment(ctx context.Context, targetKop int64) error {
	testMode, err := c.store.IsTestMode(ctx)
	if err != nil {
		return err
	}

	if !testMode {
		if err := c.checkPreconditions(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if c.ps.phase != PhaseIdle && c.ps.phase != PhaseCompleted {
		c.mu.Unlock()
		return errs.New(errs.KindPrecondition, "coordinator.StartPayment", fmt.Errorf("payment already in progress"))
	}
	c.ps = paymentState{phase: PhaseAccepting, target: targetKop, collected: 0, testMode: testMode}
	c.mu.Unlock()

	if err := c.store.SetTargetAmount(ctx, targetKop); err != nil {
		return err
	}
	if err := c.store.SetCollectedAmount(ctx, 0); err != nil {
		return err
	}

	if c.devices.BillAcceptor != nil {
		c.devices.BillAcceptor.Enable(ctx)
	}
	if c.devices.CoinAcceptor != nil {
		c.devices.CoinAcceptor.ModifyInhibitStatus(0xFFFF)
		c.startCoinPollLoop(ctx)
	}
	return nil
}

func (c *Coordinator) checkPreconditions(ctx context.Context) error {
	c.mu.Lock()
	inProgress := c.ps.phase == PhaseAccepting || c.ps.phase == PhaseCompleting
	c.mu.Unlock()
	if inProgress {
		return errs.New(errs.KindPrecondition, "coordinator.checkPreconditions", fmt.Errorf("payment already in progress"))
	}

	upper, lower, err := c.store.DispenserCounts(ctx)
	if err != nil {
		return err
	}
	if upper < 50 || lower < 50 {
		return errs.New(errs.KindPrecondition, "coordinator.checkPreconditions", fmt.Errorf("dispenser cassette below minimum stock"))
	}

	billCount, err := c.store.BillCount(ctx)
	if err != nil {
		return err
	}
	maxBillCount, err := c.store.MaxBillCount(ctx)
	if err != nil {
		return err
	}
	if billCount >= maxBillCount {
		return errs.New(errs.KindPrecondition, "coordinator.checkPreconditions", fmt.Errorf("bill acceptor at capacity"))
	}
	return nil
}

// StopPayment cancels any in-progress acceptance: disables both acceptors,
// drains nothing further (pending events already queued on the bus have
// already been delivered synchronously by Publish), and resets the
// context. Bills already accepted remain counted in the repository.
func (c *Coordinator) StopPayment(ctx context.Context) int64 {
	c.mu.Lock()
	collected := c.ps.collected
	c.ps = paymentState{phase: PhaseIdle}
	c.mu.Unlock()

	c.disableAcceptors(ctx)
	return collected
}

func (c *Coordinator) disableAcceptors(ctx context.Context) {
	if c.devices.BillAcceptor != nil {
		c.devices.BillAcceptor.Disable()
	}
	if c.devices.CoinAcceptor != nil {
		c.stopCoinPollLoop()
		c.devices.CoinAcceptor.ModifyInhibitStatus(0)
	}
}

func (c *Coordinator) startCoinPollLoop(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.coinPollCancel = cancel
	c.coinPollDone = make(chan struct{})

	go func() {
		defer close(c.coinPollDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := c.devices.CoinAcceptor.PollCredit(); err != nil {
				c.log.Debug().Err(err).Msg("coin poll failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(coinPollInterval):
			}
		}
	}()
}

func (c *Coordinator) stopCoinPollLoop() {
	if c.coinPollCancel == nil {
		return
	}
	c.coinPollCancel()
	<-c.coinPollDone
	c.coinPollCancel = nil
}

// onBillAccepted and onCoinCredit are the bus handlers implementing
// spec.md §4.6's accumulation step: acquire the mutex, update, possibly
// transition to Completing, release, then (outside the lock) persist for
// observability, notify, and maybe complete the payment.
func (c *Coordinator) onBillAccepted(ev eventbus.Event) {
	c.accumulate(ev.Bill.AmountKop, func(collected int64) { c.notifier.AcceptedBill(ev.Bill.AmountKop, collected) })
}

func (c *Coordinator) onCoinCredit(ev eventbus.Event) {
	c.accumulate(ev.Coin.ValueKop, func(collected int64) { c.notifier.AcceptedCoin(ev.Coin.ValueKop, collected) })
}

func (c *Coordinator) accumulate(valueKop int64, notify func(collected int64)) {
	c.mu.Lock()
	if c.ps.phase != PhaseAccepting {
		c.mu.Unlock()
		return
	}
	c.ps.collected += valueKop
	collected := c.ps.collected
	target := c.ps.target
	complete := collected >= target
	if complete {
		c.ps.phase = PhaseCompleting
	}
	c.mu.Unlock()

	ctx := context.Background()
	if err := c.store.SetCollectedAmount(ctx, collected); err != nil {
		c.log.Error().Err(err).Msg("failed to persist collected_amount")
	}
	notify(collected)

	if complete {
		c.completePayment(ctx, collected, target)
	}
}

// completePayment disables both acceptors, resets the repository
// counters, emits successPayment, and dispenses any change.
func (c *Coordinator) completePayment(ctx context.Context, collected, target int64) {
	c.disableAcceptors(ctx)

	if err := c.store.SetCollectedAmount(ctx, 0); err != nil {
		c.log.Error().Err(err).Msg("failed to reset collected_amount")
	}
	if err := c.store.SetTargetAmount(ctx, 0); err != nil {
		c.log.Error().Err(err).Msg("failed to reset target_amount")
	}

	change := collected - target
	if change < 0 {
		change = 0
	}
	c.notifier.SuccessPayment(collected, change)

	c.mu.Lock()
	c.ps.phase = PhaseCompleted
	c.mu.Unlock()

	if change > 0 {
		if _, err := c.DispenseChange(ctx, change, false); err != nil {
			c.log.Error().Err(err).Int64("change", change).Msg("dispense_change failed after payment completion")
		}
	}
}

// DispenseReport is dispense_change's best-effort payout result.
type DispenseReport struct {
	RequestedKop    int64
	DispensedKop    int64
	NotDispensedKop int64
}

// DispenseChange is the bills-first best-effort payout spec.md §4.6
// describes: bills first (larger denomination first, then smaller),
// remainder to coins, never failing the transaction if the full amount
// can't be provided.
func (c *Coordinator) DispenseChange(ctx context.Context, amountKop int64, test bool) (DispenseReport, error) {
	if amountKop <= 0 {
		return DispenseReport{}, nil
	}
	c.refreshBigCoinPriority(ctx)

	dispensedKop, err := c.dispenseBills(ctx, amountKop, test)
	if err != nil {
		c.log.Error().Err(err).Msg("bill dispense failed during change payout")
	}

	remaining := amountKop - dispensedKop
	if remaining > 0 && c.devices.Hopper != nil {
		coinDispensed, err := c.dispenseCoins(ctx, remaining, test)
		if err != nil {
			c.log.Error().Err(err).Msg("coin dispense failed during change payout")
		}
		dispensedKop += coinDispensed
		remaining = amountKop - dispensedKop
	}

	return DispenseReport{RequestedKop: amountKop, DispensedKop: dispensedKop, NotDispensedKop: remaining}, nil
}

// dispenseBills implements change planning step 1-3 of spec.md §4.6: the
// larger-denomination box first, remainder to the smaller, counts always
// re-read fresh from the repository per the Open Questions resolution.
func (c *Coordinator) dispenseBills(ctx context.Context, amountKop int64, test bool) (int64, error) {
	if c.devices.Dispenser == nil {
		return 0, nil
	}

	upperDenom, lowerDenom, err := c.store.DispenserLevels(ctx)
	if err != nil {
		return 0, err
	}
	upperCount, lowerCount, err := c.store.DispenserCounts(ctx)
	if err != nil {
		return 0, err
	}

	reqUpper, reqLower := planBills(amountKop, upperDenom, lowerDenom, upperCount, lowerCount)
	if reqUpper == 0 && reqLower == 0 {
		return 0, nil
	}

	var result lcdm.DispenseResult
	if test {
		if reqUpper > 0 {
			if err := c.devices.Dispenser.TestUpperDispense(reqUpper); err != nil {
				return 0, err
			}
		}
		if reqLower > 0 {
			if err := c.devices.Dispenser.TestLowerDispense(reqLower); err != nil {
				return 0, err
			}
		}
		return int64(reqUpper)*upperDenom + int64(reqLower)*lowerDenom, nil
	}

	result, err = c.devices.Dispenser.UpperLowerDispense(reqUpper, reqLower)
	if err != nil {
		return 0, err
	}

	newUpperCount := upperCount
	if uint32(result.UpperExit) <= newUpperCount {
		newUpperCount -= uint32(result.UpperExit)
	}
	newLowerCount := lowerCount
	if uint32(result.LowerExit) <= newLowerCount {
		newLowerCount -= uint32(result.LowerExit)
	}
	if err := c.store.SetDispenserCounts(ctx, newUpperCount, newLowerCount); err != nil {
		c.log.Error().Err(err).Msg("failed to persist dispenser counts after payout")
	}

	return int64(result.UpperExit)*upperDenom + int64(result.LowerExit)*lowerDenom, nil
}

// planBills picks (n_H, n_L) per spec.md §4.6 step 1-2 and maps the result
// back onto the physical upper/lower cassettes, since "larger/smaller
// denomination" is a property of the current repository configuration,
// not fixed to a specific cassette.
func planBills(amountKop, upperDenom, lowerDenom int64, upperCount, lowerCount uint32) (reqUpper, reqLower int) {
	type box struct {
		denom   int64
		count   uint32
		isUpper bool
	}
	boxes := []box{{upperDenom, upperCount, true}, {lowerDenom, lowerCount, false}}
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].denom > boxes[j].denom })

	h, l := boxes[0], boxes[1]
	var nH, nL int64
	if h.denom > 0 {
		nH = amountKop / h.denom
		if nH > int64(h.count) {
			nH = int64(h.count)
		}
	}
	remainder := amountKop - nH*h.denom
	if l.denom > 0 {
		nL = remainder / l.denom
		if nL > int64(l.count) {
			nL = int64(l.count)
		}
	}

	if h.isUpper {
		return int(nH), int(nL)
	}
	return int(nL), int(nH)
}

// dispenseCoins pays out remainingKop via the SSP hopper. When
// big_coin_priority is set, it queries current inventory, sorts
// denominations descending, and greedily peels off as many coins as
// inventory and amount allow before issuing PAYOUT_BY_DENOMINATION;
// otherwise it issues a plain PAYOUT_AMOUNT and trusts the hopper's own
// mix selection.
func (c *Coordinator) dispenseCoins(ctx context.Context, remainingKop int64, test bool) (int64, error) {
	if !c.bigCoinPriority {
		if err := c.devices.Hopper.PayoutAmount(remainingKop, "RU", test); err != nil {
			return 0, err
		}
		return remainingKop, nil
	}

	levels, err := c.devices.Hopper.GetAllLevels()
	if err != nil {
		return 0, err
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].DenominationKop > levels[j].DenominationKop })

	var items []ssp.DenominationCount
	dispensed := int64(0)
	for _, lvl := range levels {
		if lvl.DenominationKop <= 0 || remainingKop <= 0 {
			continue
		}
		n := remainingKop / lvl.DenominationKop
		if n > int64(lvl.Count) {
			n = int64(lvl.Count)
		}
		if n <= 0 {
			continue
		}
		items = append(items, ssp.DenominationCount{
			Count:           int(n),
			DenominationKop: lvl.DenominationKop,
			CountryCode:     lvl.CountryCode,
		})
		dispensed += n * lvl.DenominationKop
		remainingKop -= n * lvl.DenominationKop
	}
	if len(items) == 0 {
		return 0, nil
	}
	if err := c.devices.Hopper.PayoutByDenomination(items, test); err != nil {
		return 0, err
	}
	return dispensed, nil
}

// Phase returns the coordinator's current payment phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ps.phase
}

// Collected returns the amount accumulated so far in the current payment.
func (c *Coordinator) Collected() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ps.collected
}

// BillAcceptorStatus reports the bill acceptor's connectivity and
// repository-tracked counters for the bill_acceptor_status command.
type BillAcceptorStatus struct {
	Connected    bool
	BillCount    uint32
	MaxBillCount uint32
}

func (c *Coordinator) BillAcceptorStatus(ctx context.Context) (BillAcceptorStatus, error) {
	billCount, err := c.store.BillCount(ctx)
	if err != nil {
		return BillAcceptorStatus{}, err
	}
	maxBillCount, err := c.store.MaxBillCount(ctx)
	if err != nil {
		return BillAcceptorStatus{}, err
	}
	return BillAcceptorStatus{
		Connected:    c.connected["bill_acceptor"],
		BillCount:    billCount,
		MaxBillCount: maxBillCount,
	}, nil
}

// SetMaxBillCount implements bill_acceptor_set_max_bill_count.
func (c *Coordinator) SetMaxBillCount(ctx context.Context, value uint32) error {
	return c.store.SetMaxBillCount(ctx, value)
}

// ResetBillCount implements bill_acceptor_reset_bill_count.
func (c *Coordinator) ResetBillCount(ctx context.Context) error {
	return c.store.SetBillCount(ctx, 0)
}

// DispenserStatus reports the dispenser's live sensor snapshot (when
// connected) plus repository-tracked levels/counts, for
// bill_dispenser_status.
type DispenserStatus struct {
	Connected                bool
	UpperLvlKop, LowerLvlKop int64
	UpperCount, LowerCount   uint32
	Sensors                  lcdm.Status
}

func (c *Coordinator) DispenserStatus(ctx context.Context) (DispenserStatus, error) {
	upperKop, lowerKop, err := c.store.DispenserLevels(ctx)
	if err != nil {
		return DispenserStatus{}, err
	}
	upperCount, lowerCount, err := c.store.DispenserCounts(ctx)
	if err != nil {
		return DispenserStatus{}, err
	}
	out := DispenserStatus{
		Connected:   c.connected["bill_dispenser"],
		UpperLvlKop: upperKop, LowerLvlKop: lowerKop,
		UpperCount: upperCount, LowerCount: lowerCount,
	}
	if c.devices.Dispenser != nil {
		if st, err := c.devices.Dispenser.Status(); err == nil {
			out.Sensors = st
		}
	}
	return out, nil
}

// SetBillDispenserLvl implements set_bill_dispenser_lvl.
func (c *Coordinator) SetBillDispenserLvl(ctx context.Context, upperKop, lowerKop int64) error {
	return c.store.SetDispenserLevels(ctx, upperKop, lowerKop)
}

// SetBillDispenserCount implements set_bill_dispenser_count.
func (c *Coordinator) SetBillDispenserCount(ctx context.Context, upper, lower uint32) error {
	return c.store.SetDispenserCounts(ctx, upper, lower)
}

// ResetBillDispenserCount implements bill_dispenser_reset_bill_count.
func (c *Coordinator) ResetBillDispenserCount(ctx context.Context) error {
	return c.store.SetDispenserCounts(ctx, 0, 0)
}

// CoinSystemStatus reports coin acceptor and hopper connectivity for
// coin_system_status.
type CoinSystemStatus struct {
	AcceptorConnected bool
	HopperConnected   bool
}

func (c *Coordinator) CoinSystemStatus() CoinSystemStatus {
	return CoinSystemStatus{
		AcceptorConnected: c.connected["coin_acceptor"],
		HopperConnected:   c.connected["coin_hopper"],
	}
}

// AddCoinCount implements coin_system_add_coin_count: tells the hopper it
// now holds count additional coins of denominationKop, for after a manual
// till top-up.
func (c *Coordinator) AddCoinCount(ctx context.Context, count int, denominationKop int64) error {
	if c.devices.Hopper == nil {
		return errs.New(errs.KindPrecondition, "coordinator.AddCoinCount", fmt.Errorf("coin hopper not connected"))
	}
	return c.devices.Hopper.SetDenominationLevel(count, denominationKop, "RU")
}

// CashCollection implements coin_system_cash_collection: runs the
// hopper's smart-empty cycle for a manual cash pull.
func (c *Coordinator) CashCollection() error {
	if c.devices.Hopper == nil {
		return errs.New(errs.KindPrecondition, "coordinator.CashCollection", fmt.Errorf("coin hopper not connected"))
	}
	return c.devices.Hopper.Empty()
}

// TestDispenseChange implements test_dispense_change: runs a dry-run motor
// cycle on the requested subsystems without releasing value, used to
// verify wiring during deployment.
func (c *Coordinator) TestDispenseChange(ctx context.Context, isBill, isCoin bool) error {
	if isBill && c.devices.Dispenser != nil {
		if err := c.devices.Dispenser.TestUpperDispense(1); err != nil {
			return err
		}
	}
	if isCoin && c.devices.Hopper != nil {
		if err := c.devices.Hopper.PayoutAmount(100, "RU", true); err != nil {
			return err
		}
	}
	return nil
}
