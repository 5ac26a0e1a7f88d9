// Package api is the thin command-channel glue spec.md §6 describes: it
// decodes one named command's JSON payload, calls the matching
// coordinator operation, and encodes the uniform {command_id, success,
// message, data?} response. All decision logic lives in the coordinator;
// this package never touches a driver or the repository directly.
package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fs-technology-ru/cash-system/internal/coordinator"
)

// Response is the uniform shape every command returns.
type Response struct {
	CommandID string      `json:"command_id"`
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
}

func ok(commandID string, data interface{}) Response {
	return Response{CommandID: commandID, Success: true, Message: "ok", Data: data}
}

func fail(commandID string, err error) Response {
	return Response{CommandID: commandID, Success: false, Message: err.Error()}
}

// Router dispatches one command name to its coordinator call.
type Router struct {
	coord *coordinator.Coordinator
	log   zerolog.Logger
}

// New wires a Router to an already-constructed Coordinator.
func New(coord *coordinator.Coordinator, log zerolog.Logger) *Router {
	return &Router{coord: coord, log: log.With().Str("component", "api").Logger()}
}

// Dispatch decodes payload against commandID's expected shape and invokes
// the matching coordinator operation. Unknown command names return a
// failure response rather than an error, since spec.md §6 treats the
// response shape itself as part of the contract.
func (r *Router) Dispatch(ctx context.Context, commandID string, payload json.RawMessage) Response {
	switch commandID {
	case "init_devices":
		connected, allPresent, err := r.coord.InitDevices(ctx)
		if err != nil {
			return fail(commandID, err)
		}
		return ok(commandID, struct {
			Connected  []string `json:"connected"`
			AllPresent bool     `json:"all_present"`
		}{connected, allPresent})

	case "start_accepting_payment":
		var req struct {
			Amount int64 `json:"amount"`
		}
		if err := unmarshal(payload, &req); err != nil {
			return fail(commandID, err)
		}
		if err := r.coord.StartPayment(ctx, req.Amount); err != nil {
			return fail(commandID, err)
		}
		return ok(commandID, nil)

	case "stop_accepting_payment":
		collected := r.coord.StopPayment(ctx)
		return ok(commandID, struct {
			CollectedAmount int64 `json:"collected_amount"`
		}{collected})

	case "dispense_change":
		var req struct {
			Amount int64 `json:"amount"`
		}
		if err := unmarshal(payload, &req); err != nil {
			return fail(commandID, err)
		}
		report, err := r.coord.DispenseChange(ctx, req.Amount, false)
		if err != nil {
			return fail(commandID, err)
		}
		return ok(commandID, report)

	case "test_dispense_change":
		var req struct {
			IsBill bool `json:"is_bill"`
			IsCoin bool `json:"is_coin"`
		}
		if err := unmarshal(payload, &req); err != nil {
			return fail(commandID, err)
		}
		if err := r.coord.TestDispenseChange(ctx, req.IsBill, req.IsCoin); err != nil {
			return fail(commandID, err)
		}
		return ok(commandID, nil)

	case "bill_acceptor_set_max_bill_count":
		var req struct {
			Value uint32 `json:"value"`
		}
		if err := unmarshal(payload, &req); err != nil {
			return fail(commandID, err)
		}
		if err := r.coord.SetMaxBillCount(ctx, req.Value); err != nil {
			return fail(commandID, err)
		}
		return ok(commandID, nil)

	case "bill_acceptor_reset_bill_count":
		if err := r.coord.ResetBillCount(ctx); err != nil {
			return fail(commandID, err)
		}
		return ok(commandID, nil)

	case "bill_acceptor_status":
		status, err := r.coord.BillAcceptorStatus(ctx)
		if err != nil {
			return fail(commandID, err)
		}
		return ok(commandID, status)

	case "set_bill_dispenser_lvl":
		var req struct {
			UpperLvl int64 `json:"upper_lvl"`
			LowerLvl int64 `json:"lower_lvl"`
		}
		if err := unmarshal(payload, &req); err != nil {
			return fail(commandID, err)
		}
		if err := r.coord.SetBillDispenserLvl(ctx, req.UpperLvl, req.LowerLvl); err != nil {
			return fail(commandID, err)
		}
		return ok(commandID, nil)

	case "set_bill_dispenser_count":
		var req struct {
			UpperCount uint32 `json:"upper_count"`
			LowerCount uint32 `json:"lower_count"`
		}
		if err := unmarshal(payload, &req); err != nil {
			return fail(commandID, err)
		}
		if err := r.coord.SetBillDispenserCount(ctx, req.UpperCount, req.LowerCount); err != nil {
			return fail(commandID, err)
		}
		return ok(commandID, nil)

	case "bill_dispenser_status":
		status, err := r.coord.DispenserStatus(ctx)
		if err != nil {
			return fail(commandID, err)
		}
		return ok(commandID, status)

	case "bill_dispenser_reset_bill_count":
		if err := r.coord.ResetBillDispenserCount(ctx); err != nil {
			return fail(commandID, err)
		}
		return ok(commandID, nil)

	case "coin_system_add_coin_count":
		var req struct {
			Value       int   `json:"value"`
			Denomination int64 `json:"denomination"`
		}
		if err := unmarshal(payload, &req); err != nil {
			return fail(commandID, err)
		}
		if err := r.coord.AddCoinCount(ctx, req.Value, req.Denomination); err != nil {
			return fail(commandID, err)
		}
		return ok(commandID, nil)

	case "coin_system_status":
		return ok(commandID, r.coord.CoinSystemStatus())

	case "coin_system_cash_collection":
		if err := r.coord.CashCollection(); err != nil {
			return fail(commandID, err)
		}
		return ok(commandID, nil)

	default:
		return fail(commandID, fmt.Errorf("unknown command %q", commandID))
	}
}

func unmarshal(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}
