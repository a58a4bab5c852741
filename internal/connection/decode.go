package connection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solvys-technologies/pulse-sub000/internal/model"
)

// Hub event targets.
const (
	TargetQuote        = "GatewayQuote"
	TargetTrade        = "GatewayTrade"
	TargetDepth        = "GatewayDepth"
	TargetUserAccount  = "GatewayUserAccount"
	TargetUserOrder    = "GatewayUserOrder"
	TargetUserPosition = "GatewayUserPosition"
	TargetUserTrade    = "GatewayUserTrade"
)

// ErrUnknownTarget is returned for invocations the client does not handle.
var ErrUnknownTarget = fmt.Errorf("%w: unknown hub target", model.ErrInvalidEvent)

// decodeEvent turns one hub invocation into a typed event. Market events
// carry (contractId, data); user events carry the data as the last argument.
func decodeEvent(target string, args []json.RawMessage, receivedAt time.Time) (model.Event, error) {
	ev := model.Event{ReceivedAt: receivedAt}

	switch target {
	case TargetQuote, TargetTrade, TargetDepth:
		if len(args) < 2 {
			return ev, fmt.Errorf("%w: %s expects 2 arguments, got %d", model.ErrInvalidEvent, target, len(args))
		}
		if err := json.Unmarshal(args[0], &ev.ContractID); err != nil || ev.ContractID == "" {
			return ev, fmt.Errorf("%w: %s contract id", model.ErrInvalidEvent, target)
		}
		data := args[1]

		switch target {
		case TargetQuote:
			var q model.Quote
			if err := json.Unmarshal(data, &q); err != nil {
				return ev, fmt.Errorf("%w: quote: %v", model.ErrInvalidEvent, err)
			}
			ev.Payload = q
		case TargetTrade:
			var batch model.TradeBatch
			if err := unmarshalList(data, &batch.Trades); err != nil {
				return ev, fmt.Errorf("%w: trade: %v", model.ErrInvalidEvent, err)
			}
			ev.Payload = batch
		case TargetDepth:
			var depth model.DepthUpdate
			if err := unmarshalList(data, &depth.Levels); err != nil {
				return ev, fmt.Errorf("%w: depth: %v", model.ErrInvalidEvent, err)
			}
			ev.Payload = depth
		}

	case TargetUserAccount, TargetUserOrder, TargetUserPosition, TargetUserTrade:
		if len(args) == 0 {
			return ev, fmt.Errorf("%w: %s has no arguments", model.ErrInvalidEvent, target)
		}
		data := args[len(args)-1]

		switch target {
		case TargetUserAccount:
			var a model.AccountUpdate
			if err := json.Unmarshal(data, &a); err != nil {
				return ev, fmt.Errorf("%w: account: %v", model.ErrInvalidEvent, err)
			}
			ev.AccountID = a.ID
			ev.Payload = a
		case TargetUserOrder:
			var o model.OrderUpdate
			if err := json.Unmarshal(data, &o); err != nil {
				return ev, fmt.Errorf("%w: order: %v", model.ErrInvalidEvent, err)
			}
			ev.AccountID, ev.ContractID = o.AccountID, o.ContractID
			ev.Payload = o
		case TargetUserPosition:
			var p model.PositionUpdate
			if err := json.Unmarshal(data, &p); err != nil {
				return ev, fmt.Errorf("%w: position: %v", model.ErrInvalidEvent, err)
			}
			ev.AccountID, ev.ContractID = p.AccountID, p.ContractID
			ev.Payload = p
		case TargetUserTrade:
			var t model.UserTrade
			if err := json.Unmarshal(data, &t); err != nil {
				return ev, fmt.Errorf("%w: user trade: %v", model.ErrInvalidEvent, err)
			}
			ev.AccountID, ev.ContractID = t.AccountID, t.ContractID
			ev.Payload = t
		}

	default:
		return ev, fmt.Errorf("%w %q", ErrUnknownTarget, target)
	}

	if err := ev.Payload.Validate(); err != nil {
		return ev, err
	}
	ev.Kind = ev.Payload.Kind()
	return ev, nil
}

// unmarshalList decodes either a JSON array or a single object into dst.
func unmarshalList[T any](data json.RawMessage, dst *[]T) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var one T
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return err
		}
		*dst = []T{one}
		return nil
	}
	return json.Unmarshal(trimmed, dst)
}
