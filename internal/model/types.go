package model

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrInvalidEvent = errors.New("invalid event")
)

// EventKind tags the payload carried by an Event.
type EventKind string

const (
	KindQuote     EventKind = "quote"
	KindDepth     EventKind = "depth"
	KindTrade     EventKind = "trade"
	KindAccount   EventKind = "account"
	KindOrder     EventKind = "order"
	KindPosition  EventKind = "position"
	KindUserTrade EventKind = "user_trade"
)

// Payload is implemented by every typed event body.
type Payload interface {
	Kind() EventKind
	Validate() error
}

// Event is one decoded hub event.
type Event struct {
	Kind       EventKind
	ContractID string
	AccountID  int64
	Payload    Payload
	ReceivedAt time.Time
}

// Timestamp parses broker timestamps, which may omit the zone (assumed UTC).
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.UTC().Format(time.RFC3339Nano))), nil
}

// Quote is a top-of-book and session statistics update (GatewayQuote).
type Quote struct {
	Symbol        string          `json:"symbol"`
	SymbolName    string          `json:"symbolName"`
	LastPrice     decimal.Decimal `json:"lastPrice"`
	BestBid       decimal.Decimal `json:"bestBid"`
	BestAsk       decimal.Decimal `json:"bestAsk"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Volume        int64           `json:"volume"`
	LastUpdated   Timestamp       `json:"lastUpdated"`
	Timestamp     Timestamp       `json:"timestamp"`
}

func (Quote) Kind() EventKind { return KindQuote }

func (q Quote) Validate() error {
	if q.BestBid.IsNegative() || q.BestAsk.IsNegative() {
		return fmt.Errorf("%w: negative quote price", ErrInvalidEvent)
	}
	return nil
}

// DepthLevel is one order book level change.
type DepthLevel struct {
	Timestamp     Timestamp       `json:"timestamp"`
	Type          int             `json:"type"`
	Price         decimal.Decimal `json:"price"`
	Volume        int64           `json:"volume"`
	CurrentVolume int64           `json:"currentVolume"`
}

// DepthUpdate is a batch of depth levels (GatewayDepth).
type DepthUpdate struct {
	Levels []DepthLevel `json:"levels"`
}

func (DepthUpdate) Kind() EventKind { return KindDepth }

func (d DepthUpdate) Validate() error {
	if len(d.Levels) == 0 {
		return fmt.Errorf("%w: empty depth update", ErrInvalidEvent)
	}
	return nil
}

// TradeTick is one market trade print.
type TradeTick struct {
	SymbolID  string          `json:"symbolId"`
	Price     decimal.Decimal `json:"price"`
	Timestamp Timestamp       `json:"timestamp"`
	Type      int             `json:"type"` // 0 buy, 1 sell aggressor
	Volume    int64           `json:"volume"`
}

// TradeBatch is a batch of market trades (GatewayTrade).
type TradeBatch struct {
	Trades []TradeTick `json:"trades"`
}

func (TradeBatch) Kind() EventKind { return KindTrade }

func (b TradeBatch) Validate() error {
	if len(b.Trades) == 0 {
		return fmt.Errorf("%w: empty trade batch", ErrInvalidEvent)
	}
	for _, t := range b.Trades {
		if !t.Price.IsPositive() {
			return fmt.Errorf("%w: trade price %s", ErrInvalidEvent, t.Price)
		}
	}
	return nil
}

// AccountUpdate is an account balance/status change (GatewayUserAccount).
type AccountUpdate struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	CanTrade  bool            `json:"canTrade"`
	IsVisible bool            `json:"isVisible"`
	Simulated bool            `json:"simulated"`
}

func (AccountUpdate) Kind() EventKind { return KindAccount }

func (a AccountUpdate) Validate() error {
	if a.ID <= 0 {
		return fmt.Errorf("%w: account id missing", ErrInvalidEvent)
	}
	return nil
}

// OrderUpdate is an order status change (GatewayUserOrder).
type OrderUpdate struct {
	ID                int64               `json:"id"`
	AccountID         int64               `json:"accountId"`
	ContractID        string              `json:"contractId"`
	CreationTimestamp Timestamp           `json:"creationTimestamp"`
	UpdateTimestamp   Timestamp           `json:"updateTimestamp"`
	Status            int                 `json:"status"`
	Type              int                 `json:"type"`
	Side              int                 `json:"side"`
	Size              int64               `json:"size"`
	LimitPrice        decimal.NullDecimal `json:"limitPrice"`
	StopPrice         decimal.NullDecimal `json:"stopPrice"`
	FillVolume        int64               `json:"fillVolume"`
	FilledPrice       decimal.NullDecimal `json:"filledPrice"`
}

func (OrderUpdate) Kind() EventKind { return KindOrder }

func (o OrderUpdate) Validate() error {
	if o.ID <= 0 || o.AccountID <= 0 || o.ContractID == "" {
		return fmt.Errorf("%w: order requires id, accountId and contractId", ErrInvalidEvent)
	}
	return nil
}

// PositionUpdate is an open position change (GatewayUserPosition).
type PositionUpdate struct {
	ID                int64           `json:"id"`
	AccountID         int64           `json:"accountId"`
	ContractID        string          `json:"contractId"`
	CreationTimestamp Timestamp       `json:"creationTimestamp"`
	Type              int             `json:"type"` // 1 long, 2 short
	Size              int64           `json:"size"`
	AveragePrice      decimal.Decimal `json:"averagePrice"`
}

func (PositionUpdate) Kind() EventKind { return KindPosition }

func (p PositionUpdate) Validate() error {
	if p.AccountID <= 0 || p.ContractID == "" {
		return fmt.Errorf("%w: position requires accountId and contractId", ErrInvalidEvent)
	}
	return nil
}

// UserTrade is a fill on the user's account (GatewayUserTrade).
type UserTrade struct {
	ID                int64               `json:"id"`
	AccountID         int64               `json:"accountId"`
	ContractID        string              `json:"contractId"`
	CreationTimestamp Timestamp           `json:"creationTimestamp"`
	Price             decimal.Decimal     `json:"price"`
	ProfitAndLoss     decimal.NullDecimal `json:"profitAndLoss"`
	Fees              decimal.Decimal     `json:"fees"`
	Side              int                 `json:"side"`
	Size              int64               `json:"size"`
	Voided            bool                `json:"voided"`
	OrderID           int64               `json:"orderId"`
}

func (UserTrade) Kind() EventKind { return KindUserTrade }

func (u UserTrade) Validate() error {
	if u.ID <= 0 || u.AccountID <= 0 || u.ContractID == "" {
		return fmt.Errorf("%w: trade requires id, accountId and contractId", ErrInvalidEvent)
	}
	return nil
}

// SessionEventKind tags a session lifecycle record.
type SessionEventKind string

const (
	SessionStarted    SessionEventKind = "started"
	SessionStopped    SessionEventKind = "stopped"
	SessionEvicted    SessionEventKind = "evicted"
	SessionTerminated SessionEventKind = "terminated"
)

// SessionEvent is a lifecycle record written to the session journal.
type SessionEvent struct {
	SessionID string
	UserID    string
	AccountID int64
	Kind      SessionEventKind
	Detail    string
	At        time.Time
}
