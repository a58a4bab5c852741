package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTimestamp_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339 with offset", `"2025-03-14T13:30:00.5+00:00"`, time.Date(2025, 3, 14, 13, 30, 0, 500000000, time.UTC), false},
		{"rfc3339 zulu", `"2025-03-14T13:30:00Z"`, time.Date(2025, 3, 14, 13, 30, 0, 0, time.UTC), false},
		{"no zone", `"2025-03-14T13:30:00.123"`, time.Date(2025, 3, 14, 13, 30, 0, 123000000, time.UTC), false},
		{"null", `null`, time.Time{}, false},
		{"empty", `""`, time.Time{}, false},
		{"garbage", `"yesterday"`, time.Time{}, true},
		{"not a string", `12345`, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			err := json.Unmarshal([]byte(tt.input), &ts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !ts.Equal(tt.want) {
				t.Errorf("Timestamp = %v, want %v", ts.Time, tt.want)
			}
		})
	}
}

func TestTimestamp_MarshalJSON(t *testing.T) {
	ts := Timestamp{time.Date(2025, 3, 14, 13, 30, 0, 0, time.UTC)}
	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `"2025-03-14T13:30:00Z"` {
		t.Errorf("Marshal = %s", data)
	}

	data, _ = json.Marshal(Timestamp{})
	if string(data) != "null" {
		t.Errorf("zero Marshal = %s, want null", data)
	}
}

func TestPayload_Validate(t *testing.T) {
	price := decimal.RequireFromString("5012.25")

	tests := []struct {
		name    string
		payload Payload
		valid   bool
	}{
		{"quote", Quote{BestBid: price, BestAsk: price}, true},
		{"quote negative bid", Quote{BestBid: price.Neg()}, false},
		{"depth", DepthUpdate{Levels: []DepthLevel{{Price: price, Volume: 3}}}, true},
		{"depth empty", DepthUpdate{}, false},
		{"trades", TradeBatch{Trades: []TradeTick{{Price: price, Volume: 1}}}, true},
		{"trades zero price", TradeBatch{Trades: []TradeTick{{Volume: 1}}}, false},
		{"account", AccountUpdate{ID: 42}, true},
		{"account missing id", AccountUpdate{}, false},
		{"order", OrderUpdate{ID: 1, AccountID: 42, ContractID: "CON.F.US.EP.M25"}, true},
		{"order missing contract", OrderUpdate{ID: 1, AccountID: 42}, false},
		{"position", PositionUpdate{AccountID: 42, ContractID: "CON.F.US.EP.M25"}, true},
		{"position missing account", PositionUpdate{ContractID: "CON.F.US.EP.M25"}, false},
		{"user trade", UserTrade{ID: 9, AccountID: 42, ContractID: "CON.F.US.EP.M25"}, true},
		{"user trade missing id", UserTrade{AccountID: 42, ContractID: "CON.F.US.EP.M25"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("Validate() = %v, want ErrInvalidEvent", err)
			}
		})
	}
}

func TestOrderUpdate_NullablePrices(t *testing.T) {
	var o OrderUpdate
	raw := `{"id":7,"accountId":42,"contractId":"CON.F.US.EP.M25","status":1,"type":1,"side":0,"size":2,"limitPrice":5010.5,"stopPrice":null}`
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !o.LimitPrice.Valid || o.LimitPrice.Decimal.String() != "5010.5" {
		t.Errorf("LimitPrice = %+v", o.LimitPrice)
	}
	if o.StopPrice.Valid {
		t.Errorf("StopPrice should be null, got %+v", o.StopPrice)
	}
}
