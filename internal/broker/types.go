package broker

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrUnauthorized    = errors.New("broker rejected bearer token")
	ErrRequestRejected = errors.New("broker rejected request")
)

// LoginKeyRequest is the body of POST /api/Auth/loginKey.
type LoginKeyRequest struct {
	UserName string `json:"userName"`
	APIKey   string `json:"apiKey"`
}

// LoginResponse from POST /api/Auth/loginKey.
type LoginResponse struct {
	Token string `json:"token"`
	envelope
}

// ContractSearchRequest is the body of POST /api/Contract/search.
type ContractSearchRequest struct {
	Live       bool   `json:"live"`
	SearchText string `json:"searchText"`
}

// ContractSearchResponse from POST /api/Contract/search.
type ContractSearchResponse struct {
	Contracts []APIContract `json:"contracts"`
	envelope
}

// APIContract represents a contract from the broker API.
type APIContract struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	TickSize       decimal.Decimal `json:"tickSize"`
	TickValue      decimal.Decimal `json:"tickValue"`
	ActiveContract bool            `json:"activeContract"`
	SymbolID       string          `json:"symbolId"`
}

// AccountSearchRequest is the body of POST /api/Account/search.
type AccountSearchRequest struct {
	OnlyActiveAccounts bool `json:"onlyActiveAccounts"`
}

// AccountSearchResponse from POST /api/Account/search.
type AccountSearchResponse struct {
	Accounts []APIAccount `json:"accounts"`
	envelope
}

// APIAccount represents a trading account from the broker API.
type APIAccount struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	CanTrade  bool            `json:"canTrade"`
	IsVisible bool            `json:"isVisible"`
	Simulated bool            `json:"simulated"`
}

// envelope carries the status fields present on every gateway response.
type envelope struct {
	Success      bool    `json:"success"`
	ErrorCode    int     `json:"errorCode"`
	ErrorMessage *string `json:"errorMessage"`
}

func (e envelope) message() string {
	if e.ErrorMessage == nil {
		return ""
	}
	return *e.ErrorMessage
}
