package contract

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrUnknownSymbol    = errors.New("unknown symbol")
	ErrNoActiveContract = errors.New("no active contract")
)

// Contract is a resolved, tradable broker contract.
type Contract struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	SymbolID    string          `json:"symbolId"`
	TickSize    decimal.Decimal `json:"tickSize"`
	TickValue   decimal.Decimal `json:"tickValue"`
	Active      bool            `json:"active"`
	ResolvedAt  time.Time       `json:"resolvedAt"`
}

// Config holds resolver configuration.
type Config struct {
	TTL     time.Duration     // How long a resolved contract is reused
	Symbols map[string]string // User symbol -> broker symbol id
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:     time.Hour,
		Symbols: DefaultSymbols(),
	}
}

// DefaultSymbols returns the built-in futures symbol table.
func DefaultSymbols() map[string]string {
	return map[string]string{
		"ES":  "F.US.EP",
		"MES": "F.US.MES",
		"NQ":  "F.US.ENQ",
		"MNQ": "F.US.MNQ",
		"YM":  "F.US.YM",
		"MYM": "F.US.MYM",
		"RTY": "F.US.RTY",
		"M2K": "F.US.M2K",
		"CL":  "F.US.CLE",
		"MCL": "F.US.MCLE",
		"GC":  "F.US.GCE",
		"MGC": "F.US.MGC",
	}
}

// cacheKey scopes a cached contract to one credential.
type cacheKey struct {
	symbol     string
	live       bool
	credential string
}
