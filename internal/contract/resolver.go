// Package contract resolves user-facing futures symbols to the broker's
// currently active contract ids.
package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/solvys-technologies/pulse-sub000/internal/auth"
	"github.com/solvys-technologies/pulse-sub000/internal/broker"
	"github.com/solvys-technologies/pulse-sub000/internal/metrics"
)

// Searcher searches the broker's contract catalogue.
type Searcher interface {
	SearchContracts(ctx context.Context, tokens auth.TokenProvider, searchText string, live bool) ([]broker.APIContract, error)
}

// TokenBinder hands out credential-scoped token providers.
type TokenBinder interface {
	Bind(cred auth.Credential) auth.TokenProvider
}

// Resolver maps symbols to active contracts with a per-credential TTL cache.
type Resolver struct {
	cfg     Config
	search  Searcher
	tokens  TokenBinder
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.RWMutex
	cache map[cacheKey]Contract
}

// NewResolver creates a new Resolver.
func NewResolver(cfg Config, search Searcher, tokens TokenBinder, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New("")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}

	symbols := make(map[string]string, len(cfg.Symbols))
	for sym, id := range cfg.Symbols {
		symbols[strings.ToUpper(sym)] = id
	}
	if len(symbols) == 0 {
		symbols = DefaultSymbols()
	}
	cfg.Symbols = symbols

	return &Resolver{
		cfg:     cfg,
		search:  search,
		tokens:  tokens,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		cache:   make(map[cacheKey]Contract),
	}
}

// SymbolID returns the broker symbol id for a user symbol.
func (r *Resolver) SymbolID(symbol string) (string, bool) {
	id, ok := r.cfg.Symbols[strings.ToUpper(strings.TrimSpace(symbol))]
	return id, ok
}

// Resolve returns the active contract for symbol as seen by cred.
func (r *Resolver) Resolve(ctx context.Context, symbol string, live bool, cred auth.Credential) (Contract, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	symbolID, ok := r.cfg.Symbols[symbol]
	if !ok {
		return Contract{}, fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
	}

	key := cacheKey{symbol: symbol, live: live, credential: cred.Identity()}
	if c, ok := r.lookup(key); ok {
		r.metrics.ContractLookups.WithLabelValues("hit").Inc()
		return c, nil
	}
	r.metrics.ContractLookups.WithLabelValues("miss").Inc()

	tokens := r.tokens.Bind(cred)
	contracts, err := r.search.SearchContracts(ctx, tokens, symbol, live)
	if errors.Is(err, broker.ErrUnauthorized) {
		// Token was invalidated by the client; one fresh attempt.
		contracts, err = r.search.SearchContracts(ctx, tokens, symbol, live)
	}
	if err != nil {
		return Contract{}, fmt.Errorf("resolve %s: %w", symbol, err)
	}

	var matches []broker.APIContract
	for _, c := range contracts {
		if c.SymbolID == symbolID && c.ActiveContract {
			matches = append(matches, c)
		}
	}

	if len(matches) == 0 {
		return Contract{}, fmt.Errorf("%w for %s (%s)", ErrNoActiveContract, symbol, symbolID)
	}
	if len(matches) > 1 {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		r.logger.Warn("multiple active contracts match symbol, using first",
			"symbol", symbol,
			"symbol_id", symbolID,
			"contracts", ids,
		)
	}

	resolved := fromAPI(matches[0], r.now())

	r.mu.Lock()
	r.cache[key] = resolved
	r.mu.Unlock()

	r.logger.Debug("contract resolved",
		"symbol", symbol,
		"live", live,
		"contract_id", resolved.ID,
		"credential", cred,
	)

	return resolved, nil
}

// Clear drops every cached contract.
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.cache = make(map[cacheKey]Contract)
	r.mu.Unlock()
}

// Len returns the number of cached contracts.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Resolver) lookup(key cacheKey) (Contract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.cache[key]
	if !ok || r.now().Sub(c.ResolvedAt) >= r.cfg.TTL {
		return Contract{}, false
	}
	return c, true
}

func fromAPI(c broker.APIContract, resolvedAt time.Time) Contract {
	return Contract{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		SymbolID:    c.SymbolID,
		TickSize:    c.TickSize,
		TickValue:   c.TickValue,
		Active:      c.ActiveContract,
		ResolvedAt:  resolvedAt,
	}
}
