package connection

import (
	"fmt"
	"sort"
	"sync"
)

// TopicKind names a hub subscription family.
type TopicKind string

const (
	TopicQuotes       TopicKind = "quotes"
	TopicTrades       TopicKind = "trades"
	TopicDepth        TopicKind = "depth"
	TopicAccounts     TopicKind = "accounts"
	TopicOrders       TopicKind = "orders"
	TopicPositions    TopicKind = "positions"
	TopicAccountFills TopicKind = "account_trades"
)

// Topic is one hub subscription. Market topics carry a ContractID, user
// topics (except accounts) carry an AccountID.
type Topic struct {
	Kind       TopicKind `json:"kind"`
	ContractID string    `json:"contractId,omitempty"`
	AccountID  int64     `json:"accountId,omitempty"`
}

func ContractQuotes(contractID string) Topic { return Topic{Kind: TopicQuotes, ContractID: contractID} }
func ContractTrades(contractID string) Topic { return Topic{Kind: TopicTrades, ContractID: contractID} }
func ContractDepth(contractID string) Topic  { return Topic{Kind: TopicDepth, ContractID: contractID} }

// ContractTopics returns the market topics subscribed for one contract.
func ContractTopics(contractID string) []Topic {
	return []Topic{ContractQuotes(contractID), ContractTrades(contractID), ContractDepth(contractID)}
}

// AccountTopics returns the user topics subscribed for one account.
func AccountTopics(accountID int64) []Topic {
	return []Topic{
		{Kind: TopicAccounts},
		{Kind: TopicOrders, AccountID: accountID},
		{Kind: TopicPositions, AccountID: accountID},
		{Kind: TopicAccountFills, AccountID: accountID},
	}
}

var targets = map[TopicKind][2]string{
	TopicQuotes:       {"SubscribeContractQuotes", "UnsubscribeContractQuotes"},
	TopicTrades:       {"SubscribeContractTrades", "UnsubscribeContractTrades"},
	TopicDepth:        {"SubscribeContractMarketDepth", "UnsubscribeContractMarketDepth"},
	TopicAccounts:     {"SubscribeAccounts", "UnsubscribeAccounts"},
	TopicOrders:       {"SubscribeOrders", "UnsubscribeOrders"},
	TopicPositions:    {"SubscribePositions", "UnsubscribePositions"},
	TopicAccountFills: {"SubscribeTrades", "UnsubscribeTrades"},
}

// SubscribeTarget returns the hub method that subscribes t.
func (t Topic) SubscribeTarget() string { return targets[t.Kind][0] }

// UnsubscribeTarget returns the hub method that unsubscribes t.
func (t Topic) UnsubscribeTarget() string { return targets[t.Kind][1] }

// Args returns the invocation arguments for t.
func (t Topic) Args() []any {
	switch t.Kind {
	case TopicQuotes, TopicTrades, TopicDepth:
		return []any{t.ContractID}
	case TopicOrders, TopicPositions, TopicAccountFills:
		return []any{t.AccountID}
	default:
		return nil
	}
}

// Valid reports whether t names a known topic with its required identifier.
func (t Topic) Valid() bool {
	switch t.Kind {
	case TopicQuotes, TopicTrades, TopicDepth:
		return t.ContractID != ""
	case TopicOrders, TopicPositions, TopicAccountFills:
		return t.AccountID > 0
	case TopicAccounts:
		return true
	default:
		return false
	}
}

func (t Topic) String() string {
	switch {
	case t.ContractID != "":
		return fmt.Sprintf("%s:%s", t.Kind, t.ContractID)
	case t.AccountID != 0:
		return fmt.Sprintf("%s:%d", t.Kind, t.AccountID)
	default:
		return string(t.Kind)
	}
}

// SubscriptionRegistry is the desired subscription set for one stream.
// It survives disconnects and is replayed after every reconnect.
type SubscriptionRegistry struct {
	mu     sync.RWMutex
	topics map[Topic]struct{}
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{topics: make(map[Topic]struct{})}
}

// Add records t. Returns false if it was already present.
func (r *SubscriptionRegistry) Add(t Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[t]; ok {
		return false
	}
	r.topics[t] = struct{}{}
	return true
}

// Remove deletes t. Returns false if it was not present.
func (r *SubscriptionRegistry) Remove(t Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[t]; !ok {
		return false
	}
	delete(r.topics, t)
	return true
}

// Contains reports whether t is registered.
func (r *SubscriptionRegistry) Contains(t Topic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.topics[t]
	return ok
}

// Topics returns a sorted snapshot.
func (r *SubscriptionRegistry) Topics() []Topic {
	r.mu.RLock()
	out := make([]Topic, 0, len(r.topics))
	for t := range r.topics {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

// ContractIDs returns the distinct contracts with at least one market topic.
func (r *SubscriptionRegistry) ContractIDs() []string {
	r.mu.RLock()
	seen := make(map[string]struct{})
	for t := range r.topics {
		if t.ContractID != "" {
			seen[t.ContractID] = struct{}{}
		}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered topics.
func (r *SubscriptionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}
