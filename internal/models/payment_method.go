// Package models provides data models for the payment prioritization system.
package models

import (
	"github.com/magickw/linkDAO-sub011/internal/types"
)

// TokenDescriptor identifies an on-chain token
type TokenDescriptor struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// PaymentMethod represents a way the buyer can pay. Chain and Token are nil
// for fiat methods. Instances are immutable once listed for a context.
type PaymentMethod struct {
	ID    string           `json:"id"`
	Type  types.MethodType `json:"type"`
	Chain *types.ChainID   `json:"chain,omitempty"`
	Token *TokenDescriptor `json:"token,omitempty"`
}

// OnChain reports whether the method is bound to a specific chain.
func (m *PaymentMethod) OnChain() bool {
	return m.Chain != nil
}

// WalletBalance represents a buyer's balance for one token on one chain,
// denominated in USD.
type WalletBalance struct {
	Chain      types.ChainID `json:"chain"`
	Symbol     string        `json:"symbol"`
	BalanceUSD float64       `json:"balanceUsd"`
}
