package models

import (
	"time"

	"github.com/magickw/linkDAO-sub011/internal/types"
)

// GasEstimate is the raw output of a gas fee source for one chain.
type GasEstimate struct {
	Chain            types.ChainID `json:"chain"`
	GasPriceGwei     float64       `json:"gasPriceGwei"`
	GasLimit         uint64        `json:"gasLimit"`
	BlockTimeSeconds float64       `json:"blockTimeSeconds"`
	Confidence       float64       `json:"confidence"`
	Source           string        `json:"source"`
	AsOf             time.Time     `json:"asOf"`
}

// ExchangeRate represents a conversion rate between two assets.
type ExchangeRate struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Rate       float64   `json:"rate"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	AsOf       time.Time `json:"asOf"`
}

// GasConditions is the per-chain gas state inside a market snapshot,
// with the fee already converted to USD for a standard transfer.
type GasConditions struct {
	GasFeeUSD        float64                 `json:"gasFeeUsd"`
	BlockTimeSeconds float64                 `json:"blockTimeSeconds"`
	Congestion       types.NetworkCongestion `json:"congestion"`
	Confidence       float64                 `json:"confidence"`
	AsOf             time.Time               `json:"asOf"`
}

// MarketConditions is a point-in-time snapshot of the market state scoring
// runs against. Snapshots are never mutated after construction.
type MarketConditions struct {
	Gas       map[types.ChainID]*GasConditions `json:"gas"`
	Rates     []ExchangeRate                   `json:"rates"`
	NetworkUp map[types.ChainID]bool           `json:"networkUp"`
	AsOf      time.Time                        `json:"asOf"`
}

// GasFor returns the gas conditions for a chain, if the snapshot has them.
func (m *MarketConditions) GasFor(chain types.ChainID) (*GasConditions, bool) {
	g, ok := m.Gas[chain]
	return g, ok && g != nil
}

// RateFor returns the exchange rate for a pair, if the snapshot has it.
func (m *MarketConditions) RateFor(from, to string) (*ExchangeRate, bool) {
	for i := range m.Rates {
		if m.Rates[i].From == from && m.Rates[i].To == to {
			return &m.Rates[i], true
		}
	}
	return nil, false
}

// Up reports whether the chain was reachable when the snapshot was taken.
func (m *MarketConditions) Up(chain types.ChainID) bool {
	up, ok := m.NetworkUp[chain]
	return ok && up
}
