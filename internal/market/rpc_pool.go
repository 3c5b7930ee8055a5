// Package market supplies the live inputs to cost estimation: per-chain gas
// conditions from EVM RPC endpoints, exchange rates from the rate API, and
// the assembled MarketConditions snapshot the scoring engine consumes.
package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/magickw/linkDAO-sub011/internal/logging"
)

// RPCPool manages a chain's RPC endpoints with failover.
// Strategy: stick to the current endpoint until it errors, then switch to
// the next one not in cooldown.
type RPCPool struct {
	chain        string
	endpoints    []string
	clients      []*ethclient.Client
	currentIndex int
	mu           sync.RWMutex
	cooldowns    map[int]time.Time
	cooldownTime time.Duration
	logger       *logging.Logger
}

// RPCPoolConfig holds configuration for creating an RPC pool
type RPCPoolConfig struct {
	// Chain names the chain this pool serves, for logs
	Chain string
	// Endpoints in preference order; the first is the primary
	Endpoints []string
	// CooldownTime is how long a failed endpoint sits out before retry.
	// Default: 60 seconds.
	CooldownTime time.Duration
}

// NewRPCPool creates a new RPC pool. Only the primary endpoint is dialed
// eagerly; the rest connect on first use.
func NewRPCPool(cfg *RPCPoolConfig) (*RPCPool, error) {
	if cfg == nil || len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}

	cooldownTime := cfg.CooldownTime
	if cooldownTime == 0 {
		cooldownTime = 60 * time.Second
	}

	pool := &RPCPool{
		chain:        cfg.Chain,
		endpoints:    cfg.Endpoints,
		clients:      make([]*ethclient.Client, len(cfg.Endpoints)),
		currentIndex: 0,
		cooldowns:    make(map[int]time.Time),
		cooldownTime: cooldownTime,
		logger:       logging.GetGlobalLogger().WithFields(map[string]interface{}{"component": "rpc_pool", "chain": cfg.Chain}),
	}

	client, err := ethclient.Dial(cfg.Endpoints[0])
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary RPC endpoint: %w", err)
	}
	pool.clients[0] = client

	return pool, nil
}

// GetClient returns the current active client
func (p *RPCPool) GetClient() *ethclient.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.clients[p.currentIndex]
}

// OnPrimary reports whether the pool is serving from its primary endpoint
func (p *RPCPool) OnPrimary() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.currentIndex == 0
}

// EndpointCount returns the number of endpoints in the pool
func (p *RPCPool) EndpointCount() int {
	return len(p.endpoints)
}

// OnFailure marks the current endpoint as failed and switches to the next
// endpoint not in cooldown. Returns an error when every endpoint is cooling
// down.
func (p *RPCPool) OnFailure() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cooldowns[p.currentIndex] = time.Now()
	failedIndex := p.currentIndex

	for i := 0; i < len(p.endpoints); i++ {
		nextIndex := (p.currentIndex + 1 + i) % len(p.endpoints)

		if markedAt, exists := p.cooldowns[nextIndex]; exists {
			if time.Since(markedAt) < p.cooldownTime {
				continue
			}
			delete(p.cooldowns, nextIndex)
		}

		if err := p.switchToEndpoint(nextIndex); err != nil {
			p.logger.WithError(err).WithField("endpoint", nextIndex).Warn("Failed to switch RPC endpoint")
			continue
		}

		p.logger.WithFields(map[string]interface{}{
			"from": failedIndex,
			"to":   nextIndex,
		}).Info("Switched RPC endpoint")
		return nil
	}

	return fmt.Errorf("all %d RPC endpoints for %s are cooling down", len(p.endpoints), p.chain)
}

// switchToEndpoint switches to a specific endpoint (must hold lock)
func (p *RPCPool) switchToEndpoint(index int) error {
	if p.clients[index] == nil {
		client, err := ethclient.Dial(p.endpoints[index])
		if err != nil {
			return fmt.Errorf("failed to connect to endpoint %d: %w", index, err)
		}
		p.clients[index] = client
	}

	p.currentIndex = index
	return nil
}

// TryResetToPrimary attempts to switch back to the primary endpoint if its
// cooldown has expired. Call periodically to prefer the primary.
func (p *RPCPool) TryResetToPrimary() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentIndex == 0 {
		return true
	}

	if markedAt, exists := p.cooldowns[0]; exists {
		if time.Since(markedAt) < p.cooldownTime {
			return false
		}
		delete(p.cooldowns, 0)
	}

	if err := p.switchToEndpoint(0); err != nil {
		p.logger.WithError(err).Warn("Failed to reset to primary RPC endpoint")
		return false
	}

	p.logger.Info("Reset to primary RPC endpoint")
	return true
}

// Close closes all client connections
func (p *RPCPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, client := range p.clients {
		if client != nil {
			client.Close()
			p.clients[i] = nil
		}
	}
}
