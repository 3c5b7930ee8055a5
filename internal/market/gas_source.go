package market

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/params"

	"github.com/magickw/linkDAO-sub011/internal/config"
	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/logging"
	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

// GasFeeSource produces a gas estimate for a chain.
type GasFeeSource interface {
	Estimate(ctx context.Context, chain types.ChainID) (*models.GasEstimate, error)
	Name() string
}

const (
	// blockTimeWindow is how many blocks back to look when measuring the
	// average block time.
	blockTimeWindow = 16
	// defaultBlockTime is used when the window cannot be measured
	defaultBlockTime = 12.0

	primaryConfidence  = 0.95
	failoverConfidence = 0.8
)

// EVMGasSource reads gas prices and block times from per-chain RPC pools.
type EVMGasSource struct {
	pools    map[types.ChainID]*RPCPool
	gasLimit uint64
	timeout  time.Duration
	logger   *logging.Logger
}

// NewEVMGasSource builds one RPC pool per enabled chain that has a primary
// endpoint configured. Chains without endpoints are simply absent; the
// snapshot service falls back to configured gas for them.
func NewEVMGasSource(cfg *config.Config) (*EVMGasSource, error) {
	pools := make(map[types.ChainID]*RPCPool)

	for _, name := range cfg.Chains.Enabled {
		chainCfg, ok := cfg.Chains.Chains[name]
		if !ok || chainCfg.RPCPrimary == "" {
			continue
		}

		endpoints := []string{chainCfg.RPCPrimary}
		if chainCfg.RPCSecondary != "" {
			endpoints = append(endpoints, chainCfg.RPCSecondary)
		}

		pool, err := NewRPCPool(&RPCPoolConfig{
			Chain:     name,
			Endpoints: endpoints,
		})
		if err != nil {
			return nil, err
		}
		pools[types.ChainID(name)] = pool
	}

	return &EVMGasSource{
		pools:    pools,
		gasLimit: cfg.Market.TransferGasLimit,
		timeout:  cfg.Market.GasTimeout,
		logger:   logging.GetGlobalLogger().WithField("component", "gas_source"),
	}, nil
}

// Name identifies this source in samples and logs
func (s *EVMGasSource) Name() string {
	return "evm-rpc"
}

// Chains returns the chains this source can estimate for
func (s *EVMGasSource) Chains() []types.ChainID {
	chains := make([]types.ChainID, 0, len(s.pools))
	for chain := range s.pools {
		chains = append(chains, chain)
	}
	return chains
}

// Estimate fetches the suggested gas price and measured block time for a
// chain. On an endpoint failure it fails over once and retries before
// reporting a provider error.
func (s *EVMGasSource) Estimate(ctx context.Context, chain types.ChainID) (*models.GasEstimate, error) {
	pool, ok := s.pools[chain]
	if !ok {
		return nil, apperrors.NewNotFoundError("gas source", string(chain))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	estimate, err := s.read(ctx, pool, chain)
	if err != nil {
		s.logger.WithError(err).WithField("chain", chain).Warn("Gas estimate failed, trying failover")
		if failErr := pool.OnFailure(); failErr != nil {
			return nil, apperrors.NewProviderError(s.Name(), err)
		}
		estimate, err = s.read(ctx, pool, chain)
		if err != nil {
			return nil, apperrors.NewProviderError(s.Name(), err)
		}
	}

	return estimate, nil
}

func (s *EVMGasSource) read(ctx context.Context, pool *RPCPool, chain types.ChainID) (*models.GasEstimate, error) {
	client := pool.GetClient()

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	latest, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}

	blockTime := defaultBlockTime
	if latest.Number.Uint64() > blockTimeWindow {
		prevNum := new(big.Int).Sub(latest.Number, big.NewInt(blockTimeWindow))
		prev, err := client.HeaderByNumber(ctx, prevNum)
		if err == nil && latest.Time > prev.Time {
			blockTime = float64(latest.Time-prev.Time) / blockTimeWindow
		}
	}

	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(gasPrice), big.NewFloat(params.GWei)).Float64()

	confidence := primaryConfidence
	if !pool.OnPrimary() {
		confidence = failoverConfidence
	}

	return &models.GasEstimate{
		Chain:            chain,
		GasPriceGwei:     gwei,
		GasLimit:         s.gasLimit,
		BlockTimeSeconds: blockTime,
		Confidence:       confidence,
		Source:           s.Name(),
		AsOf:             time.Now().UTC(),
	}, nil
}

// Close closes all RPC pools
func (s *EVMGasSource) Close() {
	for _, pool := range s.pools {
		pool.Close()
	}
}
