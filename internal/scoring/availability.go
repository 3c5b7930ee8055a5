package scoring

import (
	"fmt"
	"strings"

	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

// defaultTokens holds the stablecoin listings per supported chain.
var defaultTokens = map[types.ChainID]map[types.MethodType]models.TokenDescriptor{
	types.ChainEthereum: {
		types.MethodStablecoinUSDC: {Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6},
		types.MethodStablecoinUSDT: {Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Symbol: "USDT", Decimals: 6},
	},
	types.ChainPolygon: {
		types.MethodStablecoinUSDC: {Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Symbol: "USDC", Decimals: 6},
		types.MethodStablecoinUSDT: {Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Symbol: "USDT", Decimals: 6},
	},
	types.ChainArbitrum: {
		types.MethodStablecoinUSDC: {Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Symbol: "USDC", Decimals: 6},
		types.MethodStablecoinUSDT: {Address: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", Symbol: "USDT", Decimals: 6},
	},
	types.ChainOptimism: {
		types.MethodStablecoinUSDC: {Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Symbol: "USDC", Decimals: 6},
		types.MethodStablecoinUSDT: {Address: "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58", Symbol: "USDT", Decimals: 6},
	},
	types.ChainBase: {
		types.MethodStablecoinUSDC: {Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6},
		types.MethodStablecoinUSDT: {Address: "0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2", Symbol: "USDT", Decimals: 6},
	},
}

// AvailabilityChecker synthesizes the candidate method list for a context.
type AvailabilityChecker struct {
	tokens map[types.ChainID]map[types.MethodType]models.TokenDescriptor
}

// NewAvailabilityChecker creates a checker over the default token listings.
func NewAvailabilityChecker() *AvailabilityChecker {
	return &AvailabilityChecker{tokens: defaultTokens}
}

// AvailableMethods builds the candidate list for a context: the stablecoins
// listed on the context chain, the chain's native token, and fiat card.
// When the context chain is down, stablecoins on other reachable chains are
// offered instead so the buyer can switch networks; fiat is always offered.
func (c *AvailabilityChecker) AvailableMethods(pctx *models.PaymentContext) []models.PaymentMethod {
	var methods []models.PaymentMethod

	if pctx.Market != nil && pctx.Market.Up(pctx.Chain) {
		methods = append(methods, c.chainMethods(pctx.Chain)...)
	} else if pctx.Market != nil {
		for chain := range c.tokens {
			if chain == pctx.Chain || !pctx.Market.Up(chain) {
				continue
			}
			methods = append(methods, c.stablecoinMethods(chain)...)
		}
	}

	methods = append(methods, models.PaymentMethod{
		ID:   "fiat-card",
		Type: types.MethodFiatCard,
	})

	return methods
}

// chainMethods lists every on-chain method for one chain.
func (c *AvailabilityChecker) chainMethods(chain types.ChainID) []models.PaymentMethod {
	methods := c.stablecoinMethods(chain)

	native := chain.NativeSymbol()
	methods = append(methods, models.PaymentMethod{
		ID:    fmt.Sprintf("native-%s", chain),
		Type:  types.MethodNativeToken,
		Chain: &chain,
		Token: &models.TokenDescriptor{Symbol: native, Decimals: 18},
	})

	return methods
}

// stablecoinMethods lists the stablecoins listed on one chain.
func (c *AvailabilityChecker) stablecoinMethods(chain types.ChainID) []models.PaymentMethod {
	listings, ok := c.tokens[chain]
	if !ok {
		return nil
	}

	var methods []models.PaymentMethod
	for _, methodType := range []types.MethodType{types.MethodStablecoinUSDC, types.MethodStablecoinUSDT} {
		token, listed := listings[methodType]
		if !listed {
			continue
		}
		tokenCopy := token
		chainCopy := chain
		methods = append(methods, models.PaymentMethod{
			ID:    fmt.Sprintf("%s-%s", strings.ToLower(token.Symbol), chain),
			Type:  methodType,
			Chain: &chainCopy,
			Token: &tokenCopy,
		})
	}

	return methods
}
