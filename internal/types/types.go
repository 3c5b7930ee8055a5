// Package types provides common type definitions for the payment prioritization system.
package types

// MethodType identifies a payment method family
type MethodType string

const (
	// MethodStablecoinUSDC represents USDC stablecoin payment on an EVM chain
	MethodStablecoinUSDC MethodType = "stablecoin-usdc"
	// MethodStablecoinUSDT represents USDT stablecoin payment on an EVM chain
	MethodStablecoinUSDT MethodType = "stablecoin-usdt"
	// MethodNativeToken represents payment in a chain's native token (ETH, MATIC, etc.)
	MethodNativeToken MethodType = "native-token"
	// MethodFiatCard represents card payment through the fiat processor
	MethodFiatCard MethodType = "fiat-card"
)

// IsStablecoin reports whether the method settles in a USD-pegged token.
func (m MethodType) IsStablecoin() bool {
	return m == MethodStablecoinUSDC || m == MethodStablecoinUSDT
}

// IsCrypto reports whether the method settles on-chain.
func (m MethodType) IsCrypto() bool {
	return m == MethodStablecoinUSDC || m == MethodStablecoinUSDT || m == MethodNativeToken
}

// IsFiat reports whether the method settles through the card processor.
func (m MethodType) IsFiat() bool {
	return m == MethodFiatCard
}

// Valid reports whether the method type is one of the known families.
func (m MethodType) Valid() bool {
	return m.IsCrypto() || m.IsFiat()
}

// TokenSymbol returns the token symbol the method settles in on a chain.
// Fiat methods have no token and return an empty string.
func (m MethodType) TokenSymbol(chain ChainID) string {
	switch m {
	case MethodStablecoinUSDC:
		return "USDC"
	case MethodStablecoinUSDT:
		return "USDT"
	case MethodNativeToken:
		return chain.NativeSymbol()
	default:
		return ""
	}
}

// PaymentPath represents the settlement rail an order uses
type PaymentPath string

const (
	// PathCrypto represents settlement through the on-chain escrow contract
	PathCrypto PaymentPath = "crypto"
	// PathFiat represents settlement through the card processor
	PathFiat PaymentPath = "fiat"
)

// PathForMethod returns the settlement rail a method type routes to.
func PathForMethod(m MethodType) PaymentPath {
	if m.IsFiat() {
		return PathFiat
	}
	return PathCrypto
}

// ChainID represents supported blockchain networks
type ChainID string

const (
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum ChainID = "ethereum"
	// ChainPolygon represents the Polygon network
	ChainPolygon ChainID = "polygon"
	// ChainArbitrum represents the Arbitrum network
	ChainArbitrum ChainID = "arbitrum"
	// ChainOptimism represents the Optimism network
	ChainOptimism ChainID = "optimism"
	// ChainBase represents the Base network
	ChainBase ChainID = "base"
)

// NativeSymbol returns the chain's native token symbol.
func (c ChainID) NativeSymbol() string {
	switch c {
	case ChainPolygon:
		return "MATIC"
	default:
		return "ETH"
	}
}

// OrderStatus represents an order's position in the fulfillment lifecycle
type OrderStatus string

const (
	// OrderCreated represents an order that exists but has no payment activity
	OrderCreated OrderStatus = "created"
	// OrderPending represents an order awaiting payment initiation
	OrderPending OrderStatus = "pending"
	// OrderProcessing represents an order whose payment is being settled
	OrderProcessing OrderStatus = "processing"
	// OrderPaid represents an order with confirmed payment (escrow locked or card authorized)
	OrderPaid OrderStatus = "paid"
	// OrderShipped represents an order the seller has shipped
	OrderShipped OrderStatus = "shipped"
	// OrderDelivered represents an order the buyer has confirmed receiving
	OrderDelivered OrderStatus = "delivered"
	// OrderCompleted represents a finished order with funds released to the seller
	OrderCompleted OrderStatus = "completed"
	// OrderFailed represents an order whose payment failed
	OrderFailed OrderStatus = "failed"
	// OrderCancelled represents an order cancelled before payment
	OrderCancelled OrderStatus = "cancelled"
	// OrderDisputed represents an order under dispute review
	OrderDisputed OrderStatus = "disputed"
)

// IsTerminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderFailed || s == OrderCancelled
}

// NetworkCongestion represents observed load on a blockchain network
type NetworkCongestion string

const (
	// CongestionLow represents normal network load
	CongestionLow NetworkCongestion = "low"
	// CongestionMedium represents elevated network load
	CongestionMedium NetworkCongestion = "medium"
	// CongestionHigh represents heavy network load with slow inclusion
	CongestionHigh NetworkCongestion = "high"
)

// AvailabilityStatus represents whether a payment method is usable for a purchase
type AvailabilityStatus string

const (
	// AvailabilityAvailable represents a method that can be used as-is
	AvailabilityAvailable AvailabilityStatus = "available"
	// AvailabilityInsufficientBalance represents a funded wallet that cannot cover cost plus gas
	AvailabilityInsufficientBalance AvailabilityStatus = "insufficient_balance"
	// AvailabilityWrongNetwork represents a method on a chain the buyer's wallet is not on
	AvailabilityWrongNetwork AvailabilityStatus = "wrong_network"
	// AvailabilityNoBalance represents a method with no usable balance at all
	AvailabilityNoBalance AvailabilityStatus = "no_balance"
	// AvailabilityUnavailable represents a method that cannot currently be offered
	AvailabilityUnavailable AvailabilityStatus = "unavailable"
)

// TransferKind identifies the transaction shape used for gas estimation
type TransferKind string

const (
	// TransferNative represents a plain value transfer
	TransferNative TransferKind = "native"
	// TransferToken represents an ERC-20 transfer call
	TransferToken TransferKind = "token"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
