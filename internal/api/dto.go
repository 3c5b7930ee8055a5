package api

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/magickw/linkDAO-sub011/internal/checkout"
	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Report json field names instead of Go field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// createSessionRequest is the POST /checkout/session body.
type createSessionRequest struct {
	UserID       string               `json:"userId" validate:"required"`
	Chain        string               `json:"chain" validate:"required,oneof=ethereum polygon arbitrum optimism base"`
	Items        []lineItemRequest    `json:"items" validate:"required,min=1,dive"`
	BuyerAddress string               `json:"buyerAddress,omitempty" validate:"omitempty,eth_addr"`
	Balances     []walletBalanceInput `json:"balances,omitempty" validate:"omitempty,dive"`
	Shipping     *shippingInput       `json:"shipping,omitempty"`
}

type lineItemRequest struct {
	ListingID string          `json:"listingId" validate:"required"`
	Title     string          `json:"title" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unitPrice" validate:"required"`
}

type walletBalanceInput struct {
	Chain      string  `json:"chain" validate:"required,oneof=ethereum polygon arbitrum optimism base"`
	Symbol     string  `json:"symbol" validate:"required"`
	BalanceUSD float64 `json:"balanceUsd" validate:"gte=0"`
}

type shippingInput struct {
	Name       string `json:"name" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
}

// processCheckoutRequest is the POST /checkout/process body.
type processCheckoutRequest struct {
	SessionID string         `json:"sessionId" validate:"required"`
	MethodID  string         `json:"methodId" validate:"required"`
	CardToken string         `json:"cardToken,omitempty"`
	Shipping  *shippingInput `json:"shipping,omitempty"`
}

// fulfillRequest is the POST /orders/{id}/fulfill body.
type fulfillRequest struct {
	Action string `json:"action" validate:"required,oneof=mark_shipped confirm_delivery release_funds dispute cancel"`
}

// decodeAndValidate parses the request body into v and checks its struct
// tags. Returns a categorized validation error suitable for writeError.
func decodeAndValidate(r *http.Request, v interface{}) error {
	if err := parseJSONBody(r, v); err != nil {
		return apperrors.NewValidationError("body", "malformed JSON payload")
	}
	if err := validate.Struct(v); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return apperrors.NewValidationError(fieldPath(fe), fmt.Sprintf("failed %q validation", fe.Tag()))
		}
		return apperrors.NewValidationError("body", err.Error())
	}
	return nil
}

// fieldPath strips the root struct name from a validation error namespace,
// leaving the json path of the offending field.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func (req *createSessionRequest) toInput() checkout.CreateSessionInput {
	items := make([]models.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, models.LineItem{
			ListingID: it.ListingID,
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	var balances []models.WalletBalance
	for _, b := range req.Balances {
		balances = append(balances, models.WalletBalance{
			Chain:      types.ChainID(b.Chain),
			Symbol:     b.Symbol,
			BalanceUSD: b.BalanceUSD,
		})
	}

	return checkout.CreateSessionInput{
		UserID:       req.UserID,
		Chain:        types.ChainID(req.Chain),
		Items:        items,
		BuyerAddress: req.BuyerAddress,
		Balances:     balances,
		Shipping:     req.Shipping.toModel(),
	}
}

func (req *processCheckoutRequest) toInput() checkout.ProcessCheckoutInput {
	return checkout.ProcessCheckoutInput{
		SessionID: req.SessionID,
		MethodID:  req.MethodID,
		CardToken: req.CardToken,
		Shipping:  req.Shipping.toModel(),
	}
}

func (s *shippingInput) toModel() *models.ShippingAddress {
	if s == nil {
		return nil
	}
	return &models.ShippingAddress{
		Name:       s.Name,
		Line1:      s.Line1,
		Line2:      s.Line2,
		City:       s.City,
		State:      s.State,
		PostalCode: s.PostalCode,
		Country:    s.Country,
	}
}
