package httpapi

import (
	"encoding/json"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/paystack"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

const signatureHeader = paystack.SignatureHeader

type checkoutItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Merchant  string `json:"merchant"`
	Quantity  int32  `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

type checkoutRequest struct {
	PaymentMethod string          `json:"paymentMethod"`
	Customer      domain.Customer `json:"customer"`
	Items         []checkoutItem  `json:"items"`
	Total         int64           `json:"total"`
	Notes         string          `json:"notes"`
}

func (r checkoutRequest) toDomain() checkout.PlaceOrderRequest {
	items := make([]domain.OrderItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Merchant:  item.Merchant,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return checkout.PlaceOrderRequest{
		PaymentMethod: domain.PaymentMethod(r.PaymentMethod),
		Customer:      r.Customer,
		Items:         items,
		Total:         r.Total,
		Notes:         r.Notes,
	}
}

type checkoutResponse struct {
	OrderID          string       `json:"orderId"`
	Reference        string       `json:"reference"`
	PaymentMethod    string       `json:"paymentMethod"`
	Total            int64        `json:"total"`
	PlatformFee      int64        `json:"platformFee"`
	MerchantAmount   int64        `json:"merchantAmount"`
	AuthorizationURL string       `json:"authorizationUrl,omitempty"`
	AccessCode       string       `json:"accessCode,omitempty"`
	SplitCode        string       `json:"splitCode,omitempty"`
	Order            domain.Order `json:"order"`
}

func newCheckoutResponse(res checkout.PlaceOrderResult) checkoutResponse {
	return checkoutResponse{
		OrderID:          res.Order.ID,
		Reference:        res.Order.PaymentReference,
		PaymentMethod:    string(res.Order.PaymentMethod),
		Total:            res.Order.Total,
		PlatformFee:      res.Order.PlatformFee,
		MerchantAmount:   res.Order.MerchantAmount,
		AuthorizationURL: res.AuthorizationURL,
		AccessCode:       res.AccessCode,
		SplitCode:        res.SplitCode,
		Order:            res.Order,
	}
}

type checkoutSuccessRequest struct {
	Reference string          `json:"reference"`
	Payload   json.RawMessage `json:"payload"`
}

type paymentIntentRequest struct {
	OrderID       string `json:"orderId"`
	CustomerEmail string `json:"customerEmail"`
	Amount        int64  `json:"amount"`
}

type paymentIntentResponse struct {
	Success          bool                   `json:"success"`
	VirtualAccount   *domain.VirtualAccount `json:"virtualAccount,omitempty"`
	Reference        string                 `json:"reference,omitempty"`
	AuthorizationURL string                 `json:"authorizationUrl,omitempty"`
	Error            string                 `json:"error,omitempty"`
	Details          string                 `json:"details,omitempty"`
}

func newPaymentIntentResponse(intent checkout.PaymentIntent) paymentIntentResponse {
	return paymentIntentResponse{
		Success:          true,
		VirtualAccount:   intent.VirtualAccount,
		Reference:        intent.Reference,
		AuthorizationURL: intent.AuthorizationURL,
	}
}

type webhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type createSplitRequest struct {
	MerchantName string `json:"merchantName"`
	OrderID      string `json:"orderId"`
}

type createSplitResponse struct {
	Success    bool   `json:"success"`
	SplitCode  string `json:"splitCode"`
	Subaccount string `json:"subaccount"`
}

type verifyResponse struct {
	Success bool         `json:"success"`
	Status  string       `json:"status"`
	Order   domain.Order `json:"order"`
}

type orderResult struct {
	Success bool         `json:"success"`
	Order   domain.Order `json:"order"`
}

type ordersResponse struct {
	Orders []domain.Order `json:"orders"`
}

type statsResponse struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
}

type orderDetailsResponse struct {
	Order    domain.Order           `json:"order"`
	Timeline []domain.TimelineEvent `json:"timeline"`
}

type transactionsResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
}

type advanceStatusRequest struct {
	OrderStatus string `json:"orderStatus"`
	Version     *int64 `json:"version"`
	Reason      string `json:"reason"`
}

type catalogResponse struct {
	Products []catalog.Product `json:"products"`
}
