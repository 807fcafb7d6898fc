package webhook

import "encoding/json"

// Customer identifies the data subject of a customer request.
type Customer struct {
	ID    *int64 `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// DataRequest is the body of customers/data_request.
type DataRequest struct {
	ShopID          int64     `json:"shop_id"`
	ShopDomain      string    `json:"shop_domain"`
	Customer        *Customer `json:"customer"`
	OrdersRequested []int64   `json:"orders_requested"`
}

// CustomerRedact is the body of customers/redact.
type CustomerRedact struct {
	ShopID         int64     `json:"shop_id"`
	ShopDomain     string    `json:"shop_domain"`
	Customer       *Customer `json:"customer"`
	OrdersToRedact []int64   `json:"orders_to_redact"`
}

// ShopRedact is the body of shop/redact.
type ShopRedact struct {
	ShopID     *int64 `json:"shop_id"`
	ShopDomain string `json:"shop_domain"`
}

// Ack is the acknowledgement body. The receiver stores no personal data, so
// there is never anything to return or erase.
type Ack struct {
	Message    string          `json:"message"`
	CustomerID *int64          `json:"customer_id,omitempty"`
	ShopID     *int64          `json:"shop_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func customerID(c *Customer) *int64 {
	if c == nil {
		return nil
	}
	return c.ID
}
