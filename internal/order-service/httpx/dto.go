package httpx

type CreateOrderRequest struct {
	ClientID        string                  `json:"clientId"`
	Items           []CreateOrderItemDTO    `json:"items"`
	ShippingAddress string                  `json:"shippingAddress,omitempty"`
	PaymentMethod   string                  `json:"paymentMethod,omitempty"`
	Notes           string                  `json:"notes,omitempty"`
}

type CreateOrderItemDTO struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
