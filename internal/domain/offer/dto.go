package offer

// CreateOfferRequest for POST /offers
type CreateOfferRequest struct {
	Title        string `json:"title" validate:"required,notblank,min=5,max=100"`
	Description  string `json:"description" validate:"required,notblank,min=10,max=1000"`
	PriceCredits int64  `json:"price_credits" validate:"required,gt=0"`
}

// UpdateOfferRequest for PATCH /offers/{id}
type UpdateOfferRequest struct {
	Title        *string `json:"title" validate:"omitempty,notblank,min=5,max=100"`
	Description  *string `json:"description" validate:"omitempty,notblank,min=10,max=1000"`
	PriceCredits *int64  `json:"price_credits" validate:"omitempty,gt=0"`
	Status       *string `json:"status" validate:"omitempty,offer_status"`
}
