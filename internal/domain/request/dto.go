package request

// CreateRequestRequest for POST /requests
type CreateRequestRequest struct {
	OfferID string `json:"offer_id" validate:"required,uuid"`
}
