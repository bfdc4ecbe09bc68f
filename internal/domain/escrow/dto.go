package escrow

// AcceptRequestRequest for POST /requests/accept
type AcceptRequestRequest struct {
	RequestID      string `json:"request_id" validate:"required,uuid"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,notblank,max=128"`
}

// ConfirmRequest for POST /escrow/confirm
type ConfirmRequest struct {
	EscrowID       string `json:"escrow_id" validate:"required,uuid"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,notblank,max=128"`
}

// DisputeRequest for POST /escrow/dispute. Reason length is checked by the engine in
// characters after trimming.
type DisputeRequest struct {
	EscrowID string `json:"escrow_id" validate:"required,uuid"`
	Reason   string `json:"reason" validate:"required"`
}
