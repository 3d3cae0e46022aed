package service

import "errors"

var (
	ErrUnauthorized       = errors.New("invalid merchant credentials")
	ErrInvalidLogin       = errors.New("invalid username or password")
	ErrIPNotAllowed       = errors.New("client ip is not whitelisted")
	ErrBatchTooLarge      = errors.New("too many orders in one request")
	ErrEmptyBatch         = errors.New("no orders in request")
	ErrNotWithdrawal      = errors.New("order is not a withdrawal")
	ErrNotAssigned        = errors.New("withdrawal is assigned to another processor")
	ErrInvalidDecision    = errors.New("invalid resolution decision")
	ErrInvalidPaymentLink = errors.New("invalid payment link")
)
