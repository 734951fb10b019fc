package service

import "errors"

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionExists   = errors.New("transaction already exists")
	ErrUnknownGateway      = errors.New("unknown gateway")
	ErrGatewayUnsupported  = errors.New("gateway is not supported")
	ErrSignatureRejected   = errors.New("signature verification failed")
)
