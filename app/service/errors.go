package service

import "errors"

var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrObligationNotFound    = errors.New("obligation not found")
	ErrAttemptNotFound       = errors.New("collection attempt not found")
	ErrCollectionInProgress  = errors.New("collection already in progress")
	ErrObligationAlreadyPaid = errors.New("obligation already paid")
)
