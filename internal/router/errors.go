package router

import (
	"errors"
	"fmt"

	"classhub/pkg/types"
)

var (
	// ErrRateLimited is an invalid-argument error so callers treat it as a client fault
	ErrRateLimited = fmt.Errorf("%w: rate limit exceeded", types.ErrInvalidArgument)
	ErrNilRequest  = fmt.Errorf("%w: chat request is required", types.ErrInvalidArgument)
	ErrNoStore     = errors.New("router has no classroom store")
)
