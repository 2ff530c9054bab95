package match

import "errors"

var (
	ErrInvalidParam    = errors.New("the param is invalid")
	ErrInvalidPrice    = errors.New("order price is invalid for its type")
	ErrOrderNotFound   = errors.New("order not found")
	ErrTimeout         = errors.New("timeout")
	ErrShutdown        = errors.New("order book is shutting down")
	ErrNotFound        = errors.New("not found")
	ErrOrderBookClosed = errors.New("order book is closed")
	ErrSequenceGap     = errors.New("sequence gap detected")
)
