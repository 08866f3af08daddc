package account

import "errors"

var (
	ErrExecutionDisabled = errors.New("execution globally disabled")
	ErrReentrantCall     = errors.New("re-entrant call into dispatcher")
	ErrEmptyBatch        = errors.New("empty command batch")
	ErrLengthMismatch    = errors.New("command and payload counts differ")
	ErrUnknownCommand    = errors.New("unknown command tag")
	ErrBadPayload        = errors.New("malformed command payload")

	ErrZeroSizeDelta = errors.New("zero size delta")

	ErrOrderNotFound      = errors.New("conditional order not found")
	ErrOrderNotPending    = errors.New("conditional order is not pending")
	ErrOrderNotExecutable = errors.New("conditional order conditions not met")
	ErrOnlyAutomation     = errors.New("caller is not the automation identity")
)
