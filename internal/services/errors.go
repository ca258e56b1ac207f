package services

import "errors"

var (
	// ErrVerificationFailed means the callback signature or required fields
	// did not check out. Nothing was mutated.
	ErrVerificationFailed = errors.New("callback verification failed")

	// ErrOrderNotFound means no order matched the invoice reference after
	// every lookup strategy.
	ErrOrderNotFound = errors.New("order not found")

	// ErrAlreadyProcessing means another fulfillment attempt holds the lock
	// for this order. Interactive callers surface it; the webhook path waits
	// and retries instead.
	ErrAlreadyProcessing = errors.New("order is already being processed")

	// ErrProvisioningFailed wraps a provider API error or timeout. The order
	// stays active without artifacts and a later attempt may succeed.
	ErrProvisioningFailed = errors.New("provisioning failed")
)
