package checkout

import (
	"encoding/json"
	"errors"
)

var (
	errAmountRequired   = errors.New("amount must be greater than zero")
	errAmountMismatch   = errors.New("amount does not match order total")
	errEmailMismatch    = errors.New("customer email does not match order")
	errMerchantRequired = errors.New("merchant name is required")
)

func jsonValid(raw []byte) bool {
	return json.Valid(raw)
}
