package inventory

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

// invalidRequest is a malformed action request. It becomes an error envelope.
type invalidRequest string

func (e invalidRequest) Error() string { return string(e) }

func requiredID(env contractx.Envelope, key string) (int64, error) {
	id, ok := env.PayloadInt(key)
	if !ok || id <= 0 {
		return 0, invalidRequest(fmt.Sprintf("%s required", key))
	}
	return id, nil
}

func optionalQuantity(env contractx.Envelope, def int) (int, error) {
	if _, present := env.Payload["quantity"]; !present {
		return def, nil
	}
	qty, ok := env.PayloadInt("quantity")
	if !ok || qty <= 0 {
		return 0, invalidRequest("quantity must be a positive integer")
	}
	return int(qty), nil
}
