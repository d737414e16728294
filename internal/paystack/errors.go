package paystack

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func gatewayErr(op string, status int, message string, raw []byte, cause error) *domain.GatewayError {
	return &domain.GatewayError{Op: op, StatusCode: status, Message: message, Raw: raw, Err: cause}
}

// missingField — ответ шлюза не содержит обязательного поля.
func missingField(op, field string, raw []byte) *domain.GatewayError {
	return gatewayErr(op, 0, fmt.Sprintf("response missing required field %q", field), raw, nil)
}

// isAlreadyExists распознаёт ответ «клиент уже существует».
func isAlreadyExists(err *domain.GatewayError) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Message)
	return strings.Contains(msg, "already exist")
}
