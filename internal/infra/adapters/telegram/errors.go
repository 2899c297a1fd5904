package telegram

import (
	"errors"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-channel-access/internal/domain"
)

// classify maps a Bot API error onto the transport failure taxonomy.
// Anything that is not an API answer (network, timeout) is transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *domain.TransportError
	if errors.As(err, &te) {
		return err
	}

	code, ok := apiCode(err)
	if !ok {
		return domain.NewTransportError(domain.FailureTransient, op, err)
	}

	switch {
	case code == http.StatusUnauthorized, code == http.StatusNotFound:
		return domain.NewTransportError(domain.FailureFatal, op, err)
	case code == http.StatusConflict:
		return domain.NewTransportError(domain.FailureConflict, op, err)
	case code == http.StatusTooManyRequests, code >= 500:
		return domain.NewTransportError(domain.FailureTransient, op, err)
	default:
		return domain.NewTransportError(domain.FailureRejected, op, err)
	}
}

func apiCode(err error) (int, bool) {
	var pe *tgbotapi.Error
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return 0, false
}

// apiMessageContains reports whether err is an API answer whose description
// contains marker, e.g. USER_ALREADY_PARTICIPANT.
func apiMessageContains(err error, marker string) bool {
	var pe *tgbotapi.Error
	if errors.As(err, &pe) {
		return strings.Contains(pe.Message, marker)
	}
	return false
}
