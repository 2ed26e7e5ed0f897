package twilio

import (
	"context"
	"errors"

	twclient "github.com/twilio/twilio-go/client"

	"github.com/kustom-api/internal/domain"
)

type codeMapping struct {
	kind           error
	deliverability bool
}

// providerCodes is the only place Twilio error codes are interpreted.
// Codes not listed here map to ErrGatewayUnknown.
var providerCodes = map[int]codeMapping{
	20003: {kind: domain.ErrGatewayAuth},
	20404: {kind: domain.ErrVerificationNotFound},
	21211: {kind: domain.ErrInvalidPhone},
	21408: {kind: domain.ErrInvalidPhone, deliverability: true}, // region not enabled
	21608: {kind: domain.ErrInvalidPhone, deliverability: true}, // unverified number on trial account
	21612: {kind: domain.ErrInvalidPhone, deliverability: true},
	21614: {kind: domain.ErrInvalidPhone, deliverability: true}, // not a mobile number
	60205: {kind: domain.ErrInvalidPhone, deliverability: true}, // channel unsupported for landline
	60200: {kind: domain.ErrConfiguration},
	60202: {kind: domain.ErrRateLimited},
	60203: {kind: domain.ErrRateLimited},
	60212: {kind: domain.ErrRateLimited},
	63003: {kind: domain.ErrGatewayUnknown, deliverability: true}, // channel could not find the destination
}

// mapError converts any failure of a provider call into a *domain.GatewayError.
func mapError(err error, channel domain.Channel) error {
	if err == nil {
		return nil
	}

	var rest *twclient.TwilioRestError
	if errors.As(err, &rest) {
		m, ok := providerCodes[rest.Code]
		if !ok {
			m = codeMapping{kind: domain.ErrGatewayUnknown}
		}
		return &domain.GatewayError{
			Kind:           m.kind,
			Code:           rest.Code,
			Message:        rest.Message,
			Channel:        channel,
			Deliverability: m.deliverability,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.GatewayError{Kind: domain.ErrGatewayUnknown, Message: "gateway timeout", Channel: channel}
	}
	return &domain.GatewayError{Kind: domain.ErrGatewayUnknown, Message: err.Error(), Channel: channel}
}
