package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/berth/pkg/market"
)

const (
	errorInvalidRequest   = "invalid_request"
	errorInvalidAmount    = "invalid_amount"
	errorInvalidUnits     = "invalid_units"
	errorInvalidListingID = "invalid_listing_id"
	errorInvalidUserID    = "invalid_user_id"
	errorInvalidPayload   = "invalid_payload"
	errorInvalidStatus    = "invalid_status"
	errorInvalidHorizon   = "invalid_horizon"
	errorInvalidDate      = "invalid_date"
	errorUnknownListing   = "unknown_listing"
	errorDuplicateRef     = "duplicate_reference"
	errorUnauthorized     = "unauthorized"
	errorTimeout          = "timeout"
	errorUnavailable      = "unavailable"

	messageRetry = "temporarily unavailable, please retry"
)

// mapToHTTPError converts a returned error into a status and stable code.
// Business-rule errors keep their reason code.
func mapToHTTPError(err error) (int, string) {
	switch {
	case errors.Is(err, market.ErrUnknownListing):
		return http.StatusNotFound, errorUnknownListing
	case errors.Is(err, market.ErrInvalidAmount):
		return http.StatusBadRequest, errorInvalidAmount
	case errors.Is(err, market.ErrInvalidUnits):
		return http.StatusBadRequest, errorInvalidUnits
	case errors.Is(err, market.ErrInvalidListingID):
		return http.StatusBadRequest, errorInvalidListingID
	case errors.Is(err, market.ErrInvalidUserID):
		return http.StatusUnauthorized, errorInvalidUserID
	case errors.Is(err, market.ErrInvalidMetadataJSON):
		return http.StatusBadRequest, errorInvalidPayload
	case errors.Is(err, market.ErrInvalidListingStatus):
		return http.StatusBadRequest, errorInvalidStatus
	case errors.Is(err, market.ErrInvalidHorizon):
		return http.StatusBadRequest, errorInvalidHorizon
	case errors.Is(err, market.ErrDuplicateRef):
		return http.StatusConflict, errorDuplicateRef
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorTimeout
	}
	if reason, ok := market.ReasonFromError(err); ok {
		return http.StatusConflict, reason.String()
	}
	return http.StatusServiceUnavailable, errorUnavailable
}
