package model

import "github.com/wesm/chatvault/internal/apperr"

var (
	errInvalidUserID  = apperr.Invalid("user id must not be zero (reserved as invalid)")
	errNegativeUserID = apperr.Invalid("user id must be positive")

	errFromIDNotMember       = apperr.Invalid("message from_id is not a member of its chat")
	errMissingRegularPayload = apperr.Invalid("regular message missing its Regular payload")
	errMissingServicePayload = apperr.Invalid("service message missing its Service payload")
	errUnknownMessageType    = apperr.Invalid("message has unknown type kind")
)
