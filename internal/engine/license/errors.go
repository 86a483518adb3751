package license

import "errors"

// FailureCode is the closed set of reasons the state machine rejects a
// request. Codes are stable: the HTTP layer maps them one-to-one onto wire
// messages, so internal refactors cannot silently change client-visible
// semantics.
type FailureCode string

const (
	FailBadRequest           FailureCode = "bad_request"
	FailInvalidKey           FailureCode = "invalid_key"
	FailExpired              FailureCode = "expired"
	FailRevoked              FailureCode = "revoked"
	FailTooManyDevices       FailureCode = "too_many_devices"
	FailInvalidToken         FailureCode = "invalid_token"
	FailDeviceMismatch       FailureCode = "device_mismatch"
	FailNotFound             FailureCode = "not_found"
	FailRevokedOrExpired     FailureCode = "revoked_or_expired"
	FailTokenVersionMismatch FailureCode = "token_version_mismatch"
	FailNoActiveActivation   FailureCode = "no_active_activation_for_device"
)

// Failure is a rejection with a known cause. Anything else coming out of the
// service is an internal error and surfaces as a 500.
type Failure struct {
	Code   FailureCode
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail != "" {
		return string(f.Code) + ": " + f.Detail
	}
	return string(f.Code)
}

func fail(code FailureCode) error {
	return &Failure{Code: code}
}

func failDetail(code FailureCode, detail string) error {
	return &Failure{Code: code, Detail: detail}
}

// AsFailure unwraps a state-machine rejection from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
