// Package auth resolves device credentials to device identities.
// Token issuance is deliberately simple (HS256 JWT over a bcrypt-checked
// enrollment key); everything else in the system only consumes the
// "given a credential, resolve a device or fail" contract.
package auth

import "fmt"

// FailureReason classifies why credential resolution failed.
type FailureReason string

const (
	// FailureMissing: no credential was presented.
	FailureMissing FailureReason = "missing"
	// FailureInvalid: the credential is malformed, expired, or forged.
	FailureInvalid FailureReason = "invalid"
	// FailureInactive: the credential is valid but the device lifecycle
	// state does not permit data-plane operations.
	FailureInactive FailureReason = "inactive"
)

// Failure is a typed authentication failure.
type Failure struct {
	Reason FailureReason
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("auth failure: %s", f.Reason)
	}
	return fmt.Sprintf("auth failure (%s): %s", f.Reason, f.Detail)
}

func failure(reason FailureReason, detail string) *Failure {
	return &Failure{Reason: reason, Detail: detail}
}
