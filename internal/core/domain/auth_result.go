package domain

// AuthOutcome enumerates the results of a credential verification.
type AuthOutcome int

const (
	AuthOutcomeSuccess AuthOutcome = iota
	AuthOutcomeSuccessRequiresSecondFactor
	AuthOutcomeValidationFailure
	AuthOutcomeCredentialFailure
)

func (o AuthOutcome) String() string {
	switch o {
	case AuthOutcomeSuccess:
		return "success"
	case AuthOutcomeSuccessRequiresSecondFactor:
		return "second_factor_required"
	case AuthOutcomeValidationFailure:
		return "validation_failure"
	case AuthOutcomeCredentialFailure:
		return "credential_failure"
	default:
		return "unknown"
	}
}

// AuthResult is the outcome of CredentialVerifier.Authenticate.
// For validation failures Err joins every failed rule and Errors lists them.
type AuthResult struct {
	Outcome AuthOutcome
	Err     error
	Errors  []error
}

// Succeeded reports whether the password and rules both passed.
func (r AuthResult) Succeeded() bool {
	return r.Outcome == AuthOutcomeSuccess || r.Outcome == AuthOutcomeSuccessRequiresSecondFactor
}
