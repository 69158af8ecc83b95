package app

// DomainError is a service failure that already knows its HTTP shape: the
// status to respond with, a stable machine-readable code (VALIDATION_ERROR,
// NOT_FOUND, CONFLICT, ...), and a user-facing message. Details optionally
// carries structured context for the response body. Anything else bubbling
// out of the service maps to a generic 500 in mapError.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	return e.Code + ": " + e.Message
}

// domainError is the service-layer shorthand for raising a DomainError.
func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}
