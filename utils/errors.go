package utils

import "errors"

// Error classes shared by every package. Failures wrap one of these with
// fmt.Errorf("...: %w", ...) so callers can test the class with errors.Is.
var (
	// ErrConfig marks a bad decomposition or remesh request detected at
	// construction time.
	ErrConfig = errors.New("configuration error")

	// ErrNegotiation marks disagreement between ranks about exchanged
	// records: missing owners, size mismatches, asymmetric incidence.
	ErrNegotiation = errors.New("negotiation error")

	// ErrNumerical marks a singular patch system or a non-finite value.
	ErrNumerical = errors.New("numerical error")
)
