package omori

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData indicates fewer observed day bins than the fit needs.
	ErrInsufficientData = errors.New("omori: insufficient data")
	// ErrFitFailed matches every optimizer failure.
	ErrFitFailed = errors.New("omori: fit failed")
	// ErrNotConverged indicates the evaluation budget ran out.
	ErrNotConverged = errors.New("omori: fit did not converge")
	// ErrSingular indicates a rank-deficient or ill-conditioned Jacobian.
	ErrSingular = errors.New("omori: singular jacobian")
)

// InsufficientDataError reports how many observed bins were available.
type InsufficientDataError struct {
	Observed int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("omori: insufficient data: %d observed day bins, at least %d required", e.Observed, e.Required)
}

// Is matches ErrInsufficientData.
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// Reason classifies a FitError.
type Reason string

const (
	ReasonNotConverged Reason = "not_converged"
	ReasonSingular     Reason = "singular"
	ReasonCanceled     Reason = "canceled"
)

// FitError describes an optimizer failure together with the state it stopped in.
type FitError struct {
	Reason      Reason
	Evaluations int
	Last        Params
	Err         error // cause, set for ReasonCanceled
}

func (e *FitError) Error() string {
	switch e.Reason {
	case ReasonNotConverged:
		return fmt.Sprintf("omori: fit did not converge after %d evaluations (last %s)", e.Evaluations, e.Last)
	case ReasonSingular:
		return fmt.Sprintf("omori: singular jacobian after %d evaluations (last %s)", e.Evaluations, e.Last)
	default:
		return fmt.Sprintf("omori: fit %s after %d evaluations: %v", e.Reason, e.Evaluations, e.Err)
	}
}

// Is matches ErrFitFailed and the sentinel for the reason.
func (e *FitError) Is(target error) bool {
	switch target {
	case ErrFitFailed:
		return true
	case ErrNotConverged:
		return e.Reason == ReasonNotConverged
	case ErrSingular:
		return e.Reason == ReasonSingular
	}
	return false
}

func (e *FitError) Unwrap() error {
	return e.Err
}
