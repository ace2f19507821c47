package backtest

import "fmt"

// ValidationError marks bad caller input so the API layer can answer 400
// instead of 500.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}
