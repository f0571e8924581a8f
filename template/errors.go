package template

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownContract   = errors.New("template: unknown contract")
	ErrInternalContract  = errors.New("template: contract not externally callable")
	ErrDuplicateTemplate = errors.New("template: template id already registered")
)

// ContractError is a failure raised by contract logic itself, as opposed
// to an infrastructure failure. It carries the reason back to the caller
// and drives the owning instruction to its invalid state.
type ContractError struct {
	Contract string
	Reason   string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("contract %s failed: %s", e.Contract, e.Reason)
}

// Failf builds a ContractError for the named contract.
func Failf(contract, format string, args ...any) error {
	return &ContractError{Contract: contract, Reason: fmt.Sprintf(format, args...)}
}
