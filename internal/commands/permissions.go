package commands

import (
	"fmt"
)

// Mode is the access level of a console session.
type Mode string

const (
	ModeReadOnly Mode = "read-only"
	ModeOperator Mode = "operator"
)

// ParseMode converts a --mode flag value.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeReadOnly, ModeOperator:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown console mode %q (use %s or %s)", s, ModeReadOnly, ModeOperator)
	}
}

// CanExecute returns an error if the session mode does not allow cmd.
// Operators can run everything. Read-only sessions can only run read commands.
func CanExecute(cmd *Command, mode Mode) error {
	if !cmd.IsValid() {
		return fmt.Errorf("unknown command: %s", cmd.Name)
	}
	if mode == ModeOperator {
		return nil
	}
	if cmd.IsWriteCommand() {
		return fmt.Errorf("%s changes state and requires operator mode", cmd.Name)
	}
	return nil
}
