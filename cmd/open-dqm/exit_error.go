package main

import "fmt"

// exitError carries a process exit code out of a cobra command. The scan
// command uses code 2 so schedulers can tell a held lock from a real
// failure; silent suppresses the error line when the command already
// reported the condition itself.
type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e == nil {
		return ""
	}
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}
