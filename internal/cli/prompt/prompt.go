// Package prompt provides interactive terminal prompts for drpc.
package prompt

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
)

var (
	// ErrAborted is returned when the user presses Ctrl+C.
	ErrAborted = errors.New("aborted")

	// ErrPasswordMismatch indicates the confirmation differs.
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// IsAborted reports whether err means the user aborted the prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err != nil && IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Confirm asks a yes/no question that defaults to no. It returns true
// without prompting when force is set.
func Confirm(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	p := promptui.Prompt{Label: label, IsConfirm: true}
	if _, err := p.Run(); err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, ErrAborted
		}
		// promptui reports "n" and empty input as ErrAbort
		return false, nil
	}
	return true, nil
}

// Password reads a masked password of at least minLength characters.
func Password(label string, minLength int) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Mask:  '*',
		Validate: func(input string) error {
			if len(input) < minLength {
				return fmt.Errorf("password must be at least %d characters", minLength)
			}
			return nil
		},
	}
	result, err := p.Run()
	return result, wrapError(err)
}

// NewPassword reads a password twice and checks both entries match.
func NewPassword(minLength int) (string, error) {
	pw, err := Password("Password", minLength)
	if err != nil {
		return "", err
	}
	again, err := Password("Confirm password", 0)
	if err != nil {
		return "", err
	}
	if pw != again {
		return "", ErrPasswordMismatch
	}
	return pw, nil
}
