package protocol

import (
	"errors"
	"regexp"
)

var nameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

var ErrInvalidName = errors.New("invalid name")

// ValidateName reports whether name may be used as a display name.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}
