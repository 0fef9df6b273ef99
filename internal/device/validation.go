package device

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	// IDLength is the length of a canonical cast identifier.
	IDLength = 32

	maxNameLength = 100
)

// ValidateDevice checks a device before it is persisted.
func ValidateDevice(d *Device) error {
	if err := ValidateID(d.ID); err != nil {
		return err
	}

	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}

	if !slices.Contains(ValidClasses, d.Class) {
		return fmt.Errorf("%w: %q", ErrInvalidClass, d.Class)
	}
	return nil
}

// ValidateID checks that id is a 32-character hexadecimal identifier.
func ValidateID(id string) error {
	if len(id) != IDLength {
		return fmt.Errorf("%w: want %d characters, got %d", ErrInvalidID, IDLength, len(id))
	}
	for _, r := range id {
		if !isHex(r) {
			return fmt.Errorf("%w: unexpected character %q", ErrInvalidID, r)
		}
	}
	return nil
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
