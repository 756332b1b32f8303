package dialog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/formbot/internal/users"
)

// ValidationError is user input that cannot advance the dialog.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Code is used as err_code in handler logs.
func (e *ValidationError) Code() string { return "validation_" + e.Field }

// ParseAge accepts a whole number within [0, users.MaxAge].
func ParseAge(text string) (int, error) {
	text = strings.TrimSpace(text)
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, &ValidationError{Field: "age", Reason: "not a whole number"}
	}
	if n < 0 || n > users.MaxAge {
		return 0, &ValidationError{Field: "age", Reason: "out of range"}
	}
	return n, nil
}

// ParseName trims text and rejects empty or oversized names.
func ParseName(text string) (string, error) {
	name := strings.Join(strings.Fields(text), " ")
	if name == "" {
		return "", &ValidationError{Field: "name", Reason: "empty"}
	}
	if len([]rune(name)) > maxNameRunes {
		return "", &ValidationError{Field: "name", Reason: "too long"}
	}
	return name, nil
}

const maxNameRunes = 64
