// Package credential reads API secrets from the process environment.
package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrMissing = errors.New("credential: missing")

// MissingError names the variable that was unset or empty.
type MissingError struct {
	Name string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("credential: %s is not set", e.Name)
}

func (e *MissingError) Is(target error) bool {
	return target == ErrMissing
}

// Lookup matches os.LookupEnv.
type Lookup func(name string) (string, bool)

// Get returns the value of the named environment variable.
func Get(name string) (string, error) {
	return GetFrom(os.LookupEnv, name)
}

func GetFrom(lookup Lookup, name string) (string, error) {
	v, ok := lookup(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", &MissingError{Name: name}
	}
	return v, nil
}
