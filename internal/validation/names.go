// Package validation checks untrusted names and URLs that reach hydra from
// requests and the command line.
package validation

import (
	"fmt"
	"strings"
	"unicode"
)

// maxNameLength bounds component and attribute names.
const maxNameLength = 128

// ValidateComponentName accepts names a registry can hold: an ASCII letter
// followed by letters, digits, '-', '_', '.' or ':'. Names containing ".."
// are rejected so they can never read as a path.
func ValidateComponentName(name string) error {
	if name == "" {
		return fmt.Errorf("empty component name")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("component name longer than %d bytes", maxNameLength)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("component name %q contains \"..\"", name)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		letter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if i == 0 && !letter {
			return fmt.Errorf("component name %q must start with a letter", name)
		}
		if !letter && !(c >= '0' && c <= '9') && c != '-' && c != '_' && c != '.' && c != ':' {
			return fmt.Errorf("component name %q contains invalid character %q", name, c)
		}
	}
	return nil
}

// ValidateAttributeName accepts HTML attribute names as the markup
// tokenizer reads them: no whitespace, quotes, '=', '<', '>' or '/'.
func ValidateAttributeName(name string) error {
	if name == "" {
		return fmt.Errorf("empty attribute name")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("attribute name longer than %d bytes", maxNameLength)
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("attribute name %q contains whitespace or control characters", name)
		}
		switch r {
		case '"', '\'', '=', '<', '>', '/', '`':
			return fmt.Errorf("attribute name %q contains invalid character %q", name, r)
		}
	}
	return nil
}
