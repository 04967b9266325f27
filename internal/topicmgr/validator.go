package topicmgr

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	namePattern   = regexp.MustCompile(`^[a-z][a-z0-9]*(\.[a-z][a-z0-9_]*)*$`)
	modulePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

	reservedPrefixes  = []string{"system.", "internal.", "debug."}
	frameworkPrefixes = []string{"presence.", "chat.", "ws.", "server."}
)

// ValidateName checks the dotted lowercase naming convention.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("name too long (max 100 characters)")
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("name must be lowercase dotted segments, got %q", name)
	}
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return fmt.Errorf("name cannot start with reserved prefix %s", prefix)
		}
	}
	return nil
}

// validate checks a topic definition before it is registered.
func validate(t Topic) error {
	if t == nil {
		return fmt.Errorf("topic cannot be nil")
	}
	if err := ValidateName(t.Name()); err != nil {
		return err
	}
	if strings.TrimSpace(t.Description()) == "" {
		return fmt.Errorf("topic description cannot be empty")
	}

	switch t.Scope() {
	case ScopeFramework:
		for _, prefix := range frameworkPrefixes {
			if strings.HasPrefix(t.Name(), prefix) {
				return nil
			}
		}
		return fmt.Errorf("framework topic must start with one of %v", frameworkPrefixes)
	case ScopeModule:
		if !modulePattern.MatchString(t.Module()) {
			return fmt.Errorf("module name %q must be lowercase alphanumeric with underscores", t.Module())
		}
		return nil
	default:
		return fmt.Errorf("invalid topic scope: %s", t.Scope())
	}
}
