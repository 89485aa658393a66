// package validate
package validate

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// Validator is a function that validates a string and returns an error if invalid
type Validator func(value string) error

// Field creates a labeled validator with a custom name for better error messages
func Field(name string, validators ...Validator) Validator {
	return func(value string) error {
		for _, v := range validators {
			if err := v(value); err != nil {
				if !strings.Contains(err.Error(), name) {
					return fmt.Errorf("%s: %w", name, err)
				}
				return err
			}
		}
		return nil
	}
}

// Compose chains multiple validators, first error wins
func Compose(validators ...Validator) Validator {
	return func(value string) error {
		for _, v := range validators {
			if err := v(value); err != nil {
				return err
			}
		}
		return nil
	}
}

// Optional skips the wrapped validators when the value is blank
func Optional(validators ...Validator) Validator {
	inner := Compose(validators...)
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return inner(v)
	}
}

// All runs every check and joins the failures.
func All(checks ...error) error {
	return errors.Join(checks...)
}

// Required ensures the field is not empty
func Required() Validator {
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("this field is required")
		}
		return nil
	}
}

// MaxLength checks maximum length
func MaxLength(max int) Validator {
	return func(v string) error {
		if len(v) > max {
			return fmt.Errorf("must be no more than %d characters", max)
		}
		return nil
	}
}

// Email validates email format using net/mail
func Email() Validator {
	return func(v string) error {
		if v == "" {
			return nil
		}
		if _, err := mail.ParseAddress(v); err != nil {
			return fmt.Errorf("must be a valid email address")
		}
		return nil
	}
}

// Matches checks if value matches a regex (with custom message)
func Matches(pattern, message string) Validator {
	re := regexp.MustCompile(pattern)
	return func(v string) error {
		if !re.MatchString(v) {
			if message != "" {
				return fmt.Errorf("%s", message)
			}
			return fmt.Errorf("invalid format")
		}
		return nil
	}
}

// OneOf checks if value is in allowed list
func OneOf(allowed ...string) Validator {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	return func(v string) error {
		if !set[v] {
			return fmt.Errorf("must be one of: %s", strings.Join(allowed, ", "))
		}
		return nil
	}
}

// NoSpaces disallows spaces
func NoSpaces() Validator {
	return Matches(`^\S+$`, "must not contain spaces")
}

// Username accepts identity-provider usernames: letters, digits, dot, underscore, hyphen and @.
func Username() Validator {
	return Compose(
		Required(),
		MaxLength(255),
		NoSpaces(),
		Matches(`^[a-zA-Z0-9._@-]+$`, "username can only contain letters, numbers, '.', '_', '-' and '@'"),
	)
}

// RoutingKey accepts dot-separated AMQP routing keys such as "review.created".
func RoutingKey() Validator {
	return Compose(
		Required(),
		MaxLength(255),
		Matches(`^[a-z0-9_-]+(\.[a-z0-9_-]+)*$`, "routing key must be lowercase dot-separated words"),
	)
}
