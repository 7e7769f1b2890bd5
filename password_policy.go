package sitegate

import (
	"errors"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Rule names reported in ValidationError metadata
const (
	RuleEmailRequired     = "email.required"
	RuleEmailFormat       = "email.format"
	RulePasswordRequired  = "password.required"
	RulePasswordMinLength = "password.min_length"
	RulePasswordMaxLength = "password.max_length"
	RulePasswordUpper     = "password.uppercase"
	RulePasswordLower     = "password.lowercase"
	RulePasswordDigit     = "password.digit"
	RulePasswordSymbol    = "password.symbol"
)

// PasswordPolicy describes the registration requirements. Each rule is
// evaluated on its own so a failing input reports every violation.
type PasswordPolicy struct {
	MinLength     int
	MaxLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPasswordPolicy is used when the resolver is not given one
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:    10,
		MaxLength:    72,
		RequireUpper: true,
		RequireLower: true,
		RequireDigit: true,
	}
}

type namedRule struct {
	name string
	rule validation.Rule
}

// ValidateRegistration checks email and password and returns a
// ValidationError listing all violated rules, or nil.
func (p PasswordPolicy) ValidateRegistration(email, password string) error {
	violations := map[string]string{}

	email = strings.TrimSpace(email)
	if email == "" {
		violations[RuleEmailRequired] = "email is required"
	} else if err := validation.Validate(email, is.Email); err != nil {
		violations[RuleEmailFormat] = err.Error()
	}

	if password == "" {
		violations[RulePasswordRequired] = "password is required"
	}

	for _, r := range p.passwordRules() {
		if err := validation.Validate(password, r.rule); err != nil {
			violations[r.name] = err.Error()
		}
	}

	if len(violations) > 0 {
		return NewValidationError(violations)
	}
	return nil
}

func (p PasswordPolicy) passwordRules() []namedRule {
	rules := []namedRule{}
	if p.MinLength > 0 {
		rules = append(rules, namedRule{RulePasswordMinLength, validation.By(func(v any) error {
			s, _ := v.(string)
			if len([]rune(s)) < p.MinLength {
				return errors.New("password is too short")
			}
			return nil
		})})
	}
	if p.MaxLength > 0 {
		rules = append(rules, namedRule{RulePasswordMaxLength, validation.Length(0, p.MaxLength)})
	}
	if p.RequireUpper {
		rules = append(rules, namedRule{RulePasswordUpper, requireClass(unicode.IsUpper, "must contain an uppercase letter")})
	}
	if p.RequireLower {
		rules = append(rules, namedRule{RulePasswordLower, requireClass(unicode.IsLower, "must contain a lowercase letter")})
	}
	if p.RequireDigit {
		rules = append(rules, namedRule{RulePasswordDigit, requireClass(unicode.IsDigit, "must contain a digit")})
	}
	if p.RequireSymbol {
		rules = append(rules, namedRule{RulePasswordSymbol, requireClass(isSymbol, "must contain a symbol")})
	}
	return rules
}

func requireClass(match func(rune) bool, message string) validation.Rule {
	return validation.By(func(v any) error {
		s, _ := v.(string)
		for _, r := range s {
			if match(r) {
				return nil
			}
		}
		return errors.New(message)
	})
}

func isSymbol(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
