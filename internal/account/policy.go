package account

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxLoginAttempts    = 5
	MinPasswordLength   = 8
	MaxPasswordLength   = 40
	MinPasswordLetters  = 3
	DefaultSpecialChars = "!@#$%^&*()_-+=№;%:?*"
)

// PolicyConfig parameterizes PasswordPolicy. Zero values fall back to the
// package defaults.
type PolicyConfig struct {
	MinLength    int
	MaxLength    int
	MinLetters   int
	SpecialChars string
	// DenylistPath is a file with one weak password per line. A missing or
	// unreadable file disables the denylist check.
	DenylistPath string
}

// PolicyConfigFromEnv reads PASSWORD_DENYLIST; everything else stays at defaults.
func PolicyConfigFromEnv() PolicyConfig {
	path := os.Getenv("PASSWORD_DENYLIST")
	if path == "" {
		path = "top_passwords.txt"
	}
	return PolicyConfig{DenylistPath: path}
}

// PasswordPolicy decides whether a candidate password is acceptable for an
// account holder.
type PasswordPolicy struct {
	cfg      PolicyConfig
	denylist map[string]struct{}
}

// NewPasswordPolicy loads the denylist. The returned error is informational:
// the policy is always usable and simply skips the denylist check when the
// file could not be read.
func NewPasswordPolicy(cfg PolicyConfig) (*PasswordPolicy, error) {
	if cfg.MinLength == 0 {
		cfg.MinLength = MinPasswordLength
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = MaxPasswordLength
	}
	if cfg.MinLetters == 0 {
		cfg.MinLetters = MinPasswordLetters
	}
	if cfg.SpecialChars == "" {
		cfg.SpecialChars = DefaultSpecialChars
	}
	p := &PasswordPolicy{cfg: cfg}
	if cfg.DenylistPath == "" {
		return p, nil
	}
	f, err := os.Open(cfg.DenylistPath)
	if err != nil {
		return p, err
	}
	defer f.Close()
	list, err := readDenylist(f)
	if err != nil {
		return p, err
	}
	p.denylist = list
	return p, nil
}

// NewPasswordPolicyFromReader builds a policy whose denylist is read from r.
func NewPasswordPolicyFromReader(cfg PolicyConfig, r io.Reader) (*PasswordPolicy, error) {
	cfg.DenylistPath = ""
	p, _ := NewPasswordPolicy(cfg)
	list, err := readDenylist(r)
	if err != nil {
		return p, err
	}
	p.denylist = list
	return p, nil
}

func readDenylist(r io.Reader) (map[string]struct{}, error) {
	list := make(map[string]struct{})
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			list[line] = struct{}{}
		}
	}
	return list, sc.Err()
}

var (
	errPasswordLength  = errors.New("password length out of range")
	errPasswordName    = errors.New("password contains the account holder's name")
	errPasswordNoName  = errors.New("full name is empty")
	errPasswordSpecial = errors.New("password has no special character")
	errPasswordLetters = errors.New("password has too few letters")
	errPasswordDenied  = errors.New("password is on the weak password list")
)

// IsAcceptable reports whether password passes every rule for fullName.
func (p *PasswordPolicy) IsAcceptable(password, fullName string) bool {
	return p.Check(password, fullName) == nil
}

// Check is IsAcceptable with the first failing rule as error.
func (p *PasswordPolicy) Check(password, fullName string) error {
	n := utf8.RuneCountInString(password)
	if n < p.cfg.MinLength || n > p.cfg.MaxLength {
		return errPasswordLength
	}

	// first and second name tokens must not appear verbatim
	parts := strings.Fields(fullName)
	if len(parts) < 1 {
		return errPasswordNoName
	}
	for _, part := range parts[:min(2, len(parts))] {
		if strings.Contains(password, part) {
			return errPasswordName
		}
	}

	if !strings.ContainsAny(password, p.cfg.SpecialChars) {
		return errPasswordSpecial
	}

	letters := 0
	for _, r := range password {
		if unicode.IsUpper(r) || unicode.IsLower(r) {
			letters++
		}
	}
	if letters < p.cfg.MinLetters {
		return errPasswordLetters
	}

	if _, denied := p.denylist[password]; denied {
		return errPasswordDenied
	}
	return nil
}
