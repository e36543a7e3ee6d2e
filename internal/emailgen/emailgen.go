// Package emailgen derives corporate email addresses from employee names.
package emailgen

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ErrEmptyName = errors.New("full name is empty")

// Generator builds "<initial>.<surname>@<domain>" from a "Surname Name ..." full name.
type Generator struct {
	Domain string
}

// FromEnv reads CORPORATE_EMAIL_DOMAIN.
func FromEnv() Generator {
	d := os.Getenv("CORPORATE_EMAIL_DOMAIN")
	if d == "" {
		d = "cyber-ed.ru"
	}
	return Generator{Domain: d}
}

// Generate returns the address for fullName. Names are transliterated to
// ASCII and lower-cased.
func (g Generator) Generate(fullName string) (string, error) {
	parts := strings.Fields(fullName)
	var local string
	switch {
	case len(parts) == 0:
		return "", ErrEmptyName
	case len(parts) >= 2:
		initial := firstRune(Transliterate(parts[1]))
		surname := Transliterate(parts[0])
		if initial == "" || surname == "" {
			local = Transliterate(strings.Join(parts, "."))
		} else {
			local = initial + "." + surname
		}
	default:
		local = Transliterate(parts[0])
	}
	if strings.Trim(local, ".") == "" {
		return "", ErrEmptyName
	}
	return local + "@" + g.Domain, nil
}

// WithSuffix inserts n before the @, for resolving collisions:
// "i.ivanov@x" -> "i.ivanov2@x".
func WithSuffix(email string, n int) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return email + strconv.Itoa(n)
	}
	return email[:at] + strconv.Itoa(n) + email[at:]
}

func firstRune(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}

var cyrillic = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch",
	'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
}

// Transliterate lower-cases s, maps Cyrillic to Latin, drops diacritics and
// keeps only [a-z0-9.-].
func Transliterate(s string) string {
	var mapped strings.Builder
	for _, r := range strings.ToLower(s) {
		if lat, ok := cyrillic[r]; ok {
			mapped.WriteString(lat)
			continue
		}
		mapped.WriteRune(r)
	}
	// chains keep state, so build one per call
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(stripMarks, mapped.String())
	if err != nil {
		plain = mapped.String()
	}
	var b strings.Builder
	for _, r := range plain {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
