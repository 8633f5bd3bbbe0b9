// Package registry canonicalizes extracted field names so that the same
// logical field aggregates under one key regardless of how each document's
// extraction labeled it.
package registry

import (
	"os"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Registry maps normalized field-name spellings to canonical keys.
type Registry struct {
	aliases map[string]string
}

// defaultAliases covers the spellings extraction vendors most commonly emit.
// Keys are space-joined lowercase token forms; values are canonical keys.
var defaultAliases = map[string]string{
	"email address":    "email",
	"e mail":           "email",
	"electronic mail":  "email",
	"phone number":     "phone",
	"telephone":        "phone",
	"telephone number": "phone",
	"mobile":           "phone",
	"mobile number":    "phone",
	"cell phone":       "phone",
	"full name":        "fullName",
	"complete name":    "fullName",
	"applicant name":   "fullName",
	"name":             "fullName",
	"first name":       "firstName",
	"given name":       "firstName",
	"last name":        "lastName",
	"family name":      "lastName",
	"surname":          "lastName",
	"date of birth":    "dateOfBirth",
	"birth date":       "dateOfBirth",
	"dob":              "dateOfBirth",
	"street address":   "address",
	"mailing address":  "address",
	"home address":     "address",
	"zip":              "zipCode",
	"zip code":         "zipCode",
	"postal code":      "zipCode",
}

// New returns a registry seeded with the default alias table.
func New() *Registry {
	aliases := make(map[string]string, len(defaultAliases))
	for k, v := range defaultAliases {
		aliases[k] = v
	}
	return &Registry{aliases: aliases}
}

// aliasFile is the YAML shape of an alias override file: canonical key to
// list of spellings.
type aliasFile struct {
	Aliases map[string][]string `yaml:"aliases"`
}

// LoadFile merges aliases from a YAML file into the registry. Malformed
// entries are skipped with a warning; a missing file is an error the caller
// decides how to treat.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "registry: read alias file %s", path)
	}

	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return eris.Wrapf(err, "registry: parse alias file %s", path)
	}

	for canonical, spellings := range f.Aliases {
		if strings.TrimSpace(canonical) == "" {
			zap.L().Warn("registry: skipping alias group with empty canonical key")
			continue
		}
		for _, s := range spellings {
			key := tokenKey(s)
			if key == "" {
				zap.L().Warn("registry: skipping empty alias spelling",
					zap.String("canonical", canonical),
				)
				continue
			}
			r.aliases[key] = canonical
		}
	}
	return nil
}

// Normalize canonicalizes a raw field name: Unicode-fold, trim, tokenize,
// resolve aliases. Returns "" for names with no usable content; callers drop
// those records with a warning.
func (r *Registry) Normalize(raw string) string {
	key := tokenKey(raw)
	if key == "" {
		return ""
	}
	if canonical, ok := r.aliases[key]; ok {
		return canonical
	}
	return lowerCamel(strings.Fields(key))
}

var folder = cases.Fold()

// tokenKey reduces a raw name to its space-joined lowercase token form,
// splitting on whitespace, underscores, hyphens and camelCase boundaries.
func tokenKey(raw string) string {
	s := folder.String(norm.NFC.String(splitCamel(strings.TrimSpace(raw))))
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '_' || r == '-' || r == '.' || r == ':' || r == '/'
	})
	clean := fields[:0]
	for _, f := range fields {
		if hasLetterOrDigit(f) {
			clean = append(clean, f)
		}
	}
	return strings.Join(clean, " ")
}

// splitCamel inserts spaces at lower-to-upper boundaries so "firstName"
// tokenizes the same as "first_name".
func splitCamel(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func hasLetterOrDigit(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// lowerCamel joins tokens into the canonical lowerCamel key form.
func lowerCamel(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(tokens[0])
	for _, t := range tokens[1:] {
		runes := []rune(t)
		b.WriteRune(unicode.ToUpper(runes[0]))
		b.WriteString(string(runes[1:]))
	}
	return b.String()
}
