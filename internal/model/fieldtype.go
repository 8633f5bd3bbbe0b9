package model

import (
	"net/mail"
	"regexp"
	"strconv"
	"strings"
)

// FieldType classifies a profile field for suggestion filtering and value
// sanity checks.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeEmail    FieldType = "email"
	FieldTypePhone    FieldType = "phone"
	FieldTypeDate     FieldType = "date"
	FieldTypeNumber   FieldType = "number"
	FieldTypeCurrency FieldType = "currency"
	FieldTypeAddress  FieldType = "address"
	FieldTypeName     FieldType = "name"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeUnknown  FieldType = "unknown"
)

// ParseFieldType maps a caller-supplied type hint to a FieldType. Anything
// unrecognized parses as unknown, which disables type filtering rather than
// erroring.
func ParseFieldType(s string) FieldType {
	switch FieldType(strings.ToLower(strings.TrimSpace(s))) {
	case FieldTypeText, FieldTypeEmail, FieldTypePhone, FieldTypeDate,
		FieldTypeNumber, FieldTypeCurrency, FieldTypeAddress,
		FieldTypeName, FieldTypeBoolean:
		return FieldType(strings.ToLower(strings.TrimSpace(s)))
	default:
		return FieldTypeUnknown
	}
}

// inferenceTerms orders name fragments by specificity: the first group that
// matches wins, so "birth_date" classifies as date, not name.
var inferenceTerms = []struct {
	typ   FieldType
	terms []string
}{
	{FieldTypeEmail, []string{"email", "e-mail", "e_mail"}},
	{FieldTypePhone, []string{"phone", "mobile", "tel", "cell", "fax"}},
	{FieldTypeDate, []string{"date", "birth", "dob", "expiry", "issued"}},
	{FieldTypeCurrency, []string{"amount", "price", "salary", "income", "revenue"}},
	{FieldTypeAddress, []string{"address", "street", "city", "state", "zip", "postal", "country"}},
	{FieldTypeName, []string{"name", "first", "last", "surname", "given", "applicant"}},
	{FieldTypeNumber, []string{"number", "count", "quantity", "ssn", "id_number"}},
	{FieldTypeBoolean, []string{"is_", "has_", "agree", "consent"}},
}

// InferFieldType classifies a field by its canonical name.
func InferFieldType(fieldName string) FieldType {
	lower := strings.ToLower(fieldName)
	if lower == "" {
		return FieldTypeUnknown
	}
	for _, group := range inferenceTerms {
		for _, term := range group.terms {
			if strings.Contains(lower, term) {
				return group.typ
			}
		}
	}
	return FieldTypeText
}

// Compatible reports whether a candidate drawn from a field of type have may
// be suggested for a field of type want. Mismatched type is an exclusion
// filter: an unknown on either side disables the filter, text accepts loosely
// typed sources, everything else requires an exact match.
func Compatible(want, have FieldType) bool {
	if want == FieldTypeUnknown || have == FieldTypeUnknown {
		return true
	}
	if want == have {
		return true
	}
	// Text targets accept name and address sources; the reverse is not true.
	if want == FieldTypeText && (have == FieldTypeName || have == FieldTypeAddress) {
		return true
	}
	return false
}

var (
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}$`),
		regexp.MustCompile(`^\d{4}[/\-.]\d{1,2}[/\-.]\d{1,2}$`),
		regexp.MustCompile(`(?i)^\d{1,2}\s+(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{4}$`),
	}
	currencyPattern = regexp.MustCompile(`^\$?[\d,]+\.?\d{0,2}$`)
	nonDigit        = regexp.MustCompile(`\D`)
)

// ValidValue checks a raw value against a field type's expected format.
// Text, name, address and unknown fields accept anything non-empty.
func ValidValue(typ FieldType, value string) bool {
	v := strings.TrimSpace(value)
	if v == "" {
		return false
	}
	switch typ {
	case FieldTypeEmail:
		_, err := mail.ParseAddress(v)
		return err == nil
	case FieldTypePhone:
		n := len(nonDigit.ReplaceAllString(v, ""))
		return n >= 7 && n <= 15
	case FieldTypeDate:
		for _, p := range datePatterns {
			if p.MatchString(v) {
				return true
			}
		}
		return false
	case FieldTypeNumber:
		_, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
		return err == nil
	case FieldTypeCurrency:
		return currencyPattern.MatchString(strings.ReplaceAll(v, " ", ""))
	case FieldTypeBoolean:
		switch strings.ToLower(v) {
		case "true", "false", "yes", "no", "1", "0":
			return true
		}
		return false
	default:
		return true
	}
}
