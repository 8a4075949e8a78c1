package checkout

import (
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"

	"finitefield.org/storefront/internal/commerce"
)

// FieldErrors maps form field names to i18n message keys.
type FieldErrors map[string]string

// Has reports whether field has an error.
func (f FieldErrors) Has(field string) bool {
	_, ok := f[field]
	return ok
}

const (
	msgRequired     = "form.errors.required"
	msgInvalidEmail = "form.errors.email"
	msgTooLong      = "form.errors.too_long"
	msgInvalidZip   = "form.errors.zip"

	maxFieldLength = 120
)

// ParseAddressForm reads address fields from form values. Fields are named prefix+"firstName",
// prefix+"lastName" and so on.
func ParseAddressForm(values url.Values, prefix string) commerce.Address {
	get := func(name string) string {
		return strings.TrimSpace(values.Get(prefix + name))
	}
	return commerce.Address{
		FirstName:        get("firstName"),
		LastName:         get("lastName"),
		Address1:         get("address1"),
		Address2:         get("address2"),
		ZipCode:          get("zipCode"),
		City:             get("city"),
		Country:          strings.ToUpper(get("country")),
		Email:            get("email"),
		PhoneNumber:      get("phoneNumber"),
		OrganizationName: get("organizationName"),
	}
}

// ValidateAddress returns field errors for a; an empty map means valid.
func ValidateAddress(a commerce.Address) FieldErrors {
	errs := FieldErrors{}
	required := map[string]string{
		"firstName": a.FirstName,
		"lastName":  a.LastName,
		"address1":  a.Address1,
		"zipCode":   a.ZipCode,
		"city":      a.City,
		"country":   a.Country,
		"email":     a.Email,
	}
	for field, value := range required {
		if value == "" {
			errs[field] = msgRequired
		}
	}
	optional := map[string]string{
		"address2":         a.Address2,
		"phoneNumber":      a.PhoneNumber,
		"organizationName": a.OrganizationName,
	}
	for field, value := range optional {
		if utf8.RuneCountInString(value) > maxFieldLength {
			errs[field] = msgTooLong
		}
	}
	for field, value := range required {
		if _, ok := errs[field]; !ok && utf8.RuneCountInString(value) > maxFieldLength {
			errs[field] = msgTooLong
		}
	}
	if !errs.Has("email") {
		if parsed, err := mail.ParseAddress(a.Email); err != nil || parsed.Address != a.Email {
			errs["email"] = msgInvalidEmail
		}
	}
	if !errs.Has("zipCode") && !validZip(a.ZipCode) {
		errs["zipCode"] = msgInvalidZip
	}
	return errs
}

func validZip(zip string) bool {
	digits := 0
	for _, r := range zip {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ' || r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
		default:
			return false
		}
	}
	return digits > 0 && len(zip) <= 10
}
