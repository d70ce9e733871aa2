package validation

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidPhone = errors.New("phone number must be a Kenyan mobile number")

	msisdnRegex = regexp.MustCompile(`^254(7|1)[0-9]{8}$`)
)

// NormalizePhone converts 07XXXXXXXX, 7XXXXXXXX, +2547XXXXXXXX and
// 2547XXXXXXXX forms to 2547XXXXXXXX.
func NormalizePhone(raw string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	p = strings.TrimPrefix(p, "+")
	switch {
	case strings.HasPrefix(p, "0") && len(p) == 10:
		p = "254" + p[1:]
	case (strings.HasPrefix(p, "7") || strings.HasPrefix(p, "1")) && len(p) == 9:
		p = "254" + p
	}
	if !msisdnRegex.MatchString(p) {
		return "", ErrInvalidPhone
	}
	return p, nil
}

// Phone validates and normalizes a phone field, returning the normalized form.
func (v *Validator) Phone(field, raw string) string {
	p, err := NormalizePhone(raw)
	if err != nil {
		v.AddError(field, "must be a valid Kenyan mobile number")
		return ""
	}
	return p
}
