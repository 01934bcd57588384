package rainsoft

import (
	"fmt"
	"strings"
)

// Credentials holds the account login material. Immutable after construction;
// the password never appears in logs or error text.
type Credentials struct {
	email    string
	password string
}

// NewCredentials normalizes the email (the vendor treats it case-insensitively)
// and wraps both values in an immutable store.
func NewCredentials(email, password string) Credentials {
	return Credentials{
		email:    strings.ToLower(strings.TrimSpace(email)),
		password: password,
	}
}

func (c Credentials) Email() string {
	return c.email
}

func (c Credentials) Password() string {
	return c.password
}

// String implements fmt.Stringer with the password redacted and the email
// masked, so accidental %v formatting never leaks credentials.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{email: %s, password: <redacted>}", MaskEmail(c.email))
}

// MaskEmail keeps the first character and the domain of an address.
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 1 {
		return "***"
	}

	return email[:1] + "***" + email[at:]
}
