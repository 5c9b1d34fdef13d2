package checkout

import (
	"net/mail"
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`^[0-9+()\-\s]{6,20}$`)

// Customer is the contact and delivery information captured on the checkout form.
type Customer struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	Region    string `json:"region"`
	Subregion string `json:"subregion"`
}

// Normalize trims surrounding whitespace from every field.
func (c Customer) Normalize() Customer {
	return Customer{
		Name:      strings.TrimSpace(c.Name),
		Email:     strings.TrimSpace(c.Email),
		Phone:     strings.TrimSpace(c.Phone),
		Address:   strings.TrimSpace(c.Address),
		Region:    strings.TrimSpace(c.Region),
		Subregion: strings.TrimSpace(c.Subregion),
	}
}

// Validate reports every missing or malformed field at once.
func (c Customer) Validate() error {
	c = c.Normalize()
	var v ValidationError

	required := []struct{ field, value string }{
		{"name", c.Name},
		{"email", c.Email},
		{"phone", c.Phone},
		{"address", c.Address},
		{"region", c.Region},
		{"subregion", c.Subregion},
	}
	for _, r := range required {
		if r.value == "" {
			v.add(r.field, "is required")
		}
	}
	if c.Email != "" && !IsWellFormedEmail(c.Email) {
		v.add("email", "is not a valid email address")
	}
	if c.Phone != "" && !phonePattern.MatchString(c.Phone) {
		v.add("phone", "is not a valid phone number")
	}

	if len(v.Fields) == 0 {
		return nil
	}
	return &v
}

// IsWellFormedEmail accepts a bare address (no display name) with a dotted domain.
func IsWellFormedEmail(s string) bool {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	return at > 0 && strings.Contains(s[at+1:], ".")
}
