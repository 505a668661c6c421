package credential

import (
	"fmt"
	"sort"
	"strings"
)

// Role selects which profile fields an account must provide.
type Role string

// Account roles.
const (
	RoleUser    Role = "user"
	RoleCompany Role = "company"
)

// RoleAttribute is the display attribute key holding the account role.
const RoleAttribute = "role"

// Profile attribute keys collected after the biometric step.
const (
	AttrFullName     = "fullName"
	AttrPhone        = "phone"
	AttrExperience   = "experience"
	AttrSkills       = "skills"
	AttrInterests    = "interests"
	AttrMinSalary    = "minSalary"
	AttrLocation     = "location"
	AttrAvailability = "availability"

	AttrCompanyName = "companyName"
	AttrIndustry    = "industry"
	AttrWebsite     = "website"
	AttrDescription = "description"
	AttrCity        = "city"
	AttrSize        = "size"
)

var requiredAttributes = map[Role][]string{
	RoleUser:    {AttrFullName, AttrPhone},
	RoleCompany: {AttrCompanyName, AttrIndustry, AttrCity},
}

// ParseRole parses a role name; empty defaults to RoleUser.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoleUser:
		return RoleUser, nil
	case RoleCompany:
		return RoleCompany, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// MissingAttributes returns the required attributes for role that are absent or blank.
func MissingAttributes(role Role, attrs map[string]string) []string {
	var missing []string
	for _, key := range requiredAttributes[role] {
		if strings.TrimSpace(attrs[key]) == "" {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}
