package domain

// Claim type identifiers embedded in access tokens.
const (
	ClaimSubject    = "sub"
	ClaimEmail      = "email"
	ClaimRole       = "role"
	ClaimUserType   = "user_type"
	ClaimPermission = "permission"
)

// Claim is a single (type, value) pair.
type Claim struct {
	Type  string
	Value string
}

// ClaimSet is an ordered multiset of claims. Order is significant and stable.
type ClaimSet []Claim

// Add appends a claim and returns the extended set.
func (c ClaimSet) Add(claimType, value string) ClaimSet {
	return append(c, Claim{Type: claimType, Value: value})
}

// First returns the first value for the claim type.
func (c ClaimSet) First(claimType string) (string, bool) {
	for _, claim := range c {
		if claim.Type == claimType {
			return claim.Value, true
		}
	}
	return "", false
}

// Values returns every value for the claim type in set order.
func (c ClaimSet) Values(claimType string) []string {
	var values []string
	for _, claim := range c {
		if claim.Type == claimType {
			values = append(values, claim.Value)
		}
	}
	return values
}

// Subject returns the subject claim, if present.
func (c ClaimSet) Subject() string {
	value, _ := c.First(ClaimSubject)
	return value
}
