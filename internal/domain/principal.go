package domain

// Principal is the identity behind the current session. Values are
// immutable: a privilege or attribute change is represented by a new
// Principal, never by mutating an existing one.
type Principal struct {
	ID        string
	Email     string
	Role      string
	AdminFlag bool
	// Privileged is derived once at construction via DerivePrivileged.
	Privileged bool
}

// DerivePrivileged reports whether a principal with these attributes may
// see and mutate every report. The email comparison is a compatibility
// fallback only; it is not an authoritative signal and the backend's
// row-level rules remain the enforcer of record.
func (p Principal) DerivePrivileged(adminEmail string) bool {
	if p.Role == "admin" {
		return true
	}
	if p.AdminFlag {
		return true
	}
	return adminEmail != "" && p.Email == adminEmail
}

// WithPrivilege returns a copy of p with Privileged derived against the
// configured admin address.
func (p Principal) WithPrivilege(adminEmail string) Principal {
	p.Privileged = p.DerivePrivileged(adminEmail)
	return p
}

// CanMutate reports whether p may edit or delete r. This gates the
// affordance in the presentation layer only; authorization is enforced
// remotely. Callers must evaluate it per request rather than caching
// the result, since the principal can change between requests.
func CanMutate(p *Principal, r Report) bool {
	if p == nil {
		return false
	}
	return p.ID == r.UserID || p.Privileged
}
