package domain

// Role enumerates the kinds of authenticated callers.
type Role string

const (
	RoleClient        Role = "client"
	RoleAnalyst       Role = "analyst"
	RoleSupervisor    Role = "supervisor"
	RoleAdministrator Role = "administrator"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleAnalyst, RoleSupervisor, RoleAdministrator:
		return true
	}
	return false
}

// Person is the minimal directory view of a client or staff member.
type Person struct {
	ID        int64
	Role      Role
	FirstName string
	LastName  string
}

// FullName joins first and last names.
func (p *Person) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}
