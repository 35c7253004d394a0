package domain

// Actor is the already-authenticated identity attached to an operation. The
// core uses it for audit attribution only; permission checks happen upstream,
// except for the process-termination escape hatch which requires RoleAdmin.
type Actor struct {
	ID   string
	Role string
}

const RoleAdmin = "admin"
