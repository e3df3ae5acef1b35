package domain

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

type User struct {
	ID           int64
	Username     string
	Email        string
	Role         Role
	PasswordHash string
}

// Session identifies the caller of a service operation. The zero value is an
// unauthenticated session.
type Session struct {
	UserID   int64
	Username string
	Role     Role
}

func (s Session) Authenticated() bool {
	return s.UserID > 0 && s.Role.Valid()
}

func (s Session) IsAdmin() bool {
	return s.Authenticated() && s.Role == RoleAdmin
}
