package model

import "time"

type UserID string

type UserStatus int

const (
	UserStatusPending UserStatus = iota
	UserStatusActive
	UserStatusLocked
)

// Role is the custom account attribute that separates the two sides of the
// helpline.
type Role string

const (
	RoleUser  Role = "user"  // reporting party
	RoleAgent Role = "agent" // helpline operator
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAgent
}

type SignupParams struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}

type LoginParams struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type User struct {
	ID             UserID     `db:"ID" json:"id"`
	CreatedAt      time.Time  `db:"CreatedAt" json:"createdAt"`
	UpdatedAt      *time.Time `db:"UpdatedAt" json:"updatedAt,omitempty"`
	LastLoggedInAt *time.Time `db:"LastLoggedInAt" json:"-"`
	LoginAttempts  int        `db:"LoginAttempts" json:"-"`
	Status         UserStatus `db:"Status" json:"status"`
	Email          string     `db:"Email" json:"email"`
	Name           string     `db:"Name" json:"name"`
	Role           Role       `db:"Role" json:"role"`
	Password       string     `db:"Password" json:"-"`
}

// UserInfo is the public view of an account shown to operators.
type UserInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

const UnknownUserName = "Unknown User"

// Session is an authenticated caller.
type Session struct {
	UserID    UserID    `json:"userId"`
	Role      Role      `json:"role"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}
