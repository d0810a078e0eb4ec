package models

type Tenant struct {
	ID        string `json:"id" db:"id"`
	Slug      string `json:"slug" db:"slug"`
	Name      string `json:"name" db:"name"`
	Currency  string `json:"currency" db:"currency"`
	CreatedAt int64  `json:"createdAt" db:"created_at"`
	UpdatedAt int64  `json:"updatedAt" db:"updated_at"`
}

type User struct {
	ID           string `json:"id" db:"id"`
	TenantID     string `json:"tenantId" db:"tenant_id"`
	Email        string `json:"email" db:"email"`
	PasswordHash string `json:"-" db:"password_hash"`
	FullName     string `json:"fullName" db:"full_name"`
	Role         string `json:"role" db:"role"`
	LastLoginAt  *int64 `json:"lastLoginAt,omitempty" db:"last_login_at"`
	CreatedAt    int64  `json:"createdAt" db:"created_at"`
	UpdatedAt    int64  `json:"updatedAt" db:"updated_at"`
}

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)
