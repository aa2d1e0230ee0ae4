package models

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	UserType         UserType `json:"userType"`
	FirstName        string   `json:"firstName"`
	LastName         string   `json:"lastName"`
	Username         string   `json:"username"`
	Email            string   `json:"email"`
	Phone            string   `json:"phone"`
	Password         string   `json:"password,omitempty"`
	ConfirmPassword  string   `json:"confirmPassword,omitempty"`
	CompanyName      string   `json:"companyName,omitempty"`
	OrganizationType string   `json:"organizationType,omitempty"`
	ActivityType     string   `json:"activityType,omitempty"`
	Language         string   `json:"language"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// EmailRequest is the body of POST /auth/forgot-password.
type EmailRequest struct {
	Email string `json:"email"`
}

// CodeRequest is the body of POST /auth/verify-reset-code and POST /auth/verify-email.
type CodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// ResetPasswordRequest is the body of POST /auth/reset-password.
type ResetPasswordRequest struct {
	Email           string `json:"email"`
	Code            string `json:"code"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// AuthData carries the user and session token of the reset-password response.
type AuthData struct {
	User  *User  `json:"user,omitempty"`
	Token string `json:"token,omitempty"`
}

// Envelope is the response body of every /auth endpoint.
//
// Code and Field are set on failures; Field names the offending form field.
// ExpiresIn is the one-time code lifetime in seconds, set by forgot-password.
type Envelope struct {
	Success   bool      `json:"success"`
	User      *User     `json:"user,omitempty"`
	Token     string    `json:"token,omitempty"`
	Data      *AuthData `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	Code      string    `json:"code,omitempty"`
	Field     string    `json:"field,omitempty"`
	ExpiresIn int       `json:"expiresIn,omitempty"`
}
