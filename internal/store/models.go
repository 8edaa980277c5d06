package store

import "time"

// StaffUser is a dashboard account: parish secretaries, chancery reviewers,
// museum researchers, admins.
type StaffUser struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	Parish                string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
