package domain

import "time"

// Verification types stored in the verifications table.
const (
	VerificationTypeEmail = "email"
)

// EmailVerification stores an email confirmation token.
// PK: subject (lower-cased email), SK: type.
// ExpiresAt is a Unix timestamp used as DynamoDB TTL.
type EmailVerification struct {
	Subject    string     `json:"subject" dynamodbav:"subject"`
	Type       string     `json:"type" dynamodbav:"type"`
	CodeHash   string     `json:"-" dynamodbav:"code_hash"`
	Attempts   int        `json:"attempts" dynamodbav:"attempts"`
	ExpiresAt  int64      `json:"expires_at" dynamodbav:"expires_at"`
	VerifiedAt *time.Time `json:"verified_at,omitempty" dynamodbav:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created" dynamodbav:"created_at"`
}

// Verified reports whether the token has already been confirmed.
func (v *EmailVerification) Verified() bool { return v.VerifiedAt != nil }
