package dynamo

// DynamoDB attribute names used in keys and update expressions.
const (
	fieldSubject    = "subject"
	fieldType       = "type"
	fieldCodeHash   = "code_hash"
	fieldAttempts   = "attempts"
	fieldExpiresAt  = "expires_at"
	fieldVerifiedAt = "verified_at"
)
