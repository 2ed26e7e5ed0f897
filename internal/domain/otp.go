package domain

import "time"

// PhoneNumber is a phone number in canonical E.164 form (+<country><national>).
type PhoneNumber string

func (p PhoneNumber) String() string { return string(p) }

// Channel is the medium a verification code is delivered through.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelCall     Channel = "call"
)

// Provider verification statuses.
const (
	VerificationPending  = "pending"
	VerificationApproved = "approved"
	VerificationCanceled = "canceled"
	VerificationExpired  = "expired"
)

// VerificationAttempt is the provider-side handle of one verification session.
type VerificationAttempt struct {
	ID      string  `json:"sid"`
	Status  string  `json:"status"`
	To      string  `json:"to"`
	Channel Channel `json:"channel"`
	Valid   bool    `json:"valid"`
}

// GatewayStatus reports whether the verification gateway has credentials.
type GatewayStatus struct {
	Configured bool `json:"configured"`
}

// OTPRecord is one pending locally-issued verification challenge.
type OTPRecord struct {
	Phone    PhoneNumber
	Code     string
	IssuedAt time.Time
	Attempts int
}

// ConsumeOutcome is the result of checking a code against the session store.
type ConsumeOutcome string

const (
	ConsumeOK        ConsumeOutcome = "ok"
	ConsumeInvalid   ConsumeOutcome = "invalid"
	ConsumeExpired   ConsumeOutcome = "expired"
	ConsumeNotFound  ConsumeOutcome = "not_found"
	ConsumeExhausted ConsumeOutcome = "exhausted"
)

// ConsumeResult carries the outcome and, for ConsumeInvalid, how many
// mismatches the record still tolerates (-1 when unlimited).
type ConsumeResult struct {
	Outcome      ConsumeOutcome
	AttemptsLeft int
}
