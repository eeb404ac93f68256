// Package types defines the shared types used across Aphelia packages.
//
// These form the lingua franca between the capture backends, the routing
// policy, and the application layer. Each package defines its own domain
// types; cross-cutting data structures live here to avoid circular imports.
package types

// Role classifies a user account for routing and administrative access.
type Role string

const (
	// RolePatient is a regular therapy account.
	RolePatient Role = "patient"

	// RoleAdmin is a clinician/administrator account. Admins control
	// their capture backend through the explicit cloud override instead
	// of the tier rule.
	RoleAdmin Role = "admin"
)

// Tier is the subscription classification governing backend routing and
// content access.
type Tier string

const (
	// TierFree routes capture to the local backend and limits curriculum
	// access to the first day.
	TierFree Tier = "free"

	// TierPremium routes capture to the cloud backend and unlocks the
	// full curriculum.
	TierPremium Tier = "premium"
)

// Profile is the externally supplied user record. Identity and billing are
// resolved upstream; the engine consumes this plain data only.
type Profile struct {
	// UserID is the stable patient identifier, keyed on trial records.
	UserID string

	// Role classifies the account.
	Role Role

	// Tier is the subscription classification.
	Tier Tier

	// CloudOverride is the explicit backend choice honoured for admin
	// accounts: true forces the cloud backend, false the local one.
	CloudOverride bool
}
