package domain

import (
	"slices"
	"time"
)

type UserKind string

const (
	UserKindPerson  UserKind = "person"
	UserKindService UserKind = "service"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// User is the identity record. Persons authenticate with a PersonCredential, services never do.
type User struct {
	ID        string
	Kind      UserKind
	Username  string
	TenantID  string
	Roles     []string
	Status    UserStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u User) IsPerson() bool    { return u.Kind == UserKindPerson }
func (u User) IsSuspended() bool { return u.Status == UserStatusSuspended }

func (u User) HasRole(role string) bool { return slices.Contains(u.Roles, role) }

// Address mirrors the OIDC address claim.
type Address struct {
	Formatted     string
	StreetAddress string
	Locality      string
	Region        string
	PostalCode    string
	Country       string
}

func (a Address) IsZero() bool { return a == Address{} }

// Profile holds the claims released by userinfo and the ID token.
type Profile struct {
	UserID              string
	Name                string
	GivenName           string
	FamilyName          string
	Email               string
	EmailVerified       bool
	PhoneNumber         string
	PhoneNumberVerified bool
	Address             Address
	Zoneinfo            string
	Locale              string
	UpdatedAt           time.Time
}
