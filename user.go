package astroglossary

import (
	"slices"
	"time"
)

// RoleAdmin is the role allowed to review flagged users.
const RoleAdmin = "admin"

// User is an account that can own posts and authenticate writes.
type User struct {
	ID       string `json:"id" yaml:"id" toml:"id" mapstructure:"id"`
	Username string `json:"username" yaml:"username" toml:"username" mapstructure:"username"`
	Email    string `json:"email,omitempty" yaml:"email" toml:"email" mapstructure:"email"`
	Role     string `json:"role,omitempty" yaml:"role" toml:"role" mapstructure:"role"`
	Token    string `json:"-" yaml:"token" toml:"token" mapstructure:"token"`
	Flag     *Flag  `json:"flag,omitempty" yaml:"flag" toml:"flag" mapstructure:"flag"`
}

// Flag marks a user for review by an admin.
type Flag struct {
	Reason    string    `json:"reason" yaml:"reason" toml:"reason" mapstructure:"reason"`
	FlaggedAt time.Time `json:"flagged_at" yaml:"flagged_at" toml:"flagged_at" mapstructure:"flagged_at"`
}

// FlaggedUser is a flagged user together with the reason, as listed for admins.
type FlaggedUser struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Reason    string    `json:"reason"`
	FlaggedAt time.Time `json:"flagged_at"`
}

// IsAdmin returns true if the user has the admin role
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Users indexes users by ID and by bearer token.
type Users struct {
	all     []User
	byID    map[string]User
	byToken map[string]User
}

// NewUsers builds a user index. Users without a token can own posts but cannot authenticate.
// A later user replaces an earlier one with the same ID.
func NewUsers(users ...User) *Users {
	u := &Users{
		byID:    make(map[string]User, len(users)),
		byToken: make(map[string]User, len(users)),
	}
	for _, user := range users {
		if _, ok := u.byID[user.ID]; ok {
			u.all = slices.DeleteFunc(u.all, func(existing User) bool { return existing.ID == user.ID })
		}
		u.all = append(u.all, user)
		u.byID[user.ID] = user
		if user.Token != "" {
			u.byToken[user.Token] = user
		}
	}
	return u
}

// ByID returns the user with the given ID
func (u *Users) ByID(id string) (User, bool) {
	if u == nil {
		return User{}, false
	}
	user, ok := u.byID[id]
	return user, ok
}

// ByToken returns the user that owns the bearer token
func (u *Users) ByToken(token string) (User, bool) {
	if u == nil || token == "" {
		return User{}, false
	}
	user, ok := u.byToken[token]
	return user, ok
}

// Flagged returns the flagged users, most recently flagged first.
func (u *Users) Flagged() []FlaggedUser {
	flagged := []FlaggedUser{}
	if u == nil {
		return flagged
	}

	for _, user := range u.all {
		if user.Flag == nil {
			continue
		}
		flagged = append(flagged, FlaggedUser{
			UserID:    user.ID,
			Username:  user.Username,
			Email:     user.Email,
			Role:      user.Role,
			Reason:    user.Flag.Reason,
			FlaggedAt: user.Flag.FlaggedAt,
		})
	}

	slices.SortStableFunc(flagged, func(a, b FlaggedUser) int {
		return b.FlaggedAt.Compare(a.FlaggedAt)
	})
	return flagged
}
