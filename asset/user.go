package asset

import "strings"

// firstHumanUserID separates the technical users (test, admin bots) from the people.
const firstHumanUserID = 31

// User is an account of the platform owning broker NAVs, portfolios or real estate.
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	IsAdmin   bool   `json:"isadmin"`
	// Initials identify the user in NAV symbols, e.g. "DC" in "DC.IM".
	Initials string `json:"initials"`

	VisibleUsers []*User `json:"-"`
}

// IsHuman reports whether the user is a person rather than a technical account.
func (u *User) IsHuman() bool { return u.ID >= firstHumanUserID }

// FindUser returns the user named username, or nil.
func FindUser(users []*User, username string) *User {
	for _, u := range users {
		if strings.EqualFold(u.Username, username) {
			return u
		}
	}
	return nil
}
