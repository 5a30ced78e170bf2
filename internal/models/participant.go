package models

// Role distinguishes the two kinds of chat participants.
type Role string

const (
	RoleShopper Role = "shopper"
	RoleAdmin   Role = "admin"
)

// Participant is a shopper or an administrator as seen by the chat core.
// Shoppers may only initiate rooms; administrators may only claim and finish them.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"-"`
}

func (p Participant) CanInitiateRoom() bool { return p.Role == RoleShopper }
func (p Participant) CanClaimRoom() bool    { return p.Role == RoleAdmin }
func (p Participant) IsZero() bool          { return p.ID == "" }
