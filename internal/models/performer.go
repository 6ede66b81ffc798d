package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// systemToken is how the System performer is stored in performed_by.
const systemToken = "system"

// Performer identifies who caused an activity: a human user or the system.
// The zero value is invalid.
type Performer struct {
	userID string
	system bool
}

// System attributes automatic activity rows.
var System = Performer{system: true}

// Human attributes an activity to a user. An empty id yields an invalid performer.
func Human(userID string) Performer {
	return Performer{userID: strings.TrimSpace(userID)}
}

// ParsePerformer is the inverse of String.
func ParsePerformer(s string) (Performer, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, systemToken) {
		return System, nil
	}
	p := Human(s)
	if !p.Valid() {
		return Performer{}, fmt.Errorf("performer is required")
	}
	return p, nil
}

func (p Performer) IsSystem() bool { return p.system }

// UserID returns the acting user's id and false for the System performer.
func (p Performer) UserID() (string, bool) {
	if p.system || p.userID == "" {
		return "", false
	}
	return p.userID, true
}

func (p Performer) Valid() bool {
	return p.system || p.userID != ""
}

func (p Performer) String() string {
	if p.system {
		return systemToken
	}
	return p.userID
}

func (p Performer) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Performer) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePerformer(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
