package models

import (
	"fmt"
	"strings"
)

// Role identifies who authored a turn.
type Role uint8

const (
	RoleSystem Role = iota + 1
	RoleUser
	RoleAssistant
)

var roleNames = map[Role]string{
	RoleSystem:    "system",
	RoleUser:      "user",
	RoleAssistant: "assistant",
}

// ParseRole maps the wire name of a role onto the closed Role set.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "system":
		return RoleSystem, nil
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	default:
		return 0, fmt.Errorf("unknown role %q", raw)
	}
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid role %d", uint8(r))
	}
	return []byte(roleNames[r]), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
