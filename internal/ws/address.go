package ws

import (
	"encoding/json"
	"fmt"
)

// AddressKind selects which subscribers a publish reaches.
type AddressKind uint8

const (
	KindBroadcast AddressKind = iota + 1
	KindUser
	KindAdmin
)

func (k AddressKind) String() string {
	switch k {
	case KindBroadcast:
		return "broadcast"
	case KindUser:
		return "user"
	case KindAdmin:
		return "admin"
	}
	return "invalid"
}

// Address is a realtime destination: every session, one user's sessions, or the admin observers.
type Address struct {
	Kind   AddressKind `json:"kind"`
	UserID uint        `json:"user_id,omitempty"`
}

func Broadcast() Address   { return Address{Kind: KindBroadcast} }
func User(id uint) Address { return Address{Kind: KindUser, UserID: id} }
func Admin() Address       { return Address{Kind: KindAdmin} }
func (a Address) String() string {
	if a.Kind == KindUser {
		return fmt.Sprintf("user:%d", a.UserID)
	}
	return a.Kind.String()
}

func (a Address) Validate() error {
	switch a.Kind {
	case KindBroadcast, KindAdmin:
		return nil
	case KindUser:
		if a.UserID == 0 {
			return fmt.Errorf("ws: user address without id")
		}
		return nil
	}
	return fmt.Errorf("ws: invalid address kind %d", a.Kind)
}

func (k AddressKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *AddressKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "broadcast":
		*k = KindBroadcast
	case "user":
		*k = KindUser
	case "admin":
		*k = KindAdmin
	default:
		return fmt.Errorf("ws: unknown address kind %q", s)
	}
	return nil
}
