package service

import (
	"context"
	"fmt"
)

// Recipient is one resolved target. Token is empty when the user has no device registered.
type Recipient struct {
	UserID uint
	Token  string
}

type TargetResolver struct {
	users UserDirectory
}

func NewTargetResolver(users UserDirectory) *TargetResolver {
	return &TargetResolver{users: users}
}

// Resolve turns a target selector into recipients. With all set every non-blocked user is
// returned; otherwise the de-duplicated ids are intersected with the non-blocked users.
func (r *TargetResolver) Resolve(ctx context.Context, ids []uint, all bool) ([]Recipient, error) {
	var filter []uint
	if !all {
		filter = dedupe(ids)
		if len(filter) == 0 {
			return []Recipient{}, nil
		}
	}
	users, err := r.users.ListActive(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("resolve targets: %w", err)
	}
	out := make([]Recipient, 0, len(users))
	for _, u := range users {
		out = append(out, Recipient{UserID: u.ID, Token: u.FCMToken})
	}
	return out, nil
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
