// Package visibility decides which users may appear to a viewer in matching
// and overlap results. Blocks are bilateral: if either user blocked the
// other, neither sees the other, whoever issued the block.
package visibility

import (
	"context"
	"fmt"

	"github.com/cragmate/partner-engine/internal/model"
)

// BlockSet holds the users a viewer blocked or was blocked by.
type BlockSet map[model.UserID]struct{}

// NewBlockSet builds a BlockSet from ids.
func NewBlockSet(ids ...model.UserID) BlockSet {
	s := make(BlockSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is blocked in either direction.
func (s BlockSet) Has(id model.UserID) bool {
	_, ok := s[id]
	return ok
}

// CanSee is the visibility predicate. A nil viewer is anonymous and only the
// profile flag applies.
func CanSee(viewer, other *model.User, blocks BlockSet) bool {
	if other == nil {
		return false
	}
	if viewer == nil {
		return other.ProfileVisible
	}
	return !blocks.Has(other.ID) && other.ProfileVisible
}

// Source is the slice of the Data Store the resolver reads.
type Source interface {
	BlockedEitherWay(ctx context.Context, id model.UserID) ([]model.UserID, error)
	IsBlockedEitherWay(ctx context.Context, a, b model.UserID) (bool, error)
	FriendIDsOf(ctx context.Context, id model.UserID) ([]model.UserID, error)
	UsersByID(ctx context.Context, ids []model.UserID) (map[model.UserID]*model.User, error)
}

// Resolver applies CanSee against blocks loaded from a Source.
type Resolver struct {
	src Source
}

// NewResolver creates a Resolver backed by src.
func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// Blocks loads the viewer's bilateral block set. Anonymous viewers get an
// empty set.
func (r *Resolver) Blocks(ctx context.Context, viewer *model.User) (BlockSet, error) {
	if viewer == nil {
		return BlockSet{}, nil
	}
	ids, err := r.src.BlockedEitherWay(ctx, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("visibility: blocks of %s: %w", viewer.ID, err)
	}
	return NewBlockSet(ids...), nil
}

// IsVisible reports whether other may appear to viewer.
func (r *Resolver) IsVisible(ctx context.Context, viewer, other *model.User) (bool, error) {
	if other == nil {
		return false, nil
	}
	if viewer == nil {
		return other.ProfileVisible, nil
	}
	blocked, err := r.src.IsBlockedEitherWay(ctx, viewer.ID, other.ID)
	if err != nil {
		return false, fmt.Errorf("visibility: block check %s/%s: %w", viewer.ID, other.ID, err)
	}
	blocks := BlockSet{}
	if blocked {
		blocks[other.ID] = struct{}{}
	}
	return CanSee(viewer, other, blocks), nil
}

// VisibleSet filters candidates down to those visible to viewer with a single
// block lookup. Input order is preserved.
func (r *Resolver) VisibleSet(ctx context.Context, viewer *model.User, candidates []*model.User) ([]*model.User, error) {
	blocks, err := r.Blocks(ctx, viewer)
	if err != nil {
		return nil, err
	}
	out := make([]*model.User, 0, len(candidates))
	for _, c := range candidates {
		if CanSee(viewer, c, blocks) {
			out = append(out, c)
		}
	}
	return out, nil
}

// FriendIDs returns the viewer's accepted friends that are visible to them.
func (r *Resolver) FriendIDs(ctx context.Context, viewer *model.User) (map[model.UserID]bool, error) {
	if viewer == nil {
		return map[model.UserID]bool{}, nil
	}
	ids, err := r.src.FriendIDsOf(ctx, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("visibility: friends of %s: %w", viewer.ID, err)
	}
	if len(ids) == 0 {
		return map[model.UserID]bool{}, nil
	}

	users, err := r.src.UsersByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("visibility: load friends of %s: %w", viewer.ID, err)
	}
	blocks, err := r.Blocks(ctx, viewer)
	if err != nil {
		return nil, err
	}

	friends := make(map[model.UserID]bool, len(ids))
	for _, id := range ids {
		if CanSee(viewer, users[id], blocks) {
			friends[id] = true
		}
	}
	return friends, nil
}
