package referral

import (
	"context"

	"referral-bot/internal/models"
)

// GraphReader is the slice of the store the referral graph reads from.
type GraphReader interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ChildrenOf(ctx context.Context, id int64) ([]models.User, error)
	ReferralCount(ctx context.Context, id int64) (int64, error)
}

// Graph is a derived, read-only view of the referral forest. It always queries
// the store so reward decisions never act on stale counts.
type Graph struct {
	store GraphReader
}

func NewGraph(store GraphReader) *Graph {
	return &Graph{store: store}
}

// ReferrerOf returns the user that referred id, or nil when there is none.
func (g *Graph) ReferrerOf(ctx context.Context, id int64) (*models.User, error) {
	user, err := g.store.GetUser(ctx, id)
	if err != nil || user == nil || user.ReferredByID == nil {
		return nil, err
	}
	if user.ReferredBy != nil {
		return user.ReferredBy, nil
	}
	return g.store.GetUser(ctx, *user.ReferredByID)
}

// ChildrenOf lists every user referred by id, joined or not.
func (g *Graph) ChildrenOf(ctx context.Context, id int64) ([]models.User, error) {
	return g.store.ChildrenOf(ctx, id)
}

// ReferralCount counts the children of id that completed the join flow.
func (g *Graph) ReferralCount(ctx context.Context, id int64) (int64, error) {
	return g.store.ReferralCount(ctx, id)
}
