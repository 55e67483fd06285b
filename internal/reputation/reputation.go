// Package reputation implements the daemon's running-mean rating algorithm.
// A counterparty's reputation is never recomputed from history; each new
// rating folds into the existing mean/min/max in constant time rather than
// replaying every past trade.
package reputation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mostro-exchange/mostrod/internal/store"
)

// Engine applies ratings to a counterparty's persisted reputation record.
type Engine struct {
	store *store.Store
}

// New builds a reputation engine backed by st.
func New(st *store.Store) *Engine {
	return &Engine{store: st}
}

// Snapshot is the reputation figure shown to a prospective counterparty.
type Snapshot struct {
	TotalReviews int
	Rating       decimal.Decimal
	MinRating    int
	MaxRating    int
}

// Rate folds a new 1-5 rating of pubkey into its running mean, returning the
// resulting snapshot.
func (e *Engine) Rate(pubkey string, rating int) (*Snapshot, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("reputation: rating %d out of range 1-5", rating)
	}

	u, err := e.store.GetUser(pubkey)
	if err != nil {
		return nil, fmt.Errorf("reputation: get user: %w", err)
	}
	if u == nil {
		u = &store.UserRecord{Pubkey: pubkey}
	}

	n := u.TotalReviews + 1
	var mean decimal.Decimal
	min, max := u.MinRating, u.MaxRating
	if n == 1 {
		mean = decimal.NewFromInt(int64(rating))
		min, max = rating, rating
	} else {
		// mean += (rating - mean) / n
		prevMean := decimal.NewFromFloat(u.TotalRating)
		mean = prevMean.Add(decimal.NewFromInt(int64(rating)).Sub(prevMean).Div(decimal.NewFromInt(int64(n))))
		if rating < min {
			min = rating
		}
		if rating > max {
			max = rating
		}
	}

	meanFloat, _ := mean.Round(4).Float64()
	if err := e.store.RecordRating(pubkey, n, meanFloat, rating, min, max); err != nil {
		return nil, fmt.Errorf("reputation: record rating: %w", err)
	}

	return &Snapshot{TotalReviews: n, Rating: mean.Round(2), MinRating: min, MaxRating: max}, nil
}

// Get returns pubkey's current reputation snapshot, or a zero-value
// snapshot for an identity with no ratings yet.
func (e *Engine) Get(pubkey string) (*Snapshot, error) {
	u, err := e.store.GetUser(pubkey)
	if err != nil {
		return nil, fmt.Errorf("reputation: get user: %w", err)
	}
	if u == nil {
		return &Snapshot{}, nil
	}
	return &Snapshot{
		TotalReviews: u.TotalReviews,
		Rating:       decimal.NewFromFloat(u.TotalRating).Round(2),
		MinRating:    u.MinRating,
		MaxRating:    u.MaxRating,
	}, nil
}
