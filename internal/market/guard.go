package market

import "nftmarket/internal/domain"

// reentrancyGuard rejects nested entry into guarded operations on the same
// call stack. enter returns the release func; callers defer it so the guard
// is cleared on every exit path, panics included.
type reentrancyGuard struct {
	entered bool
}

func (g *reentrancyGuard) enter(op string) (func(), error) {
	if g.entered {
		return nil, domain.NewMarketError(op, domain.KindReentrant)
	}
	g.entered = true
	return func() { g.entered = false }, nil
}
