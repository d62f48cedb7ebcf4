package redpacket

import (
	"math/rand"

	redpacketdomain "github.com/RadiSaiyed/Shamell-sub002/internal/domain/redpacket"
)

// share computes the next claim's amount. The final slot always takes the
// full remainder, so the drawn shares sum to the pool exactly.
//
// Fixed mode hands out floor(total/count) per slot with the residue landing
// on the last claim. Random mode draws uniformly in
// [1, remaining-(slots_left-1)], which guarantees every later slot at least
// one unit and produces the lucky-draw skew without ever breaking
// conservation.
func share(p *redpacketdomain.Packet, draw func(max int64) int64) int64 {
	slots := int64(p.SlotsLeft())
	if slots <= 1 {
		return p.Remaining
	}

	if p.Mode == redpacketdomain.SplitRandom {
		max := p.Remaining - (slots - 1)
		if max <= 1 {
			return 1
		}
		return draw(max)
	}

	return p.Total / int64(p.Count)
}

// uniformDraw returns a uniformly random integer in [1, max].
func uniformDraw(max int64) int64 {
	return rand.Int63n(max) + 1
}
