package consensus

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/uhyunpark/hbsledger/pkg/util"
)

// DelayRange bounds the simulated propagation delay before each round.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

func (d DelayRange) Validate() error {
	if d.Min < 0 || d.Max < 0 {
		return fmt.Errorf("negative delay range [%s, %s]", d.Min, d.Max)
	}
	if d.Max < d.Min {
		return fmt.Errorf("delay max %s below min %s", d.Max, d.Min)
	}
	return nil
}

// Draw returns a duration uniformly distributed over [Min, Max].
func (d DelayRange) Draw(rng *rand.Rand) time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	return d.Min + time.Duration(rng.Int64N(int64(d.Max-d.Min)+1))
}

// Pacemaker paces block production. It only affects wall-clock timing,
// never which block is produced.
type Pacemaker struct {
	Delay DelayRange
	Clock util.Clock

	rng *rand.Rand
}

func NewPacemaker(delay DelayRange, clock util.Clock, seed uint64) *Pacemaker {
	return &Pacemaker{
		Delay: delay,
		Clock: clock,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Wait blocks for one drawn delay. It returns early only if ctx is done.
func (p *Pacemaker) Wait(ctx context.Context) (time.Duration, error) {
	d := p.Delay.Draw(p.rng)
	if d <= 0 {
		return 0, ctx.Err()
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-p.Clock.After(d):
		return d, nil
	}
}
