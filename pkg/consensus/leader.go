package consensus

type LeaderElector interface{ LeaderOf(round uint64) int }

// RoundRobinElector is a fixed schedule: round i belongs to producer i mod N.
type RoundRobinElector struct{ N int }

func (r RoundRobinElector) LeaderOf(round uint64) int {
	if r.N <= 0 {
		return -1
	}
	return int(round % uint64(r.N))
}
