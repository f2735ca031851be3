package confirm

// Stats is a read-only snapshot of pool and confirmation state, exposed for
// external monitoring. Counts are gathered from independent atomics and may
// be momentarily inconsistent with each other under concurrent load.
type Stats struct {
	// Capacity is the configured maximum number of live channels.
	Capacity int

	// Open is the number of live channels (idle + leased + draining).
	Open int

	// Idle, Leased and Draining break down the live channels by state.
	Idle     int
	Leased   int
	Draining int

	// Outstanding is the number of published messages still awaiting a
	// broker confirmation across all channels.
	Outstanding int

	// Confirmed, Rejected and TimedOut are cumulative outcome counters.
	Confirmed uint64
	Rejected  uint64
	TimedOut  uint64
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity:    p.maxSize,
		Open:        int(p.openN.Load()),
		Idle:        int(p.idleN.Load()),
		Leased:      int(p.leasedN.Load()),
		Draining:    int(p.drainingN.Load()),
		Outstanding: int(p.outstanding.Load()),
		Confirmed:   p.confirmedN.Load(),
		Rejected:    p.rejectedN.Load(),
		TimedOut:    p.timedOutN.Load(),
	}
}
