package rpcruntime

import "sync/atomic"

// Stats is a snapshot of a runtime's counters.
type Stats struct {
	Pending        int    // Outbound requests awaiting a reply
	Served         uint64 // Inbound requests answered
	Failed         uint64 // Inbound requests answered with an error
	Notifications  uint64 // Inbound notifications dispatched
	Ignored        uint64 // Inbound requests with no registry attached
	Orphaned       uint64 // Replies matching no pending request
	DecodeFailures uint64 // Inbound messages the codec rejected
	SendFailures   uint64
	TimedOut       uint64
}

type counters struct {
	served         atomic.Uint64
	failed         atomic.Uint64
	notifications  atomic.Uint64
	ignored        atomic.Uint64
	orphaned       atomic.Uint64
	decodeFailures atomic.Uint64
	sendFailures   atomic.Uint64
	timedOut       atomic.Uint64
}

// Stats returns the current counters.
func (r *Runtime) Stats() Stats {
	return Stats{
		Pending:        r.table.PendingCount(),
		Served:         r.stats.served.Load(),
		Failed:         r.stats.failed.Load(),
		Notifications:  r.stats.notifications.Load(),
		Ignored:        r.stats.ignored.Load(),
		Orphaned:       r.stats.orphaned.Load(),
		DecodeFailures: r.stats.decodeFailures.Load(),
		SendFailures:   r.stats.sendFailures.Load(),
		TimedOut:       r.stats.timedOut.Load(),
	}
}
