// Package workflow turns book and chapter transitions into asynchronous work
// units and drives them to completion.
//
// The Manager runs one lane per named queue (content, quality, export,
// notifications). Each lane has a fixed number of workers that claim units
// with a lease, keep the lease alive through the heartbeat monitor, and run
// the handler registered for the unit's operation. Provider calls are retried
// in-process; a unit that still fails is rescheduled with backoff until its
// attempt budget is spent, at which point the handler's exhaustion hook parks
// the entity (chapters move to generation_failed) and an operator alert is
// logged.
//
// A periodic admission sweep keeps at most workflow.admission_cap generation
// units live per book. Rewrites for rejected chapters are scheduled directly
// by the chapter machine through ScheduleRewrite and recovered by the sweep
// when that fails. Every workflow.consistency_every written chapters an
// advisory consistency check is queued; its report never changes state.
//
// Manager also implements notifications.Service by queueing notify.event
// units, so producers never block on the push transport.
package workflow
