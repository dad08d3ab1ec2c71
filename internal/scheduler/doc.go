// Package scheduler runs a proctoring session: it gates and acquires the
// media every detector needs, ticks each detector in its own slot on its own
// cadence, and turns accepted anomalies into persisted, reported evidence.
//
// Lifecycle:
//
//	STOPPED --Start--> RUNNING --Stop / blocked track--> STOPPED
//
// A slot never queues ticks: while a detector's tick is in flight its next
// tick is skipped, so one slow or hung detector cannot delay any other.
// Every emission is checked against the session generation under the
// lifecycle lock, so nothing is saved or reported after Stop returns.
package scheduler
