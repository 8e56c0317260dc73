// Package hrm drives a central-role BLE stack from adapter power-up to a streaming
// heart-rate session.
//
// A Central owns the adapter state machine and at most one Session. Platform radio
// backends report completions by posting Events; the Central applies them one at a time,
// issues non-blocking Radio commands and emits decoded readings to an EventSink.
//
// Every event that refers to a peripheral carries the Handle it was issued for. A Handle
// combines the peripheral address with the epoch of the session that created it, so
// callbacks arriving after a session is torn down never match the live session and are
// dropped.
package hrm
