// Package session owns the processing-session lifecycle for each
// appliance: session creation, the single-active-session invariant,
// lifecycle transitions driven by device events, and the derived
// metrics recorded on completion.
//
// The Engine serialises all session mutations for one device behind a
// per-device mutex, so concurrent reports and events can never open two
// PROCESSING sessions for the same appliance. A partial unique index on
// the sessions table backs the invariant at the store level.
//
// Device events are deduplicated through an applied-event journal: an
// event that exactly repeats a previously applied one is accepted but
// produces no second transition, which makes replayed deliveries safe
// across process restarts.
package session
