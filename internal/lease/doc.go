// Package lease persists one durable row per task id and exposes the two
// atomic verbs the whole engine's mutual exclusion rests on: TryClaim and
// Release.
//
// A claim is a single conditional UPDATE predicated on the previous value of
// locked_at. Whichever process's statement reaches the store first wins; the
// rest observe zero affected rows and skip. No in-process locking
// participates in cross-process exclusion.
package lease
