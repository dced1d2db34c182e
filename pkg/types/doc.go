/*
Package types defines the data model shared by every package in this
module: users, roles, computers, hardware specs, containers and the
reservations that tie them together.

These are plain structs with no persistence or business-rule behavior
attached beyond the few predicates (Reservation.Overlaps, Reservation.Active)
that every other package would otherwise have to re-derive. Storage maps
these to BoltDB buckets; policy, availability and reservation build their
rules on top of them without mutating them directly.
*/
package types
