/*
Package contractnegotiation implements the contract negotiation protocol of a dataspace connector.

Two parties, a consumer and a provider, negotiate usage terms for an asset. Each party runs
its own finite state machine over its own store. The two never share storage: a negotiation
on one side is linked to the matching negotiation on the other side only through the process
identifiers carried in every protocol message (see ProcessIDs).

This package holds the shared vocabulary: negotiation records, states and events, protocol
messages, and the contracts of the collaborators the engine depends on (Store, Dispatcher,
Validator). The engine and the role specific managers live in the impl package.

States And Events

Every persisted change of a negotiation is driven by an Event. The legal transitions for each
role are declared once, as tables, in impl/consumerstates and impl/providerstates. States whose
name ends in "-ing" (Requesting, Offering, Accepting, Agreeing, Verifying, Confirming, Declining,
Terminating) mean "this party must now send a message to its peer". The engine leases records in
those states, sends the message, and applies the matching "sent" event once the peer has
received it.

Concurrency

Records are written with compare-and-swap on StateCount. Save fails with
ErrConcurrentModification when the stored record has moved on; callers re-read and decide
again. Outbound sends are serialized per negotiation by store leases (Store.LeaseNext).

Errors

Handlers report failures as errors. IsFatal reports whether retrying can ever succeed
(validation failures, unknown negotiations, invalid transitions). Everything else is
retryable.
*/
package contractnegotiation
