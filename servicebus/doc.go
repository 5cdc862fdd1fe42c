/*
Package servicebus provides the per-service dispatcher: the addressable routing layer every
service shares.

A Dispatcher registers RPC and event handlers explicitly at construction time, routes inbound
transport messages to them, and issues outbound RPC, fire-and-forget and event calls. It stays
decoupled from concrete brokers via the contract/bus Transport interface.

Handler failures never cross the transport: errors and panics are turned into error envelopes
at the dispatcher boundary. Each inbound message runs under its own context carrying its own
correlation ID, so concurrently served requests never observe each other's identifiers.

A timed-out call is not cancelled remotely. The remote handler may still complete, so callers
retrying after a timeout get at-least-once execution of the remote side effect.
*/
package servicebus
