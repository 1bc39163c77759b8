// Package canbridge connects CAN channels to a cyclic, latency-sensitive
// caller through latest-value mailboxes.
//
// It includes:
//   - A core Frame type with validation, can_frame marshaling and cansend notation
//   - A Driver that owns one SocketCAN endpoint and tracks its health
//   - Mailbox and MailboxSet, single-slot holders of the latest frame per identifier
//   - A Bridge that runs the bus I/O of one channel in a background loop
//   - An in-memory SimBus for tests and simulations
//
// The cyclic side only ever touches mailboxes. Bus faults are handled by the
// bridge loop, which marks the channel faulted and reopens it; they never
// surface on the cyclic path.
package canbridge
