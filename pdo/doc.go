// Package pdo translates between the fixed-size process-data record
// exchanged with a cyclic real-time host and a set of channel bridges.
//
// The record image is packed and little-endian:
//
//	0     command
//	1     frame count
//	2..4  reserved
//	5..   17 entries of 11 bytes:
//	        0     channel index
//	        1..2  bits 0..10 standard identifier, bits 11..14 length
//	        3..10 data
//
// The host side of the exchange (an EtherCAT master, a simulator) is
// abstracted by Host; BridgeSet performs one exchange per Update.
package pdo
