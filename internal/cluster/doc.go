// Package cluster holds what a musiphone node knows about the network
// around it: its own identity, which peers it trusts, and small JSON
// helpers for talking to other nodes' HTTP APIs.
//
// # Identity
//
// Node carries the public address of this process. Mutations coming from
// that address (a node replicating into itself, or the local CLI) skip the
// approval gate. Ports are ignored when comparing, since clients connect
// from ephemeral ports.
//
// # Trust
//
// TrustChecker is the seam the admission gate consults. TrustList is the
// bundled implementation: a list of hosts, IPs and CIDR prefixes that can
// be loaded from a file and kept current with Watch:
//
//	# trusted.txt
//	10.0.0.5
//	192.168.1.0/24
//
// Peer reputation scoring is deliberately not part of this package; a
// scoring backend only needs to implement TrustChecker.
//
// # Communication
//
// PostJSON and GetJSON send JSON requests with a 5 second client timeout
// and turn non-2xx responses into *StatusError values carrying the status
// code and a trimmed body.
package cluster
