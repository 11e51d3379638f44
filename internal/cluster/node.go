package cluster

import (
	"net"
	"strings"
)

// Node is this process's identity within the network
type Node struct {
	// Address is the public host:port other peers reach this node at
	Address string
}

// NewNode creates a node identity for address
func NewNode(address string) *Node {
	return &Node{Address: address}
}

// IsSelf reports whether a client address belongs to this node. Ports are
// ignored since outgoing connections use ephemeral ones.
func (n *Node) IsSelf(clientAddress string) bool {
	if n == nil || clientAddress == "" {
		return false
	}
	return Host(clientAddress) == Host(n.Address)
}

// Host strips an optional port and brackets, mapping "localhost" to the
// IPv4 loopback so both spellings compare equal.
func Host(addr string) string {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return "127.0.0.1"
	}
	return strings.ToLower(host)
}
