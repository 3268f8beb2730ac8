package session

import "github.com/max-legrand/prise/internal/rpc"

// Client is one attached RPC connection: its wire session plus the set
// of PtySessions it is attached to (spec.md §4.6 reverse adjacency).
type Client struct {
	ID       uint64
	Rpc      *rpc.Session
	Sessions map[uint64]struct{}
}

func newClient(id uint64, s *rpc.Session) *Client {
	return &Client{ID: id, Rpc: s, Sessions: make(map[uint64]struct{})}
}
