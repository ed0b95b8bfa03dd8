package render

import "volview/pkg/gpu"

// NodeID identifies an item attached to a Scene.
type NodeID uint64

type node struct {
	id   NodeID
	item gpu.DrawItem
}

// Scene is the ordered list of items drawn each frame.
type Scene struct {
	nodes []node
	next  NodeID
}

// Add attaches item and returns its handle.
func (s *Scene) Add(item gpu.DrawItem) NodeID {
	s.next++
	s.nodes = append(s.nodes, node{id: s.next, item: item})
	return s.next
}

// Remove detaches the item with the given handle.
func (s *Scene) Remove(id NodeID) bool {
	for i, n := range s.nodes {
		if n.id == id {
			s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
			return true
		}
	}
	return false
}

// Replace swaps the item behind id for item in place, keeping draw order.
func (s *Scene) Replace(id NodeID, item gpu.DrawItem) bool {
	for i, n := range s.nodes {
		if n.id == id {
			s.nodes[i].item = item
			return true
		}
	}
	return false
}

// Items returns the attached items in draw order.
func (s *Scene) Items() []gpu.DrawItem {
	items := make([]gpu.DrawItem, len(s.nodes))
	for i, n := range s.nodes {
		items[i] = n.item
	}
	return items
}

// Len returns the number of attached items.
func (s *Scene) Len() int { return len(s.nodes) }
