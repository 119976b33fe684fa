package dom

import (
	"fmt"

	"golang.org/x/net/html"
)

// MutationKind represents the type of structural host change.
type MutationKind int

const (
	// NodesAdded: a subtree was attached under the document.
	NodesAdded MutationKind = iota
	// NodesRemoved: a subtree was detached from the document.
	NodesRemoved
)

// String returns the string representation of the MutationKind
func (k MutationKind) String() string {
	switch k {
	case NodesAdded:
		return "added"
	case NodesRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Mutation is one structural change record. Node is the root of the affected
// subtree; for removals it is already detached when subscribers see it.
type Mutation struct {
	Kind MutationKind
	Node *html.Node
}

// Subscribe returns a channel receiving future mutations. The channel is
// buffered; subscribers must drain it promptly or records are dropped.
func (d *Document) Subscribe() <-chan Mutation {
	d.subMutex.Lock()
	defer d.subMutex.Unlock()
	ch := make(chan Mutation, 256)
	d.subscribers = append(d.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (d *Document) Unsubscribe(ch <-chan Mutation) {
	d.subMutex.Lock()
	defer d.subMutex.Unlock()
	for i, sub := range d.subscribers {
		if sub == ch {
			close(sub)
			d.subscribers = append(d.subscribers[:i], d.subscribers[i+1:]...)
			break
		}
	}
}

func (d *Document) notify(m Mutation) {
	d.subMutex.RLock()
	defer d.subMutex.RUnlock()
	for _, sub := range d.subscribers {
		select {
		case sub <- m:
		default:
			// Subscriber is not draining; drop rather than block the host.
		}
	}
}

// RemoveNode detaches a subtree from the document on behalf of the host and
// notifies subscribers. Removing an already-detached node is a no-op.
func (d *Document) RemoveNode(n *html.Node) {
	d.mutex.Lock()
	if n.Parent == nil {
		d.mutex.Unlock()
		return
	}
	n.Parent.RemoveChild(n)
	d.mutex.Unlock()

	d.notify(Mutation{Kind: NodesRemoved, Node: n})
}

// AppendChild attaches a subtree under parent on behalf of the host and
// notifies subscribers.
func (d *Document) AppendChild(parent, child *html.Node) error {
	d.mutex.Lock()
	if child.Parent != nil {
		d.mutex.Unlock()
		return fmt.Errorf("appending attached node %q", child.Data)
	}
	parent.AppendChild(child)
	d.mutex.Unlock()

	d.notify(Mutation{Kind: NodesAdded, Node: child})
	return nil
}

// AppendFragment parses an HTML fragment and attaches each resulting node
// under parent, emitting one Added mutation per top-level node. It is the
// host-side analog of a live-editing system injecting new markup.
func (d *Document) AppendFragment(parent *html.Node, fragment string) error {
	holder := &html.Node{
		Type:     html.ElementNode,
		Data:     parent.Data,
		DataAtom: parent.DataAtom,
	}
	if err := setChildren(holder, fragment); err != nil {
		return err
	}

	var added []*html.Node
	d.mutex.Lock()
	for c := holder.FirstChild; c != nil; {
		next := c.NextSibling
		holder.RemoveChild(c)
		parent.AppendChild(c)
		added = append(added, c)
		c = next
	}
	d.mutex.Unlock()

	for _, n := range added {
		d.notify(Mutation{Kind: NodesAdded, Node: n})
	}
	return nil
}
