package commands

import (
	"sort"
	"strings"
)

type node struct {
	name     string
	cmd      *Command
	children map[string]*node
}

func newNode(name string) *node { return &node{name: name, children: map[string]*node{}} }

func splitRoute(route string) []string { return strings.Fields(strings.ToLower(route)) }

func (n *node) add(route []string, c Command) *node {
	cur := n
	for _, tok := range route {
		next, ok := cur.children[tok]
		if !ok {
			next = newNode(tok)
			cur.children[tok] = next
		}
		cur = next
	}
	cur.cmd = &c
	return cur
}

func (n *node) child(name string) (*node, bool) {
	c, ok := n.children[strings.ToLower(name)]
	return c, ok
}

func (n *node) childNames() []string {
	out := make([]string, 0, len(n.children))
	for k := range n.children {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// walk descends from n along args as far as subcommand names match and returns the
// deepest node plus the path taken.
func (n *node) walk(args []string) (*node, []string) {
	cur := n
	var path []string
	for _, a := range args {
		next, ok := cur.child(a)
		if !ok {
			break
		}
		cur = next
		path = append(path, next.name)
	}
	return cur, path
}
