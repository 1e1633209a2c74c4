package commands

import "strings"

func (r *Router) helpText(path []string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.prefix

	if len(path) == 0 {
		lines := []string{"Commands (use " + p + "help <command>):"}
		for _, name := range r.root.childNames() {
			n, _ := r.root.child(name)
			lines = append(lines, entry(p+name, n))
		}
		return strings.Join(lines, "\n")
	}

	n, walked := r.root.walk(path)
	if len(walked) != len(path) {
		if leaf, ok := r.alias[strings.ToLower(path[0])]; ok && len(path) == 1 && leaf.cmd != nil {
			n, walked = r.root.walk(splitRoute(leaf.cmd.Route))
		} else {
			return "Command not found. Try " + p + "help"
		}
	}
	route := strings.Join(walked, " ")

	if n.cmd == nil {
		lines := []string{p + route + " subcommands:"}
		for _, name := range n.childNames() {
			c, _ := n.child(name)
			lines = append(lines, entry(p+route+" "+name, c))
		}
		return strings.Join(lines, "\n")
	}

	cmd := n.cmd
	lines := []string{p + cmd.Route}
	if cmd.Description != "" {
		lines = append(lines, cmd.Description)
	}
	if cmd.Usage != "" {
		lines = append(lines, "Usage: "+p+cmd.Usage)
	}
	if len(cmd.Aliases) > 0 {
		lines = append(lines, "Aliases: "+p+strings.Join(cmd.Aliases, ", "+p))
	}
	if len(n.children) > 0 {
		lines = append(lines, "Subcommands: "+strings.Join(n.childNames(), ", "))
	}
	return strings.Join(lines, "\n")
}

func entry(label string, n *node) string {
	if len(n.children) > 0 {
		label += " …"
	}
	if n.cmd != nil && n.cmd.Description != "" {
		return "- " + label + ": " + n.cmd.Description
	}
	return "- " + label
}
