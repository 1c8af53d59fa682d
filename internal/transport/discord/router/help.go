package router

import (
	"sort"
	"strings"
)

// helpText renders Discord-markdown help for a command path.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root := m.root
	alias := m.alias
	prefix := m.prefix
	m.mu.RUnlock()

	// Walk to requested node.
	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		n, ok := cur.child(p)
		if !ok {
			// maybe it's an alias
			if leaf, ok2 := alias[p]; ok2 && leaf != nil && leaf.cmd != nil {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return "Unknown command. Try `" + prefix + "help` for the full list."
		}
		cur = n
		full = append(full, p)
	}

	if len(path) == 0 {
		return m.helpTop(root, prefix)
	}
	return m.helpNode(cur, full, prefix)
}

func (m *CommandManager) helpTop(root *cmdNode, prefix string) string {
	names := root.childNames()
	rows := make([]topRow, 0, len(names))
	for _, name := range names {
		n, _ := root.child(name)
		if n == nil {
			continue
		}
		rows = append(rows, topRow{
			name: name,
			desc: summarizeNodeDesc(n),
			lock: nodeMinAccess(n),
		})
	}
	// Restricted commands sink to the bottom, alphabetical within groups.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].lock != rows[j].lock {
			return rows[i].lock < rows[j].lock
		}
		return rows[i].name < rows[j].name
	})

	lines := []string{
		"**Commands**",
		"Type `" + prefix + "help <cmd>` for details.",
		"",
	}
	for _, r := range rows {
		line := "• `" + prefix + r.name + "`"
		if r.lock == AccessAdmin {
			line += " (admin)"
		} else if r.lock == AccessOwnerOnly {
			line += " (owner)"
		}
		if r.desc != "" {
			line += " - " + r.desc
		}
		lines = append(lines, line)
	}
	return strings.Join(filterEmpty(lines), "\n")
}

type topRow struct {
	name string
	desc string
	lock Access
}

func (m *CommandManager) helpNode(cur *cmdNode, full []string, prefix string) string {
	title := prefix + strings.Join(full, " ")
	lines := []string{"**Help** `" + title + "`"}

	if cur != nil && cur.cmd != nil {
		c := cur.cmd
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, d)
		}
		switch c.Access {
		case AccessAdmin:
			lines = append(lines, "*admin only*")
		case AccessOwnerOnly:
			lines = append(lines, "*owner only*")
		}
		if c.DMOnly {
			lines = append(lines, "*DM only*")
		}
		if c.GuildOnly {
			lines = append(lines, "*server only*")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "**Usage**", "`"+prefix+u+"`")
		}
		if len(c.Aliases) > 0 {
			short := append([]string(nil), c.Aliases...)
			sort.Strings(short)
			lines = append(lines, "", "**Aliases**")
			for _, s := range short {
				lines = append(lines, "• `"+prefix+s+"`")
			}
		}
	} else {
		lines = append(lines, "Command group (has subcommands).")
	}

	if cur != nil && len(cur.children) > 0 {
		lines = append(lines, "", "**Subcommands**")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			if n == nil {
				continue
			}
			path := append(append([]string(nil), full...), name)
			cmd := prefix + strings.Join(path, " ")
			line := "• `" + cmd + "`"
			if d := summarizeNodeDesc(n); d != "" {
				line += " - " + d
			}
			lines = append(lines, line)
		}
	}

	return strings.Join(filterEmpty(lines), "\n")
}

func summarizeNodeDesc(n *cmdNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	if len(n.children) == 0 {
		return ""
	}

	// For groups, show the first few subcommands as a hint.
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	max := 3
	if len(kids) < max {
		max = len(kids)
	}
	s := strings.Join(kids[:max], ", ")
	if len(kids) > max {
		s += ", …"
	}
	return "subcommands: " + s
}

// nodeMinAccess returns the least-restricted access level reachable under n,
// so a group whose subcommands are all admin-only lists as admin.
func nodeMinAccess(n *cmdNode) Access {
	if n == nil {
		return AccessEveryone
	}
	min := AccessOwnerOnly + 1
	var walk func(x *cmdNode)
	walk = func(x *cmdNode) {
		if x == nil {
			return
		}
		if x.cmd != nil && x.cmd.Access < min {
			min = x.cmd.Access
		}
		for _, ch := range x.children {
			walk(ch)
		}
	}
	walk(n)
	if min > AccessOwnerOnly {
		return AccessEveryone
	}
	return min
}

func filterEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for i, s := range in {
		// Keep intentional section spacers but drop trailing blanks.
		if strings.TrimSpace(s) == "" && (i == len(in)-1 || i == 0) {
			continue
		}
		out = append(out, s)
	}
	return out
}
