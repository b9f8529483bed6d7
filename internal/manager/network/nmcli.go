package network

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Network is one scan entry as the host UI expects it.
type Network struct {
	Name      string `json:"name"`
	Strength  int    `json:"strength"`
	Quality   int    `json:"quality"`
	Secured   bool   `json:"secured"`
	Security  string `json:"security,omitempty"`
	Connected bool   `json:"connected"`
}

// SignalBars maps a 0-100 quality to 0-4 bars.
func SignalBars(quality int) int {
	switch {
	case quality <= 0:
		return 0
	case quality >= 75:
		return 4
	case quality >= 50:
		return 3
	case quality >= 25:
		return 2
	default:
		return 1
	}
}

// splitTerse splits one line of `nmcli -t` output. Literal colons and
// backslashes inside values are escaped with a backslash.
func splitTerse(line string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, cur.String())
}

// completeLines drops a trailing line that was cut mid-write.
func completeLines(out string, partial bool) []string {
	lines := strings.Split(out, "\n")
	if partial && !strings.HasSuffix(out, "\n") && len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// parseScan parses `nmcli -t -f IN-USE,SSID,SIGNAL,SECURITY dev wifi list`.
// Hidden networks are dropped; duplicate SSIDs from several access points
// collapse into the strongest one.
func parseScan(out string, partial bool) []Network {
	byName := make(map[string]*Network)
	var order []string

	for _, line := range completeLines(out, partial) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		f := splitTerse(line)
		if len(f) < 4 {
			continue
		}
		name := f[1]
		if strings.TrimSpace(name) == "" {
			continue
		}
		quality, _ := strconv.Atoi(strings.TrimSpace(f[2]))
		security := strings.TrimSpace(f[3])
		n := Network{
			Name:      name,
			Quality:   quality,
			Strength:  SignalBars(quality),
			Secured:   security != "" && security != "--",
			Security:  security,
			Connected: strings.TrimSpace(f[0]) == "*",
		}

		prev, ok := byName[name]
		if !ok {
			byName[name] = &n
			order = append(order, name)
			continue
		}
		connected := prev.Connected || n.Connected
		if n.Quality > prev.Quality {
			*prev = n
		}
		prev.Connected = connected
	}

	networks := make([]Network, 0, len(order))
	for _, name := range order {
		networks = append(networks, *byName[name])
	}
	sort.SliceStable(networks, func(i, j int) bool {
		return networks[i].Strength > networks[j].Strength
	})
	return networks
}

// Connection is the active Wi-Fi link, if any.
type Connection struct {
	SSID     string
	Quality  int
	Security string
}

// parseActive parses `nmcli -t -f ACTIVE,SSID,SIGNAL,SECURITY dev wifi`.
func parseActive(out string) (Connection, bool) {
	for _, line := range strings.Split(out, "\n") {
		f := splitTerse(line)
		if len(f) < 4 || f[0] != "yes" {
			continue
		}
		q, _ := strconv.Atoi(strings.TrimSpace(f[2]))
		return Connection{SSID: f[1], Quality: q, Security: strings.TrimSpace(f[3])}, true
	}
	return Connection{}, false
}

var (
	iwSSID   = regexp.MustCompile(`(?m)^\s*SSID:\s*(.+)$`)
	iwSignal = regexp.MustCompile(`(?m)^\s*signal:\s*(-?\d+)\s*dBm`)
)

// parseIwLink parses `iw dev <iface> link`. dBm is mapped to quality the
// way NetworkManager does: 2*(dBm+100), clamped to 0-100.
func parseIwLink(out string) (Connection, bool) {
	if strings.Contains(out, "Not connected") {
		return Connection{}, false
	}
	m := iwSSID.FindStringSubmatch(out)
	if m == nil {
		return Connection{}, false
	}
	c := Connection{SSID: strings.TrimSpace(m[1]), Security: "unknown"}
	if s := iwSignal.FindStringSubmatch(out); s != nil {
		dbm, _ := strconv.Atoi(s[1])
		c.Quality = min(100, max(0, 2*(dbm+100)))
	}
	return c, true
}
