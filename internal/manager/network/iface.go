package network

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var errNoWifiInterface = errors.New("no WiFi interface detected")

var wlpPattern = regexp.MustCompile(`^wlp\d+s\d+`)

// isWifiName matches the usual wireless names and skips monitor / AP
// virtual interfaces.
func isWifiName(name string) bool {
	wifi := strings.HasPrefix(name, "wlan") ||
		wlpPattern.MatchString(name) ||
		strings.HasPrefix(name, "wifi") ||
		strings.HasPrefix(name, "wl")
	virtual := strings.Contains(name, "mon") || strings.Contains(name, "ap")
	return wifi && !virtual
}

// parseIPLink picks wireless names out of `ip -o link show`, e.g.
// "3: wlan0: <BROADCAST,MULTICAST,UP> mtu 1500 ..." or "4: wlan0@phy0: ...".
func parseIPLink(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 3 {
			continue
		}
		name := strings.TrimSpace(parts[1])
		if i := strings.IndexByte(name, '@'); i >= 0 {
			name = name[:i]
		}
		if isWifiName(name) {
			names = append(names, name)
		}
	}
	return names
}

// InterfaceInfo describes one wireless interface.
type InterfaceInfo struct {
	Name  string   `json:"name"`
	MAC   string   `json:"mac"`
	IP4   string   `json:"ip4"`
	IP6   string   `json:"ip6"`
	State string   `json:"state"`
	Type  string   `json:"type"`
	Speed *int     `json:"speed"`
	Addrs []string `json:"addrs,omitempty"`
}

// sysfs reads interface attributes from /sys/class/net.
type sysfs struct {
	root string
}

func (s sysfs) read(iface, attr string) string {
	b, err := os.ReadFile(filepath.Join(s.root, iface, attr))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (s sysfs) isWireless(iface string) bool {
	_, err := os.Stat(filepath.Join(s.root, iface, "wireless"))
	return err == nil
}

// listInterfaces is the in-process view used when `ip` is unavailable
// and for wifiGetInterfaceInfo.
func (s sysfs) listInterfaces() ([]InterfaceInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []InterfaceInfo
	for _, iface := range ifaces {
		wireless := s.isWireless(iface.Name)
		if !wireless && !isWifiName(iface.Name) {
			continue
		}
		if strings.Contains(iface.Name, "mon") || strings.Contains(iface.Name, "ap") {
			continue
		}
		info := InterfaceInfo{
			Name:  iface.Name,
			MAC:   iface.HardwareAddr.String(),
			State: s.read(iface.Name, "operstate"),
			Type:  "wireless",
		}
		if speed, err := strconv.Atoi(s.read(iface.Name, "speed")); err == nil && speed > 0 {
			info.Speed = &speed
		}
		if addrs, err := iface.Addrs(); err == nil {
			for _, a := range addrs {
				ipnet, ok := a.(*net.IPNet)
				if !ok {
					continue
				}
				info.Addrs = append(info.Addrs, ipnet.String())
				if ipnet.IP.To4() != nil {
					if info.IP4 == "" {
						info.IP4 = ipnet.IP.String()
					}
				} else if info.IP6 == "" {
					info.IP6 = ipnet.IP.String()
				}
			}
		}
		out = append(out, info)
	}
	return out, nil
}
