package util

import (
	"fmt"
	"net"
	"sort"
)

// DiscoverURLs returns a loopback URL plus LAN URLs for active interfaces,
// for printing where the server can be reached.
func DiscoverURLs(bind string, port int) []string {
	seen := map[string]struct{}{}
	urls := make([]string, 0, 8)
	add := func(host string) {
		u := fmt.Sprintf("http://%s:%d/", host, port)
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	add("127.0.0.1")
	if bind != "" && bind != "0.0.0.0" && bind != "::" {
		add(bind)
		sort.Strings(urls)
		return urls
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return urls
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ip, _, err := net.ParseCIDR(a.String())
			if err != nil || ip == nil || ip.IsLoopback() {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				add(v4.String())
			}
		}
	}
	sort.Strings(urls)
	return urls
}
