package heartbeat

import (
	"net"
	"os/exec"
	"runtime"
	"strings"
)

const fallbackIP = "0.0.0.0"

// detectPrimaryIP finds the address this node is reachable at. The UDP dial
// sends nothing; it only asks the kernel for the source address that routes
// toward a public host.
func detectPrimaryIP() string {
	if conn, err := net.Dial("udp4", "8.8.8.8:80"); err == nil {
		addr, ok := conn.LocalAddr().(*net.UDPAddr)
		conn.Close()
		if ok && addr.IP.To4() != nil && !addr.IP.IsLoopback() {
			return addr.IP.String()
		}
	}
	if ip := ipFromRoute(); ip != "" {
		return ip
	}
	return fallbackIP
}

// ipFromRoute consults the platform routing table when the dial probe cannot
// decide, such as when no default route exists.
func ipFromRoute() string {
	if runtime.GOOS == "darwin" {
		out, err := exec.Command("route", "-n", "get", "default").Output()
		if err != nil {
			return ""
		}
		iface := fieldAfter(string(out), "interface:")
		if iface == "" {
			return ""
		}
		return ipOfInterface(iface)
	}

	out, err := exec.Command("ip", "route", "get", "1").Output()
	if err != nil {
		return ""
	}
	return fieldAfter(string(out), "src")
}

// fieldAfter returns the token following marker in whitespace-separated
// command output, or "".
func fieldAfter(out, marker string) string {
	fields := strings.Fields(out)
	for i, f := range fields {
		if f == marker && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

func ipOfInterface(name string) string {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return ""
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip := ipNet.IP.To4(); ip != nil && !ip.IsLoopback() {
			return ip.String()
		}
	}
	return ""
}
