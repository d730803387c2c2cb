package net

import (
	"fmt"
	"net"
)

// GetOutgoingIP returns the address other machines should use to reach
// this host: the source address of the default route, or the best
// interface address when there is no route out.
func GetOutgoingIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		addrs, err := net.InterfaceAddrs()
		if err != nil {
			return "", fmt.Errorf("failed to list interface addresses: %w", err)
		}
		return pickLocalIP(addrs), nil
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// pickLocalIP prefers a non-loopback IPv4 address, then a global IPv6
// one, then loopback.
func pickLocalIP(addrs []net.Addr) string {
	var v6 net.IP
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return v4.String()
		}
		if v6 == nil && ipnet.IP.IsGlobalUnicast() {
			v6 = ipnet.IP
		}
	}
	if v6 != nil {
		return v6.String()
	}
	return "127.0.0.1"
}

// ShareURL is the websocket address other machines on the LAN join with.
func ShareURL(ip string, port int) string {
	return fmt.Sprintf("ws://%s/ws", net.JoinHostPort(ip, fmt.Sprint(port)))
}
