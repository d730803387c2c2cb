package net

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ipNet(s string) *net.IPNet {
	ip, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

func TestPickLocalIP(t *testing.T) {
	tests := []struct {
		name  string
		addrs []net.Addr
		want  string
	}{
		{
			name:  "ipv4 after loopback",
			addrs: []net.Addr{ipNet("127.0.0.1/8"), ipNet("::1/128"), ipNet("192.168.1.20/24")},
			want:  "192.168.1.20",
		},
		{
			name:  "ipv4 preferred over earlier ipv6",
			addrs: []net.Addr{ipNet("2001:db8::5/64"), ipNet("10.0.0.7/8")},
			want:  "10.0.0.7",
		},
		{
			name:  "global ipv6 only",
			addrs: []net.Addr{ipNet("::1/128"), ipNet("fe80::1/64"), ipNet("2001:db8::5/64")},
			want:  "2001:db8::5",
		},
		{
			name:  "link-local ipv6 is skipped",
			addrs: []net.Addr{ipNet("fe80::1/64")},
			want:  "127.0.0.1",
		},
		{
			name:  "non ipnet addresses are ignored",
			addrs: []net.Addr{&net.IPAddr{IP: net.IPv4(10, 1, 1, 1)}},
			want:  "127.0.0.1",
		},
		{name: "nothing", want: "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickLocalIP(tt.addrs))
		})
	}
}
