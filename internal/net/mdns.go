package net

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service boards advertise under.
const ServiceType = "_collabboard._tcp"

// Board is a server found on the local network.
type Board struct {
	Instance string
	Host     string
	Addr     string // ip:port
	Info     []string
}

// URL is the websocket endpoint of the board.
func (b Board) URL() string { return "ws://" + b.Addr + "/ws" }

// Advertise announces a board listening on port. An empty instance uses
// the hostname.
func Advertise(instance string, port int, info []string) (*mdns.Server, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}
	if len(info) == 0 {
		info = []string{"CollabBoard"}
	}

	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

// Browse queries the LAN for boards for up to timeout and calls found for
// each usable answer. It returns once the query is over and found has
// been called for every entry.
func Browse(timeout time.Duration, found func(Board)) error {
	entries := make(chan *mdns.ServiceEntry, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if b, ok := boardFromEntry(e); ok {
				found(b)
			}
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	err := mdns.Query(params)
	close(entries)
	<-done
	if err != nil {
		return fmt.Errorf("mDNS query failed: %w", err)
	}
	return nil
}

func boardFromEntry(e *mdns.ServiceEntry) (Board, bool) {
	if e == nil || e.Port == 0 {
		return Board{}, false
	}
	var ip net.IP
	switch {
	case e.AddrV4 != nil:
		ip = e.AddrV4
	case e.AddrV6 != nil:
		ip = e.AddrV6
	default:
		return Board{}, false
	}
	return Board{
		Instance: instanceName(e.Name),
		Host:     e.Host,
		Addr:     net.JoinHostPort(ip.String(), fmt.Sprint(e.Port)),
		Info:     e.InfoFields,
	}, true
}

// instanceName strips the service suffix from a full mDNS name such as
// "laptop._collabboard._tcp.local.".
func instanceName(name string) string {
	if i := strings.Index(name, "."+ServiceType); i > 0 {
		name = name[:i]
	}
	return strings.ReplaceAll(name, `\ `, " ")
}
