// internal/discovery/search.go
package discovery

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/multibomb/arena/internal/protocol"
)

// DefaultWait is how long Search collects answers.
const DefaultWait = 1000 * time.Millisecond

// Server is a responder found on the local network.
type Server struct {
	Addr string
	Name string
}

// Search broadcasts a discovery request on port to 255.255.255.255 and each
// interface broadcast address, and collects answers for wait.
func Search(ctx context.Context, port int, wait time.Duration) ([]Server, error) {
	targets := []*net.UDPAddr{{IP: net.IPv4bcast, Port: port}}
	for _, ip := range BroadcastAddresses() {
		targets = append(targets, &net.UDPAddr{IP: ip, Port: port})
	}
	return SearchAddrs(ctx, targets, wait)
}

// SearchAddrs sends the request to each target and collects distinct
// responders until wait elapses or ctx is done.
func SearchAddrs(ctx context.Context, targets []*net.UDPAddr, wait time.Duration) ([]Server, error) {
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("open discovery socket: %w", err)
	}
	defer conn.Close()

	sent := 0
	for _, target := range targets {
		// a target may be unreachable; the rest are still worth trying
		if _, err := conn.WriteToUDP([]byte(RequestString), target); err == nil {
			sent++
		}
	}
	if sent == 0 {
		return nil, fmt.Errorf("discovery request could not be sent")
	}

	deadline := time.Now().Add(wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	seen := make(map[string]bool)
	var servers []Server
	buf := make([]byte, maxDatagram)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			// deadline reached
			break
		}
		name, ok := parseResponse(buf[:n])
		if !ok {
			continue
		}
		addr := peer.IP.String()
		if seen[addr] {
			continue
		}
		seen[addr] = true
		servers = append(servers, Server{Addr: addr, Name: name})
	}
	return servers, nil
}

func parseResponse(data []byte) (string, bool) {
	s := strings.TrimSpace(string(data))
	if !strings.HasPrefix(s, ResponsePrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(s, ResponsePrefix)), true
}

// BroadcastAddresses lists the IPv4 broadcast address of every up,
// non-loopback interface.
func BroadcastAddresses() []net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if bcast := broadcastOf(ipnet); bcast != nil {
				out = append(out, bcast)
			}
		}
	}
	return out
}

func broadcastOf(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil || len(n.Mask) != net.IPv4len {
		return nil
	}
	v := binary.BigEndian.Uint32(ip) | ^binary.BigEndian.Uint32(n.Mask)
	out := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(out, v)
	return out
}

// QueryLobbies fetches the lobby directory of the server at host.
func QueryLobbies(ctx context.Context, client *http.Client, host string, httpPort int) (*protocol.LobbyInfo, error) {
	url := "http://" + net.JoinHostPort(host, strconv.Itoa(httpPort)) + "/lobby"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read directory of %s: %w", host, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query %s: unexpected status %s", host, resp.Status)
	}
	msg, err := protocol.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("decode directory of %s: %w", host, err)
	}
	info, ok := msg.(*protocol.LobbyInfo)
	if !ok {
		return nil, fmt.Errorf("query %s: expected LobbyInfo, got %s", host, msg.Type())
	}
	return info, nil
}
