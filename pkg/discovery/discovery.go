// Package discovery advertises palladium nodes over mDNS so LAN tools can
// find running sessions without listening on the broadcast port.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/ZentaChain/palladium/pkg/protocol"
)

const (
	ServiceType = "_palladium._udp"
	Domain      = "local."

	DefaultBrowseTimeout = 3 * time.Second
)

// TXT record keys
const (
	txtVersion     = "txtv"
	txtAccount     = "account"
	txtNick        = "nick"
	txtFingerprint = "fp"
	txtInstance    = "id"
)

// Peer is a node found by Browse.
type Peer struct {
	Instance    string   `json:"instance"`
	Account     string   `json:"account"`
	Nick        string   `json:"nick,omitempty"`
	Fingerprint string   `json:"fingerprint"`
	InstanceID  string   `json:"instance_id,omitempty"`
	Host        string   `json:"host"`
	Addrs       []string `json:"addrs"`
	Port        int      `json:"port"`
}

// Advertiser keeps an mDNS registration alive until Shutdown.
type Advertiser struct {
	server *zeroconf.Server
	log    *zap.Logger
	once   sync.Once
}

// InstanceName returns the mDNS instance name for id.
func InstanceName(id *protocol.Identity) string {
	return "palladium-" + id.Key().Fingerprint()
}

// TXTRecords describes id without exposing its full key.
func TXTRecords(id *protocol.Identity) []string {
	return []string{
		txtVersion + "=1",
		txtAccount + "=" + id.Account(),
		txtNick + "=" + id.Nick(),
		txtFingerprint + "=" + id.Key().Fingerprint(),
		txtInstance + "=" + id.InstanceID().String(),
	}
}

// Announce registers id on the given port.
func Announce(id *protocol.Identity, port int, log *zap.Logger) (*Advertiser, error) {
	if log == nil {
		log = zap.NewNop()
	}
	server, err := zeroconf.Register(InstanceName(id), ServiceType, Domain, port, TXTRecords(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	log.Info("mDNS service registered",
		zap.String("service", ServiceType),
		zap.String("instance", InstanceName(id)),
		zap.Int("port", port))
	return &Advertiser{server: server, log: log}, nil
}

// Update replaces the advertised TXT records, e.g. after a nickname change.
func (a *Advertiser) Update(id *protocol.Identity) {
	a.server.SetText(TXTRecords(id))
}

// Shutdown withdraws the registration.
func (a *Advertiser) Shutdown() {
	a.once.Do(func() {
		a.server.Shutdown()
		a.log.Info("mDNS service withdrawn")
	})
}

// Browse collects peers until ctx is done.
func Browse(ctx context.Context) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu    sync.Mutex
		peers []Peer
		seen  = make(map[string]bool)
		done  = make(chan struct{})
	)
	go func() {
		defer close(done)
		for entry := range entries {
			mu.Lock()
			if !seen[entry.Instance] {
				seen[entry.Instance] = true
				peers = append(peers, PeerFromEntry(entry))
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	<-ctx.Done()

	// the resolver closes entries once it has shut down
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]Peer, len(peers))
	copy(out, peers)
	return out, nil
}

// PeerFromEntry converts a resolved service entry.
func PeerFromEntry(entry *zeroconf.ServiceEntry) Peer {
	txt := ParseTXT(entry.Text)
	p := Peer{
		Instance:    entry.Instance,
		Account:     txt[txtAccount],
		Nick:        txt[txtNick],
		Fingerprint: txt[txtFingerprint],
		InstanceID:  txt[txtInstance],
		Host:        entry.HostName,
		Port:        entry.Port,
	}
	for _, ip := range entry.AddrIPv4 {
		p.Addrs = append(p.Addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		p.Addrs = append(p.Addrs, ip.String())
	}
	return p
}

// ParseTXT splits key=value TXT strings. Entries without '=' are ignored.
func ParseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, ok := strings.Cut(r, "=")
		if !ok || k == "" {
			continue
		}
		out[strings.ToLower(k)] = v
	}
	return out
}

// Matches reports whether p advertises id's key.
func (p Peer) Matches(id *protocol.Identity) bool {
	return p.Fingerprint != "" && p.Fingerprint == id.Key().Fingerprint()
}

// FirstAddr returns the first advertised address, or nil.
func (p Peer) FirstAddr() net.IP {
	if len(p.Addrs) == 0 {
		return nil
	}
	return net.ParseIP(p.Addrs[0])
}
