package network

import (
	"fmt"
	"net"
	"strconv"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/ZentaChain/palladium/pkg/errs"
)

const (
	// DefaultPort is the well-known palladium UDP port.
	DefaultPort = 13370

	// MaxDatagramSize is the largest UDP payload over IPv4.
	MaxDatagramSize = 65507

	// DefaultQueueSize bounds datagrams waiting between the socket and subscribers.
	DefaultQueueSize = 128
)

// Config holds engine settings.
type Config struct {
	Host       string // destination of outbound datagrams
	Port       int
	ListenHost string // address the receive socket binds to
	QueueSize  int
}

// DefaultConfig returns a config broadcasting on the default port.
func DefaultConfig() Config {
	return Config{
		Host:       "255.255.255.255",
		Port:       DefaultPort,
		ListenHost: "0.0.0.0",
		QueueSize:  DefaultQueueSize,
	}
}

// ConfigFromMultiaddr reads host and port from an /ip4/<host>/udp/<port>
// address on top of DefaultConfig.
func ConfigFromMultiaddr(s string) (Config, error) {
	cfg := DefaultConfig()

	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return cfg, errs.Wrap(errs.Argument, "invalid endpoint", err)
	}
	na, err := manet.ToNetAddr(addr)
	if err != nil {
		return cfg, errs.Wrap(errs.Argument, "invalid endpoint", err)
	}
	udp, ok := na.(*net.UDPAddr)
	if !ok {
		return cfg, errs.Newf(errs.Argument, "endpoint %s is not udp", s)
	}
	if udp.IP.To4() == nil {
		return cfg, errs.Newf(errs.Argument, "endpoint %s is not ipv4", s)
	}

	cfg.Host = udp.IP.String()
	cfg.Port = udp.Port
	return cfg, nil
}

// Multiaddr returns the outbound endpoint as a multiaddr.
func (c Config) Multiaddr() (ma.Multiaddr, error) {
	addr, err := c.destination()
	if err != nil {
		return nil, err
	}
	return manet.FromNetAddr(addr)
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errs.Newf(errs.Argument, "invalid port %d", c.Port)
	}
	if _, err := c.destination(); err != nil {
		return err
	}
	if c.ListenHost != "" && net.ParseIP(c.ListenHost) == nil {
		return errs.Newf(errs.Argument, "invalid listen host %q", c.ListenHost)
	}
	return nil
}

func (c Config) destination() (*net.UDPAddr, error) {
	ip := net.ParseIP(c.Host)
	if ip == nil || ip.To4() == nil {
		return nil, errs.Newf(errs.Argument, "invalid host %q", c.Host)
	}
	return &net.UDPAddr{IP: ip.To4(), Port: c.Port}, nil
}

func (c Config) listenAddress() string {
	host := c.ListenHost
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

func (c Config) String() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
