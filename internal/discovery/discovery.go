// Package discovery advertises relays on the local network over mDNS and
// finds them again.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	Service              = "_peerlink._tcp"
	Domain               = "local."
	DefaultBrowseTimeout = 3 * time.Second

	txtPath    = "path"
	txtTCP     = "tcp"
	txtVersion = "version"
	version    = "1"
)

// Relay is a relay found on the network.
type Relay struct {
	Host     string
	IPs      []net.IP
	Instance string
	Path     string
	Port     int
	TCPPort  int
}

// URL is the websocket URL of the relay, preferring an IPv4 address.
func (r Relay) URL() string {
	return "ws://" + net.JoinHostPort(r.address(), strconv.Itoa(r.Port)) + r.Path
}

// TCPAddr is empty when the relay has no TCP listener.
func (r Relay) TCPAddr() string {
	if r.TCPPort == 0 {
		return ""
	}
	return net.JoinHostPort(r.address(), strconv.Itoa(r.TCPPort))
}

func (r Relay) address() string {
	for _, ip := range r.IPs {
		if ip.To4() != nil {
			return ip.String()
		}
	}
	if len(r.IPs) > 0 {
		return r.IPs[0].String()
	}
	return strings.TrimSuffix(r.Host, ".")
}

// TXT builds the records published with a relay.
func TXT(path string, tcpPort int) []string {
	txt := []string{txtVersion + "=" + version, txtPath + "=" + path}
	if tcpPort > 0 {
		txt = append(txt, txtTCP+"="+strconv.Itoa(tcpPort))
	}
	return txt
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		out[k] = v
	}
	return out
}

func fromEntry(e *zeroconf.ServiceEntry) Relay {
	txt := parseTXT(e.Text)
	r := Relay{
		Host:     e.HostName,
		Instance: e.Instance,
		Path:     txt[txtPath],
		Port:     e.Port,
	}
	if r.Path == "" {
		r.Path = "/ws"
	}
	if p, err := strconv.Atoi(txt[txtTCP]); err == nil {
		r.TCPPort = p
	}
	r.IPs = append(r.IPs, e.AddrIPv4...)
	r.IPs = append(r.IPs, e.AddrIPv6...)
	return r
}

// Server is a running mDNS registration.
type Server interface {
	Shutdown()
}

// RegisterFunc matches zeroconf.Register.
type RegisterFunc func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (Server, error)

func zeroconfRegister(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (Server, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

type AdvertiseOptions struct {
	Instance string
	Logger   *logrus.Logger
	Path     string
	Port     int
	// Register defaults to zeroconf.Register.
	Register RegisterFunc
	TCPPort  int
}

// Advertise publishes a relay until the returned server is shut down.
func Advertise(opts AdvertiseOptions) (Server, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Register == nil {
		opts.Register = zeroconfRegister
	}
	if opts.Port <= 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("advertise: invalid port %d", opts.Port)
	}

	server, err := opts.Register(opts.Instance, Service, Domain, opts.Port, TXT(opts.Path, opts.TCPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("mDNS registration failed for %s: %w", Service, err)
	}
	opts.Logger.Infof("Advertising %s as %q on port %d", Service, opts.Instance, opts.Port)
	return server, nil
}

// Browser matches zeroconf.Resolver.Browse.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Browse lists the relays that answer within timeout.
func Browse(ctx context.Context, timeout time.Duration) ([]Relay, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("creating resolver: %w", err)
	}
	return BrowseWith(ctx, resolver, timeout)
}

func BrowseWith(ctx context.Context, b Browser, timeout time.Duration) ([]Relay, error) {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := b.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("browsing %s: %w", Service, err)
	}

	found := make(map[string]Relay)
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return sorted(found), nil
			}
			if e == nil {
				continue
			}
			found[e.Instance] = fromEntry(e)
		case <-ctx.Done():
			return sorted(found), nil
		}
	}
}

func sorted(found map[string]Relay) []Relay {
	out := make([]Relay, 0, len(found))
	for _, r := range found {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}
