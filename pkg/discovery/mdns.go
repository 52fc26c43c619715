// Package discovery advertises the daemon over mDNS and finds other
// daemons on the local network.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

const (
	// ServiceType is the command protocol service.
	ServiceType = "_rigd._tcp"
	// WebServiceType is the HTTP API service.
	WebServiceType = "_http._tcp"
	// Domain is the mDNS domain.
	Domain = "local."

	maxInstanceLen = 63
)

// Info describes what the daemon advertises.
type Info struct {
	Instance string
	Port     int // command protocol TCP port, 0 to skip
	WebPort  int // 0 to skip
	Model    int
	Rig      string
	Rotator  string
	Version  string
}

// TXT renders the TXT record strings.
func (i Info) TXT() []string {
	txt := map[string]string{
		"model":   strconv.Itoa(i.Model),
		"rig":     i.Rig,
		"version": i.Version,
	}
	if i.Rotator != "" {
		txt["rotator"] = i.Rotator
	}
	out := make([]string, 0, len(txt))
	for k, v := range txt {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// ParseTXT parses "key=value" strings. A key without '=' maps to "".
func ParseTXT(strs []string) map[string]string {
	txt := make(map[string]string, len(strs))
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

func instanceName(name string) string {
	if len(name) > maxInstanceLen {
		return name[:maxInstanceLen]
	}
	return name
}

// Advertiser publishes the daemon's services.
type Advertiser struct {
	iface string

	mu      sync.Mutex
	servers []*zeroconf.Server
}

// NewAdvertiser creates an advertiser bound to iface, or to every
// interface when iface is empty.
func NewAdvertiser(iface string) *Advertiser {
	return &Advertiser{iface: iface}
}

func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// Advertise registers the services, replacing any earlier registration.
func (a *Advertiser) Advertise(info Info) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()

	name := instanceName(info.Instance)
	txt := info.TXT()
	ifaces := interfaces(a.iface)

	register := func(service string, port int) error {
		if port == 0 {
			return nil
		}
		server, err := zeroconf.Register(name, service, Domain, port, txt, ifaces)
		if err != nil {
			return fmt.Errorf("failed to register %s: %w", service, err)
		}
		a.servers = append(a.servers, server)
		return nil
	}

	if err := register(ServiceType, info.Port); err != nil {
		a.shutdownLocked()
		return err
	}
	if err := register(WebServiceType, info.WebPort); err != nil {
		a.shutdownLocked()
		return err
	}
	return nil
}

func (a *Advertiser) shutdownLocked() {
	for _, s := range a.servers {
		s.Shutdown()
	}
	a.servers = nil
}

// Shutdown withdraws every advertisement.
func (a *Advertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()
}

// Service is a daemon found on the network.
type Service struct {
	Instance  string   `json:"instance"`
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	Addresses []string `json:"addresses"`
	Model     int      `json:"model"`
	Rig       string   `json:"rig"`
	Rotator   string   `json:"rotator,omitempty"`
	Version   string   `json:"version"`
}

// Address returns host:port using the first known address.
func (s Service) Address() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

func entryToService(entry *zeroconf.ServiceEntry) Service {
	txt := ParseTXT(entry.Text)
	model, _ := strconv.Atoi(txt["model"])
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return Service{
		Instance:  entry.Instance,
		Host:      entry.HostName,
		Port:      entry.Port,
		Addresses: addrs,
		Model:     model,
		Rig:       txt["rig"],
		Rotator:   txt["rotator"],
		Version:   txt["version"],
	}
}

// Browse collects daemons answering within timeout, merging addresses
// reported on several interfaces.
func Browse(ctx context.Context, timeout time.Duration) ([]Service, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	errc := make(chan error, 1)
	go func() {
		errc <- zeroconf.Browse(ctx, ServiceType, Domain, entries, removed)
	}()

	found := make(map[string]*Service)
	var order []string
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			svc := entryToService(entry)
			if existing, ok := found[svc.Instance]; ok {
				existing.Addresses = merge(existing.Addresses, svc.Addresses)
				continue
			}
			found[svc.Instance] = &svc
			order = append(order, svc.Instance)
		case <-removed:
		case <-ctx.Done():
			out := make([]Service, 0, len(order))
			for _, name := range order {
				out = append(out, *found[name])
			}
			select {
			case err := <-errc:
				if err != nil && len(out) == 0 && ctx.Err() == nil {
					return nil, err
				}
			default:
			}
			return out, nil
		}
	}
}

func merge(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			a = append(a, s)
			seen[s] = true
		}
	}
	return a
}
