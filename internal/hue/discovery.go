package hue

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/grandcat/zeroconf"
)

// Bridge is a Hue bridge found on the local network.
type Bridge struct {
	ID       string
	Model    string
	Name     string
	IP       net.IP
	Port     int
	Hostname string
}

func (b Bridge) String() string {
	return fmt.Sprintf("%s (%s) at %s:%d", b.Name, b.ID, b.IP, b.Port)
}

// Discover browses mDNS for _hue._tcp services until ctx is done. Each
// bridge is reported once. Both channels close when browsing ends.
func Discover(ctx context.Context) (<-chan Bridge, <-chan error) {
	bridges := make(chan Bridge)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)

		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			close(bridges)
			errs <- fmt.Errorf("creating mDNS resolver: %w", err)
			return
		}

		entries := make(chan *zeroconf.ServiceEntry)
		forwarded := make(chan struct{})
		go func() {
			defer close(forwarded)
			defer close(bridges)
			seen := make(map[string]bool)
			for entry := range entries {
				b := bridgeFromEntry(entry)
				if b.IP == nil {
					continue
				}
				key := b.ID
				if key == "" {
					key = b.IP.String()
				}
				if seen[key] {
					continue
				}
				seen[key] = true
				select {
				case bridges <- b:
				case <-ctx.Done():
				}
			}
		}()

		if err := resolver.Browse(ctx, "_hue._tcp", "local.", entries); err != nil {
			errs <- fmt.Errorf("browsing for Hue bridges: %w", err)
			return
		}
		<-ctx.Done()
		<-forwarded
	}()

	return bridges, errs
}

// Scan collects every bridge that answers before ctx is done.
func Scan(ctx context.Context) ([]Bridge, error) {
	bridges, errs := Discover(ctx)
	var found []Bridge
	for {
		select {
		case b, ok := <-bridges:
			if !ok {
				return found, nil
			}
			found = append(found, b)
		case err, ok := <-errs:
			if ok && err != nil {
				return found, err
			}
			errs = nil
		case <-ctx.Done():
			return found, nil
		}
	}
}

func bridgeFromEntry(entry *zeroconf.ServiceEntry) Bridge {
	b := Bridge{
		Name:     entry.Instance,
		Port:     entry.Port,
		Hostname: entry.HostName,
	}
	if len(entry.AddrIPv4) > 0 {
		b.IP = entry.AddrIPv4[0]
	} else if len(entry.AddrIPv6) > 0 {
		b.IP = entry.AddrIPv6[0]
	}
	for _, txt := range entry.Text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "bridgeid":
			b.ID = strings.ToUpper(value)
		case "modelid":
			b.Model = value
		}
	}
	return b
}
