package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

// ErrBlockedAddress is returned when a remote source resolves only to
// loopback, private, link-local or otherwise reserved addresses.
var ErrBlockedAddress = errors.New("address is not allowed for remote sources")

var (
	resolver     *dnscache.Resolver
	resolverOnce sync.Once
	resolverTTL  = 5 * time.Minute
)

// sharedResolver caches lookups for remote sources, which are polled
// against the same few hosts.
func sharedResolver() *dnscache.Resolver {
	resolverOnce.Do(func() {
		resolver = &dnscache.Resolver{}
		go func() {
			ticker := time.NewTicker(resolverTTL)
			defer ticker.Stop()
			for range ticker.C {
				resolver.Refresh(true)
				log.Debug().Dur("ttl", resolverTTL).Msg("DNS cache refreshed")
			}
		}()
	})
	return resolver
}

// lookupHost is swapped in tests to resolve names without DNS.
var lookupHost = func(ctx context.Context, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}
	return sharedResolver().LookupHost(ctx, host)
}

// guardedDialer returns a DialContext that resolves through the cache and
// dials the first acceptable address. The check runs on the resolved
// addresses, so every redirect hop and every re-resolution is covered.
func guardedDialer(allowPrivate bool) func(ctx context.Context, network, address string) (net.Conn, error) {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}

		ips, err := lookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
		}

		target := ""
		for _, raw := range ips {
			ip := net.ParseIP(raw)
			if ip == nil {
				continue
			}
			if allowPrivate || !isPrivateOrReservedIP(ip) {
				target = ip.String()
				break
			}
		}
		if target == "" {
			return nil, fmt.Errorf("%w: %s", ErrBlockedAddress, host)
		}

		dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		return dialer.DialContext(ctx, network, net.JoinHostPort(target, port))
	}
}

// isPrivateOrReservedIP reports loopback, RFC 1918/4193, link-local
// (cloud metadata lives at 169.254.169.254), unspecified and 0.0.0.0/8
// addresses.
func isPrivateOrReservedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 0:
			return true
		case ip4[0] == 100 && ip4[1]&0xc0 == 64: // 100.64.0.0/10 carrier-grade NAT
			return true
		}
	}
	return false
}
