package cache

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// ConnectMemcache builds a client for a comma-separated server list and verifies it with a ping.
func ConnectMemcache(addrs string) (*memcache.Client, error) {
	var servers []string
	for _, s := range strings.Split(addrs, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no memcached servers in %q", addrs)
	}

	mc := memcache.New(servers...)
	mc.Timeout = 500 * time.Millisecond
	if err := mc.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to memcached at %s: %w", addrs, err)
	}

	log.Printf("Connected to memcached at %s", strings.Join(servers, ", "))
	return mc, nil
}
