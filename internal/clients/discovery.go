// Package clients holds the narrow interfaces to the rest of the marketplace
// (identity, property catalog) and their HTTP implementations.
package clients

import (
	"fmt"
	"sync"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// Discovery resolves a service name to a base URL.
type Discovery interface {
	Lookup(service string) (string, error)
}

type staticDiscovery struct {
	m map[string]string
}

func (s *staticDiscovery) Lookup(service string) (string, error) {
	if v, ok := s.m[service]; ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("service not found: %s", service)
}

type consulDiscovery struct {
	client *consulapi.Client
	cache  map[string][]string
	mu     sync.RWMutex
	log    *zap.SugaredLogger
}

func (c *consulDiscovery) Lookup(service string) (string, error) {
	c.mu.RLock()
	addrs, ok := c.cache[service]
	c.mu.RUnlock()
	if ok && len(addrs) > 0 {
		return addrs[0], nil
	}

	entries, _, err := c.client.Health().Service(service, "", true, nil)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no healthy instances for %s", service)
	}
	var urls []string
	for _, e := range entries {
		urls = append(urls, fmt.Sprintf("http://%s:%d", e.Service.Address, e.Service.Port))
	}
	c.mu.Lock()
	c.cache[service] = urls
	c.mu.Unlock()
	c.log.Debugw("resolved service", "service", service, "instances", len(urls))
	return urls[0], nil
}

// NewDiscovery prefers Consul when an address is configured, otherwise a
// static name -> URL map.
func NewDiscovery(consulAddr string, static map[string]string, log *zap.SugaredLogger) (Discovery, error) {
	if consulAddr != "" {
		cfg := consulapi.DefaultConfig()
		cfg.Address = consulAddr
		client, err := consulapi.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		return &consulDiscovery{client: client, cache: map[string][]string{}, log: log}, nil
	}
	return &staticDiscovery{m: static}, nil
}
