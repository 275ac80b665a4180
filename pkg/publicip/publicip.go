package publicip

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pgacloud/pgacloud/pkg/logging"
)

// Fallback is returned when no lookup service could tell us our address.
// Provisioning then proceeds with a loopback rule instead of failing.
const Fallback = "127.0.0.1"

var defaultServices = []string{
	"https://ident.me",
	"https://ifconfig.me/ip",
}

// Resolver finds the public IP of the machine running the tool by asking
// plain-text lookup services in order.
type Resolver struct {
	log      *logging.Logger
	client   *http.Client
	services []string
}

func NewResolver(log *logging.Logger) *Resolver {
	return &Resolver{
		log: log,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		services: defaultServices,
	}
}

// NewResolverWithServices is used by tests to point the resolver at local
// HTTP servers.
func NewResolverWithServices(log *logging.Logger, client *http.Client, services []string) *Resolver {
	return &Resolver{log: log, client: client, services: services}
}

// MyIP returns the caller's public IP, or Fallback if every lookup
// service failed. Failures are logged, never returned.
func (r *Resolver) MyIP(ctx context.Context) string {
	for _, service := range r.services {
		ip, err := r.fetch(ctx, service)
		if err != nil {
			r.log.Warnf("resolving public ip via %s: %v", service, err)
			continue
		}
		return ip
	}
	r.log.Warnf("could not resolve public ip, falling back to %s", Fallback)
	return Fallback
}

func (r *Resolver) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("service returned %q, not an ip address", ip)
	}
	return ip, nil
}
