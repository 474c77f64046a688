// Package dnssd advertises the vdc host on the local network via
// DNS-SD so a vdSM can discover it without manual configuration.
package dnssd

import (
	"fmt"
	"os"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

// ServiceType is the vDC API's well-known DNS-SD service type.
const ServiceType = "_ds-vdc._tcp"

// Advertiser registers and withdraws the host's DNS-SD service entry.
// Calling Announce while already announced, or Unannounce while not,
// is a no-op.
type Advertiser struct {
	server *zeroconf.Server
}

// Announce registers a "_ds-vdc._tcp" service entry for the host
// named name, listening on port, carrying its dSUID as a TXT record.
func (a *Advertiser) Announce(name, dsuid string, port int) error {
	if a.server != nil {
		log.Debug().Msg("dnssd: already announced, skipping")
		return nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "vdchost"
	}
	instance := fmt.Sprintf("%s on %s", name, hostname)

	server, err := zeroconf.Register(
		instance,
		ServiceType,
		"local.",
		port,
		[]string{"dSUID=" + dsuid},
		nil,
	)
	if err != nil {
		return fmt.Errorf("dnssd: register service: %w", err)
	}

	a.server = server
	log.Info().Str("instance", instance).Int("port", port).Str("dsuid", dsuid).Msg("dnssd: announced vdc host")
	return nil
}

// Unannounce withdraws the service entry and releases its resources.
func (a *Advertiser) Unannounce() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	log.Info().Msg("dnssd: unannounced vdc host")
}

// IsAnnounced reports whether the service is currently registered.
func (a *Advertiser) IsAnnounced() bool {
	return a.server != nil
}
