package ingest

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/host"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
)

const nmapPluginID = "nmap"

// detectWindow is how much of a payload detection looks at.
const detectWindow = 4096

var cveRegex = regexp.MustCompile(`CVE-\d{4}-\d{4,}`)

// NmapPlugin parses nmap XML output (-oX).
type NmapPlugin struct{}

// NewNmapPlugin creates the nmap plugin.
func NewNmapPlugin() *NmapPlugin { return &NmapPlugin{} }

func (*NmapPlugin) ID() string { return nmapPluginID }

func (*NmapPlugin) Detect(payload []byte) bool {
	head := payload[:min(len(payload), detectWindow)]
	return bytes.Contains(head, []byte("<nmaprun"))
}

// Parse maps hosts that are up to hosts, their ports to services, and NSE
// script output flagged VULNERABLE to vulnerabilities on the service.
func (*NmapPlugin) Parse(payload []byte, batch *CanonicalBatch) error {
	var run nmap.Run
	if err := xml.Unmarshal(payload, &run); err != nil {
		return fmt.Errorf("decode nmap xml: %w", err)
	}

	batch.Command.Tool = nmapPluginID
	batch.Command.CommandLine = run.Args
	batch.Command.ImportSource = command.ImportSourceReport
	if _, params, ok := strings.Cut(run.Args, " "); ok {
		batch.Command.Params = params
	}
	if start := time.Time(run.Start); !start.IsZero() {
		batch.Command.StartDate = start.UTC()
	}

	for i, h := range run.Hosts {
		if strings.EqualFold(h.Status.State, "down") {
			continue
		}
		entry := fmt.Sprintf("host[%d]", i)

		ip := nmapAddress(h)
		if ip == "" {
			batch.Skip(nmapPluginID, entry, errors.New("host has no ip address"))
			continue
		}

		attrs := host.Attributes{}
		for _, a := range h.Addresses {
			if a.AddrType == "mac" {
				attrs.MAC = a.Addr
				if a.Vendor != "" {
					attrs.Description = a.Vendor
				}
			}
		}
		for _, hn := range h.Hostnames {
			if hn.Name != "" {
				attrs.Hostnames = append(attrs.Hostnames, hn.Name)
			}
		}
		if len(h.OS.Matches) > 0 {
			attrs.OS = h.OS.Matches[0].Name
		}
		hostIdx := batch.AddHost(HostFact{IP: ip, Attrs: attrs})

		for j, p := range h.Ports {
			portEntry := fmt.Sprintf("%s.port[%d]", entry, j)
			proto, err := host.ParseProtocol(p.Protocol)
			if err != nil {
				batch.Skip(nmapPluginID, portEntry, err)
				continue
			}
			status, err := host.ParseServiceStatus(p.State.State)
			if err != nil {
				batch.Skip(nmapPluginID, portEntry, err)
				continue
			}

			svcIdx := batch.AddService(ServiceFact{
				Host:     hostIdx,
				Port:     int(p.ID),
				Protocol: proto,
				Attrs: host.ServiceAttributes{
					Name:        p.Service.Name,
					Status:      status,
					Version:     strings.TrimSpace(p.Service.Product + " " + p.Service.Version),
					Description: p.Service.ExtraInfo,
				},
			})

			for _, script := range p.Scripts {
				if !strings.Contains(script.Output, "VULNERABLE") {
					continue
				}
				batch.AddVulnerability(VulnerabilityFact{
					Parent: ServiceRef(svcIdx),
					Name:   script.ID,
					Attrs: vulnerability.Attributes{
						Description: strings.TrimSpace(script.Output),
						Severity:    vulnerability.SeverityHigh,
						References:  cveRegex.FindAllString(script.Output, -1),
					},
				})
			}
		}
	}
	return nil
}

// nmapAddress prefers ipv4 over ipv6 and ignores mac addresses.
func nmapAddress(h nmap.Host) string {
	for _, a := range h.Addresses {
		if a.AddrType == "ipv4" {
			return a.Addr
		}
	}
	for _, a := range h.Addresses {
		if a.AddrType == "ipv6" {
			return a.Addr
		}
	}
	return ""
}
