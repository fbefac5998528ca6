package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/host"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
	"github.com/openctemio/scanmerge/pkg/parsers/sarif"
)

const sarifPluginID = "sarif"

// SARIFPlugin parses SARIF 2.1.0 logs of dynamic web scanners. Results are
// web vulnerabilities on the service their URL points at. Results without an
// absolute http(s) URL are skipped.
type SARIFPlugin struct{}

// NewSARIFPlugin creates the SARIF plugin.
func NewSARIFPlugin() *SARIFPlugin { return &SARIFPlugin{} }

func (*SARIFPlugin) ID() string { return sarifPluginID }

func (*SARIFPlugin) Detect(payload []byte) bool {
	head := payload[:min(len(payload), detectWindow)]
	if !bytes.HasPrefix(bytes.TrimSpace(head), []byte("{")) || !bytes.Contains(head, []byte(`"runs"`)) {
		return false
	}
	return bytes.Contains(head, []byte("sarif")) || bytes.Contains(head, []byte(`"2.1.0"`))
}

func (*SARIFPlugin) Parse(payload []byte, batch *CanonicalBatch) error {
	log, err := sarif.Decode(payload, sarif.Options{})
	if err != nil {
		return err
	}

	m := sarifMapper{
		batch:    batch,
		hosts:    make(map[string]int),
		services: make(map[string]int),
	}

	batch.Command.ImportSource = command.ImportSourceReport
	for i := range log.Runs {
		run := &log.Runs[i]
		if batch.Command.Tool == "" {
			batch.Command.Tool = strings.ToLower(strings.TrimSpace(run.Tool.Driver.Name))
		}
		if len(run.Invocations) > 0 {
			inv := run.Invocations[0]
			if batch.Command.CommandLine == "" {
				batch.Command.CommandLine = inv.CommandLine
			}
			if start, err := time.Parse(time.RFC3339, inv.StartTimeUTC); err == nil && batch.Command.StartDate.IsZero() {
				batch.Command.StartDate = start.UTC()
			}
		}

		for j := range run.Results {
			entry := fmt.Sprintf("runs[%d].results[%d]", i, j)
			if err := m.addResult(run, &run.Results[j]); err != nil {
				batch.Skip(sarifPluginID, entry, err)
			}
		}
	}
	if batch.Command.Tool == "" {
		batch.Command.Tool = sarifPluginID
	}
	return nil
}

// sarifMapper keeps one host per address and one service per address and
// port within a batch.
type sarifMapper struct {
	batch    *CanonicalBatch
	hosts    map[string]int
	services map[string]int
}

func (m *sarifMapper) addResult(run *sarif.Run, r *sarif.Result) error {
	target := r.TargetURI()
	if target == "" {
		return errors.New("result has no target url")
	}
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid target url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target %q is not an http(s) url", target)
	}
	addr := u.Hostname()
	if addr == "" {
		return fmt.Errorf("target %q has no host", target)
	}
	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("target %q has an invalid port", target)
		}
	}

	rule := run.RuleFor(r)
	name := sarifResultName(rule, r)
	if name == "" {
		return errors.New("result has no rule and no message")
	}

	svcIdx := m.service(addr, port, u.Scheme)
	attrs := vulnerability.Attributes{
		Description: r.Message.Text,
		Severity:    sarifSeverity(rule, r),
		Web: &vulnerability.WebDetails{
			Path:    u.EscapedPath(),
			Website: u.Scheme + "://" + u.Host,
		},
	}
	if rule != nil {
		if rule.Help != nil {
			attrs.Resolution = rule.Help.Text
		}
		if rule.FullDescription != nil && rule.FullDescription.Text != "" {
			attrs.Data = rule.FullDescription.Text
		}
		if rule.HelpURI != "" {
			attrs.References = append(attrs.References, rule.HelpURI)
		}
	}
	if req := r.WebRequest; req != nil {
		attrs.Web.Method = req.Method
		attrs.Web.Request = sarifRequestText(req, u)
		if len(req.Parameters) > 0 {
			attrs.Web.ParameterName = slices.Sorted(maps.Keys(req.Parameters))[0]
		}
	}
	if resp := r.WebResponse; resp != nil {
		attrs.Web.Response = sarifResponseText(resp)
	}

	m.batch.AddVulnerability(VulnerabilityFact{Parent: ServiceRef(svcIdx), Name: name, Attrs: attrs})
	return nil
}

func (m *sarifMapper) service(addr string, port int, scheme string) int {
	hostIdx, ok := m.hosts[addr]
	if !ok {
		attrs := host.Attributes{}
		if net.ParseIP(addr) == nil {
			attrs.Hostnames = []string{addr}
		}
		hostIdx = m.batch.AddHost(HostFact{IP: addr, Attrs: attrs})
		m.hosts[addr] = hostIdx
	}

	key := addr + ":" + strconv.Itoa(port)
	if svcIdx, ok := m.services[key]; ok {
		return svcIdx
	}
	svcIdx := m.batch.AddService(ServiceFact{
		Host:     hostIdx,
		Port:     port,
		Protocol: host.ProtocolTCP,
		Attrs:    host.ServiceAttributes{Name: scheme, Status: host.StatusOpen},
	})
	m.services[key] = svcIdx
	return svcIdx
}

func sarifResultName(rule *sarif.ReportingDescriptor, r *sarif.Result) string {
	if rule != nil {
		if rule.Name != "" {
			return rule.Name
		}
		if rule.ShortDescription != nil && rule.ShortDescription.Text != "" {
			return rule.ShortDescription.Text
		}
	}
	if r.RuleID != "" {
		return r.RuleID
	}
	return strings.TrimSpace(r.Message.Text)
}

// sarifSeverity prefers the CVSS-like security-severity score and falls back
// to the result level.
func sarifSeverity(rule *sarif.ReportingDescriptor, r *sarif.Result) vulnerability.Severity {
	if score, ok := sarif.SecuritySeverity(rule, r); ok {
		switch {
		case score >= 9:
			return vulnerability.SeverityCritical
		case score >= 7:
			return vulnerability.SeverityHigh
		case score >= 4:
			return vulnerability.SeverityMedium
		case score > 0:
			return vulnerability.SeverityLow
		default:
			return vulnerability.SeverityInformational
		}
	}
	switch r.EffectiveLevel(rule) {
	case sarif.LevelError:
		return vulnerability.SeverityHigh
	case sarif.LevelWarning:
		return vulnerability.SeverityMedium
	case sarif.LevelNote:
		return vulnerability.SeverityLow
	case sarif.LevelNone:
		return vulnerability.SeverityInformational
	default:
		return vulnerability.SeverityUnclassified
	}
}

func sarifRequestText(req *sarif.WebRequest, u *url.URL) string {
	var b strings.Builder
	method := req.Method
	if method == "" {
		method = "GET"
	}
	fmt.Fprintf(&b, "%s %s", method, u.RequestURI())
	if req.Protocol != "" {
		fmt.Fprintf(&b, " %s/%s", req.Protocol, req.Version)
	}
	b.WriteString("\n")
	writeHeaders(&b, req.Headers)
	if req.Body != nil && req.Body.Text != "" {
		b.WriteString("\n")
		b.WriteString(req.Body.Text)
	}
	return b.String()
}

func sarifResponseText(resp *sarif.WebResponse) string {
	var b strings.Builder
	if resp.StatusCode != 0 {
		protocol := "HTTP/1.1"
		if resp.Protocol != "" {
			protocol = resp.Protocol + "/" + resp.Version
		}
		fmt.Fprintf(&b, "%s %d %s\n", protocol, resp.StatusCode, resp.ReasonPhrase)
	}
	writeHeaders(&b, resp.Headers)
	if resp.Body != nil && resp.Body.Text != "" {
		b.WriteString("\n")
		b.WriteString(resp.Body.Text)
	}
	return b.String()
}

func writeHeaders(b *strings.Builder, headers map[string]string) {
	for _, k := range slices.Sorted(maps.Keys(headers)) {
		fmt.Fprintf(b, "%s: %s\n", k, headers[k])
	}
}
