package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/credential"
	"github.com/openctemio/scanmerge/pkg/domain/host"
	"github.com/openctemio/scanmerge/pkg/domain/note"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
)

const jsonPluginID = "json"

// Report is the canonical JSON report format. Services, vulnerabilities,
// credentials and notes nest under the object they belong to.
type Report struct {
	Command ReportCommand `json:"command"`
	Hosts   []ReportHost  `json:"hosts"`
}

// ReportCommand describes the tool run.
type ReportCommand struct {
	Tool         string `json:"tool"`
	CommandLine  string `json:"command"`
	Params       string `json:"params,omitempty"`
	ImportSource string `json:"import_source,omitempty"`
	User         string `json:"user,omitempty"`
	Hostname     string `json:"hostname,omitempty"`
	IP           string `json:"ip,omitempty"`
}

// ReportHost is a host entry.
type ReportHost struct {
	IP              string                `json:"ip"`
	OS              string                `json:"os,omitempty"`
	MAC             string                `json:"mac,omitempty"`
	Description     string                `json:"description,omitempty"`
	DefaultGateway  string                `json:"default_gateway,omitempty"`
	Hostnames       []string              `json:"hostnames,omitempty"`
	Owned           bool                  `json:"owned,omitempty"`
	Services        []ReportService       `json:"services,omitempty"`
	Vulnerabilities []ReportVulnerability `json:"vulnerabilities,omitempty"`
	Credentials     []ReportCredential    `json:"credentials,omitempty"`
	Notes           []string              `json:"notes,omitempty"`
}

// ReportService is a service entry.
type ReportService struct {
	Port            int                   `json:"port"`
	Protocol        string                `json:"protocol,omitempty"`
	Name            string                `json:"name,omitempty"`
	Status          string                `json:"status,omitempty"`
	Version         string                `json:"version,omitempty"`
	Description     string                `json:"description,omitempty"`
	Owned           bool                  `json:"owned,omitempty"`
	Vulnerabilities []ReportVulnerability `json:"vulnerabilities,omitempty"`
	Credentials     []ReportCredential    `json:"credentials,omitempty"`
	Notes           []string              `json:"notes,omitempty"`
}

// ReportVulnerability is a vulnerability entry. Type "vulnerability_web"
// selects the web variant.
type ReportVulnerability struct {
	Name          string   `json:"name"`
	Description   string   `json:"desc,omitempty"`
	Resolution    string   `json:"resolution,omitempty"`
	Data          string   `json:"data,omitempty"`
	Severity      string   `json:"severity,omitempty"`
	Status        string   `json:"status,omitempty"`
	Confirmed     bool     `json:"confirmed,omitempty"`
	References    []string `json:"refs,omitempty"`
	Type          string   `json:"type,omitempty"`
	Method        string   `json:"method,omitempty"`
	ParameterName string   `json:"pname,omitempty"`
	Path          string   `json:"path,omitempty"`
	Website       string   `json:"website,omitempty"`
	Request       string   `json:"request,omitempty"`
	Response      string   `json:"response,omitempty"`
	Notes         []string `json:"notes,omitempty"`
}

// ReportCredential is a credential entry.
type ReportCredential struct {
	Username    string `json:"username"`
	Password    string `json:"password,omitempty"`
	Name        string `json:"name,omitempty"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Owned       bool   `json:"owned,omitempty"`
}

// JSONPlugin parses the canonical JSON report format.
type JSONPlugin struct{}

// NewJSONPlugin creates the JSON plugin.
func NewJSONPlugin() *JSONPlugin { return &JSONPlugin{} }

func (*JSONPlugin) ID() string { return jsonPluginID }

func (*JSONPlugin) Detect(payload []byte) bool {
	head := bytes.TrimSpace(payload[:min(len(payload), detectWindow)])
	return bytes.HasPrefix(head, []byte("{")) && bytes.Contains(head, []byte(`"hosts"`))
}

func (*JSONPlugin) Parse(payload []byte, batch *CanonicalBatch) error {
	var report Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return fmt.Errorf("decode json report: %w", err)
	}
	if len(report.Hosts) > MaxFactsPerReport {
		return fmt.Errorf("report has %d hosts, limit is %d", len(report.Hosts), MaxFactsPerReport)
	}

	source, err := command.ParseImportSource(report.Command.ImportSource)
	if err != nil {
		batch.Skip(jsonPluginID, "command.import_source", err)
		source = command.ImportSourceReport
	}
	batch.Command = CommandMeta{
		Tool:         strings.TrimSpace(report.Command.Tool),
		CommandLine:  report.Command.CommandLine,
		Params:       report.Command.Params,
		ImportSource: source,
		User:         report.Command.User,
		Hostname:     report.Command.Hostname,
		IP:           report.Command.IP,
	}

	for i, h := range report.Hosts {
		entry := fmt.Sprintf("hosts[%d]", i)
		if strings.TrimSpace(h.IP) == "" {
			batch.Skip(jsonPluginID, entry, errors.New("ip is required"))
			continue
		}
		hostIdx := batch.AddHost(HostFact{
			IP: strings.TrimSpace(h.IP),
			Attrs: host.Attributes{
				OS:             h.OS,
				MAC:            h.MAC,
				Description:    h.Description,
				DefaultGateway: h.DefaultGateway,
				Hostnames:      h.Hostnames,
				Owned:          h.Owned,
			},
		})
		parent := HostRef(hostIdx)
		addVulnerabilities(batch, entry, parent, h.Vulnerabilities)
		addCredentials(batch, entry, parent, h.Credentials)
		addNotes(batch, note.ObjectHost, hostIdx, h.Notes)

		for j, s := range h.Services {
			svcEntry := fmt.Sprintf("%s.services[%d]", entry, j)
			svcIdx, err := addService(batch, hostIdx, s)
			if err != nil {
				batch.Skip(jsonPluginID, svcEntry, err)
				continue
			}
			parent := ServiceRef(svcIdx)
			addVulnerabilities(batch, svcEntry, parent, s.Vulnerabilities)
			addCredentials(batch, svcEntry, parent, s.Credentials)
			addNotes(batch, note.ObjectService, svcIdx, s.Notes)
		}
	}
	return nil
}

func addService(batch *CanonicalBatch, hostIdx int, s ReportService) (int, error) {
	if s.Port < 0 || s.Port > 65535 {
		return 0, fmt.Errorf("port %d out of range", s.Port)
	}
	proto, err := host.ParseProtocol(s.Protocol)
	if err != nil {
		return 0, err
	}
	attrs := host.ServiceAttributes{
		Name:        s.Name,
		Version:     s.Version,
		Description: s.Description,
		Owned:       s.Owned,
	}
	if s.Status != "" {
		if attrs.Status, err = host.ParseServiceStatus(s.Status); err != nil {
			return 0, err
		}
	}
	return batch.AddService(ServiceFact{Host: hostIdx, Port: s.Port, Protocol: proto, Attrs: attrs}), nil
}

func addVulnerabilities(batch *CanonicalBatch, entry string, parent ParentRef, vulns []ReportVulnerability) {
	for k, v := range vulns {
		vulnEntry := fmt.Sprintf("%s.vulnerabilities[%d]", entry, k)
		attrs, err := vulnerabilityAttributes(v)
		if err != nil {
			batch.Skip(jsonPluginID, vulnEntry, err)
			continue
		}
		if strings.TrimSpace(v.Name) == "" {
			batch.Skip(jsonPluginID, vulnEntry, errors.New("name is required"))
			continue
		}
		idx := batch.AddVulnerability(VulnerabilityFact{Parent: parent, Name: v.Name, Attrs: attrs})
		addNotes(batch, note.ObjectVulnerability, idx, v.Notes)
	}
}

func vulnerabilityAttributes(v ReportVulnerability) (vulnerability.Attributes, error) {
	severity, err := vulnerability.ParseSeverity(v.Severity)
	if err != nil {
		return vulnerability.Attributes{}, err
	}
	var status vulnerability.Status
	if v.Status != "" {
		if status, err = vulnerability.ParseStatus(v.Status); err != nil {
			return vulnerability.Attributes{}, err
		}
	}
	attrs := vulnerability.Attributes{
		Description: v.Description,
		Resolution:  v.Resolution,
		Data:        v.Data,
		Severity:    severity,
		Status:      status,
		Confirmed:   v.Confirmed,
		References:  v.References,
	}
	if vulnerability.Kind(v.Type) == vulnerability.KindWeb {
		attrs.Web = &vulnerability.WebDetails{
			Method:        v.Method,
			ParameterName: v.ParameterName,
			Path:          v.Path,
			Website:       v.Website,
			Request:       v.Request,
			Response:      v.Response,
		}
	}
	return attrs, nil
}

func addCredentials(batch *CanonicalBatch, entry string, parent ParentRef, creds []ReportCredential) {
	for k, c := range creds {
		credEntry := fmt.Sprintf("%s.credentials[%d]", entry, k)
		if strings.TrimSpace(c.Username) == "" {
			batch.Skip(jsonPluginID, credEntry, errors.New("username is required"))
			continue
		}
		credType, err := credential.ParseType(c.Type)
		if err != nil {
			batch.Skip(jsonPluginID, credEntry, err)
			continue
		}
		batch.AddCredential(CredentialFact{
			Parent:   parent,
			Username: c.Username,
			Attrs: credential.Attributes{
				Name:        c.Name,
				Password:    c.Password,
				Type:        credType,
				Description: c.Description,
				Owned:       c.Owned,
			},
		})
	}
}

func addNotes(batch *CanonicalBatch, kind note.ObjectType, idx int, texts []string) {
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		batch.AddNote(NoteFact{Target: NoteTarget{Kind: kind, Index: idx}, Text: text})
	}
}
