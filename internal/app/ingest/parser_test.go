package ingest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/host"
	"github.com/openctemio/scanmerge/pkg/domain/note"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
	"github.com/openctemio/scanmerge/pkg/inflate"
)

const nmapReport = `<?xml version="1.0" encoding="UTF-8"?>
<nmaprun scanner="nmap" args="nmap -sV --script vuln 10.0.0.5" version="7.94">
<host>
<status state="up" reason="arp-response"/>
<address addr="10.0.0.5" addrtype="ipv4"/>
<address addr="AA:BB:CC:DD:EE:FF" addrtype="mac" vendor="Acme"/>
<hostnames><hostname name="web01.corp.local" type="PTR"/></hostnames>
<ports>
<port protocol="tcp" portid="80"><state state="open" reason="syn-ack"/><service name="http" product="nginx" version="1.18.0"/><script id="http-vuln-cve2017-5638" output="VULNERABLE: Apache Struts CVE-2017-5638"/></port>
<port protocol="tcp" portid="22"><state state="open" reason="syn-ack"/><service name="ssh" product="OpenSSH" version="8.2p1"/><script id="ssh-hostkey" output="2048 aa:bb (RSA)"/></port>
<port protocol="sctp" portid="9"><state state="open" reason="init-ack"/></port>
</ports>
<os><osmatch name="Linux 5.4" accuracy="98"/></os>
</host>
<host>
<status state="down" reason="no-response"/>
<address addr="10.0.0.6" addrtype="ipv4"/>
</host>
</nmaprun>`

const jsonReport = `{
  "command": {"tool": "inventory-export", "command": "scan --all", "import_source": "shell", "user": "alice"},
  "hosts": [
    {
      "ip": "192.168.1.10",
      "os": "Windows",
      "hostnames": ["dc01"],
      "notes": ["domain controller"],
      "vulnerabilities": [
        {"name": "SMB signing disabled", "desc": "Signing not required", "severity": "med"}
      ],
      "services": [
        {
          "port": 443, "protocol": "tcp", "name": "https", "status": "open",
          "vulnerabilities": [
            {"name": "XSS", "desc": "Reflected", "severity": "high", "type": "vulnerability_web", "method": "get", "pname": "q", "path": "/search"}
          ],
          "credentials": [{"username": "admin", "password": "admin"}]
        },
        {"port": 70000, "protocol": "tcp"}
      ]
    },
    {"ip": ""},
    {
      "ip": "192.168.1.11",
      "vulnerabilities": [{"name": "Weird", "severity": "apocalyptic"}]
    }
  ]
}`

func TestRegistry_RegisterLookupDetect(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register(NewNmapPlugin()))
	require.NoError(t, reg.Register(NewJSONPlugin()))

	err := reg.Register(NewNmapPlugin())
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	p, ok := reg.Lookup("NMAP")
	require.True(t, ok)
	assert.Equal(t, "nmap", p.ID())

	_, ok = reg.Lookup("nessus")
	assert.False(t, ok)

	p, ok = reg.Detect([]byte(nmapReport))
	require.True(t, ok)
	assert.Equal(t, "nmap", p.ID())

	p, ok = reg.Detect([]byte(jsonReport))
	require.True(t, ok)
	assert.Equal(t, "json", p.ID())

	_, ok = reg.Detect([]byte("plain text"))
	assert.False(t, ok)

	assert.Equal(t, []string{"nmap", "json"}, reg.IDs())
}

func TestParser_Nmap(t *testing.T) {
	parser := NewParser(DefaultRegistry(), inflate.DefaultLimits())

	batch, err := parser.Parse(context.Background(), []byte(nmapReport), "", Identity{User: "bob"})
	require.NoError(t, err)

	assert.Equal(t, "nmap", batch.Command.Tool)
	assert.Equal(t, "nmap -sV --script vuln 10.0.0.5", batch.Command.CommandLine)
	assert.Equal(t, "-sV --script vuln 10.0.0.5", batch.Command.Params)
	assert.Equal(t, "bob", batch.Command.User)
	assert.Equal(t, command.ImportSourceReport, batch.Command.ImportSource)

	require.Len(t, batch.Hosts, 1, "down hosts are ignored")
	h := batch.Hosts[0]
	assert.Equal(t, "10.0.0.5", h.IP)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", h.Attrs.MAC)
	assert.Equal(t, "Acme", h.Attrs.Description)
	assert.Equal(t, []string{"web01.corp.local"}, h.Attrs.Hostnames)
	assert.Equal(t, "Linux 5.4", h.Attrs.OS)

	require.Len(t, batch.Services, 2)
	assert.Equal(t, 80, batch.Services[0].Port)
	assert.Equal(t, host.ProtocolTCP, batch.Services[0].Protocol)
	assert.Equal(t, "http", batch.Services[0].Attrs.Name)
	assert.Equal(t, "nginx 1.18.0", batch.Services[0].Attrs.Version)
	assert.Equal(t, host.StatusOpen, batch.Services[0].Attrs.Status)

	require.Len(t, batch.Vulnerabilities, 1, "only VULNERABLE script output becomes a vulnerability")
	v := batch.Vulnerabilities[0]
	assert.Equal(t, "http-vuln-cve2017-5638", v.Name)
	assert.Equal(t, vulnerability.SeverityHigh, v.Attrs.Severity)
	assert.Equal(t, []string{"CVE-2017-5638"}, v.Attrs.References)
	require.NotNil(t, v.Parent.Service)
	assert.Equal(t, 0, *v.Parent.Service)
	assert.Nil(t, v.Parent.Host)

	assert.Equal(t, 1, batch.Skipped(), "sctp port is skipped")
}

func TestParser_JSON(t *testing.T) {
	parser := NewParser(DefaultRegistry(), inflate.DefaultLimits())

	batch, err := parser.Parse(context.Background(), []byte(jsonReport), "json", Identity{})
	require.NoError(t, err)

	assert.Equal(t, "inventory-export", batch.Command.Tool)
	assert.Equal(t, "alice", batch.Command.User)
	assert.Equal(t, command.ImportSourceShell, batch.Command.ImportSource)

	require.Len(t, batch.Hosts, 2)
	assert.Equal(t, "192.168.1.10", batch.Hosts[0].IP)
	assert.Equal(t, "192.168.1.11", batch.Hosts[1].IP)

	require.Len(t, batch.Services, 1)
	assert.Equal(t, 443, batch.Services[0].Port)

	require.Len(t, batch.Vulnerabilities, 2)
	assert.Equal(t, vulnerability.SeverityMedium, batch.Vulnerabilities[0].Attrs.Severity)
	web := batch.Vulnerabilities[1]
	require.NotNil(t, web.Attrs.Web)
	assert.Equal(t, "q", web.Attrs.Web.ParameterName)

	require.Len(t, batch.Credentials, 1)
	assert.Equal(t, "admin", batch.Credentials[0].Username)

	require.Len(t, batch.Notes, 1)
	assert.Equal(t, NoteTarget{Kind: note.ObjectHost, Index: 0}, batch.Notes[0].Target)

	// port out of range, missing ip, unknown severity
	assert.Equal(t, 3, batch.Skipped())
	for _, pe := range batch.Malformed {
		assert.Equal(t, ParseErrMalformedEntry, pe.Kind)
		assert.ErrorIs(t, pe, shared.ErrValidation)
	}
}

func TestParser_IdentityOverridesReport(t *testing.T) {
	parser := NewParser(DefaultRegistry(), inflate.DefaultLimits())

	batch, err := parser.Parse(context.Background(), []byte(jsonReport), "", Identity{
		User:         "agent-7",
		Hostname:     "runner",
		IP:           "10.1.1.1",
		ImportSource: command.ImportSourceAgent,
	})
	require.NoError(t, err)
	assert.Equal(t, "agent-7", batch.Command.User)
	assert.Equal(t, "runner", batch.Command.Hostname)
	assert.Equal(t, "10.1.1.1", batch.Command.IP)
	assert.Equal(t, command.ImportSourceAgent, batch.Command.ImportSource)
}

func TestParser_EmptyReportIsValid(t *testing.T) {
	parser := NewParser(DefaultRegistry(), inflate.DefaultLimits())

	batch, err := parser.Parse(context.Background(), []byte(`{"command":{"tool":"empty"},"hosts":[]}`), "", Identity{})
	require.NoError(t, err)
	assert.Zero(t, batch.FactCount())
	assert.Equal(t, "empty", batch.Command.Tool)
}

func TestParser_UnrecognizedFormat(t *testing.T) {
	parser := NewParser(DefaultRegistry(), inflate.DefaultLimits())

	_, err := parser.Parse(context.Background(), []byte("Nessus CSV,export"), "nessus", Identity{})
	require.Error(t, err)
	assert.True(t, IsParseError(err, ParseErrUnrecognizedFormat))
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestParser_BrokenPayloadForHintedPlugin(t *testing.T) {
	parser := NewParser(DefaultRegistry(), inflate.DefaultLimits())

	_, err := parser.Parse(context.Background(), []byte("{not json"), "json", Identity{})
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "json", pe.Plugin)
	assert.Equal(t, ParseErrUnrecognizedFormat, pe.Kind)
}

func TestParser_CompressedPayload(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(nmapReport))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	parser := NewParser(DefaultRegistry(), inflate.DefaultLimits())
	batch, err := parser.Parse(context.Background(), buf.Bytes(), "", Identity{})
	require.NoError(t, err)
	assert.Len(t, batch.Hosts, 1)
}

func TestParser_RejectsDecompressionBomb(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(bytes.Repeat([]byte(" "), 8*1024*1024))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	parser := NewParser(DefaultRegistry(), inflate.Limits{MaxDecompressedSize: 1024 * 1024, MaxRatio: 100})
	_, err = parser.Parse(context.Background(), buf.Bytes(), "json", Identity{})
	require.Error(t, err)
	assert.True(t, IsParseError(err, ParseErrUnrecognizedFormat))
}
