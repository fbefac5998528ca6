package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/host"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
	"github.com/openctemio/scanmerge/pkg/inflate"
	"github.com/openctemio/scanmerge/pkg/parsers/sarif"
)

const sarifReport = `{
  "version": "2.1.0",
  "$schema": "https://json.schemastore.org/sarif-2.1.0.json",
  "runs": [{
    "tool": {"driver": {"name": "ZAP", "rules": [
      {"id": "40012", "name": "Cross Site Scripting (Reflected)",
       "fullDescription": {"text": "Reflected XSS"},
       "help": {"text": "Encode output"},
       "helpUri": "https://www.zaproxy.org/docs/alerts/40012/",
       "properties": {"security-severity": "8.1"}},
      {"id": "10020", "shortDescription": {"text": "Missing Anti-clickjacking Header"}}
    ]}},
    "invocations": [{"commandLine": "zap-baseline.py -t https://shop.example.com", "startTimeUtc": "2026-03-01T10:00:00Z", "executionSuccessful": true}],
    "results": [
      {"ruleId": "40012", "ruleIndex": 0, "message": {"text": "XSS in q"},
       "webRequest": {"target": "https://shop.example.com/search?q=1", "method": "GET",
                      "protocol": "HTTP", "version": "1.1",
                      "headers": {"User-Agent": "zap", "Accept": "*/*"},
                      "parameters": {"q": "1", "page": "2"}},
       "webResponse": {"statusCode": 200, "reasonPhrase": "OK", "body": {"text": "<script>"}}},
      {"ruleId": "10020", "level": "note", "message": {"text": "no X-Frame-Options"},
       "locations": [{"physicalLocation": {"artifactLocation": {"uri": "https://shop.example.com/"}}}]},
      {"ruleId": "10020", "level": "note", "message": {"text": "no X-Frame-Options"},
       "locations": [{"physicalLocation": {"artifactLocation": {"uri": "http://10.0.0.5:8080/admin"}}}]},
      {"ruleId": "10020", "message": {"text": "source file"},
       "locations": [{"physicalLocation": {"artifactLocation": {"uri": "src/app.js"}}}]},
      {"ruleId": "10020", "message": {"text": "bad port"},
       "webRequest": {"target": "http://10.0.0.5:99999/"}}
    ]
  }]
}`

func TestSARIFPlugin_Detect(t *testing.T) {
	p := NewSARIFPlugin()

	assert.True(t, p.Detect([]byte(sarifReport)))
	assert.True(t, p.Detect([]byte(`{"version":"2.1.0","runs":[]}`)))
	assert.False(t, p.Detect([]byte(jsonReport)))
	assert.False(t, p.Detect([]byte(nmapReport)))
	assert.False(t, p.Detect([]byte(`{"runs": []}`)))
}

func TestParser_SARIF(t *testing.T) {
	parser := NewParser(DefaultRegistry(), inflate.DefaultLimits())

	batch, err := parser.Parse(context.Background(), []byte(sarifReport), "", Identity{User: "ci"})
	require.NoError(t, err)

	assert.Equal(t, "zap", batch.Command.Tool)
	assert.Equal(t, "zap-baseline.py -t https://shop.example.com", batch.Command.CommandLine)
	assert.Equal(t, 2026, batch.Command.StartDate.Year())
	assert.Equal(t, command.ImportSourceReport, batch.Command.ImportSource)
	assert.Equal(t, "ci", batch.Command.User)

	require.Len(t, batch.Hosts, 2, "one host per address")
	assert.Equal(t, "shop.example.com", batch.Hosts[0].IP)
	assert.Equal(t, []string{"shop.example.com"}, batch.Hosts[0].Attrs.Hostnames)
	assert.Equal(t, "10.0.0.5", batch.Hosts[1].IP)
	assert.Empty(t, batch.Hosts[1].Attrs.Hostnames)

	require.Len(t, batch.Services, 2, "one service per address and port")
	assert.Equal(t, ServiceFact{
		Host: 0, Port: 443, Protocol: host.ProtocolTCP,
		Attrs: host.ServiceAttributes{Name: "https", Status: host.StatusOpen},
	}, batch.Services[0])
	assert.Equal(t, 1, batch.Services[1].Host)
	assert.Equal(t, 8080, batch.Services[1].Port)
	assert.Equal(t, "http", batch.Services[1].Attrs.Name)

	require.Len(t, batch.Vulnerabilities, 3)

	xss := batch.Vulnerabilities[0]
	assert.Equal(t, "Cross Site Scripting (Reflected)", xss.Name)
	assert.Equal(t, ServiceRef(0), xss.Parent)
	assert.Equal(t, vulnerability.SeverityHigh, xss.Attrs.Severity)
	assert.Equal(t, "XSS in q", xss.Attrs.Description)
	assert.Equal(t, "Encode output", xss.Attrs.Resolution)
	assert.Equal(t, "Reflected XSS", xss.Attrs.Data)
	assert.Equal(t, []string{"https://www.zaproxy.org/docs/alerts/40012/"}, xss.Attrs.References)
	require.NotNil(t, xss.Attrs.Web)
	assert.Equal(t, "GET", xss.Attrs.Web.Method)
	assert.Equal(t, "/search", xss.Attrs.Web.Path)
	assert.Equal(t, "https://shop.example.com", xss.Attrs.Web.Website)
	assert.Equal(t, "page", xss.Attrs.Web.ParameterName)
	assert.Equal(t, "GET /search?q=1 HTTP/1.1\nAccept: */*\nUser-Agent: zap\n", xss.Attrs.Web.Request)
	assert.Equal(t, "HTTP/1.1 200 OK\n\n<script>", xss.Attrs.Web.Response)

	header := batch.Vulnerabilities[1]
	assert.Equal(t, "Missing Anti-clickjacking Header", header.Name)
	assert.Equal(t, ServiceRef(0), header.Parent)
	assert.Equal(t, vulnerability.SeverityLow, header.Attrs.Severity)

	admin := batch.Vulnerabilities[2]
	assert.Equal(t, ServiceRef(1), admin.Parent)
	assert.Equal(t, "/admin", admin.Attrs.Web.Path)
	assert.Equal(t, "http://10.0.0.5:8080", admin.Attrs.Web.Website)

	// relative uri, out of range port
	assert.Equal(t, 2, batch.Skipped())
	for _, pe := range batch.Malformed {
		assert.Equal(t, ParseErrMalformedEntry, pe.Kind)
		assert.Equal(t, "sarif", pe.Plugin)
	}
}

func TestParser_SARIFInvalidLog(t *testing.T) {
	parser := NewParser(DefaultRegistry(), inflate.DefaultLimits())

	_, err := parser.Parse(context.Background(), []byte(`{"version":"1.0.0","runs":[{}]}`), "sarif", Identity{})
	require.Error(t, err)
	assert.ErrorIs(t, err, sarif.ErrUnsupportedVersion)
}

func TestSARIFSeverity(t *testing.T) {
	withScore := func(score any) *sarif.ReportingDescriptor {
		return &sarif.ReportingDescriptor{Properties: sarif.Properties{"security-severity": score}}
	}

	tests := []struct {
		name  string
		rule  *sarif.ReportingDescriptor
		level sarif.Level
		want  vulnerability.Severity
	}{
		{"critical score", withScore("9.8"), "", vulnerability.SeverityCritical},
		{"high score", withScore(7.0), "", vulnerability.SeverityHigh},
		{"medium score", withScore("5.3"), sarif.LevelError, vulnerability.SeverityMedium},
		{"low score", withScore(0.1), "", vulnerability.SeverityLow},
		{"zero score", withScore("0"), "", vulnerability.SeverityInformational},
		{"error level", nil, sarif.LevelError, vulnerability.SeverityHigh},
		{"default level", nil, "", vulnerability.SeverityMedium},
		{"note level", nil, sarif.LevelNote, vulnerability.SeverityLow},
		{"none level", nil, sarif.LevelNone, vulnerability.SeverityInformational},
		{"unknown level", nil, sarif.Level("fatal"), vulnerability.SeverityUnclassified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sarifSeverity(tt.rule, &sarif.Result{Level: tt.level}))
		})
	}
}
