package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/inflate"
)

// Plugin converts one report format into a CanonicalBatch.
type Plugin interface {
	// ID is the tool name the plugin answers to, e.g. "nmap".
	ID() string

	// Detect reports whether the payload looks like this plugin's format.
	Detect(payload []byte) bool

	// Parse appends the report's facts to batch. Malformed entries are
	// recorded with batch.Skip; an error fails the whole payload.
	Parse(payload []byte, batch *CanonicalBatch) error
}

// Registry holds format plugins in registration order.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	byID    map[string]Plugin
}

// NewRegistry creates a registry holding the given plugins.
func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{byID: make(map[string]Plugin)}
	for _, p := range plugins {
		_ = r.Register(p)
	}
	return r
}

// DefaultRegistry returns a registry with every built-in plugin.
func DefaultRegistry() *Registry {
	return NewRegistry(NewNmapPlugin(), NewSARIFPlugin(), NewJSONPlugin())
}

// Register adds a plugin. Plugin ids are case-insensitive and unique.
func (r *Registry) Register(p Plugin) error {
	id := strings.ToLower(p.ID())
	if id == "" {
		return fmt.Errorf("%w: plugin id is required", shared.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("%w: plugin %s", shared.ErrAlreadyExists, id)
	}
	r.byID[id] = p
	r.plugins = append(r.plugins, p)
	return nil
}

// Lookup returns the plugin registered under id.
func (r *Registry) Lookup(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[strings.ToLower(strings.TrimSpace(id))]
	return p, ok
}

// Detect returns the first plugin, in registration order, that recognizes
// the payload.
func (r *Registry) Detect(payload []byte) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.Detect(payload) {
			return p, true
		}
	}
	return nil, false
}

// IDs returns the registered plugin ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.plugins))
	for i, p := range r.plugins {
		ids[i] = p.ID()
	}
	return ids
}

// Identity is who submitted a report and from where.
type Identity struct {
	User         string
	Hostname     string
	IP           string
	ImportSource command.ImportSource
}

// Parser selects a plugin for a payload and runs it.
type Parser struct {
	registry *Registry
	limits   inflate.Limits
}

// NewParser creates a parser over the registry. Compressed payloads are
// inflated under limits.
func NewParser(registry *Registry, limits inflate.Limits) *Parser {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Parser{registry: registry, limits: limits}
}

// Registry returns the plugin registry.
func (p *Parser) Registry() *Registry { return p.registry }

// Parse converts a raw payload into a CanonicalBatch. A tool hint naming a
// registered plugin selects it; otherwise plugins are tried by detection.
func (p *Parser) Parse(ctx context.Context, payload []byte, toolHint string, identity Identity) (*CanonicalBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := inflate.Auto(payload, p.limits)
	if err != nil {
		return nil, &ParseError{Kind: ParseErrUnrecognizedFormat, Err: err}
	}

	plugin, ok := p.registry.Lookup(toolHint)
	if !ok {
		plugin, ok = p.registry.Detect(data)
	}
	if !ok {
		return nil, &ParseError{
			Kind: ParseErrUnrecognizedFormat,
			Err:  fmt.Errorf("no plugin recognizes the report (tool hint %q)", toolHint),
		}
	}

	batch := &CanonicalBatch{}
	if err := plugin.Parse(data, batch); err != nil {
		return nil, &ParseError{Kind: ParseErrUnrecognizedFormat, Plugin: plugin.ID(), Err: err}
	}

	applyIdentity(&batch.Command, plugin.ID(), identity)
	return batch, nil
}

func applyIdentity(meta *CommandMeta, tool string, id Identity) {
	if meta.Tool == "" {
		meta.Tool = tool
	}
	if id.User != "" {
		meta.User = id.User
	}
	if id.Hostname != "" {
		meta.Hostname = id.Hostname
	}
	if id.IP != "" {
		meta.IP = id.IP
	}
	if id.ImportSource != "" {
		meta.ImportSource = id.ImportSource
	}
	if meta.ImportSource == "" {
		meta.ImportSource = command.ImportSourceReport
	}
}
