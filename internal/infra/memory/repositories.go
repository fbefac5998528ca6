package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/credential"
	"github.com/openctemio/scanmerge/pkg/domain/host"
	"github.com/openctemio/scanmerge/pkg/domain/note"
	"github.com/openctemio/scanmerge/pkg/domain/rule"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
)

// =============================================================================
// Workspaces
// =============================================================================

type workspaceRepo struct{ view }

func workspaceData(w *workspace.Workspace) workspace.Data {
	return workspace.Data{
		ID:          w.ID(),
		Name:        w.Name(),
		Description: w.Description(),
		Active:      w.IsActive(),
		CreatedAt:   w.CreatedAt(),
		UpdatedAt:   w.UpdatedAt(),
	}
}

func (r workspaceRepo) Create(_ context.Context, w *workspace.Workspace) error {
	st, done := r.begin()
	defer done()
	for _, d := range st.workspaces {
		if d.Name == w.Name() {
			return workspace.ErrExists
		}
	}
	st.workspaces[w.ID()] = workspaceData(w)
	return nil
}

func (r workspaceRepo) Update(_ context.Context, w *workspace.Workspace) error {
	st, done := r.begin()
	defer done()
	if _, ok := st.workspaces[w.ID()]; !ok {
		return workspace.ErrNotFound
	}
	st.workspaces[w.ID()] = workspaceData(w)
	return nil
}

func (r workspaceRepo) GetByID(_ context.Context, id shared.ID) (*workspace.Workspace, error) {
	st, done := r.begin()
	defer done()
	d, ok := st.workspaces[id]
	if !ok {
		return nil, workspace.ErrNotFound
	}
	return workspace.Reconstitute(d), nil
}

func (r workspaceRepo) GetByName(_ context.Context, name string) (*workspace.Workspace, error) {
	st, done := r.begin()
	defer done()
	for _, d := range st.workspaces {
		if d.Name == name {
			return workspace.Reconstitute(d), nil
		}
	}
	return nil, workspace.ErrNotFound
}

func (r workspaceRepo) List(_ context.Context) ([]*workspace.Workspace, error) {
	st, done := r.begin()
	defer done()
	out := make([]*workspace.Workspace, 0, len(st.workspaces))
	for _, d := range st.workspaces {
		out = append(out, workspace.Reconstitute(d))
	}
	slices.SortFunc(out, func(a, b *workspace.Workspace) int { return strings.Compare(a.Name(), b.Name()) })
	return out, nil
}

// =============================================================================
// Hosts and services
// =============================================================================

type hostRepo struct{ view }

func hostData(h *host.Host) host.HostData {
	return host.HostData{
		ID:             h.ID(),
		WorkspaceID:    h.WorkspaceID(),
		IP:             h.IP(),
		OS:             h.OS(),
		MAC:            h.MAC(),
		Description:    h.Description(),
		DefaultGateway: h.DefaultGateway(),
		Hostnames:      h.Hostnames(),
		Owned:          h.Owned(),
		Creator:        h.Creator(),
		CreatedAt:      h.CreatedAt(),
		UpdatedAt:      h.UpdatedAt(),
	}
}

func (r hostRepo) Create(_ context.Context, h *host.Host) error {
	st, done := r.begin()
	defer done()
	for _, d := range st.hosts {
		if d.WorkspaceID == h.WorkspaceID() && d.IP == h.IP() {
			return fmt.Errorf("%w: host %s", shared.ErrAlreadyExists, h.IP())
		}
	}
	st.hosts[h.ID()] = hostData(h)
	return nil
}

func (r hostRepo) Update(_ context.Context, h *host.Host) error {
	st, done := r.begin()
	defer done()
	if _, ok := st.hosts[h.ID()]; !ok {
		return host.ErrHostNotFound
	}
	st.hosts[h.ID()] = hostData(h)
	return nil
}

func (r hostRepo) GetByID(_ context.Context, workspaceID, id shared.ID) (*host.Host, error) {
	st, done := r.begin()
	defer done()
	d, ok := st.hosts[id]
	if !ok || d.WorkspaceID != workspaceID {
		return nil, host.ErrHostNotFound
	}
	return host.ReconstituteHost(d), nil
}

func (r hostRepo) GetByIP(_ context.Context, workspaceID shared.ID, ip string) (*host.Host, error) {
	st, done := r.begin()
	defer done()
	for _, d := range st.hosts {
		if d.WorkspaceID == workspaceID && d.IP == ip {
			return host.ReconstituteHost(d), nil
		}
	}
	return nil, host.ErrHostNotFound
}

func (r hostRepo) ListByWorkspace(_ context.Context, workspaceID shared.ID) ([]*host.Host, error) {
	st, done := r.begin()
	defer done()
	var out []*host.Host
	for _, d := range st.hosts {
		if d.WorkspaceID == workspaceID {
			out = append(out, host.ReconstituteHost(d))
		}
	}
	slices.SortFunc(out, func(a, b *host.Host) int { return a.ID().Compare(b.ID()) })
	return out, nil
}

func (r hostRepo) Count(_ context.Context, workspaceID shared.ID) (int64, error) {
	st, done := r.begin()
	defer done()
	var n int64
	for _, d := range st.hosts {
		if d.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

type serviceRepo struct{ view }

func serviceData(s *host.Service) host.ServiceData {
	return host.ServiceData{
		ID:          s.ID(),
		WorkspaceID: s.WorkspaceID(),
		HostID:      s.HostID(),
		Port:        s.Port(),
		Protocol:    s.Protocol(),
		Name:        s.Name(),
		Status:      s.Status(),
		Version:     s.Version(),
		Description: s.Description(),
		Owned:       s.Owned(),
		Creator:     s.Creator(),
		CreatedAt:   s.CreatedAt(),
		UpdatedAt:   s.UpdatedAt(),
	}
}

func (r serviceRepo) Create(_ context.Context, s *host.Service) error {
	st, done := r.begin()
	defer done()
	if _, ok := st.hosts[s.HostID()]; !ok {
		return host.ErrHostNotFound
	}
	for _, d := range st.services {
		if d.HostID == s.HostID() && d.Port == s.Port() && d.Protocol == s.Protocol() {
			return fmt.Errorf("%w: service %d/%s", shared.ErrAlreadyExists, s.Port(), s.Protocol())
		}
	}
	st.services[s.ID()] = serviceData(s)
	return nil
}

func (r serviceRepo) Update(_ context.Context, s *host.Service) error {
	st, done := r.begin()
	defer done()
	if _, ok := st.services[s.ID()]; !ok {
		return host.ErrServiceNotFound
	}
	st.services[s.ID()] = serviceData(s)
	return nil
}

func (r serviceRepo) GetByID(_ context.Context, workspaceID, id shared.ID) (*host.Service, error) {
	st, done := r.begin()
	defer done()
	d, ok := st.services[id]
	if !ok || d.WorkspaceID != workspaceID {
		return nil, host.ErrServiceNotFound
	}
	return host.ReconstituteService(d), nil
}

func (r serviceRepo) GetByKey(_ context.Context, hostID shared.ID, port int, protocol host.Protocol) (*host.Service, error) {
	st, done := r.begin()
	defer done()
	for _, d := range st.services {
		if d.HostID == hostID && d.Port == port && d.Protocol == protocol {
			return host.ReconstituteService(d), nil
		}
	}
	return nil, host.ErrServiceNotFound
}

func (r serviceRepo) ListByHost(_ context.Context, hostID shared.ID) ([]*host.Service, error) {
	st, done := r.begin()
	defer done()
	var out []*host.Service
	for _, d := range st.services {
		if d.HostID == hostID {
			out = append(out, host.ReconstituteService(d))
		}
	}
	slices.SortFunc(out, func(a, b *host.Service) int {
		return cmp.Or(cmp.Compare(a.Port(), b.Port()), strings.Compare(string(a.Protocol()), string(b.Protocol())))
	})
	return out, nil
}

func (r serviceRepo) Count(_ context.Context, workspaceID shared.ID) (int64, error) {
	st, done := r.begin()
	defer done()
	var n int64
	for _, d := range st.services {
		if d.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Vulnerabilities
// =============================================================================

type vulnRepo struct{ view }

func (r vulnRepo) Create(_ context.Context, v *vulnerability.Vulnerability) error {
	st, done := r.begin()
	defer done()
	for _, d := range st.vulns {
		if d.WorkspaceID == v.WorkspaceID() && d.DedupKey == v.DedupKey() {
			return fmt.Errorf("%w: vulnerability %q", shared.ErrAlreadyExists, v.Name())
		}
	}
	st.vulns[v.ID()] = v.Snapshot()
	return nil
}

func (r vulnRepo) Update(_ context.Context, v *vulnerability.Vulnerability) error {
	st, done := r.begin()
	defer done()
	if _, ok := st.vulns[v.ID()]; !ok {
		return vulnerability.ErrNotFound
	}
	for id, d := range st.vulns {
		if id != v.ID() && d.WorkspaceID == v.WorkspaceID() && d.DedupKey == v.DedupKey() {
			return fmt.Errorf("%w: vulnerability %q collides with %s", shared.ErrConflict, v.Name(), id)
		}
	}
	st.vulns[v.ID()] = v.Snapshot()
	return nil
}

func (r vulnRepo) Delete(_ context.Context, workspaceID, id shared.ID) error {
	st, done := r.begin()
	defer done()
	d, ok := st.vulns[id]
	if !ok || d.WorkspaceID != workspaceID {
		return vulnerability.ErrNotFound
	}
	delete(st.vulns, id)
	return nil
}

func (r vulnRepo) GetByID(_ context.Context, workspaceID, id shared.ID) (*vulnerability.Vulnerability, error) {
	st, done := r.begin()
	defer done()
	d, ok := st.vulns[id]
	if !ok || d.WorkspaceID != workspaceID {
		return nil, vulnerability.ErrNotFound
	}
	return vulnerability.Reconstitute(d), nil
}

func (r vulnRepo) GetByDedupKey(_ context.Context, workspaceID shared.ID, key string) (*vulnerability.Vulnerability, error) {
	st, done := r.begin()
	defer done()
	for _, d := range st.vulns {
		if d.WorkspaceID == workspaceID && d.DedupKey == key {
			return vulnerability.Reconstitute(d), nil
		}
	}
	return nil, vulnerability.ErrNotFound
}

func (r vulnRepo) Find(_ context.Context, workspaceID shared.ID, conds []vulnerability.Condition) ([]*vulnerability.Vulnerability, error) {
	st, done := r.begin()
	defer done()
	var out []*vulnerability.Vulnerability
	for _, d := range st.vulns {
		if d.WorkspaceID != workspaceID {
			continue
		}
		v := vulnerability.Reconstitute(d)
		if v.Matches(conds) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b *vulnerability.Vulnerability) int { return a.ID().Compare(b.ID()) })
	return out, nil
}

func (r vulnRepo) Count(_ context.Context, workspaceID shared.ID) (int64, error) {
	st, done := r.begin()
	defer done()
	var n int64
	for _, d := range st.vulns {
		if d.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

func (r vulnRepo) CountByHost(_ context.Context, workspaceID, hostID shared.ID) (int64, error) {
	st, done := r.begin()
	defer done()
	var n int64
	for _, d := range st.vulns {
		if d.WorkspaceID != workspaceID {
			continue
		}
		switch {
		case d.Parent.HostID != nil && *d.Parent.HostID == hostID:
			n++
		case d.Parent.ServiceID != nil:
			if svc, ok := st.services[*d.Parent.ServiceID]; ok && svc.HostID == hostID {
				n++
			}
		}
	}
	return n, nil
}

// =============================================================================
// Credentials
// =============================================================================

type credentialRepo struct{ view }

func credentialData(c *credential.Credential) credential.Data {
	return credential.Data{
		ID:          c.ID(),
		WorkspaceID: c.WorkspaceID(),
		Parent:      c.Parent(),
		Username:    c.Username(),
		Name:        c.Name(),
		Password:    c.Password(),
		Type:        c.Type(),
		Description: c.Description(),
		Owned:       c.Owned(),
		Creator:     c.Creator(),
		CreatedAt:   c.CreatedAt(),
		UpdatedAt:   c.UpdatedAt(),
	}
}

func (r credentialRepo) Create(_ context.Context, c *credential.Credential) error {
	if err := c.Parent().Validate(); err != nil {
		return err
	}
	st, done := r.begin()
	defer done()
	key := c.Parent().Key()
	for _, d := range st.creds {
		if d.WorkspaceID == c.WorkspaceID() && d.Parent.Key() == key && d.Username == c.Username() {
			return fmt.Errorf("%w: credential %s", shared.ErrAlreadyExists, c.Username())
		}
	}
	st.creds[c.ID()] = credentialData(c)
	return nil
}

func (r credentialRepo) Update(_ context.Context, c *credential.Credential) error {
	st, done := r.begin()
	defer done()
	if _, ok := st.creds[c.ID()]; !ok {
		return credential.ErrNotFound
	}
	st.creds[c.ID()] = credentialData(c)
	return nil
}

func (r credentialRepo) GetByKey(_ context.Context, workspaceID shared.ID, parent shared.Parent, username string) (*credential.Credential, error) {
	st, done := r.begin()
	defer done()
	key := parent.Key()
	for _, d := range st.creds {
		if d.WorkspaceID == workspaceID && d.Parent.Key() == key && d.Username == username {
			return credential.Reconstitute(d), nil
		}
	}
	return nil, credential.ErrNotFound
}

func (r credentialRepo) ListByWorkspace(_ context.Context, workspaceID shared.ID) ([]*credential.Credential, error) {
	st, done := r.begin()
	defer done()
	var out []*credential.Credential
	for _, d := range st.creds {
		if d.WorkspaceID == workspaceID {
			out = append(out, credential.Reconstitute(d))
		}
	}
	slices.SortFunc(out, func(a, b *credential.Credential) int { return a.ID().Compare(b.ID()) })
	return out, nil
}

func (r credentialRepo) Count(_ context.Context, workspaceID shared.ID) (int64, error) {
	st, done := r.begin()
	defer done()
	var n int64
	for _, d := range st.creds {
		if d.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Notes
// =============================================================================

type noteRepo struct{ view }

func (r noteRepo) Create(_ context.Context, n *note.Note) error {
	st, done := r.begin()
	defer done()
	st.notes[n.ID()] = note.Data{
		ID:          n.ID(),
		WorkspaceID: n.WorkspaceID(),
		ObjectType:  n.ObjectType(),
		ObjectID:    n.ObjectID(),
		Text:        n.Text(),
		Creator:     n.Creator(),
		CreatedAt:   n.CreatedAt(),
	}
	return nil
}

func (r noteRepo) Find(_ context.Context, workspaceID shared.ID, objectType note.ObjectType, objectID shared.ID, text string) (*note.Note, error) {
	st, done := r.begin()
	defer done()
	for _, d := range st.notes {
		if d.WorkspaceID == workspaceID && d.ObjectType == objectType && d.ObjectID == objectID && d.Text == text {
			return note.Reconstitute(d), nil
		}
	}
	return nil, fmt.Errorf("%w: note", shared.ErrNotFound)
}

func (r noteRepo) ListByObject(_ context.Context, workspaceID shared.ID, objectType note.ObjectType, objectID shared.ID) ([]*note.Note, error) {
	st, done := r.begin()
	defer done()
	var out []*note.Note
	for _, d := range st.notes {
		if d.WorkspaceID == workspaceID && d.ObjectType == objectType && d.ObjectID == objectID {
			out = append(out, note.Reconstitute(d))
		}
	}
	slices.SortFunc(out, func(a, b *note.Note) int {
		return cmp.Or(a.CreatedAt().Compare(b.CreatedAt()), a.ID().Compare(b.ID()))
	})
	return out, nil
}

func (r noteRepo) DeleteByObject(_ context.Context, workspaceID shared.ID, objectType note.ObjectType, objectID shared.ID) error {
	st, done := r.begin()
	defer done()
	for id, d := range st.notes {
		if d.WorkspaceID == workspaceID && d.ObjectType == objectType && d.ObjectID == objectID {
			delete(st.notes, id)
		}
	}
	return nil
}

// =============================================================================
// Commands and audit edges
// =============================================================================

type commandRepo struct{ view }

func (r commandRepo) Create(_ context.Context, cmd *command.Command) error {
	st, done := r.begin()
	defer done()
	if _, ok := st.workspaces[cmd.WorkspaceID]; !ok {
		return workspace.ErrNotFound
	}
	st.commands[cmd.ID] = *cmd
	return nil
}

func (r commandRepo) Update(_ context.Context, cmd *command.Command) error {
	st, done := r.begin()
	defer done()
	if _, ok := st.commands[cmd.ID]; !ok {
		return command.ErrNotFound
	}
	st.commands[cmd.ID] = *cmd
	return nil
}

func (r commandRepo) GetByID(_ context.Context, workspaceID, id shared.ID) (*command.Command, error) {
	st, done := r.begin()
	defer done()
	c, ok := st.commands[id]
	if !ok || c.WorkspaceID != workspaceID {
		return nil, command.ErrNotFound
	}
	return &c, nil
}

func (r commandRepo) Count(_ context.Context, workspaceID shared.ID) (int64, error) {
	st, done := r.begin()
	defer done()
	var n int64
	for _, c := range st.commands {
		if c.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

func (r commandRepo) AddObject(_ context.Context, obj *command.Object) (bool, error) {
	st, done := r.begin()
	defer done()
	if _, ok := st.commands[obj.CommandID]; !ok {
		return false, command.ErrNotFound
	}
	for _, row := range st.objects {
		o := row.obj
		if o.CommandID == obj.CommandID && o.ObjectType == obj.ObjectType && o.ObjectID == obj.ObjectID {
			return false, nil
		}
	}
	st.objects[obj.ID] = objectRow{seq: st.next(), obj: *obj}
	return true, nil
}

func (r commandRepo) ListObjects(_ context.Context, commandID shared.ID) ([]*command.Object, error) {
	st, done := r.begin()
	defer done()
	var rows []objectRow
	for _, row := range st.objects {
		if row.obj.CommandID == commandID {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b objectRow) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]*command.Object, len(rows))
	for i := range rows {
		o := rows[i].obj
		out[i] = &o
	}
	return out, nil
}

func (r commandRepo) CountObjects(_ context.Context, workspaceID shared.ID) (int64, error) {
	st, done := r.begin()
	defer done()
	var n int64
	for _, row := range st.objects {
		if row.obj.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

func (r commandRepo) DeleteObjectsFor(_ context.Context, workspaceID shared.ID, objectType command.ObjectType, objectID shared.ID) error {
	st, done := r.begin()
	defer done()
	for id, row := range st.objects {
		o := row.obj
		if o.WorkspaceID == workspaceID && o.ObjectType == objectType && o.ObjectID == objectID {
			delete(st.objects, id)
		}
	}
	return nil
}

func (r commandRepo) History(_ context.Context, workspaceID shared.ID, objectType command.ObjectType, objectID shared.ID) ([]command.HistoryEntry, error) {
	st, done := r.begin()
	defer done()
	var rows []objectRow
	for _, row := range st.objects {
		o := row.obj
		if o.WorkspaceID == workspaceID && o.ObjectType == objectType && o.ObjectID == objectID {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b objectRow) int {
		return cmp.Or(b.obj.CreatedAt.Compare(a.obj.CreatedAt), cmp.Compare(b.seq, a.seq))
	})
	out := make([]command.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		c, ok := st.commands[row.obj.CommandID]
		if !ok {
			continue
		}
		out = append(out, command.HistoryEntry{
			CommandID:         c.ID,
			Tool:              c.Tool,
			User:              c.User,
			Params:            c.Params,
			CommandLine:       c.CommandLine,
			ImportSource:      c.ImportSource,
			CreatedPersistent: row.obj.CreatedPersistent,
			CreateDate:        row.obj.CreatedAt,
		})
	}
	return out, nil
}

// =============================================================================
// Rules
// =============================================================================

type ruleRepo struct{ view }

func (r ruleRepo) Create(_ context.Context, rl *rule.Rule) error {
	st, done := r.begin()
	defer done()
	if _, ok := st.rules[rl.ID()]; ok {
		return fmt.Errorf("%w: rule %s", shared.ErrAlreadyExists, rl.ID())
	}
	st.rules[rl.ID()] = ruleRow{seq: st.next(), data: rl.Snapshot()}
	return nil
}

func (r ruleRepo) Update(_ context.Context, rl *rule.Rule) error {
	st, done := r.begin()
	defer done()
	row, ok := st.rules[rl.ID()]
	if !ok || row.data.WorkspaceID != rl.WorkspaceID() {
		return rule.ErrNotFound
	}
	st.rules[rl.ID()] = ruleRow{seq: row.seq, data: rl.Snapshot()}
	return nil
}

func (r ruleRepo) Delete(_ context.Context, workspaceID, id shared.ID) error {
	st, done := r.begin()
	defer done()
	row, ok := st.rules[id]
	if !ok || row.data.WorkspaceID != workspaceID {
		return rule.ErrNotFound
	}
	delete(st.rules, id)
	return nil
}

func (r ruleRepo) GetByID(_ context.Context, workspaceID, id shared.ID) (*rule.Rule, error) {
	st, done := r.begin()
	defer done()
	row, ok := st.rules[id]
	if !ok || row.data.WorkspaceID != workspaceID {
		return nil, rule.ErrNotFound
	}
	return rule.Reconstitute(row.data)
}

func (r ruleRepo) ListByWorkspace(_ context.Context, workspaceID shared.ID) ([]*rule.Rule, error) {
	st, done := r.begin()
	defer done()
	var rows []ruleRow
	for _, row := range st.rules {
		if row.data.WorkspaceID == workspaceID {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b ruleRow) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]*rule.Rule, 0, len(rows))
	for _, row := range rows {
		rl, err := rule.Reconstitute(row.data)
		if err != nil {
			return nil, err
		}
		out = append(out, rl)
	}
	return out, nil
}
