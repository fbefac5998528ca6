package postgres

import (
	"database/sql"
	"errors"
	"io/fs"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
)

func mustField(t *testing.T, name string) vulnerability.Field {
	t.Helper()
	f, err := vulnerability.LookupField(name)
	require.NoError(t, err)
	return f
}

func TestBuildFindQuery(t *testing.T) {
	ws := shared.NewID()

	tests := []struct {
		name    string
		conds   []vulnerability.Condition
		where   string
		numArgs int
	}{
		{
			name:    "workspace only",
			where:   `WHERE workspace_id = $1 ORDER BY id`,
			numArgs: 1,
		},
		{
			name: "type and severity",
			conds: []vulnerability.Condition{
				{Field: mustField(t, "type"), Value: "vulnerability"},
				{Field: mustField(t, "severity"), Value: "high"},
			},
			where:   `WHERE workspace_id = $1 AND "kind" = $2 AND "severity" = $3 ORDER BY id`,
			numArgs: 3,
		},
		{
			name: "web column",
			conds: []vulnerability.Condition{
				{Field: mustField(t, "parameter_name"), Value: "q"},
			},
			where:   `WHERE workspace_id = $1 AND "parameter_name" = $2 ORDER BY id`,
			numArgs: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildFindQuery(ws, tt.conds)
			assert.Contains(t, query, tt.where)
			require.Len(t, args, tt.numArgs)
			assert.Equal(t, ws.String(), args[0])
			for i, c := range tt.conds {
				assert.Equal(t, c.Value, args[i+1])
			}
		})
	}
}

func TestParentColumns(t *testing.T) {
	hostID := shared.NewID()

	h, s := parentColumns(shared.HostParent(hostID))
	assert.Equal(t, sql.NullString{String: hostID.String(), Valid: true}, h)
	assert.False(t, s.Valid)

	p := scanParent(h, s)
	require.NotNil(t, p.HostID)
	assert.Equal(t, hostID, *p.HostID)
	assert.Nil(t, p.ServiceID)

	assert.Nil(t, parseNullID(sql.NullString{String: "not-a-uuid", Valid: true}))
}

func TestViolationClassifiers(t *testing.T) {
	unique := &pq.Error{Code: "23505"}
	fk := &pq.Error{Code: "23503"}
	check := &pq.Error{Code: "23514"}
	wrapped := errors.Join(errors.New("insert"), unique)

	assert.True(t, isUniqueViolation(unique))
	assert.True(t, isUniqueViolation(wrapped))
	assert.False(t, isUniqueViolation(fk))
	assert.True(t, isForeignKeyViolation(fk))
	assert.True(t, isCheckViolation(check))
	assert.False(t, isCheckViolation(errors.New("plain")))
}

type fakeResult struct{ n int64 }

func (fakeResult) LastInsertId() (int64, error)   { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.n, nil }

func TestExpectOneRow(t *testing.T) {
	assert.NoError(t, expectOneRow(fakeResult{n: 1}, vulnerability.ErrNotFound))
	assert.ErrorIs(t, expectOneRow(fakeResult{n: 0}, vulnerability.ErrNotFound), shared.ErrNotFound)
}

func TestEmbeddedMigrations(t *testing.T) {
	ups, err := fs.Glob(migrationFS, "migrations/*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)

	for _, up := range ups {
		down := up[:len(up)-len(".up.sql")] + ".down.sql"
		_, err := fs.Stat(migrationFS, down)
		assert.NoError(t, err, "missing down migration for %s", up)
	}
}
