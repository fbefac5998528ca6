package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openctemio/scanmerge/pkg/domain/note"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

const noteColumns = `id, workspace_id, object_type, object_id, text, creator, created_at`

// NoteRepository implements note.Repository using PostgreSQL.
type NoteRepository struct {
	q querier
}

// NewNoteRepository creates a new NoteRepository.
func NewNoteRepository(db *DB) *NoteRepository {
	return &NoteRepository{q: db.DB}
}

// Create persists a new note.
func (r *NoteRepository) Create(ctx context.Context, n *note.Note) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO notes (`+noteColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID().String(), n.WorkspaceID().String(), string(n.ObjectType()), n.ObjectID().String(),
		n.Text(), n.Creator(), n.CreatedAt())
	if err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}
	return nil
}

// Find returns the note attached to an object with exactly this text.
func (r *NoteRepository) Find(ctx context.Context, workspaceID shared.ID, objectType note.ObjectType, objectID shared.ID, text string) (*note.Note, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE workspace_id = $1 AND object_type = $2 AND object_id = $3 AND text = $4
		ORDER BY created_at LIMIT 1`,
		workspaceID.String(), string(objectType), objectID.String(), text)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: note", shared.ErrNotFound)
	}
	return n, err
}

// ListByObject returns an object's notes, oldest first.
func (r *NoteRepository) ListByObject(ctx context.Context, workspaceID shared.ID, objectType note.ObjectType, objectID shared.ID) ([]*note.Note, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE workspace_id = $1 AND object_type = $2 AND object_id = $3
		ORDER BY created_at, id`,
		workspaceID.String(), string(objectType), objectID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var out []*note.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// DeleteByObject removes every note attached to an object.
func (r *NoteRepository) DeleteByObject(ctx context.Context, workspaceID shared.ID, objectType note.ObjectType, objectID shared.ID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM notes WHERE workspace_id = $1 AND object_type = $2 AND object_id = $3`,
		workspaceID.String(), string(objectType), objectID.String())
	if err != nil {
		return fmt.Errorf("failed to delete notes: %w", err)
	}
	return nil
}

func scanNote(s scanner) (*note.Note, error) {
	var (
		d          note.Data
		objectType string
	)
	if err := s.Scan(&d.ID, &d.WorkspaceID, &objectType, &d.ObjectID, &d.Text, &d.Creator, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.ObjectType = note.ObjectType(objectType)
	return note.Reconstitute(d), nil
}
