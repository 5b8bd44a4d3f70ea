package sqlite

import (
	"context"
	"time"

	"github.com/koltyakov/hooktunnel/internal/domain"
	"github.com/koltyakov/hooktunnel/internal/registry"
)

var _ registry.Journal = (*Store)(nil)

// Entry is one journaled registration.
type Entry struct {
	Resource  domain.ResourceID
	ID        string
	Identity  string
	URL       string
	CreatedAt time.Time
}

// RecordCreated stores a registration created by this host.
func (s *Store) RecordCreated(ctx context.Context, reg domain.Registration) error {
	created := reg.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO registrations(resource, id, identity, url, created_at, deleted_at)
VALUES(?, ?, ?, ?, ?, NULL)
ON CONFLICT(resource, id) DO UPDATE SET
	identity = excluded.identity,
	url = excluded.url,
	deleted_at = NULL`,
		string(reg.Resource), reg.ID, reg.IdentityLabel, reg.URL, created.UTC())
	return err
}

// RecordDeleted marks a registration deleted. Registrations this journal
// never saw, such as stale ones from another run, are inserted already
// deleted.
func (s *Store) RecordDeleted(ctx context.Context, reg domain.Registration) error {
	now := s.now().UTC()
	created := reg.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO registrations(resource, id, identity, url, created_at, deleted_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(resource, id) DO UPDATE SET deleted_at = excluded.deleted_at`,
		string(reg.Resource), reg.ID, reg.IdentityLabel, reg.URL, created.UTC(), now)
	return err
}

// ListOpen returns journaled registrations not yet deleted, oldest first.
// A non-empty identity restricts the result to that label.
func (s *Store) ListOpen(ctx context.Context, identity string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT resource, id, identity, url, created_at
FROM registrations
WHERE deleted_at IS NULL AND (? = '' OR identity = ?)
ORDER BY created_at ASC, resource ASC, id ASC`, identity, identity)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		var resource string
		if err := rows.Scan(&resource, &e.ID, &e.Identity, &e.URL, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Resource = domain.ResourceID(resource)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneDeleted removes entries deleted before olderThan and returns how many
// rows were removed.
func (s *Store) PruneDeleted(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM registrations WHERE deleted_at IS NOT NULL AND deleted_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Registration converts an entry back into the shape the registration API
// deletes by.
func (e Entry) Registration() domain.Registration {
	return domain.Registration{
		ID:            e.ID,
		Resource:      e.Resource,
		URL:           e.URL,
		IdentityLabel: e.Identity,
		CreatedAt:     e.CreatedAt,
	}
}
