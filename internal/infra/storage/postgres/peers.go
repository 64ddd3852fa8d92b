package postgres

import (
	"context"
	"fmt"
)

const (
	selectPeersSQL = `SELECT peer FROM peers WHERE resolver = $1 ORDER BY position, peer`

	upsertPeerSQL = `INSERT INTO peers (resolver, peer, position) VALUES ($1, $2, $3)
ON CONFLICT (resolver, peer) DO UPDATE SET position = EXCLUDED.position`

	deletePeerSQL = `DELETE FROM peers WHERE resolver = $1 AND peer = $2`

	selectResolversSQL = `SELECT DISTINCT resolver FROM peers ORDER BY resolver`
)

// PeerRow is one member of a stored peer set.
type PeerRow struct {
	Resolver string `db:"resolver"`
	Peer     string `db:"peer"`
	Position int    `db:"position"`
}

// Resolver resolves a peer set stored in the peers table.
type Resolver struct {
	db   *DB
	name string
}

// Resolver returns the resolver for the peer set called name.
func (db *DB) Resolver(name string) *Resolver {
	return &Resolver{db: db, name: name}
}

// Resolve returns the members of the peer set ordered by position.
func (r *Resolver) Resolve(ctx context.Context) ([]string, error) {
	var peers []string
	if err := r.db.SelectContext(ctx, &peers, selectPeersSQL, r.name); err != nil {
		return nil, fmt.Errorf("select peers for %s: %w", r.name, err)
	}
	return peers, nil
}

// UpsertPeer adds row to its peer set or moves it to a new position.
func (db *DB) UpsertPeer(ctx context.Context, row PeerRow) error {
	if _, err := db.ExecContext(ctx, upsertPeerSQL, row.Resolver, row.Peer, row.Position); err != nil {
		return fmt.Errorf("upsert peer: %w", err)
	}
	return nil
}

// DeletePeer removes peer from the set called resolver.
func (db *DB) DeletePeer(ctx context.Context, resolver, peer string) error {
	if _, err := db.ExecContext(ctx, deletePeerSQL, resolver, peer); err != nil {
		return fmt.Errorf("delete peer: %w", err)
	}
	return nil
}

// ResolverNames returns the names of all stored peer sets.
func (db *DB) ResolverNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := db.SelectContext(ctx, &names, selectResolversSQL); err != nil {
		return nil, fmt.Errorf("select resolvers: %w", err)
	}
	return names, nil
}
