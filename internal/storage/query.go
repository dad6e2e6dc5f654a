package storage

import (
	"fmt"

	"workspacemodel/pkg/domain"
)

func requireKind(conn domain.ConnectionID, kind domain.ConnectionKind) error {
	if conn.Kind != kind {
		return fmt.Errorf("connection %s is %s, not %s", conn.Name, conn.Kind, kind)
	}
	return nil
}

// OneToOneParent returns the parent of child on a one-to-one connection.
func OneToOneParent(r Reader, conn domain.ConnectionID, child domain.EntityID) (Entity, bool, error) {
	if err := requireKind(conn, domain.OneToOne); err != nil {
		return Entity{}, false, err
	}
	return r.Parent(conn, child)
}

// OneToOneChild returns the single child of parent on a one-to-one connection.
func OneToOneChild(r Reader, conn domain.ConnectionID, parent domain.EntityID) (Entity, bool, error) {
	if err := requireKind(conn, domain.OneToOne); err != nil {
		return Entity{}, false, err
	}
	children, err := r.Children(conn, parent)
	if err != nil || len(children) == 0 {
		return Entity{}, false, err
	}
	return children[0], true, nil
}

// OneToManyParent returns the parent of child on a one-to-many connection.
func OneToManyParent(r Reader, conn domain.ConnectionID, child domain.EntityID) (Entity, bool, error) {
	if err := requireKind(conn, domain.OneToMany); err != nil {
		return Entity{}, false, err
	}
	return r.Parent(conn, child)
}

// OneToManyChildren returns the ordered children of parent on a one-to-many connection.
func OneToManyChildren(r Reader, conn domain.ConnectionID, parent domain.EntityID) ([]Entity, error) {
	if err := requireKind(conn, domain.OneToMany); err != nil {
		return nil, err
	}
	return r.Children(conn, parent)
}

// OneToAbstractManyParent returns the parent of child on an abstract-many connection.
func OneToAbstractManyParent(r Reader, conn domain.ConnectionID, child domain.EntityID) (Entity, bool, error) {
	if err := requireKind(conn, domain.OneToAbstractMany); err != nil {
		return Entity{}, false, err
	}
	return r.Parent(conn, child)
}

// OneToAbstractManyChildren returns the ordered children of parent on an abstract-many connection.
func OneToAbstractManyChildren(r Reader, conn domain.ConnectionID, parent domain.EntityID) ([]Entity, error) {
	if err := requireKind(conn, domain.OneToAbstractMany); err != nil {
		return nil, err
	}
	return r.Children(conn, parent)
}

// Single returns the first entity of type t, if any.
func Single(r Reader, t domain.EntityType) (Entity, bool) {
	for e := range r.Entities(t) {
		return e, true
	}
	return Entity{}, false
}
