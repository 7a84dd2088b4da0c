// Package sharing manages the directed team-to-team visibility grants
// consumed by the visibility graph.
package sharing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waypost/waypost/internal/store"
)

// Collection is the document collection holding sharing edges.
const Collection = "sharing"

// Indexed attribute names on sharing documents.
const (
	AttrFromTeam = "from"
	AttrToTeam   = "to"
)

// Common errors for sharing operations.
var (
	ErrEdgeNotFound = errors.New("sharing edge not found")
	ErrSelfEdge     = errors.New("a team always sees itself; self-edges are not stored")
)

// Edge is a one-directional grant: FromTeam's positions and alerts become
// visible to ToTeam. Edges are never transitively closed.
type Edge struct {
	ID        string    `json:"id"`
	FromTeam  string    `json:"from_team"`
	ToTeam    string    `json:"to_team"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry manages sharing edges in the realtime document store with set
// semantics: sharing the same pair twice yields the one existing edge.
type Registry struct {
	docs store.Store
}

// NewRegistry creates a registry over the given document store.
func NewRegistry(docs store.Store) *Registry {
	return &Registry{docs: docs}
}

// Share grants ToTeam visibility of FromTeam. Idempotent: if the edge already
// exists it is returned unchanged. Self-edges are rejected.
func (r *Registry) Share(ctx context.Context, fromTeam, toTeam string) (*Edge, error) {
	if fromTeam == "" || toTeam == "" {
		return nil, fmt.Errorf("share: empty team id")
	}
	if fromTeam == toTeam {
		return nil, ErrSelfEdge
	}

	if existing, err := r.findEdge(ctx, fromTeam, toTeam); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	edge := Edge{
		ID:        uuid.New().String(),
		FromTeam:  fromTeam,
		ToTeam:    toTeam,
		CreatedAt: time.Now(),
	}
	_, err := r.docs.Write(ctx, store.Document{
		Collection: Collection,
		Key:        edge.ID,
		Attrs: map[string]string{
			AttrFromTeam: edge.FromTeam,
			AttrToTeam:   edge.ToTeam,
		},
		UpdatedAt: edge.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("share %s -> %s: %w", fromTeam, toTeam, err)
	}
	return &edge, nil
}

// Unshare revokes a grant by edge ID.
func (r *Registry) Unshare(ctx context.Context, edgeID string) error {
	err := r.docs.Delete(ctx, Collection, edgeID)
	if err == store.ErrNotFound {
		return ErrEdgeNotFound
	}
	if err != nil {
		return fmt.Errorf("unshare %s: %w", edgeID, err)
	}
	return nil
}

// Edges lists the outgoing grants from a team.
func (r *Registry) Edges(ctx context.Context, fromTeam string) ([]Edge, error) {
	docs, err := r.docs.Query(ctx, Collection, store.ByAttr{Name: AttrFromTeam, Value: fromTeam})
	if err != nil {
		return nil, fmt.Errorf("list edges from %s: %w", fromTeam, err)
	}
	edges := make([]Edge, 0, len(docs))
	for _, doc := range docs {
		edges = append(edges, edgeFromDoc(doc))
	}
	return edges, nil
}

// InboundTeams returns the teams currently sharing into the given team.
func (r *Registry) InboundTeams(ctx context.Context, teamID string) ([]string, error) {
	docs, err := r.docs.Query(ctx, Collection, store.ByAttr{Name: AttrToTeam, Value: teamID})
	if err != nil {
		return nil, fmt.Errorf("inbound teams for %s: %w", teamID, err)
	}
	teams := make([]string, 0, len(docs))
	for _, doc := range docs {
		teams = append(teams, doc.Attrs[AttrFromTeam])
	}
	return teams, nil
}

// SharedToMe opens a live watch over the inbound grant set for a team. The
// watch re-issues the full current set whenever an edge affecting the team is
// added or removed, starting with the current set.
func (r *Registry) SharedToMe(ctx context.Context, teamID string) (*Watch, error) {
	sub, err := r.docs.Subscribe(ctx, Collection, store.ByAttr{Name: AttrToTeam, Value: teamID})
	if err != nil {
		return nil, fmt.Errorf("watch inbound teams for %s: %w", teamID, err)
	}

	w := newWatch(sub)
	initial, err := r.InboundTeams(ctx, teamID)
	if err != nil {
		w.Close()
		return nil, err
	}
	w.emit(initial)

	go w.run(func() ([]string, error) {
		return r.InboundTeams(ctx, teamID)
	})

	return w, nil
}

// findEdge returns the existing edge for (fromTeam, toTeam), or nil.
func (r *Registry) findEdge(ctx context.Context, fromTeam, toTeam string) (*Edge, error) {
	docs, err := r.docs.Query(ctx, Collection, store.ByAttr{Name: AttrFromTeam, Value: fromTeam})
	if err != nil {
		return nil, fmt.Errorf("find edge %s -> %s: %w", fromTeam, toTeam, err)
	}
	for _, doc := range docs {
		if doc.Attrs[AttrToTeam] == toTeam {
			edge := edgeFromDoc(doc)
			return &edge, nil
		}
	}
	return nil, nil
}

func edgeFromDoc(doc store.Document) Edge {
	return Edge{
		ID:        doc.Key,
		FromTeam:  doc.Attrs[AttrFromTeam],
		ToTeam:    doc.Attrs[AttrToTeam],
		CreatedAt: doc.UpdatedAt,
	}
}
