// Package graphstore backs the topology tool with a real graph database,
// issuing AQL shortest-path traversals against Arango instead of the
// Cypher queries the original Python tool targeted.
package graphstore

import (
	"context"
	"fmt"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
	"go.uber.org/zap"
)

// Config points at one Arango deployment holding the topology graph.
type Config struct {
	URI       string
	User      string
	Password  string
	Database  string
	Encrypted bool
}

// Hop is one vertex traversed along a shortest path, carrying enough
// detail for the topology tool to render a path segment.
type Hop struct {
	ElementID   string
	ElementType string
	Name        string
	Layer       string
}

// Store is the narrow interface the topology tool depends on; tests
// substitute a fake implementation instead of a live Arango cluster.
type Store interface {
	ShortestPath(ctx context.Context, srcSite, dstSite, layer string) ([]Hop, error)
}

type arangoStore struct {
	db     arangodb.Database
	logger *zap.Logger
}

// New connects to Arango and resolves cfg.Database, matching the
// connect-then-GetDatabase shape used throughout the pack's own Arango
// client.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URI})
	conn := connection.NewHttp2Connection(connection.DefaultHTTP2ConfigurationWrapper(endpoint, cfg.Encrypted))
	if cfg.User != "" {
		if err := conn.SetAuthentication(connection.NewBasicAuth(cfg.User, cfg.Password)); err != nil {
			return nil, fmt.Errorf("graphstore: set auth: %w", err)
		}
	}
	client := arangodb.NewClient(conn)
	db, err := client.GetDatabase(ctx, cfg.Database, nil)
	if err != nil {
		return nil, fmt.Errorf("graphstore: get database %q: %w", cfg.Database, err)
	}
	return &arangoStore{db: db, logger: logger}, nil
}

// ShortestPath runs a GRAPH SHORTEST_PATH traversal between two network
// sites, restricted to edges tagged with layer (e.g. "optical", "ip").
// An empty layer traverses every edge collection in the "topology" graph.
func (s *arangoStore) ShortestPath(ctx context.Context, srcSite, dstSite, layer string) ([]Hop, error) {
	start := time.Now()

	query := `
		FOR v IN OUTBOUND SHORTEST_PATH @src TO @dst GRAPH "topology"
			FILTER @layer == "" OR v.layer == @layer
			RETURN { element_id: v._key, element_type: v.type, name: v.name, layer: v.layer }
	`
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]any{
			"src":   fmt.Sprintf("sites/%s", srcSite),
			"dst":   fmt.Sprintf("sites/%s", dstSite),
			"layer": layer,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("graphstore: shortest path query: %w", err)
	}
	defer cursor.Close()

	var hops []Hop
	for cursor.HasMore() {
		var doc struct {
			ElementID   string `json:"element_id"`
			ElementType string `json:"element_type"`
			Name        string `json:"name"`
			Layer       string `json:"layer"`
		}
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, fmt.Errorf("graphstore: read hop: %w", err)
		}
		hops = append(hops, Hop{
			ElementID:   doc.ElementID,
			ElementType: doc.ElementType,
			Name:        doc.Name,
			Layer:       doc.Layer,
		})
	}

	s.logger.Debug("graphstore shortest path",
		zap.String("src", srcSite), zap.String("dst", dstSite), zap.String("layer", layer),
		zap.Int("hops", len(hops)), zap.Duration("took", time.Since(start)))

	return hops, nil
}
