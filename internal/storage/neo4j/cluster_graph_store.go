package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"whale-signal-engine/internal/observability"
	"whale-signal-engine/internal/storage"
)

// ClusterGraphStore implements storage.ClusterGraphStore.
//
// Graph shape:
//
//	(:Wallet {address})-[:MEMBER_OF]->(:Cluster {id})-[:OBSERVED_ON {last_observed_at}]->(:Token {address})
type ClusterGraphStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewClusterGraphStore creates a store. An empty database uses the server default.
func NewClusterGraphStore(driver neo4j.DriverWithContext, database string) *ClusterGraphStore {
	return &ClusterGraphStore{driver: driver, database: database}
}

// Compile-time interface check.
var _ storage.ClusterGraphStore = (*ClusterGraphStore)(nil)

// EnsureSchema creates uniqueness constraints. Safe to call repeatedly.
func (s *ClusterGraphStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE CONSTRAINT wallet_address IF NOT EXISTS FOR (w:Wallet) REQUIRE w.address IS UNIQUE`,
		`CREATE CONSTRAINT cluster_id IF NOT EXISTS FOR (c:Cluster) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT token_address IF NOT EXISTS FOR (t:Token) REQUIRE t.address IS UNIQUE`,
	} {
		if _, err := s.execute(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure neo4j schema: %w", err)
		}
	}
	return nil
}

// LinkCluster merges a cluster node, its wallets and the token it was observed on.
func (s *ClusterGraphStore) LinkCluster(ctx context.Context, clusterID, tokenAddress string, wallets []string, observedAt int64) (err error) {
	if clusterID == "" || len(wallets) == 0 {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) {
		observability.RecordDBQuery("neo4j", "link_cluster", time.Since(start).Seconds(), err)
	}(time.Now())

	query := `
		MERGE (c:Cluster {id: $clusterID})
		MERGE (t:Token {address: $token})
		MERGE (c)-[o:OBSERVED_ON]->(t)
		SET o.last_observed_at = CASE
			WHEN o.last_observed_at IS NULL OR o.last_observed_at < $observedAt THEN $observedAt
			ELSE o.last_observed_at
		END
		WITH c
		UNWIND $wallets AS address
		MERGE (w:Wallet {address: address})
		MERGE (w)-[:MEMBER_OF]->(c)
	`
	params := map[string]any{
		"clusterID":  clusterID,
		"token":      tokenAddress,
		"wallets":    wallets,
		"observedAt": observedAt,
	}

	if _, err = s.execute(ctx, query, params); err != nil {
		return fmt.Errorf("link cluster %s: %w", clusterID, err)
	}
	return nil
}

// ClusterMembers returns the wallet addresses of a cluster, sorted.
// Returns ErrNotFound if the cluster does not exist.
func (s *ClusterGraphStore) ClusterMembers(ctx context.Context, clusterID string) (_ []string, err error) {
	defer func(start time.Time) {
		observability.RecordDBQuery("neo4j", "cluster_members", time.Since(start).Seconds(), err)
	}(time.Now())

	query := `
		MATCH (w:Wallet)-[:MEMBER_OF]->(:Cluster {id: $clusterID})
		RETURN w.address AS address
		ORDER BY address
	`

	result, err := s.execute(ctx, query, map[string]any{"clusterID": clusterID})
	if err != nil {
		return nil, fmt.Errorf("query cluster members: %w", err)
	}
	if len(result.Records) == 0 {
		return nil, storage.ErrNotFound
	}

	wallets := make([]string, 0, len(result.Records))
	for _, record := range result.Records {
		address, _, err := neo4j.GetRecordValue[string](record, "address")
		if err != nil {
			return nil, fmt.Errorf("read wallet address: %w", err)
		}
		wallets = append(wallets, address)
	}
	return wallets, nil
}

// ClustersForWallet returns the ids of every cluster a wallet belongs to, sorted.
func (s *ClusterGraphStore) ClustersForWallet(ctx context.Context, walletAddress string) ([]string, error) {
	query := `
		MATCH (:Wallet {address: $wallet})-[:MEMBER_OF]->(c:Cluster)
		RETURN c.id AS id
		ORDER BY id
	`

	result, err := s.execute(ctx, query, map[string]any{"wallet": walletAddress})
	if err != nil {
		return nil, fmt.Errorf("query wallet clusters: %w", err)
	}

	ids := make([]string, 0, len(result.Records))
	for _, record := range result.Records {
		id, _, err := neo4j.GetRecordValue[string](record, "id")
		if err != nil {
			return nil, fmt.Errorf("read cluster id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *ClusterGraphStore) execute(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	var opts []neo4j.ExecuteQueryConfigurationOption
	if s.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(s.database))
	}
	return neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer, opts...)
}
