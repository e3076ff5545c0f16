package neo4j

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"whale-signal-engine/internal/storage"
)

const testPassword = "test-password"

// setupTestGraph starts a Neo4j container and returns a store with constraints applied.
func setupTestGraph(t *testing.T) (*ClusterGraphStore, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "neo4j:5",
			ExposedPorts: []string{"7687/tcp"},
			Env: map[string]string{
				"NEO4J_AUTH": "neo4j/" + testPassword,
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("Started.").WithStartupTimeout(120*time.Second),
				wait.ForListeningPort("7687/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "7687")
	require.NoError(t, err)

	driver, err := NewDriver(ctx, fmt.Sprintf("neo4j://%s:%s", host, port.Port()), "neo4j", testPassword)
	require.NoError(t, err)

	store := NewClusterGraphStore(driver, "")
	require.NoError(t, store.EnsureSchema(ctx))

	cleanup := func() {
		_ = driver.Close(ctx)
		_ = container.Terminate(ctx)
	}

	return store, cleanup
}

func TestClusterGraphStore_LinkAndMembers(t *testing.T) {
	store, cleanup := setupTestGraph(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, store.LinkCluster(ctx, "cluster-1", "token-1", []string{"w3", "w1"}, 1000))
	require.NoError(t, store.LinkCluster(ctx, "cluster-1", "token-2", []string{"w2", "w1"}, 2000))

	members, err := store.ClusterMembers(ctx, "cluster-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"w1", "w2", "w3"}, members)

	clusters, err := store.ClustersForWallet(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, []string{"cluster-1"}, clusters)
}

func TestClusterGraphStore_ClusterMembers_NotFound(t *testing.T) {
	store, cleanup := setupTestGraph(t)
	defer cleanup()

	_, err := store.ClusterMembers(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClusterGraphStore_LinkCluster_InvalidInput(t *testing.T) {
	store := NewClusterGraphStore(nil, "")

	err := store.LinkCluster(context.Background(), "", "token-1", []string{"w1"}, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = store.LinkCluster(context.Background(), "cluster-1", "token-1", nil, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
