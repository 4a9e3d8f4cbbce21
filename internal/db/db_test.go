//go:build integration

// Package db provides integration tests for SurrealDB operations.
package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testDim = 4

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx, testDim); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)
	os.Exit(code)
}

func resetDB(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, testDB.WipeData(ctx))
	return ctx
}

func testDocs() []models.Document {
	return []models.Document{
		{ID: "10001", Key: "DEMO-1", Title: "Login fails", Text: "login fails on safari", IssueType: "Bug", Status: "Open", Priority: "High", Embedding: []float32{1, 0, 0, 0}},
		{ID: "10002", Key: "DEMO-2", Title: "Export report", Text: "export csv report", IssueType: "Story", Status: "Done", Priority: "Medium", Embedding: []float32{0, 1, 0, 0}},
		{ID: "10003", Key: "DEMO-3", Title: "Login timeout", Text: "session timeout on login", IssueType: "Bug", Status: "Done", Priority: "Low", Embedding: []float32{0.9, 0.1, 0, 0}},
	}
}

func TestPing(t *testing.T) {
	ctx := resetDB(t)
	assert.NoError(t, testDB.Ping(ctx))
}

func TestInitSchemaIdempotent(t *testing.T) {
	ctx := resetDB(t)
	assert.NoError(t, testDB.InitSchema(ctx, testDim))
}

func TestUpsertDocumentsIdempotent(t *testing.T) {
	ctx := resetDB(t)

	require.NoError(t, testDB.UpsertDocuments(ctx, models.CollectionIssue, testDocs()))
	require.NoError(t, testDB.UpsertDocuments(ctx, models.CollectionIssue, testDocs()))

	n, err := testDB.CountDocuments(ctx, models.CollectionIssue)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	updated := testDocs()[:1]
	updated[0].Status = "Closed"
	require.NoError(t, testDB.UpsertDocuments(ctx, models.CollectionIssue, updated))

	docs, err := testDB.SearchDocuments(ctx, models.CollectionIssue, nil, models.Filters{Statuses: []string{"Closed"}}, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "DEMO-1", docs[0].Key)
}

func TestSearchDocuments(t *testing.T) {
	ctx := resetDB(t)
	require.NoError(t, testDB.UpsertDocuments(ctx, models.CollectionIssue, testDocs()))

	docs, err := testDB.SearchDocuments(ctx, models.CollectionIssue, []float32{1, 0, 0, 0}, models.Filters{}, 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "DEMO-1", docs[0].Key)
	assert.Equal(t, "DEMO-3", docs[1].Key)
	assert.Greater(t, docs[0].Score, docs[1].Score)

	bugs, err := testDB.SearchDocuments(ctx, models.CollectionIssue, []float32{0, 1, 0, 0}, models.Filters{IssueTypes: []string{"Bug"}}, 5)
	require.NoError(t, err)
	for _, d := range bugs {
		assert.Equal(t, "Bug", d.IssueType)
	}
}

func TestSearchEmptyCollection(t *testing.T) {
	ctx := resetDB(t)

	docs, err := testDB.SearchDocuments(ctx, models.CollectionEpic, []float32{1, 0, 0, 0}, models.Filters{}, 5)
	require.NoError(t, err)
	assert.Empty(t, docs)

	n, err := testDB.CountDocuments(ctx, models.CollectionEpic)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnknownTable(t *testing.T) {
	ctx := resetDB(t)
	err := testDB.UpsertDocuments(ctx, "entity", testDocs())
	assert.ErrorIs(t, err, ErrUnknownTable)
}
