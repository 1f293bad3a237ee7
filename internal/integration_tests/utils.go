//go:build integration

package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"txn-features/internal/database"
	"txn-features/internal/messaging"
	"txn-features/internal/storage"
	"txn-features/pkg/api"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"gorm.io/gorm"
)

const (
	minioUsername = "admin"
	minioPassword = "password"
)

func createDB(t *testing.T) *gorm.DB {
	db, err := database.NewDatabase(setupPostgresContainer(t, context.Background()))
	require.NoError(t, err)
	return db
}

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	ctr, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("txn_features"),
		postgres.WithUsername("txn"),
		postgres.WithPassword("txn-password"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get postgres connection string")
	return dsn
}

// setupObjectStore starts MinIO and returns an S3ObjectStore pointed at it.
func setupObjectStore(t *testing.T, ctx context.Context) *storage.S3ObjectStore {
	t.Helper()

	ctr, err := minio.Run(ctx,
		"minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "failed to start minio container")

	endpoint, err := ctr.ConnectionString(ctx)
	require.NoError(t, err, "failed to get minio endpoint")

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        "http://" + endpoint,
		Region:          "us-east-1",
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)
	return store
}

// setupRabbitMQContainer starts a broker and connects a publisher and a
// receiver to it. The broker URL is returned for direct inspection.
func setupRabbitMQContainer(t *testing.T, ctx context.Context) (*messaging.RabbitMQPublisher, *messaging.RabbitMQReceiver, string) {
	ctr, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "failed to start rabbitmq container")

	url, err := ctr.AmqpURL(ctx)
	require.NoError(t, err, "failed to get rabbitmq url")

	cfg := messaging.RabbitMQConfig{URL: url, RetryDelay: time.Second}

	publisher, err := messaging.NewRabbitMQPublisher(cfg)
	require.NoError(t, err)
	t.Cleanup(publisher.Close)

	receiver, err := messaging.NewRabbitMQReceiver(cfg)
	require.NoError(t, err)
	t.Cleanup(receiver.Close)

	return publisher, receiver, url
}

// httpRequest sends payload as JSON and decodes a 200 response into dest.
// Any other status is returned as an error carrying the api.ErrorResponse.
func httpRequest(handler http.Handler, method, endpoint string, payload any, dest any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, endpoint, body)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		var apiErr api.ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
			return fmt.Errorf("%s %s: status %d: %s", method, endpoint, rec.Code, rec.Body.String())
		}
		return fmt.Errorf("%s %s: status %d: %s", method, endpoint, apiErr.Status, apiErr.Error)
	}

	if dest != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
			return fmt.Errorf("failed to unmarshal response of %s %s: %w", method, endpoint, err)
		}
	}
	return nil
}
