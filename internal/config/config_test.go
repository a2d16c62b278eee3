package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.HTTPPort)
	assert.Equal(t, "elasticsearch", cfg.SearchEngine)
	assert.Equal(t, "http://localhost:9200", cfg.ElasticsearchURL)
	assert.Equal(t, "products_", cfg.IndexPrefix)
	assert.Equal(t, "postgres", cfg.CheckpointStore)
	assert.Equal(t, "redis", cfg.LockStore)
	assert.Equal(t, "2024-10", cfg.ShopifyAPIVersion)
	assert.Equal(t, 2000, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 1000, cfg.MaxInMemory)
	assert.True(t, cfg.CheckpointEnabled)
	assert.Equal(t, 2*time.Second, cfg.CheckpointDebounce)
	assert.Equal(t, 10*time.Second, cfg.CheckpointFlushInterval)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Empty(t, cfg.DocumentFields)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SEARCH_ENGINE", "memory")
	t.Setenv("BATCH_SIZE", "500")
	t.Setenv("RETRY_DELAY", "250ms")
	t.Setenv("DOCUMENT_FIELDS", "id,title,variants")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.SearchEngine)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, []string{"id", "title", "variants"}, cfg.DocumentFields)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "port", env: map[string]string{"CATALOG_INDEXER_HTTP_PORT": "0"}, wantErr: "invalid HTTP port"},
		{name: "engine", env: map[string]string{"SEARCH_ENGINE": "solr"}, wantErr: "invalid SEARCH_ENGINE"},
		{name: "checkpoint store", env: map[string]string{"CHECKPOINT_STORE": "sqlite"}, wantErr: "invalid CHECKPOINT_STORE"},
		{name: "lock store", env: map[string]string{"LOCK_STORE": "etcd"}, wantErr: "invalid LOCK_STORE"},
		{name: "batch size", env: map[string]string{"BATCH_SIZE": "0"}, wantErr: "BATCH_SIZE must be positive"},
		{name: "retries", env: map[string]string{"MAX_RETRIES": "-1"}, wantErr: "MAX_RETRIES must not be negative"},
		{name: "arena", env: map[string]string{"MAX_IN_MEMORY": "1"}, wantErr: "MAX_IN_MEMORY must be at least 2"},
		{name: "sample rate", env: map[string]string{"TRACE_SAMPLE_RATE": "1.5"}, wantErr: "TRACE_SAMPLE_RATE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()

			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_UnparsableValue(t *testing.T) {
	t.Setenv("CHECKPOINT_DEBOUNCE", "soon")

	cfg, err := Load()

	assert.Nil(t, cfg)
	assert.Error(t, err)
}
