package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@db:5432/nexora?sslmode=disable":   "pgx5://u:p@db:5432/nexora?sslmode=disable",
		"postgresql://u:p@db:5432/nexora?sslmode=disable": "pgx5://u:p@db:5432/nexora?sslmode=disable",
		"pgx5://u:p@db:5432/nexora":                       "pgx5://u:p@db:5432/nexora",
	}
	for in, want := range cases {
		got, err := migrationURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
}

func TestMigrationURLRejectsKeywordDSN(t *testing.T) {
	_, err := migrationURL("host=db user=nexora password=secret dbname=nexora")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "mysql://***@db/x", redactDSN("mysql://root:hunter2@db/x"))
	assert.Equal(t, "short", redactDSN("short"))
	assert.Equal(t, "host=db user...", redactDSN("host=db user=x password=y"))
}
