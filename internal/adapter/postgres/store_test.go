package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/event-harvest-service/internal/domain"
	"github.com/couchcryptid/event-harvest-service/internal/observability"
)

func TestUpsertSQL_CoversEveryPolicy(t *testing.T) {
	for _, p := range []domain.UpsertPolicy{domain.PolicyKeepFirst, domain.PolicyOverwrite, domain.PolicyMerge} {
		q, ok := upsertSQL[p]
		require.True(t, ok, p)
		assert.Contains(t, q, "ON CONFLICT (url)")
		assert.Contains(t, q, "RETURNING (xmax = 0)")
	}
	assert.Contains(t, upsertSQL[domain.PolicyKeepFirst], "DO NOTHING")
	assert.Contains(t, upsertSQL[domain.PolicyMerge], "COALESCE")
}

func TestSchema_EnforcesForecastInvariant(t *testing.T) {
	assert.Contains(t, schemaSQL, "CHECK (forecast IS NULL OR coordinates IS NOT NULL)")
	assert.Contains(t, schemaSQL, "url          TEXT PRIMARY KEY")
}

func TestJSONArg(t *testing.T) {
	v, err := jsonArg[domain.Coordinates](nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = jsonArg(&domain.Coordinates{Latitude: 47.6, Longitude: -122.3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"latitude":47.6,"longitude":-122.3}`, string(v.([]byte)))
}

func TestNew_RejectsUnknownPolicy(t *testing.T) {
	_, err := New(context.Background(), "postgres://localhost/none", 1, "replace", nil, observability.NewMetricsForTesting())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replace")
}
