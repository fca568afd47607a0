package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("redis", CheckerFunc(func(ctx context.Context) error { return errors.New("connection refused") }))
	r.Register("database", CheckerFunc(func(ctx context.Context) error { return nil }))

	assert.Equal(t, []string{"database", "redis"}, r.List())

	results := r.CheckAll(context.Background())
	assert.NoError(t, results["database"])
	assert.EqualError(t, results["redis"], "connection refused")
	assert.False(t, Healthy(results))

	r.Unregister("redis")
	results = r.CheckAll(context.Background())
	assert.Len(t, results, 1)
	assert.True(t, Healthy(results))
}

func TestRegistryEmpty(t *testing.T) {
	results := NewRegistry().CheckAll(context.Background())
	assert.Empty(t, results)
	assert.True(t, Healthy(results))
}
