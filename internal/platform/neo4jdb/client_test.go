package neo4jdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/recall-backend/internal/config"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

func TestNewWithoutURIIsDisabled(t *testing.T) {
	c, err := New(logger.Nop(), config.Neo4jConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, c.Close(context.Background()))
}

func TestNewRequiresLogger(t *testing.T) {
	_, err := New(nil, config.Neo4jConfig{URI: "bolt://localhost:7687"})
	assert.Error(t, err)
}
