package temporalx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/recall-backend/internal/config"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

func TestNewClientDisabledWithoutAddress(t *testing.T) {
	c, err := NewClient(logger.Nop(), config.TemporalConfig{Namespace: "recall"})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestLoadTLSConfigRequiresCertAndKey(t *testing.T) {
	cfg := config.TemporalConfig{ClientCAPath: "/tmp/ca.pem"}
	assert.True(t, tlsEnabled(cfg))
	_, err := loadTLSConfig(cfg)
	assert.Error(t, err)
	assert.False(t, tlsEnabled(config.TemporalConfig{}))
}

func TestIsRetryableRPC(t *testing.T) {
	assert.True(t, isRetryableRPC(status.Error(codes.Unavailable, "down")))
	assert.True(t, isRetryableRPC(context.DeadlineExceeded))
	assert.False(t, isRetryableRPC(status.Error(codes.PermissionDenied, "no")))
	assert.False(t, isRetryableRPC(errors.New("plain")))
	assert.False(t, isRetryableRPC(nil))
}
