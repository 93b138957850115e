package errx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	cause := errors.New("quota exceeded")

	tests := []struct {
		name   string
		err    error
		kind   error
		status int
	}{
		{"collaborator", WrapCollaborator("judge-model", cause), ErrCollaborator, http.StatusBadGateway},
		{"tool unavailable", ToolUnavailable("csv"), ErrToolUnavailable, http.StatusServiceUnavailable},
		{"tool invocation", WrapToolInvocation("generate_csv", cause), ErrToolInvocation, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.err)
			assert.ErrorIs(t, tt.err, tt.kind)
			assert.Equal(t, tt.status, StatusOf(tt.err))

			wrapped := fmt.Errorf("stage: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.kind)
		})
	}
}

func TestWrapCollaboratorKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapCollaborator("qdrant", cause)

	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrToolInvocation)
	assert.Contains(t, err.Error(), "qdrant")

	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, CollaboratorErrorMessage, appErr.Message)
}

func TestNilWrapping(t *testing.T) {
	assert.NoError(t, WrapCollaborator("x", nil))
	assert.NoError(t, WrapToolInvocation("x", nil))
	assert.NoError(t, WrapRedis(nil))
}

func TestWrapRedis(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusOf(WrapRedis(redis.Nil)))
	assert.Equal(t, http.StatusBadGateway, StatusOf(WrapRedis(errors.New("dial tcp"))))
	assert.ErrorIs(t, WrapRedis(redis.Nil), redis.Nil)
}

func TestStatusOfPlainError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
}
