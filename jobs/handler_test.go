package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	name  string
	calls int
	err   error
}

func (h *stubHandler) Execute(ctx context.Context, job *Job) error {
	h.calls++
	return h.err
}

func (h *stubHandler) Name() string { return h.name }

func TestHandlerRegistryRegisterAndGet(t *testing.T) {
	registry := NewHandlerRegistry()
	handler := &stubHandler{name: "coding.batch"}

	registry.Register(handler)
	assert.True(t, registry.Has("coding.batch"))
	assert.Same(t, handler, registry.Get("coding.batch"))
	assert.Nil(t, registry.Get("unknown"))
	assert.Equal(t, []string{"coding.batch"}, registry.Names())
}

func TestHandlerRegistryDuplicatePanics(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register(&stubHandler{name: "coding.batch"})

	assert.Panics(t, func() {
		registry.Register(&stubHandler{name: "coding.batch"})
	})
}

func TestRegistryExecutorDispatch(t *testing.T) {
	registry := NewHandlerRegistry()
	handler := &stubHandler{name: "coding.batch"}
	registry.Register(handler)

	executor := NewRegistryExecutor(registry)

	job := mustNewJob(t, "coding.batch", "")
	require.NoError(t, executor.Execute(context.Background(), job))
	assert.Equal(t, 1, handler.calls)

	job.HandlerName = "unknown"
	require.Error(t, executor.Execute(context.Background(), job))

	job.HandlerName = ""
	require.Error(t, executor.Execute(context.Background(), job))
}
