package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/orchestrator/planner"
	"github.com/netopctl/topology-agent/orchestrator/respond"
	"github.com/netopctl/topology-agent/orchestrator/state"
)

type fakeExecutor struct {
	calls int
	envs  map[string]state.ToolEnvelope
	err   error
}

func (f *fakeExecutor) Run(ctx context.Context, st *state.RequestState, plan state.Plan) (map[string]state.ToolEnvelope, error) {
	f.calls++
	return f.envs, f.err
}

func TestRun_SingleIterationWithoutRefinement(t *testing.T) {
	p := planner.New(nil, nil, zap.NewNop())
	exec := &fakeExecutor{}
	r := respond.New(nil, zap.NewNop())
	d := New(p, exec, nil, r, nil, zap.NewNop())

	st := state.New("r1", "show the path from Dallas to Austin", nil)
	resp := d.Run(context.Background(), st)

	assert.Equal(t, 1, exec.calls)
	assert.NotEmpty(t, resp.NaturalLanguageSummary)
	assert.Equal(t, 0, st.RetryCount)
}

func TestRun_RefinementLoopRespectsMaxRetries(t *testing.T) {
	p := planner.New(nil, nil, zap.NewNop())
	exec := &fakeExecutor{}
	r := respond.New(nil, zap.NewNop())

	alwaysRefine := func(ctx context.Context, st *state.RequestState) (bool, error) {
		return true, nil
	}
	d := New(p, exec, alwaysRefine, r, nil, zap.NewNop())

	st := state.New("r1", "q", nil)
	st.MaxRetries = 2
	d.Run(context.Background(), st)

	// initial pass + 2 retries = 3 executor invocations
	assert.Equal(t, 3, exec.calls)
	assert.Equal(t, 2, st.RetryCount)
}

func TestRun_NilExecutorStillProducesResponse(t *testing.T) {
	p := planner.New(nil, nil, zap.NewNop())
	r := respond.New(nil, zap.NewNop())
	d := New(p, nil, nil, r, nil, zap.NewNop())

	st := state.New("r1", "q", nil)
	resp := d.Run(context.Background(), st)

	require.NotNil(t, resp)
	assert.NotEmpty(t, resp.NaturalLanguageSummary)
}
