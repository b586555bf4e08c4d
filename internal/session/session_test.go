package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionStartsAtCity(t *testing.T) {
	s := New("u1")
	assert.Equal(t, StageCity, s.Stage())
	assert.Empty(t, s.Answers.City)
	assert.Nil(t, s.Artifacts)
}

func TestStageTransitions(t *testing.T) {
	ctx := context.Background()
	s := New("u1")

	require.NoError(t, s.Fire(ctx, EventCityBranch))
	assert.Equal(t, StagePoint, s.Stage())
	require.NoError(t, s.Fire(ctx, EventPoint))
	assert.Equal(t, StageDate, s.Stage())
	require.NoError(t, s.Fire(ctx, EventDate))
	assert.Equal(t, StageUpload, s.Stage())
	require.NoError(t, s.Fire(ctx, EventFinishUpload))
	assert.Equal(t, StageSupplier, s.Stage())
	require.NoError(t, s.Fire(ctx, EventSupplier))
	assert.Equal(t, StageInvoice, s.Stage())
}

func TestDirectCitySkipsPoint(t *testing.T) {
	s := New("u1")
	require.NoError(t, s.Fire(context.Background(), EventCityDirect))
	assert.Equal(t, StageDate, s.Stage())
}

func TestBackTransitions(t *testing.T) {
	ctx := context.Background()

	s := New("u1")
	require.NoError(t, s.Fire(ctx, EventCityBranch))
	require.NoError(t, s.Fire(ctx, EventBackToCity))
	assert.Equal(t, StageCity, s.Stage())

	s = New("u2")
	require.NoError(t, s.Fire(ctx, EventCityBranch))
	require.NoError(t, s.Fire(ctx, EventPoint))
	require.NoError(t, s.Fire(ctx, EventBackToPoint))
	assert.Equal(t, StagePoint, s.Stage())
}

func TestInvalidTransitionRejected(t *testing.T) {
	s := New("u1")
	assert.Error(t, s.Fire(context.Background(), EventFinishUpload))
	assert.Equal(t, StageCity, s.Stage())
}

func TestResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	s := New("u1")
	require.NoError(t, s.Fire(ctx, EventCityDirect))
	s.Answers = Answers{City: "Тагил", Point: "Тагил", Date: "01.05.2024"}
	s.Artifacts = []Artifact{{FileID: "f1"}}
	s.LastRenderKey = "k"

	s.Reset()

	assert.Equal(t, StageCity, s.Stage())
	assert.Equal(t, Answers{}, s.Answers)
	assert.Nil(t, s.Artifacts)
	assert.Empty(t, s.LastRenderKey)
}

func TestStoreLazyCreateAndReuse(t *testing.T) {
	st := NewStore()
	a := st.Get("u1")
	b := st.Get("u1")
	c := st.Get("u2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, st.Len())
}

func TestStoreConcurrentGet(t *testing.T) {
	st := NewStore()
	var wg sync.WaitGroup
	out := make([]*Session, 16)
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out[i] = st.Get("same-user")
		}(i)
	}
	wg.Wait()

	for _, s := range out[1:] {
		assert.Same(t, out[0], s)
	}
	assert.Equal(t, 1, st.Len())
}
