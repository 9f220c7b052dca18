package crawl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testActivator(t *testing.T) *Activator {
	return NewActivator(testOptions().Activator, zaptest.NewLogger(t))
}

func TestEnsurePanelOpenClicksOnce(t *testing.T) {
	page := newFakePage([]string{"p1"})
	a := testActivator(t)

	panel, err := a.EnsurePanelOpen(context.Background(), page, "p1")
	require.NoError(t, err)
	assert.True(t, panel.Clicked)
	assert.Equal(t, 1, panel.Attempts)
	assert.Contains(t, panel.HTML, "Dog p1")
	assert.Equal(t, 1, page.clicks["p1"])
}

func TestEnsurePanelOpenLeavesOpenPanelAlone(t *testing.T) {
	page := newFakePage([]string{"p1"})
	a := testActivator(t)

	_, err := a.EnsurePanelOpen(context.Background(), page, "p1")
	require.NoError(t, err)

	// A second call must not toggle the panel closed.
	panel, err := a.EnsurePanelOpen(context.Background(), page, "p1")
	require.NoError(t, err)
	assert.False(t, panel.Clicked)
	assert.Equal(t, 1, page.clicks["p1"])
	assert.True(t, page.open["p1"])
}

func TestEnsurePanelOpenUnreadableState(t *testing.T) {
	t.Run("open panel read from markup", func(t *testing.T) {
		page := newFakePage([]string{"p1"})
		a := testActivator(t)
		_, err := a.EnsurePanelOpen(context.Background(), page, "p1")
		require.NoError(t, err)

		page.failScripts[panelStateScript.Name] = errors.New("script timed out")
		panel, err := a.EnsurePanelOpen(context.Background(), page, "p1")
		require.NoError(t, err)
		assert.False(t, panel.Clicked)
		assert.Contains(t, panel.HTML, "Dog p1")
		assert.Equal(t, 1, page.clicks["p1"])
		assert.True(t, page.open["p1"])
	})

	t.Run("closed panel read from markup", func(t *testing.T) {
		page := newFakePage([]string{"p1"})
		page.failOnce[panelStateScript.Name] = errors.New("script timed out")
		a := testActivator(t)

		panel, err := a.EnsurePanelOpen(context.Background(), page, "p1")
		require.NoError(t, err)
		assert.True(t, panel.Clicked)
		assert.Equal(t, 1, page.clicks["p1"])
	})

	t.Run("no click when state is unknown", func(t *testing.T) {
		page := newFakePage([]string{"p1"})
		a := testActivator(t)
		_, err := a.EnsurePanelOpen(context.Background(), page, "p1")
		require.NoError(t, err)

		page.failScripts[panelStateScript.Name] = errors.New("script timed out")
		page.outerErr = errors.New("node detached")
		_, err = a.EnsurePanelOpen(context.Background(), page, "p1")
		require.ErrorIs(t, err, ErrPanelNotRendered)
		assert.Equal(t, 1, page.clicks["p1"])
		assert.True(t, page.open["p1"])
	})
}

func TestPanelStateFromMarkup(t *testing.T) {
	tests := []struct {
		name string
		html string
		want panelState
	}{
		{"rendered", `<div id="p1"><div class="font-bold text-sm">42</div></div>`, panelState{Present: true, Ready: true}},
		{"blank value", `<div id="p1"><div class="font-bold text-sm">  </div></div>`, panelState{Present: true}},
		{"no values", `<div id="p1"></div>`, panelState{Present: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := panelStateFromMarkup(tt.html)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnsurePanelOpenGivesUp(t *testing.T) {
	page := newFakePage([]string{"p1"})
	page.neverRender["p1"] = true
	a := testActivator(t)

	_, err := a.EnsurePanelOpen(context.Background(), page, "p1")
	require.ErrorIs(t, err, ErrPanelNotRendered)
	assert.Equal(t, 2, page.clicks["p1"])
}

func TestEnsurePanelOpenMissingToggle(t *testing.T) {
	page := newFakePage([]string{"p1"})
	a := testActivator(t)

	_, err := a.EnsurePanelOpen(context.Background(), page, "ghost")
	require.ErrorIs(t, err, ErrPanelNotRendered)
}

func TestEnsurePanelOpenCancelled(t *testing.T) {
	page := newFakePage([]string{"p1"})
	page.neverRender["p1"] = true
	a := NewActivator(ActivatorOptions{MaxAttempts: 5, AppearTimeout: time.Second, PollInterval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.EnsurePanelOpen(ctx, page, "p1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
