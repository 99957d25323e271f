package browser_test

import (
	"context"
	"net/url"
	"os"
	"testing"
	"time"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/anchor"
	"browsernerd-actions/internal/browser"
	"browsernerd-actions/internal/config"
	"browsernerd-actions/internal/locator"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `<!doctype html>
<html><head><title>Checkout</title></head>
<body>
<button id="buy" onclick="document.getElementById('out').textContent='bought'">Buy now</button>
<div id="out"></div>
<input id="email" name="email" maxlength="40">
<input id="pw" type="password">
<select id="size"><option value="s">Small</option><option value="m">Medium</option><option value="l">Large</option></select>
</body></html>`

// liveEngine launches Chrome and wires the Rod adapters into an engine.
// These tests need a Chrome binary and run only with BROWSERNERD_LIVE_TESTS set.
func liveEngine(t *testing.T) (*action.Engine, action.Route) {
	t.Helper()
	if os.Getenv("BROWSERNERD_LIVE_TESTS") == "" {
		t.Skip("set BROWSERNERD_LIVE_TESTS to run live browser tests")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no Chrome binary found")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	network := browser.NewNetworkMonitor(256)
	sessions := browser.NewSessionManager(config.BrowserConfig{Launch: []string{bin}}, network, nil)
	require.NoError(t, sessions.Start(ctx))
	t.Cleanup(func() { _ = sessions.Shutdown(context.Background()) })

	s, err := sessions.CreateSession(ctx, "data:text/html,"+url.PathEscape(fixture))
	require.NoError(t, err)

	doc := browser.NewDocument(sessions, nil)
	engine := action.New(action.Deps{
		Protocol:   browser.NewProtocol(sessions),
		Structural: browser.NewStructural(sessions),
		Network:    network,
		Locator:    locator.NewResolver(doc, locator.DefaultConfig()),
	})
	return engine, action.Route{SessionID: s.ID, FrameID: "main"}
}

func TestLiveClickTypeSelect(t *testing.T) {
	engine, route := liveEngine(t)
	ctx := context.Background()

	rep, err := engine.Click(ctx, action.NewExecCtx(route, 10*time.Second),
		anchor.Descriptor{Selector: "#buy", Text: "Buy now", Confidence: 0.9},
		action.ClickParams{}, action.Options{})
	require.NoError(t, err)
	require.True(t, rep.OK, "click failed: %+v", rep.Error)
	assert.Equal(t, "Checkout", rep.PostSignals.Title)
	assert.Positive(t, rep.PostSignals.DOM.ChangedNodes)

	rep, err = engine.Type(ctx, action.NewExecCtx(route, 10*time.Second),
		anchor.Descriptor{Selector: "#email", Confidence: 0.9},
		action.TypeParams{Text: "ada@example.com", Mode: action.InputCharacter}, action.Options{})
	require.NoError(t, err)
	require.True(t, rep.OK, "type failed: %+v", rep.Error)
	require.NotNil(t, rep.PostSignals.Value)
	assert.Equal(t, 15, rep.PostSignals.Value.NewLen)

	rep, err = engine.Select(ctx, action.NewExecCtx(route, 10*time.Second),
		anchor.Descriptor{Selector: "#size", Confidence: 0.9},
		action.SelectParams{Match: action.MatchValue, Items: []string{"m"}, Mode: action.SelectSingle}, action.Options{})
	require.NoError(t, err)
	require.True(t, rep.OK, "select failed: %+v", rep.Error)
	assert.Equal(t, []int{1}, rep.PostSignals.Selection.SelectedIndices)
}

func TestLiveSelfHealFromRenamedSelector(t *testing.T) {
	engine, route := liveEngine(t)

	rep, err := engine.Click(context.Background(), action.NewExecCtx(route, 10*time.Second),
		anchor.Descriptor{Selector: "#buy-button-old", Text: "Buy now", Role: "button", Confidence: 0.9},
		action.ClickParams{}, action.Options{Wait: "none"})
	require.NoError(t, err)
	assert.True(t, rep.SelfHeal.Attempted)
	if assert.True(t, rep.OK, "heal failed: %+v", rep.Error) {
		require.NotNil(t, rep.SelfHeal.UsedAnchor)
		assert.Equal(t, "#buy", rep.SelfHeal.UsedAnchor.Selector)
	}
}
