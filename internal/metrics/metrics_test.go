package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCommandNilSafe(t *testing.T) {
	var m *GameMetrics
	m.ObserveCommand("make_prediction", time.Now(), nil)
}

func TestHandlerExposesCommands(t *testing.T) {
	m := NewGameMetrics()
	m.ObserveCommand("make_prediction", time.Now(), nil)
	m.ObserveCommand("resolve_game", time.Now(), errors.New("x"))
	m.CurrentRound.Set(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `spacewager_commands_total{command="make_prediction",result="ok"} 1`)
	assert.Contains(t, string(body), `spacewager_commands_total{command="resolve_game",result="error"} 1`)
	assert.Contains(t, string(body), "spacewager_current_round 7")
}
