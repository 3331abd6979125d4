package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/orpar-labs/orpar-core/internal/core"
	"github.com/orpar-labs/orpar-core/internal/engine"
	"github.com/orpar-labs/orpar-core/internal/eventbus"
	"github.com/orpar-labs/orpar-core/internal/memory"
	"github.com/orpar-labs/orpar-core/internal/registry"
	"github.com/orpar-labs/orpar-core/internal/strata"
	"github.com/orpar-labs/orpar-core/internal/validation"
)

func newTestFixture(t *testing.T) (*eventbus.Bus, *engine.Engine) {
	t.Helper()
	schemas := eventbus.NewSchemaRegistry()
	require.NoError(t, eventbus.RegisterDefaults(schemas))
	bus := eventbus.New(eventbus.WithSchemaRegistry(schemas))
	reg := registry.New()
	val := validation.New()
	mem := memory.New()
	router := strata.New()
	eng := engine.New(bus, reg, val, mem, router)
	return bus, eng
}

func TestBridge_FanOutToRoomSocket(t *testing.T) {
	bus, eng := newTestFixture(t)

	auth := &HandshakeAuthenticator{
		Keys:   staticKeyStore{"agent-key-1": {"agent-1", "chan-1"}},
		Tokens: staticTokenStore{},
	}
	b := New(bus, eng, auth, WithOutboundBatch(1, time.Millisecond, 1))
	b.Start()
	defer b.Close()

	srv := httptest.NewServer(b.Router(CORSConfig{}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	header.Set(KeyCredentialHeader, "agent-key-1")

	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	loop, err := eng.StartLoop(context.Background(), "agent-1", "chan-1", 5)
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env core.Event
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, "chan-1", env.ChannelID)
	require.Contains(t, []core.EventName{core.EventInitialize, core.EventStarted}, env.EventName)
	_ = loop
}

func TestBridge_RejectsMissingCredentials(t *testing.T) {
	bus, eng := newTestFixture(t)
	auth := &HandshakeAuthenticator{Keys: staticKeyStore{}, Tokens: staticTokenStore{}}
	b := New(bus, eng, auth)
	b.Start()
	defer b.Close()

	srv := httptest.NewServer(b.Router(CORSConfig{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
