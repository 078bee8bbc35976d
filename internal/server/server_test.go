package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ccproxy-dev/ccproxy/internal/config"
	"github.com/ccproxy-dev/ccproxy/internal/format"
	"github.com/ccproxy-dev/ccproxy/internal/hooks"
	"github.com/ccproxy-dev/ccproxy/internal/plugin"
	"github.com/ccproxy-dev/ccproxy/internal/proxy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type echoProvider struct {
	baseURL string
	cards   []plugin.ModelCard
}

func (p *echoProvider) Name() string                        { return "echo" }
func (p *echoProvider) Prefix() string                      { return "/echo" }
func (p *echoProvider) UpstreamFormat() format.Name         { return format.Anthropic }
func (p *echoProvider) UpstreamURL(endpoint string) string  { return p.baseURL + "/v1/messages" }
func (p *echoProvider) StreamingOnly() bool                 { return false }
func (p *echoProvider) Models() []plugin.ModelCard          { return p.cards }
func (p *echoProvider) Headers(context.Context) (http.Header, error) {
	return http.Header{}, nil
}

func newTestServer(t *testing.T, settings *config.Settings, prov *echoProvider, routers []plugin.Router) *Server {
	t.Helper()
	if settings == nil {
		settings = &config.Settings{LogLevel: "debug"}
	}
	if settings.Plugins == nil {
		settings.Plugins = map[string]config.PluginSettings{}
	}

	entry := plugin.Entry{
		Manifest: &plugin.Manifest{Name: "echo", Version: "1.0.0", IsProvider: true},
		Factory: func(*plugin.Context) (*plugin.Runtime, error) {
			return &plugin.Runtime{Provider: prov, Routers: routers}, nil
		},
	}
	registry, err := plugin.Build(&plugin.Context{Settings: settings}, []plugin.Entry{entry})
	require.NoError(t, err)

	dispatcher := proxy.NewDispatcher(registry, hooks.NewManager(hooks.NewRegistry()), http.DefaultClient,
		&config.Settings{UpstreamTimeout: config.Duration(5 * time.Second)})
	return New(settings, dispatcher, registry)
}

func do(s *Server, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil, &echoProvider{}, nil)
	w := do(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", gjson.GetBytes(w.Body.Bytes(), "status").String())
}

func TestModelsEndpoint(t *testing.T) {
	prov := &echoProvider{cards: []plugin.ModelCard{
		{ID: "claude-sonnet-4", Object: "model", OwnedBy: "anthropic"},
	}}
	s := newTestServer(t, nil, prov, nil)

	w := do(s, http.MethodGet, "/echo/v1/models", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	v := gjson.ParseBytes(w.Body.Bytes())
	assert.Equal(t, "list", v.Get("object").String())
	assert.Equal(t, "claude-sonnet-4", v.Get("data.0.id").String())
}

func TestModelsEndpointEmptyList(t *testing.T) {
	s := newTestServer(t, nil, &echoProvider{}, nil)
	w := do(s, http.MethodGet, "/echo/v1/models", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	// nil cards still serialize as an empty array, never null.
	assert.Equal(t, "[]", gjson.GetBytes(w.Body.Bytes(), "data").Raw)
}

func TestNoRouteEnvelope(t *testing.T) {
	s := newTestServer(t, nil, &echoProvider{}, nil)
	w := do(s, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, format.ErrNotFound, gjson.GetBytes(w.Body.Bytes(), "error.type").String())
}

func TestProviderRoutesServeProxiedRequests(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4","content":[{"type":"text","text":"pong"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer upstream.Close()

	s := newTestServer(t, nil, &echoProvider{baseURL: upstream.URL}, nil)
	w := do(s, http.MethodPost, "/echo/v1/messages",
		`{"model":"claude-sonnet-4","max_tokens":10,"messages":[{"role":"user","content":"ping"}]}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", gjson.GetBytes(w.Body.Bytes(), "content.0.text").String())
}

func TestRequestIDHonorsClientHeader(t *testing.T) {
	s := newTestServer(t, nil, &echoProvider{}, nil)

	h := http.Header{}
	h.Set("X-Request-ID", "req-fixed-1")
	w := do(s, http.MethodGet, "/health", "", h)
	assert.Equal(t, "req-fixed-1", w.Header().Get("X-Request-ID"))

	w = do(s, http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestPluginRoutersMounted(t *testing.T) {
	routers := []plugin.Router{{
		Prefix: "/extra",
		Register: func(group *gin.RouterGroup) {
			group.GET("/ping", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"auth": c.GetHeader("Authorization")})
			})
		},
	}}
	s := newTestServer(t, nil, &echoProvider{}, routers)

	// Client auth is disabled, so the client Authorization header is
	// stripped before handlers see it.
	h := http.Header{}
	h.Set("Authorization", "Bearer client-token")
	w := do(s, http.MethodGet, "/extra/ping", "", h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, gjson.GetBytes(w.Body.Bytes(), "auth").String())
}

func TestClientAuth(t *testing.T) {
	const secret = "test-secret"
	settings := &config.Settings{LogLevel: "debug", ClientAuthEnabled: true, JWTSecret: secret}
	s := newTestServer(t, settings, &echoProvider{}, nil)

	w := do(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, format.ErrAuthentication, gjson.GetBytes(w.Body.Bytes(), "error.type").String())

	h := http.Header{}
	h.Set("Authorization", "Bearer not-a-jwt")
	w = do(s, http.MethodGet, "/health", "", h)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "local-client",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	h.Set("Authorization", "Bearer "+signed)
	w = do(s, http.MethodGet, "/health", "", h)
	assert.Equal(t, http.StatusOK, w.Code)

	wrong := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"})
	badSigned, err := wrong.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	h.Set("Authorization", "Bearer "+badSigned)
	w = do(s, http.MethodGet, "/health", "", h)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORS(t *testing.T) {
	settings := &config.Settings{LogLevel: "debug", CORSOrigins: []string{"https://app.test"}}
	s := newTestServer(t, settings, &echoProvider{}, nil)

	h := http.Header{}
	h.Set("Origin", "https://app.test")
	w := do(s, http.MethodOptions, "/health", "", h)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.test", w.Header().Get("Access-Control-Allow-Origin"))

	h.Set("Origin", "https://evil.test")
	w = do(s, http.MethodOptions, "/health", "", h)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
