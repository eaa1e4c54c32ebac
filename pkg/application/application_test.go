package application

import (
	"errors"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

type stubController struct{ key string }

func (c *stubController) Register(*mux.Router) {}
func (c *stubController) Key() string          { return c.key }

type stubService struct{ name string }

type stubModule struct {
	name string
	err  error
	seen *[]string
}

func (m *stubModule) Register(Application) error {
	*m.seen = append(*m.seen, m.name)
	return m.err
}

func (m *stubModule) Name() string { return m.name }

func TestApplication_ControllersKeepRegistrationOrder(t *testing.T) {
	app := New(&ApplicationOptions{})
	app.RegisterControllers(&stubController{"b"}, &stubController{"a"})
	app.RegisterControllers(&stubController{"b"})

	var keys []string
	for _, c := range app.Controllers() {
		keys = append(keys, c.Key())
	}
	require.Equal(t, []string{"b", "a"}, keys)
}

func TestApplication_ServiceRegistry(t *testing.T) {
	app := New(&ApplicationOptions{})
	svc := &stubService{name: "governance"}
	app.RegisterServices(svc)

	got := app.Service(stubService{}).(*stubService)
	require.Same(t, svc, got)
	require.Panics(t, func() { app.Service(stubController{}) })
}

func TestLoad_StopsAtFirstFailure(t *testing.T) {
	var seen []string
	boom := errors.New("boom")
	err := Load(New(&ApplicationOptions{}),
		&stubModule{name: "first", seen: &seen},
		&stubModule{name: "second", err: boom, seen: &seen},
		&stubModule{name: "third", seen: &seen},
	)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"first", "second"}, seen)
}
