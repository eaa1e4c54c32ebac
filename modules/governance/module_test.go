package governance_test

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/opsconsole/modules/governance"
	"github.com/voltgrid/opsconsole/modules/governance/infrastructure/notify"
	"github.com/voltgrid/opsconsole/modules/governance/services"
	"github.com/voltgrid/opsconsole/pkg/application"
	"github.com/voltgrid/opsconsole/pkg/configuration"
	"github.com/voltgrid/opsconsole/pkg/eventbus"
)

func TestModule_RegistersControllerAndNotifier(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus := eventbus.NewEventPublisher(nil)
	app := application.New(&application.ApplicationOptions{EventBus: bus})
	require.NoError(t, application.Load(app, governance.NewModule(&governance.ModuleOptions{Redis: client})))

	require.Len(t, app.Controllers(), 1)
	require.Equal(t, "/governance/api", app.Controllers()[0].Key())
	require.Equal(t, 1, bus.SubscribersCount())
	require.IsType(t, &services.CasbinPolicy{}, app.Service(services.CasbinPolicy{}))
	require.IsType(t, &notify.RedisNotifier{}, app.Service(notify.RedisNotifier{}))
}

func TestModule_RejectsInvalidConfiguration(t *testing.T) {
	cases := map[string]configuration.GovernanceOptions{
		"postgres without pool": {Store: configuration.StorePostgres},
		"unknown conflict":      {ConflictPolicy: "merge"},
		"missing catalog":       {CatalogPath: "/does/not/exist.yaml"},
		"missing seed":          {SeedPath: "/does/not/exist.yaml"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			app := application.New(&application.ApplicationOptions{})
			err := application.Load(app, governance.NewModule(&governance.ModuleOptions{Config: cfg}))
			require.Error(t, err)
			require.Contains(t, err.Error(), "module governance")
		})
	}
}
