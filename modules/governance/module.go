package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
	"github.com/voltgrid/opsconsole/modules/governance/infrastructure/notify"
	"github.com/voltgrid/opsconsole/modules/governance/infrastructure/persistence"
	"github.com/voltgrid/opsconsole/modules/governance/presentation/controllers"
	"github.com/voltgrid/opsconsole/modules/governance/services"
	"github.com/voltgrid/opsconsole/pkg/application"
	"github.com/voltgrid/opsconsole/pkg/composables"
	"github.com/voltgrid/opsconsole/pkg/configuration"
)

type ModuleOptions struct {
	Config configuration.GovernanceOptions
	// Redis enables the change request notifier when set.
	Redis *redis.Client
	// Constraints are entity-side rules checked for every patch op at apply time.
	Constraints []persistence.Constraint
	Now         func() time.Time
}

func NewModule(opts *ModuleOptions) application.Module {
	if opts == nil {
		opts = &ModuleOptions{}
	}
	return &Module{options: opts}
}

type Module struct {
	options *ModuleOptions
}

func (m *Module) Register(app application.Application) error {
	cfg := m.options.Config
	if err := cfg.Validate(); err != nil {
		return err
	}

	c, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	policy, err := services.NewCasbinPolicy(cfg.PolicyModelPath, cfg.PolicyPath, app.Logger())
	if err != nil {
		return err
	}

	applier := persistence.NewPatchApplier(c, m.options.Constraints...)
	var (
		repo     changerequest.Repository
		entities changerequest.EntityStore
	)
	switch cfg.Store {
	case configuration.StorePostgres:
		if app.DB() == nil {
			return fmt.Errorf("governance: store %q requires a database pool", cfg.Store)
		}
		repo = persistence.NewPgChangeRequestRepository()
		pgEntities := persistence.NewPgEntityStore(applier)
		if err := m.seed(c, cfg.SeedPath, func(et catalog.EntityType, id string, doc map[string]any) error {
			ctx := composables.WithPool(context.Background(), app.DB())
			return pgEntities.Put(ctx, et, id, doc)
		}); err != nil {
			return err
		}
		entities = pgEntities
	default:
		repo = persistence.NewMemoryChangeRequestRepository()
		memEntities := persistence.NewMemoryEntityStore(applier)
		if err := m.seed(c, cfg.SeedPath, memEntities.Put); err != nil {
			return err
		}
		entities = memEntities
	}

	app.RegisterServices(policy, services.NewChangeRequestService(c, repo, entities, policy, services.Options{
		ConflictPolicy: cfg.ConflictPolicy,
		AutoApply:      cfg.AutoApply,
		Now:            m.options.Now,
	}))

	if m.options.Redis != nil && app.EventPublisher() != nil {
		notifier := notify.NewRedisNotifier(m.options.Redis, cfg.NotifyChannel, app.Logger())
		notifier.Register(app.EventPublisher())
		app.RegisterServices(notifier)
	}

	app.RegisterControllers(controllers.NewGovernanceAPIController(app, cfg.ActorHeader))
	return nil
}

func (m *Module) seed(c *catalog.Catalog, path string, put func(catalog.EntityType, string, map[string]any) error) error {
	if path == "" {
		return nil
	}
	seed, err := persistence.LoadSeedFile(c, path)
	if err != nil {
		return err
	}
	return seed.Each(put)
}

func (m *Module) Name() string {
	return "governance"
}
