package services

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"github.com/sirupsen/logrus"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
)

const actionAutoApprove = "auto_approve"

var (
	//go:embed policy/auto_approval_model.conf
	defaultPolicyModel string
	//go:embed policy/auto_approval_policy.csv
	defaultPolicy string
)

// AutoApprovalPolicy decides whether a submission skips manual review.
type AutoApprovalPolicy interface {
	AutoApprove(ctx context.Context, requester string, entityType catalog.EntityType) (bool, error)
}

type manualReview struct{}

// ManualReview never auto-approves.
func ManualReview() AutoApprovalPolicy { return manualReview{} }

func (manualReview) AutoApprove(context.Context, string, catalog.EntityType) (bool, error) {
	return false, nil
}

// CasbinPolicy grants auto-approval through casbin rules of the form
// "p, <subject or role>, <lowercase entity type or *>, auto_approve".
type CasbinPolicy struct {
	enforcer *casbin.Enforcer
	logger   *logrus.Entry
	mu       sync.RWMutex
}

// NewCasbinPolicy loads model and policy files. Empty paths select the
// embedded defaults.
func NewCasbinPolicy(modelPath, policyPath string, logger *logrus.Logger) (*CasbinPolicy, error) {
	var (
		enf *casbin.Enforcer
		err error
	)
	if modelPath == "" && policyPath == "" {
		m, mErr := model.NewModelFromString(defaultPolicyModel)
		if mErr != nil {
			return nil, fmt.Errorf("governance: failed to parse auto-approval model: %w", mErr)
		}
		enf, err = casbin.NewEnforcer(m, stringadapter.NewAdapter(defaultPolicy))
	} else {
		enf, err = casbin.NewEnforcer(modelPath, fileadapter.NewAdapter(policyPath))
	}
	if err != nil {
		return nil, fmt.Errorf("governance: failed to initialize auto-approval enforcer: %w", err)
	}
	if err := enf.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("governance: failed to load auto-approval policy: %w", err)
	}

	var entry *logrus.Entry
	if logger != nil {
		entry = logger.WithField("component", "governance.policy")
	} else {
		entry = logrus.WithField("component", "governance.policy")
	}
	return &CasbinPolicy{enforcer: enf, logger: entry}, nil
}

func (p *CasbinPolicy) AutoApprove(ctx context.Context, requester string, entityType catalog.EntityType) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ok, err := p.enforcer.Enforce(requester, strings.ToLower(string(entityType)), actionAutoApprove)
	if err != nil {
		return false, fmt.Errorf("governance: auto-approval enforce failed: %w", err)
	}
	if ok {
		p.logger.WithContext(ctx).WithFields(logrus.Fields{
			"requester":   requester,
			"entity_type": entityType,
		}).Info("submission auto-approved by policy")
	}
	return ok, nil
}

// Reload re-reads the policy from its adapter.
func (p *CasbinPolicy) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enforcer.LoadPolicy()
}
