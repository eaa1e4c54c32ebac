package controllers

import (
	"context"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/voltgrid/opsconsole/modules/governance/domain/catalog"
	"github.com/voltgrid/opsconsole/modules/governance/domain/changerequest"
	"github.com/voltgrid/opsconsole/modules/governance/infrastructure/notify"
	"github.com/voltgrid/opsconsole/modules/governance/services"
	"github.com/voltgrid/opsconsole/pkg/application"
	"github.com/voltgrid/opsconsole/pkg/composables"
	"github.com/voltgrid/opsconsole/pkg/eventbus"
	"github.com/voltgrid/opsconsole/pkg/middleware"
)

// RecentEvents reads back the latest published change request events.
type RecentEvents interface {
	Recent(ctx context.Context, limit int64) ([]*changerequest.Event, error)
}

type GovernanceAPIController struct {
	app         application.Application
	requests    *services.ChangeRequestService
	events      eventbus.EventBus
	recent      RecentEvents
	actorHeader string
	basePath    string
	now         func() time.Time
}

func NewGovernanceAPIController(app application.Application, actorHeader string) application.Controller {
	if strings.TrimSpace(actorHeader) == "" {
		actorHeader = "X-Actor-ID"
	}
	c := &GovernanceAPIController{
		app:         app,
		requests:    app.Service(services.ChangeRequestService{}).(*services.ChangeRequestService),
		events:      app.EventPublisher(),
		actorHeader: actorHeader,
		basePath:    "/governance/api",
		now:         time.Now,
	}
	// The notifier is registered only when redis is configured.
	if n, ok := app.Services()[reflect.TypeOf(notify.RedisNotifier{})].(*notify.RedisNotifier); ok {
		c.recent = n
	}
	return c
}

func (c *GovernanceAPIController) Key() string {
	return c.basePath
}

func (c *GovernanceAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.Use(middleware.RequireActor(c.actorHeader))

	router.HandleFunc("/change-requests", instrumentAPI("submit", c.Submit)).Methods(http.MethodPost)
	router.HandleFunc("/change-requests", instrumentAPI("list", c.List)).Methods(http.MethodGet)
	router.HandleFunc("/change-requests/{id:[^/:]+}", instrumentAPI("details", c.Details)).Methods(http.MethodGet)
	router.HandleFunc("/change-requests/{id:[^/:]+}:approve", instrumentAPI("approve", c.Approve)).Methods(http.MethodPost)
	router.HandleFunc("/change-requests/{id:[^/:]+}:decline", instrumentAPI("decline", c.Decline)).Methods(http.MethodPost)
	router.HandleFunc("/change-requests/{id:[^/:]+}:apply", instrumentAPI("apply", c.Apply)).Methods(http.MethodPost)
	router.HandleFunc("/preflight", instrumentAPI("preflight", c.Preflight)).Methods(http.MethodPost)
	router.HandleFunc("/catalog", instrumentAPI("catalog", c.CatalogIndex)).Methods(http.MethodGet)
	router.HandleFunc("/catalog/{entityType}", instrumentAPI("catalog", c.Catalog)).Methods(http.MethodGet)
	router.HandleFunc("/events", instrumentAPI("events", c.Events)).Methods(http.MethodGet)
}

// withUnitOfWork runs fn in a database transaction when a pool is available.
// In-memory deployments run fn directly.
func withUnitOfWork(ctx context.Context, fn func(context.Context) error) error {
	if _, err := composables.UsePool(ctx); err != nil {
		return fn(ctx)
	}
	return composables.InTx(ctx, fn)
}

func (c *GovernanceAPIController) emit(e *changerequest.Event) {
	if c.events != nil {
		c.events.Publish(e)
	}
}

// publish runs after commit. A request that moved through several states in
// one call, e.g. approved then applied, gets one event per state.
// Event delivery failures are logged by the bus.
func (c *GovernanceAPIController) publish(t changerequest.EventType, status changerequest.Status, cr *changerequest.ChangeRequest, actor string, applied []changerequest.AppliedChange) {
	e := changerequest.NewEvent(t, cr, actor, c.now())
	e.Status = status
	c.emit(e)
	if cr.Status.Terminal() && cr.Status != status {
		done := changerequest.NewEvent(changerequest.EventForStatus(cr.Status), cr, actor, c.now())
		done.AppliedChanges = applied
		c.emit(done)
	}
}

func actorFrom(r *http.Request) string {
	actor, _ := composables.UseActor(r.Context())
	return actor
}

func (c *GovernanceAPIController) publicID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		writeAPIError(w, r, http.StatusNotFound, "CR_NOT_FOUND", "change request not found", map[string]any{"id": raw})
		return uuid.Nil, false
	}
	return id, true
}

type submitRequest struct {
	EntityType       string                 `json:"entityType"`
	EntityID         string                 `json:"entityId"`
	Changes          []changerequest.Change `json:"changes"`
	RequesterComment string                 `json:"requesterComment"`
	Source           string                 `json:"source"`
}

type changeRequestResponse struct {
	ChangeRequest  *changerequest.ChangeRequest  `json:"changeRequest"`
	AppliedChanges []changerequest.AppliedChange `json:"appliedChanges,omitempty"`
}

func (c *GovernanceAPIController) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "CR_INVALID_JSON", "invalid json", nil)
		return
	}
	actor := actorFrom(r)

	var res *services.SubmitResult
	err := withUnitOfWork(r.Context(), func(ctx context.Context) error {
		var err error
		res, err = c.requests.Submit(ctx, services.SubmitParams{
			EntityType:       req.EntityType,
			EntityID:         req.EntityID,
			Changes:          req.Changes,
			RequesterComment: req.RequesterComment,
			Source:           req.Source,
			RequestedBy:      actor,
		})
		return err
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	initial := changerequest.StatusPending
	if res.ChangeRequest.AutoApproved {
		initial = changerequest.StatusAutoApproved
	}
	c.publish(changerequest.EventSubmitted, initial, res.ChangeRequest, actor, res.AppliedChanges)
	writeJSON(w, http.StatusCreated, changeRequestResponse{
		ChangeRequest:  res.ChangeRequest,
		AppliedChanges: res.AppliedChanges,
	})
}

type listResponse struct {
	Items      []*changerequest.ChangeRequest `json:"items"`
	NextCursor string                         `json:"nextCursor,omitempty"`
}

func (c *GovernanceAPIController) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeAPIError(w, r, http.StatusBadRequest, "CR_INVALID_QUERY", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}

	res, err := c.requests.List(r.Context(), services.ListParams{
		Status:     q.Get("status"),
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		Limit:      limit,
		Cursor:     q.Get("cursor"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	items := res.Items
	if items == nil {
		items = []*changerequest.ChangeRequest{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, NextCursor: res.NextCursor})
}

func (c *GovernanceAPIController) Details(w http.ResponseWriter, r *http.Request) {
	id, ok := c.publicID(w, r)
	if !ok {
		return
	}
	details, err := c.requests.GetDetails(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

type approveRequest struct {
	Notes string `json:"notes"`
}

func (c *GovernanceAPIController) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := c.publicID(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "CR_INVALID_JSON", "invalid json", nil)
		return
	}
	actor := actorFrom(r)

	var res *services.ApplyResult
	err := withUnitOfWork(r.Context(), func(ctx context.Context) error {
		var err error
		res, err = c.requests.Approve(ctx, id, actor, req.Notes)
		return err
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	c.publish(changerequest.EventApproved, changerequest.StatusApproved, res.ChangeRequest, actor, res.AppliedChanges)
	writeJSON(w, http.StatusOK, changeRequestResponse{
		ChangeRequest:  res.ChangeRequest,
		AppliedChanges: res.AppliedChanges,
	})
}

type declineRequest struct {
	Reason string `json:"reason"`
}

func (c *GovernanceAPIController) Decline(w http.ResponseWriter, r *http.Request) {
	id, ok := c.publicID(w, r)
	if !ok {
		return
	}
	var req declineRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "CR_INVALID_JSON", "invalid json", nil)
		return
	}
	actor := actorFrom(r)

	var declined *changerequest.ChangeRequest
	err := withUnitOfWork(r.Context(), func(ctx context.Context) error {
		var err error
		declined, err = c.requests.Decline(ctx, id, actor, req.Reason)
		return err
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	c.publish(changerequest.EventDeclined, changerequest.StatusDeclined, declined, actor, nil)
	writeJSON(w, http.StatusOK, changeRequestResponse{ChangeRequest: declined})
}

func (c *GovernanceAPIController) Apply(w http.ResponseWriter, r *http.Request) {
	id, ok := c.publicID(w, r)
	if !ok {
		return
	}
	actor := actorFrom(r)

	var res *services.ApplyResult
	err := withUnitOfWork(r.Context(), func(ctx context.Context) error {
		var err error
		res, err = c.requests.Apply(ctx, id)
		return err
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	applied := changerequest.NewEvent(changerequest.EventForStatus(res.ChangeRequest.Status), res.ChangeRequest, actor, c.now())
	applied.AppliedChanges = res.AppliedChanges
	c.emit(applied)
	writeJSON(w, http.StatusOK, changeRequestResponse{
		ChangeRequest:  res.ChangeRequest,
		AppliedChanges: res.AppliedChanges,
	})
}

func (c *GovernanceAPIController) Preflight(w http.ResponseWriter, r *http.Request) {
	var req services.PreflightParams
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "CR_INVALID_JSON", "invalid json", nil)
		return
	}
	res, err := c.requests.Preflight(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *GovernanceAPIController) CatalogIndex(w http.ResponseWriter, r *http.Request) {
	types := c.requests.EntityTypes()
	if types == nil {
		types = []catalog.EntityType{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entityTypes": types})
}

func (c *GovernanceAPIController) Catalog(w http.ResponseWriter, r *http.Request) {
	spec, err := c.requests.DescribeCatalog(mux.Vars(r)["entityType"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

type eventsResponse struct {
	Items []*changerequest.Event `json:"items"`
}

// Events lists the latest notifications, newest first. Without a notifier the
// route answers 404.
func (c *GovernanceAPIController) Events(w http.ResponseWriter, r *http.Request) {
	if c.recent == nil {
		writeAPIError(w, r, http.StatusNotFound, "CR_EVENTS_DISABLED", "event notifications are not configured", nil)
		return
	}
	var limit int64
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 1 {
			writeAPIError(w, r, http.StatusBadRequest, "CR_INVALID_QUERY", "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	items, err := c.recent.Recent(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Items: items})
}
