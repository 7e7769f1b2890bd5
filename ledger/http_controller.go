package ledger

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	sitegate "github.com/goliatone/go-sitegate"
)

// ControllerRoutes are the content API paths. Kind segments accept the
// singular and plural forms (post, posts, note, notes).
type ControllerRoutes struct {
	Interactions   string
	Like           string
	State          string
	Bookmarks      string
	Bookmark       string
	AdminReconcile string
}

// Controller exposes the ledger and bookmark manager over HTTP. It expects
// the request gate to have attached a Caller to the user context.
type Controller struct {
	Logger    sitegate.Logger
	Routes    *ControllerRoutes
	Ledger    *Ledger
	Bookmarks *BookmarkManager
}

type ControllerOption func(*Controller) *Controller

func WithControllerLogger(l sitegate.Logger) ControllerOption {
	return func(c *Controller) *Controller {
		c.Logger = sitegate.NormalizeLogger(l)
		return c
	}
}

func WithControllerRoutes(r *ControllerRoutes) ControllerOption {
	return func(c *Controller) *Controller {
		if r != nil {
			c.Routes = r
		}
		return c
	}
}

// NewController panics when the ledger or the bookmark manager is missing.
func NewController(l *Ledger, b *BookmarkManager, opts ...ControllerOption) *Controller {
	c := &Controller{
		Logger:    sitegate.DefaultLogger(),
		Ledger:    l,
		Bookmarks: b,
		Routes: &ControllerRoutes{
			Interactions:   "/api/:kind/:id/interactions",
			Like:           "/api/:kind/:id/like",
			State:          "/api/:kind/:id/state",
			Bookmarks:      "/api/bookmarks",
			Bookmark:       "/api/bookmarks/:id",
			AdminReconcile: "/admin/ledger/reconcile",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Ledger == nil || c.Bookmarks == nil {
		panic("Missing Ledger or BookmarkManager in ledger controller...")
	}

	return c
}

// RegisterRoutes mounts the content API on app.
func RegisterRoutes(app fiber.Router, l *Ledger, b *BookmarkManager, opts ...ControllerOption) *Controller {
	c := NewController(l, b, opts...)

	// bookmarks first so "bookmarks" is never read as a subject kind
	app.Get(c.Routes.Bookmarks, c.BookmarksList).Name("bookmarks.list")
	app.Post(c.Routes.Bookmarks, c.BookmarkCreate).Name("bookmarks.create")
	app.Delete(c.Routes.Bookmark, c.BookmarkDelete).Name("bookmarks.delete")

	app.Post(c.Routes.Interactions, c.InteractionCreate).Name("interactions.create")
	app.Post(c.Routes.Like, c.LikeToggle).Name("interactions.like")
	app.Get(c.Routes.State, c.StateGet).Name("interactions.state")

	app.Post(c.Routes.AdminReconcile, c.ReconcilePost).Name("admin-ledger-reconcile.post")

	return c
}

// InteractionRequest payload
type InteractionRequest struct {
	Type string `form:"type" json:"type"`
}

// BookmarkRequest payload
type BookmarkRequest struct {
	Kind string `form:"kind" json:"kind"`
	ID   string `form:"id" json:"id"`
}

// ReconcileRequest payload. An empty body reconciles every subject.
type ReconcileRequest struct {
	Kind string `form:"kind" json:"kind"`
	ID   string `form:"id" json:"id"`
}

// InteractionResponse is returned after a write, with the state read back
// through the cache.
type InteractionResponse struct {
	Interaction  Interaction  `json:"interaction"`
	LikeChanged  bool         `json:"like_changed"`
	CounterDelta int64        `json:"counter_delta"`
	State        SubjectState `json:"state"`
}

// InteractionCreate records an interaction of the requested type.
func (ctrl *Controller) InteractionCreate(ctx *fiber.Ctx) error {
	subject, err := subjectFromParams(ctx)
	if err != nil {
		return ctrl.sendError(ctx, err)
	}

	actor, err := requireActor(ctx)
	if err != nil {
		return ctrl.sendError(ctx, err)
	}

	payload := new(InteractionRequest)
	if err := ctx.BodyParser(payload); err != nil {
		return ctrl.sendError(ctx, sitegate.NewValidationError(map[string]string{
			"body.format": "unable to parse request body",
		}))
	}

	t := InteractionType(strings.ToUpper(strings.TrimSpace(payload.Type)))
	return ctrl.record(ctx, t, subject, actor, fiber.StatusCreated)
}

// LikeToggle flips the like state of the caller. The desired type is
// derived here so the log only ever holds explicit LIKE and UNLIKE events.
func (ctrl *Controller) LikeToggle(ctx *fiber.Ctx) error {
	subject, err := subjectFromParams(ctx)
	if err != nil {
		return ctrl.sendError(ctx, err)
	}

	actor, err := requireActor(ctx)
	if err != nil {
		return ctrl.sendError(ctx, err)
	}

	liked, err := ctrl.Ledger.IsLiked(ctx.UserContext(), subject, actor)
	if err != nil {
		return ctrl.sendError(ctx, err)
	}

	return ctrl.record(ctx, DesiredLikeType(liked), subject, actor, fiber.StatusOK)
}

// StateGet returns the counters and, for known actors, the like state.
func (ctrl *Controller) StateGet(ctx *fiber.Ctx) error {
	subject, err := subjectFromParams(ctx)
	if err != nil {
		return ctrl.sendError(ctx, err)
	}

	var actor *sitegate.Actor
	if a, ok := sitegate.ActorFromContext(ctx.UserContext()); ok {
		actor = &a
	}

	state, err := ctrl.Ledger.State(ctx.UserContext(), subject, actor)
	if err != nil {
		return ctrl.sendError(ctx, err)
	}

	return ctx.JSON(state)
}

func (ctrl *Controller) BookmarksList(ctx *fiber.Ctx) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return ctrl.sendError(ctx, err)
	}

	list, err := ctrl.Bookmarks.ListFor(ctx.UserContext(), actor)
	if err != nil {
		return ctrl.sendError(ctx, err)
	}
	if list == nil {
		list = []Bookmark{}
	}

	return ctx.JSON(fiber.Map{"bookmarks": list})
}

func (ctrl *Controller) BookmarkCreate(ctx *fiber.Ctx) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return ctrl.sendError(ctx, err)
	}

	payload := new(BookmarkRequest)
	if err := ctx.BodyParser(payload); err != nil {
		return ctrl.sendError(ctx, sitegate.NewValidationError(map[string]string{
			"body.format": "unable to parse request body",
		}))
	}

	subject := Subject{Kind: parseKind(payload.Kind), ID: strings.TrimSpace(payload.ID)}

	bookmark, err := ctrl.Bookmarks.Create(ctx.UserContext(), subject, actor)
	if err != nil {
		return ctrl.sendError(ctx, err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(bookmark)
}

// BookmarkDelete is idempotent: unknown ids and bookmarks of other actors
// answer 204 and leave the store untouched.
func (ctrl *Controller) BookmarkDelete(ctx *fiber.Ctx) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return ctrl.sendError(ctx, err)
	}

	if err := ctrl.Bookmarks.Delete(ctx.UserContext(), strings.Clone(ctx.Params("id")), &actor); err != nil {
		return ctrl.sendError(ctx, err)
	}

	return ctx.SendStatus(fiber.StatusNoContent)
}

// ReconcilePost replays the log for one subject, or for all of them when
// the body names none. Admin only.
func (ctrl *Controller) ReconcilePost(ctx *fiber.Ctx) error {
	if !sitegate.IsAdmin(ctx.UserContext()) {
		return ctrl.sendError(ctx, sitegate.Unauthorized(nil))
	}

	payload := new(ReconcileRequest)
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(payload); err != nil {
			return ctrl.sendError(ctx, sitegate.NewValidationError(map[string]string{
				"body.format": "unable to parse request body",
			}))
		}
	}

	if payload.Kind == "" && payload.ID == "" {
		results, err := ctrl.Ledger.ReconcileAll(ctx.UserContext())
		if err != nil {
			return ctrl.sendError(ctx, err)
		}
		return ctx.JSON(fiber.Map{"results": results, "drifted": countDrift(results)})
	}

	subject := Subject{Kind: parseKind(payload.Kind), ID: strings.TrimSpace(payload.ID)}
	result, err := ctrl.Ledger.Reconcile(ctx.UserContext(), subject)
	if err != nil {
		return ctrl.sendError(ctx, err)
	}

	results := []ReconcileResult{result}
	return ctx.JSON(fiber.Map{"results": results, "drifted": countDrift(results)})
}

func (ctrl *Controller) record(ctx *fiber.Ctx, t InteractionType, subject Subject, actor sitegate.Actor, status int) error {
	receipt, err := ctrl.Ledger.Record(ctx.UserContext(), t, subject, actor)
	if err != nil {
		return ctrl.sendError(ctx, err)
	}

	state, err := ctrl.Ledger.State(ctx.UserContext(), subject, &actor)
	if err != nil {
		return ctrl.sendError(ctx, err)
	}

	return ctx.Status(status).JSON(InteractionResponse{
		Interaction:  receipt.Interaction,
		LikeChanged:  receipt.LikeChanged,
		CounterDelta: receipt.CounterDelta,
		State:        state,
	})
}

func (ctrl *Controller) sendError(ctx *fiber.Ctx, err error) error {
	if sitegate.HTTPStatus(err) >= fiber.StatusInternalServerError {
		ctrl.Logger.Error("ledger request failed", "path", ctx.Path(), "error", err)
	}
	return sitegate.SendError(ctx, err)
}

func requireActor(ctx *fiber.Ctx) (sitegate.Actor, error) {
	actor, ok := sitegate.ActorFromContext(ctx.UserContext())
	if !ok {
		return sitegate.Actor{}, sitegate.NewValidationError(map[string]string{
			"actor.key": "a guest key or a user session is required",
		})
	}
	return actor, nil
}

func subjectFromParams(ctx *fiber.Ctx) (Subject, error) {
	subject := Subject{
		Kind: parseKind(ctx.Params("kind")),
		ID:   strings.Clone(strings.TrimSpace(ctx.Params("id"))),
	}
	if err := subject.Validate(); err != nil {
		return Subject{}, err
	}
	return subject, nil
}

func parseKind(raw string) SubjectKind {
	kind := strings.ToLower(strings.TrimSpace(raw))
	return SubjectKind(strings.Clone(strings.TrimSuffix(kind, "s")))
}

func countDrift(results []ReconcileResult) int {
	n := 0
	for _, r := range results {
		if r.Drift {
			n++
		}
	}
	return n
}
