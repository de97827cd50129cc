package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/trackx/internal/ledger"
	"github.com/desertthunder/trackx/internal/mapper"
	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/services"
	"github.com/desertthunder/trackx/internal/shared"
)

const (
	DefaultPageSize  = 100
	DefaultMaxOffset = 10000
)

// TokenSource hands out access tokens for a credential. [tokens.Coordinator] implements it.
type TokenSource interface {
	Token(ctx context.Context, key models.CredentialKey) (string, error)
	TenantKey(ctx context.Context, key models.CredentialKey) (string, error)
}

// RunLedger is the ledger surface the engine writes through. [ledger.Ledger] implements it.
type RunLedger interface {
	Open(ctx context.Context, userID string, kind models.SyncKind, target ledger.Target) (string, error)
	MarkInProgress(ctx context.Context, runID string) error
	Record(ctx context.Context, runID string, counters models.Counters) error
	Finalize(ctx context.Context, runID string, outcome ledger.Outcome) (*models.SyncRun, error)
}

// Stores groups the mirrored entity stores the engine upserts into.
type Stores struct {
	Projects models.EntityStore[*models.Project]
	Users    models.EntityStore[*models.User]
	Tasks    models.EntityStore[*models.Task]
}

// EngineConfig holds paging policy.
type EngineConfig struct {
	Provider  string // credential provider, e.g. "jira"
	PageSize  int
	MaxOffset int // safety cap on how far a single stream pages
}

// SyncEngine runs one sync operation per call and records each in the ledger.
//
// At most one run per (user, kind, target) is active at a time; a concurrent request for the same
// triple returns [shared.ErrSyncInProgress] without opening a run.
type SyncEngine struct {
	gateway  services.Gateway
	tokens   TokenSource
	ledger   RunLedger
	projects *mapper.Upserter[*models.Project]
	users    *mapper.Upserter[*models.User]
	tasks    *mapper.Upserter[*models.Task]
	config   EngineConfig
	logger   *log.Logger

	mu     sync.Mutex
	active map[runKey]struct{}
}

type runKey struct {
	userID string
	kind   models.SyncKind
	target string
}

// NewSyncEngine creates a SyncEngine with the provided dependencies.
func NewSyncEngine(gateway services.Gateway, tokens TokenSource, runs RunLedger, stores Stores, config EngineConfig, logger *log.Logger) *SyncEngine {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if config.MaxOffset <= 0 {
		config.MaxOffset = DefaultMaxOffset
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	return &SyncEngine{
		gateway:  gateway,
		tokens:   tokens,
		ledger:   runs,
		projects: mapper.NewProjectUpserter(stores.Projects),
		users:    mapper.NewUserUpserter(stores.Users),
		tasks:    mapper.NewTaskUpserter(stores.Tasks, stores.Projects),
		config:   config,
		logger:   shared.WithLogger(logger, "component", "sync"),
		active:   make(map[runKey]struct{}),
	}
}

// ImportUsers mirrors every remote user account.
func (e *SyncEngine) ImportUsers(ctx context.Context, userID string, progress chan<- ProgressUpdate) (*models.SyncRun, error) {
	return e.execute(ctx, userID, models.KindUserImport, ledger.Target{}, progress, func(ctx context.Context, r *run) error {
		return r.stream(ctx, stream{resource: services.ResourceUsers, apply: e.users.Upsert})
	})
}

// SyncProject mirrors one project and all of its issues.
func (e *SyncEngine) SyncProject(ctx context.Context, userID, projectID string, progress chan<- ProgressUpdate) (*models.SyncRun, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id", shared.ErrMissingArgument)
	}

	target := ledger.Target{ID: projectID, Name: projectID}
	return e.execute(ctx, userID, models.KindProjectSync, target, progress, func(ctx context.Context, r *run) error {
		r.send(fetchTargetUpdate(r.id, models.KindProjectSync, projectID))

		var found bool
		err := r.stream(ctx, stream{
			resource: services.ResourceProjects,
			filters:  map[string]string{services.FilterProject: projectID},
			single:   true,
			apply: func(ctx context.Context, raw services.Record) (mapper.Outcome, error) {
				found = true
				if key, ok := raw["key"].(string); ok && key != "" {
					r.targetName = key
				}
				return e.projects.Upsert(ctx, raw)
			},
		})
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: project %s", shared.ErrEntityNotFound, projectID)
		}

		return r.stream(ctx, stream{
			resource: services.ResourceIssues,
			filters:  map[string]string{services.FilterProject: projectID},
			apply:    e.tasks.Upsert,
		})
	})
}

// SyncAllProjects mirrors every project, then the issues of each project in the order received.
func (e *SyncEngine) SyncAllProjects(ctx context.Context, userID string, progress chan<- ProgressUpdate) (*models.SyncRun, error) {
	return e.execute(ctx, userID, models.KindAllProjectsSync, ledger.Target{}, progress, func(ctx context.Context, r *run) error {
		var projectIDs []string
		err := r.stream(ctx, stream{
			resource: services.ResourceProjects,
			apply:    e.projects.Upsert,
			after: func(raw services.Record) {
				if id, ok := raw["id"].(string); ok && id != "" {
					projectIDs = append(projectIDs, id)
				}
			},
		})
		if err != nil {
			return err
		}

		for _, id := range projectIDs {
			err := r.stream(ctx, stream{
				resource: services.ResourceIssues,
				filters:  map[string]string{services.FilterProject: id},
				apply:    e.tasks.Upsert,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// SyncUserTasks mirrors the issues assigned to one remote account.
func (e *SyncEngine) SyncUserTasks(ctx context.Context, userID, accountID string, progress chan<- ProgressUpdate) (*models.SyncRun, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id", shared.ErrMissingArgument)
	}

	target := ledger.Target{ID: accountID, Name: accountID}
	return e.execute(ctx, userID, models.KindUserTasksSync, target, progress, func(ctx context.Context, r *run) error {
		return r.stream(ctx, stream{
			resource: services.ResourceIssues,
			filters:  map[string]string{services.FilterAssignee: accountID},
			apply:    e.tasks.Upsert,
		})
	})
}

// SyncIssue mirrors a single issue by key.
func (e *SyncEngine) SyncIssue(ctx context.Context, userID, issueKey string, progress chan<- ProgressUpdate) (*models.SyncRun, error) {
	if issueKey == "" {
		return nil, fmt.Errorf("%w: issue key", shared.ErrMissingArgument)
	}

	target := ledger.Target{ID: issueKey, Name: issueKey}
	return e.execute(ctx, userID, models.KindIssueSync, target, progress, func(ctx context.Context, r *run) error {
		r.send(fetchTargetUpdate(r.id, models.KindIssueSync, issueKey))
		return r.stream(ctx, stream{
			resource: services.ResourceIssues,
			filters:  map[string]string{services.FilterKey: issueKey},
			limit:    1,
			single:   true,
			apply:    e.tasks.Upsert,
		})
	})
}

func (e *SyncEngine) acquire(key runKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.active[key]; busy {
		return false
	}
	e.active[key] = struct{}{}
	return true
}

func (e *SyncEngine) release(key runKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, key)
}

// execute opens a run, authorizes, runs plan and always finalizes the run before returning.
func (e *SyncEngine) execute(
	ctx context.Context,
	userID string,
	kind models.SyncKind,
	target ledger.Target,
	progress chan<- ProgressUpdate,
	plan func(ctx context.Context, r *run) error,
) (*models.SyncRun, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id", shared.ErrMissingArgument)
	}

	key := runKey{userID: userID, kind: kind, target: target.ID}
	if !e.acquire(key) {
		return nil, fmt.Errorf("%w: %s %s", shared.ErrSyncInProgress, kind, target.ID)
	}
	defer e.release(key)

	runID, err := e.ledger.Open(ctx, userID, kind, target)
	if err != nil {
		return nil, err
	}

	r := &run{
		engine:   e,
		id:       runID,
		cred:     models.CredentialKey{UserID: userID, Provider: e.config.Provider},
		progress: progress,
		logger:   shared.WithLogger(e.logger, "run", runID, "kind", kind),
	}

	defer func() {
		if p := recover(); p != nil {
			r.details = append(r.details, models.ErrorDetail{Kind: models.DetailInternal, Reason: fmt.Sprint(p), Page: r.page})
			r.logger.Error("sync run panicked", "panic", p)
			if !r.finalized {
				e.finalize(ctx, r, models.RunFailed, fmt.Sprintf("panic: %v", p))
			}
			panic(p)
		}
	}()

	r.send(authorizeUpdate(runID))
	if r.tenant, err = e.tokens.TenantKey(ctx, r.cred); err == nil {
		_, err = e.tokens.Token(ctx, r.cred)
	}
	if err != nil {
		return e.fail(ctx, r, err)
	}

	if err := e.ledger.MarkInProgress(ctx, runID); err != nil {
		return e.fail(ctx, r, err)
	}

	if err := plan(ctx, r); err != nil {
		return e.fail(ctx, r, err)
	}

	final, err := e.finalize(ctx, r, models.RunCompleted, "")
	if err != nil {
		return nil, err
	}
	r.send(completeUpdate(final))
	return final, nil
}

// fail classifies err, finalizes the run as failed and returns err to the caller.
func (e *SyncEngine) fail(ctx context.Context, r *run, err error) (*models.SyncRun, error) {
	var extErr *shared.ExternalServiceError
	switch {
	case errors.Is(err, shared.ErrSyncAborted) || ctx.Err() != nil:
		if !errors.Is(err, shared.ErrSyncAborted) {
			err = fmt.Errorf("%w: %v", shared.ErrSyncAborted, err)
		}
		r.details = append(r.details, models.ErrorDetail{Kind: models.DetailCancelled, Reason: err.Error(), Page: r.page})
	case shared.IsAuthError(err):
		r.details = append(r.details, models.ErrorDetail{Kind: models.DetailAuth, Reason: err.Error(), Page: r.page})
	case errors.As(err, &extErr):
		r.details = append(r.details, models.ErrorDetail{Kind: models.DetailRemote, Reason: extErr.Error(), Page: r.page})
	default:
		r.details = append(r.details, models.ErrorDetail{Kind: models.DetailInternal, Reason: err.Error(), Page: r.page})
	}

	r.logger.Warn("sync run failed", "err", err)
	r.send(abortUpdate(r.id, err))

	final, finErr := e.finalize(ctx, r, models.RunFailed, err.Error())
	if finErr != nil {
		return nil, errors.Join(err, finErr)
	}
	return final, err
}

func (e *SyncEngine) finalize(ctx context.Context, r *run, state models.RunState, message string) (*models.SyncRun, error) {
	outcome := ledger.Outcome{
		State:        state,
		TargetName:   r.targetName,
		Counters:     r.counters,
		ErrorMessage: message,
		ErrorDetails: r.details,
		Metadata:     map[string]any{"pages": r.pages, "page_size": e.config.PageSize},
	}
	final, err := e.ledger.Finalize(context.WithoutCancel(ctx), r.id, outcome)
	if err == nil {
		r.finalized = true
	}
	return final, err
}

// run is the mutable state of one executing sync.
type run struct {
	engine     *SyncEngine
	id         string
	cred       models.CredentialKey
	tenant     string
	targetName string
	counters   models.Counters
	details    []models.ErrorDetail
	page       int // current page across all streams, 1-based
	pages      int
	finalized  bool // the ledger entry is terminal
	progress   chan<- ProgressUpdate
	logger     *log.Logger
}

// stream describes one paged read and how each record is applied.
type stream struct {
	resource services.Resource
	filters  map[string]string
	limit    int  // zero uses the engine page size
	single   bool // fetch one page only
	apply    func(ctx context.Context, raw services.Record) (mapper.Outcome, error)
	after    func(raw services.Record) // runs after a record is applied successfully
}

// stream pages through s in fetch order, applying records in received order.
//
// Paging stops on a short page or at the offset cap. A mapping failure is counted and skipped;
// any other error ends the stream.
func (r *run) stream(ctx context.Context, s stream) error {
	e := r.engine
	limit := s.limit
	if limit <= 0 {
		limit = e.config.PageSize
	}

	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrSyncAborted, err)
		}

		token, err := e.tokens.Token(ctx, r.cred)
		if err != nil {
			return err
		}

		r.page++
		r.send(fetchPageUpdate(r.id, s.resource, r.page, offset))

		page, err := e.gateway.FetchPage(ctx, services.PageRequest{
			AccessToken: token,
			TenantKey:   r.tenant,
			Resource:    s.resource,
			Filters:     s.filters,
			Offset:      offset,
			Limit:       limit,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%w: %v", shared.ErrSyncAborted, ctxErr)
			}
			return fmt.Errorf("fetch %s page %d: %w", s.resource, r.page, err)
		}
		r.pages++

		for i, raw := range page.Records {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %v", shared.ErrSyncAborted, err)
			}
			if err := r.apply(ctx, s, raw, i); err != nil {
				return err
			}
		}

		if err := e.ledger.Record(context.WithoutCancel(ctx), r.id, r.counters); err != nil {
			return err
		}
		r.send(applyRecordsUpdate(r.id, s.resource, r.page, r.counters))

		if s.single || len(page.Records) < limit {
			return nil
		}
		offset += len(page.Records)
		if offset >= e.config.MaxOffset {
			r.logger.Warn("stopping at offset cap", "resource", s.resource, "offset", offset)
			return nil
		}
	}
}

func (r *run) apply(ctx context.Context, s stream, raw services.Record, index int) error {
	r.counters.Total++

	outcome, err := s.apply(ctx, raw)
	var mapErr *shared.MappingError
	if errors.As(err, &mapErr) {
		r.counters.Failed++
		r.details = append(r.details, models.ErrorDetail{
			Kind:     models.DetailMapping,
			RemoteID: remoteID(raw),
			Field:    mapErr.Field,
			Reason:   mapErr.Reason,
			Page:     r.page,
			Index:    index,
		})
		r.logger.Debug("record skipped", "remote_id", remoteID(raw), "field", mapErr.Field, "reason", mapErr.Reason)
		return nil
	}
	if err != nil {
		return err
	}

	switch outcome {
	case mapper.Created:
		r.counters.Created++
	case mapper.Updated:
		r.counters.Updated++
	}
	if s.after != nil {
		s.after(raw)
	}
	return nil
}

// send sends a progress update through the channel without blocking.
func (r *run) send(update ProgressUpdate) {
	if r.progress == nil {
		return
	}
	select {
	case r.progress <- update:
	default:
	}
}

func remoteID(raw services.Record) string {
	for _, k := range []string{"id", "accountId", "key"} {
		if v, ok := raw[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}
