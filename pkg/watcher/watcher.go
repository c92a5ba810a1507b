// Package watcher tails MongoDB change streams for every watched namespace,
// matches events against agent configs, and dispatches matches onto the
// work queue. Grounded directly on
// original_source/src/mongoclaw/watcher/change_stream.py's
// ChangeStreamWatcher: one cursor goroutine per (database, collection) pair,
// a periodic supervisor loop reconciling targets against
// agentstore.Store.GetAllWatchTargets, and resume tokens saved before
// dispatch so a dispatch failure re-delivers on restart.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codeready-toolchain/mongoclaw/pkg/agentstore"
	"github.com/codeready-toolchain/mongoclaw/pkg/config"
	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

// Matcher finds the agents that should react to a change event, satisfied
// by pkg/matcher.Matcher.
type Matcher interface {
	Match(event *model.ChangeEvent) []*model.Agent
}

// Dispatcher enqueues a matched (agent, event) pair, satisfied by
// pkg/dispatcher.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, agent *model.Agent, event *model.ChangeEvent) (string, error)
}

// WatchTargetSource reports the distinct namespaces currently watched by at
// least one agent, satisfied by pkg/agentstore.Store.
type WatchTargetSource interface {
	GetAllWatchTargets(ctx context.Context, enabledOnly bool) ([]agentstore.WatchTarget, error)
}

// ResumeStore persists and retrieves per-namespace resume tokens, satisfied
// by pkg/resumetoken.Store.
type ResumeStore interface {
	Save(ctx context.Context, watcherID, namespace string, token bson.Raw) error
	Get(ctx context.Context, watcherID string) (*model.ResumeToken, error)
}

// Supervisor owns one tailing cursor per watched namespace plus the
// reconciliation loop that opens/closes cursors as agent watch targets
// change. Only meaningful while the runtime holds the leader election lease;
// callers wire Start/Stop to an election.Callbacks pair.
type Supervisor struct {
	client      *mongo.Client
	targets     WatchTargetSource
	matcher     Matcher
	dispatcher  Dispatcher
	resumeTokens ResumeStore
	cfg         config.WatcherConfig

	forceRefresh chan struct{}

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	stopCh   chan struct{}
	stopOnce sync.Once

	// openCursor opens a tailing cursor for (database, collection), resuming
	// from resumeToken if non-nil. Overridable in tests to avoid a real
	// mongo.Client; defaults to wrapping (*mongo.Collection).Watch.
	openCursor func(ctx context.Context, database, collection string, resumeToken bson.Raw) (changeCursor, error)
}

// changeCursor is the subset of *mongo.ChangeStream the watch loop needs,
// narrowed so tests can supply an in-memory fake instead of a live cursor.
type changeCursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
	ResumeToken() bson.Raw
}

// New builds a Supervisor. cfg should come from
// config.LoadWatcherConfigFromEnv or config.DefaultWatcherConfig.
func New(client *mongo.Client, targets WatchTargetSource, matcher Matcher, dispatcher Dispatcher, resumeTokens ResumeStore, cfg config.WatcherConfig) *Supervisor {
	s := &Supervisor{
		client:       client,
		targets:      targets,
		matcher:      matcher,
		dispatcher:   dispatcher,
		resumeTokens: resumeTokens,
		cfg:          cfg,
		forceRefresh: make(chan struct{}, 1),
		cancels:      make(map[string]context.CancelFunc),
	}
	s.openCursor = s.openMongoCursor
	return s
}

func (s *Supervisor) openMongoCursor(ctx context.Context, database, collection string, resumeToken bson.Raw) (changeCursor, error) {
	coll := s.client.Database(database).Collection(collection)

	streamOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if resumeToken != nil {
		streamOpts = streamOpts.SetResumeAfter(resumeToken)
		slog.Info("resuming change stream from saved token", "database", database, "collection", collection)
	}

	return coll.Watch(ctx, mongo.Pipeline{}, streamOpts)
}

// ForceRefresh requests an out-of-cycle reconciliation, used as
// agentstore.Cache's OnChange hook so an agent mutation is picked up without
// waiting for the next periodic tick, matching _watch_agent_configs forcing
// refresh_watches() on every change event.
func (s *Supervisor) ForceRefresh() {
	select {
	case s.forceRefresh <- struct{}{}:
	default:
	}
}

// Start begins watching every currently-registered target and launches the
// periodic reconciliation loop. Intended as an election.Callbacks.OnElected
// hook; ctx should be a context cancelled on demotion or shutdown.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.stopOnce = sync.Once{}
	s.mu.Unlock()

	if err := s.Reconcile(ctx); err != nil {
		slog.Warn("initial watch reconciliation failed", "error", err)
	}

	s.wg.Add(1)
	go s.reconcileLoop(ctx)
}

// Stop cancels every open cursor and the reconciliation loop. Intended as an
// election.Callbacks.OnDemoted hook.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh := s.stopCh
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(stopCh) })
	s.wg.Wait()

	s.mu.Lock()
	for ns, cancel := range s.cancels {
		cancel()
		delete(s.cancels, ns)
	}
	s.mu.Unlock()
}

func (s *Supervisor) reconcileLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
		case <-s.forceRefresh:
		}

		if err := s.Reconcile(ctx); err != nil {
			slog.Warn("watch reconciliation failed", "error", err)
		}
	}
}

// Reconcile opens cursors for newly-watched namespaces and closes cursors
// for namespaces no longer watched by any agent, matching refresh_watches.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	targets, err := s.targets.GetAllWatchTargets(ctx, true)
	if err != nil {
		return err
	}

	wanted := make(map[string]agentstore.WatchTarget, len(targets))
	for _, t := range targets {
		wanted[namespaceKey(t.Database, t.Collection)] = t
	}

	s.mu.Lock()
	var toRemove []string
	for ns := range s.cancels {
		if _, ok := wanted[ns]; !ok {
			toRemove = append(toRemove, ns)
		}
	}
	var toAdd []agentstore.WatchTarget
	for ns, t := range wanted {
		if _, ok := s.cancels[ns]; !ok {
			toAdd = append(toAdd, t)
		}
	}
	s.mu.Unlock()

	for _, ns := range toRemove {
		s.stopWatch(ns)
	}
	for _, t := range toAdd {
		s.startWatch(ctx, t.Database, t.Collection)
	}

	if len(toAdd) > 0 || len(toRemove) > 0 {
		slog.Info("reconciled watch targets", "total", len(wanted), "added", len(toAdd), "removed", len(toRemove))
	}
	return nil
}

func (s *Supervisor) startWatch(parent context.Context, database, collection string) {
	ns := namespaceKey(database, collection)

	s.mu.Lock()
	if _, exists := s.cancels[ns]; exists {
		s.mu.Unlock()
		return
	}
	cursorCtx, cancel := context.WithCancel(parent)
	s.cancels[ns] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchLoop(cursorCtx, database, collection)
	}()
}

func (s *Supervisor) stopWatch(ns string) {
	s.mu.Lock()
	cancel, ok := s.cancels[ns]
	delete(s.cancels, ns)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// watchLoop tails one namespace's change stream, reconnecting with
// exponential backoff (capped at cfg.MaxDelay, ceiling cfg.MaxRetries) and
// always resuming from the latest saved token, matching _watch_loop.
func (s *Supervisor) watchLoop(ctx context.Context, database, collection string) {
	ns := namespaceKey(database, collection)
	watcherID := ns

	retries := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		resumeToken := s.loadResumeToken(ctx, watcherID)
		err := s.runCursor(ctx, database, collection, watcherID, resumeToken)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}

		retries++
		if retries > s.cfg.MaxRetries {
			slog.Error("max retries exceeded for change stream", "namespace", ns, "error", err)
			return
		}

		delay := backoffDelay(s.cfg.BaseDelay, s.cfg.MaxDelay, retries)
		slog.Warn("change stream error, retrying", "namespace", ns, "error", err, "retry", retries, "delay", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Supervisor) loadResumeToken(ctx context.Context, watcherID string) bson.Raw {
	rec, err := s.resumeTokens.Get(ctx, watcherID)
	if err != nil {
		slog.Warn("loading resume token failed, starting from now", "watcher_id", watcherID, "error", err)
		return nil
	}
	if rec == nil || rec.Token == nil {
		return nil
	}
	raw, err := bson.Marshal(rec.Token)
	if err != nil {
		slog.Warn("re-marshaling saved resume token failed, starting from now", "watcher_id", watcherID, "error", err)
		return nil
	}
	return raw
}

// runCursor opens a single change stream and drains it until it errors or
// ctx is cancelled. A nil return on clean cancellation ends the caller's
// watch loop; any other error counts as one retry there.
func (s *Supervisor) runCursor(ctx context.Context, database, collection, watcherID string, resumeToken bson.Raw) error {
	stream, err := s.openCursor(ctx, database, collection, resumeToken)
	if err != nil {
		return err
	}
	defer stream.Close(ctx)

	slog.Info("change stream opened", "database", database, "collection", collection)

	for stream.Next(ctx) {
		var raw bson.M
		if err := stream.Decode(&raw); err != nil {
			slog.Warn("failed to decode change event", "database", database, "collection", collection, "error", err)
			continue
		}
		s.handleChange(ctx, raw, database, collection, watcherID, stream.ResumeToken())
	}

	if err := stream.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

// handleChange parses a raw change document, saves its resume token *before*
// dispatch (so a crash mid-dispatch re-delivers rather than silently
// advancing past the event), then matches and dispatches, matching
// _handle_change's ordering.
func (s *Supervisor) handleChange(ctx context.Context, raw bson.M, database, collection, watcherID string, resumeToken bson.Raw) {
	event := parseChangeEvent(raw, database, collection)

	if resumeToken != nil {
		if err := s.resumeTokens.Save(ctx, watcherID, namespaceKey(database, collection), resumeToken); err != nil {
			slog.Warn("saving resume token failed", "watcher_id", watcherID, "error", err)
		}
	}

	matched := s.matcher.Match(event)
	if len(matched) == 0 {
		return
	}

	slog.Info("matched agents", "document_id", event.DocumentID(), "agent_count", len(matched))
	for _, agent := range matched {
		if _, err := s.dispatcher.Dispatch(ctx, agent, event); err != nil {
			slog.Error("dispatch failed", "agent_id", agent.ID, "document_id", event.DocumentID(), "error", err)
		}
	}
}

// parseChangeEvent translates a raw change-stream document into a
// model.ChangeEvent, coercing an unrecognized operation type to "update"
// per spec.md §4.4's failure semantics, matching _parse_change_event.
func parseChangeEvent(raw bson.M, database, collection string) *model.ChangeEvent {
	event := &model.ChangeEvent{
		Database:   database,
		Collection: collection,
		WallTime:   time.Now(),
	}

	if op, ok := raw["operationType"].(string); ok {
		event.Operation = model.NormalizedOperation(op)
	} else {
		event.Operation = model.OpUpdate
	}

	if dk, ok := raw["documentKey"].(bson.M); ok {
		event.DocumentKey = map[string]any(dk)
	}
	if fd, ok := raw["fullDocument"].(bson.M); ok {
		event.FullDocument = map[string]any(fd)
	}
	if ud, ok := raw["updateDescription"].(bson.M); ok {
		event.UpdateDescription = map[string]any(ud)
	}
	if ct, ok := raw["clusterTime"].(primitive.Timestamp); ok {
		event.ClusterTime = time.Unix(int64(ct.T), 0)
	}

	return event
}

func namespaceKey(database, collection string) string {
	return database + "." + collection
}

// backoffDelay computes an exponential backoff capped at maxDelay, matching
// min(base_delay * 2**retry_count, 60.0).
func backoffDelay(base, maxDelay time.Duration, retry int) time.Duration {
	d := base
	for i := 0; i < retry && d < maxDelay; i++ {
		d *= 2
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}
