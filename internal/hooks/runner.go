// Package hooks runs user-provided Lua callbacks on fade lifecycle events.
// The script may define on_fade_started, on_fade_complete, on_fade_aborted
// and on_scene_applied; each receives a table describing the event. A "fade"
// module is exposed so hooks can chain further fades or scenes.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	glua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/fadectl/internal/eventbus"
	"github.com/dokzlo13/fadectl/internal/fade"
	"github.com/dokzlo13/fadectl/internal/scene"
)

// ErrRunnerClosed is returned when work is queued on a closed runner.
var ErrRunnerClosed = fmt.Errorf("hook runner closed")

// Work is a unit of execution on the Lua VM. All Lua access goes through
// the worker goroutine: the VM is not thread safe.
type Work func(ctx context.Context)

// Runner owns the Lua VM and its single worker goroutine.
type Runner struct {
	L      *glua.LState
	ctrl   *fade.Controller
	scenes *scene.Store

	workQueue chan Work

	closing   chan struct{}
	closeOnce sync.Once
}

// NewRunner creates a runner with the fade and log modules preloaded.
func NewRunner(ctrl *fade.Controller, scenes *scene.Store) *Runner {
	L := glua.NewState()

	r := &Runner{
		L:         L,
		ctrl:      ctrl,
		scenes:    scenes,
		workQueue: make(chan Work, 32),
		closing:   make(chan struct{}),
	}

	L.PreloadModule("log", logLoader)
	L.PreloadModule("fade", r.fadeLoader)

	return r
}

// LoadScript loads and executes the hook script. Must be called before Run.
func (r *Runner) LoadScript(path string) error {
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load hook script %s: %w", path, err)
	}
	log.Info().Str("script", path).Msg("Hook script loaded")
	return nil
}

// Run processes queued work until the context is cancelled. It is the only
// goroutine that touches the Lua state.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.closing:
			return
		case work := <-r.workQueue:
			work(ctx)
		}
	}
}

// Do queues work for the Lua worker without blocking. Returns false when the
// runner is closing or the queue is full.
func (r *Runner) Do(ctx context.Context, work Work) bool {
	select {
	case <-r.closing:
		log.Warn().Msg("Hook runner closing, dropping work")
		return false
	case <-ctx.Done():
		return false
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Hook queue full, dropping work")
		return false
	}
}

// Close stops accepting work and closes the Lua state.
func (r *Runner) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
	})
	r.L.Close()
}

// hookFunctions maps bus event types to Lua callback names.
var hookFunctions = map[eventbus.Type]string{
	eventbus.TypeFadeStarted:   "on_fade_started",
	eventbus.TypeFadeCompleted: "on_fade_complete",
	eventbus.TypeFadeAborted:   "on_fade_aborted",
	eventbus.TypeSceneApplied:  "on_scene_applied",
}

// RegisterHandlers subscribes the runner to all hookable event types.
func (r *Runner) RegisterHandlers(ctx context.Context, bus *eventbus.Bus) {
	for typ := range hookFunctions {
		typ := typ
		bus.Subscribe(typ, func(ev eventbus.Event) {
			r.Do(ctx, func(context.Context) {
				r.invokeHook(ev)
			})
		})
	}
}

// invokeHook calls the Lua callback for the event, if the script defines
// one. Runs on the Lua worker.
func (r *Runner) invokeHook(ev eventbus.Event) {
	name := hookFunctions[ev.Type]
	fn, ok := r.L.GetGlobal(name).(*glua.LFunction)
	if !ok {
		return
	}

	r.L.Push(fn)
	r.L.Push(mapToLuaTable(r.L, ev.Data))
	if err := r.L.PCall(1, 0, nil); err != nil {
		log.Error().Err(err).Str("hook", name).Msg("Hook failed")
	}
}
