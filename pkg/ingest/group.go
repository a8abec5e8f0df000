package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrorMode selects how a fatal error affects the rest of a run.
type ErrorMode string

const (
	// ErrorModeFailFast returns the first fatal error and cancels outstanding work.
	ErrorModeFailFast ErrorMode = "fail-fast"
	// ErrorModeSettleAll waits for every task and returns all failures joined.
	ErrorModeSettleAll ErrorMode = "settle-all"
)

// ParseErrorMode parses a mode name. The empty string means fail-fast.
func ParseErrorMode(s string) (ErrorMode, error) {
	switch ErrorMode(s) {
	case "", ErrorModeFailFast:
		return ErrorModeFailFast, nil
	case ErrorModeSettleAll:
		return ErrorModeSettleAll, nil
	default:
		return "", fmt.Errorf("unknown error mode %q", s)
	}
}

// group joins one level of the fan-out.
type group interface {
	Go(fn func() error)
	Wait() error
}

// newGroup returns a group for mode and the context its tasks must use.
func newGroup(ctx context.Context, mode ErrorMode) (group, context.Context) {
	if mode == ErrorModeSettleAll {
		return &settleGroup{}, ctx
	}
	g, gctx := errgroup.WithContext(ctx)
	return g, gctx
}

// settleGroup runs every task to completion and collects all errors.
type settleGroup struct {
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

func (g *settleGroup) Go(fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(); err != nil {
			g.mu.Lock()
			g.errs = append(g.errs, err)
			g.mu.Unlock()
		}
	}()
}

func (g *settleGroup) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Join(g.errs...)
}
