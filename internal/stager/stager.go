// Package stager implements the batch staging state machine: polling
// the download service for a set of files until each is either staged,
// discovered missing, or the overall wait ceiling is exceeded.
package stager

import (
	"context"
	"time"

	"github.com/ghga-de/ghga-connector/internal/downloadapi"
	"github.com/ghga-de/ghga-connector/internal/ghgaerrors"
	"github.com/ghga-de/ghga-connector/internal/logging"
)

// Outcome is the terminal result of staging a single file.
type Outcome struct {
	FileID string
	Object *downloadapi.DrsObject
	Err    error
}

// Stager tracks which files in a batch are staged, still waiting, or
// missing, and drives WorkOrderToken-authorized polling of the download
// service until the batch is resolved or the wait ceiling is hit.
type Stager struct {
	api         *downloadapi.Client
	logger      *logging.Logger
	maxWaitTime time.Duration

	staged            map[string]*downloadapi.DrsObject
	unstagedRetryTime map[string]time.Time
	missing           []string
	startedWaiting    time.Time
}

// New builds a Stager for the given file IDs.
func New(api *downloadapi.Client, logger *logging.Logger, maxWaitTime time.Duration, fileIDs []string) *Stager {
	unstaged := make(map[string]time.Time, len(fileIDs))
	now := time.Time{}
	for _, id := range fileIDs {
		unstaged[id] = now
	}
	return &Stager{
		api:               api,
		logger:            logger,
		maxWaitTime:       maxWaitTime,
		staged:            make(map[string]*downloadapi.DrsObject),
		unstagedRetryTime: unstaged,
	}
}

// Finished reports whether no file is left to poll and every staged file
// has been handed back by Run.
func (s *Stager) Finished() bool {
	return len(s.staged) == 0 && len(s.unstagedRetryTime) == 0
}

// tokenFn obtains a (possibly cache-busted) work-order token for a file.
type tokenFn func(ctx context.Context, fileID string, bustCache bool) (string, error)

// Run polls every unstaged file until each is staged or discovered
// missing and then returns one Outcome per file, or returns
// MaxWaitTimeExceededError once the configured max wait time has elapsed
// since polling began. onMissing is invoked once for each batch of files
// newly confirmed missing by a 404 (the "yes/no" prompt); returning false
// aborts the whole run with AbortBatchProcessError, matching the caller
// declining to proceed past unreachable files.
func (s *Stager) Run(ctx context.Context, getToken tokenFn, onMissing func(fileIDs []string) bool) ([]Outcome, error) {
	s.startedWaiting = timeNow()
	acknowledged := 0

	for len(s.unstagedRetryTime) > 0 {
		if timeNow().Sub(s.startedWaiting) > s.maxWaitTime {
			return nil, &ghgaerrors.MaxWaitTimeExceededError{MaxWaitTime: s.maxWaitTime.String()}
		}

		progressed := false

		for fileID, retryAt := range s.unstagedRetryTime {
			if timeNow().Before(retryAt) {
				continue
			}

			outcome, newRetryAt, err := s.pollOnce(ctx, getToken, fileID)

			switch {
			case err == nil && outcome != nil:
				delete(s.unstagedRetryTime, fileID)
				s.staged[fileID] = outcome
				progressed = true
			case isMissing(err):
				delete(s.unstagedRetryTime, fileID)
				s.missing = append(s.missing, fileID)
				progressed = true
			case err != nil:
				return nil, err
			default:
				s.unstagedRetryTime[fileID] = newRetryAt
			}
		}

		if len(s.missing) > acknowledged && onMissing != nil {
			if !onMissing(s.missing[acknowledged:]) {
				return nil, &ghgaerrors.AbortBatchProcessError{}
			}
			acknowledged = len(s.missing)
		}

		if !progressed {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}

	return s.results(), nil
}

func (s *Stager) pollOnce(ctx context.Context, getToken tokenFn, fileID string) (*downloadapi.DrsObject, time.Time, error) {
	result, err := s.api.GetDrsObject(ctx, fileID, downloadapi.TokenFn(getToken))
	if err != nil {
		return nil, time.Time{}, err
	}

	if result.Staged {
		return result.Object, time.Time{}, nil
	}

	return nil, timeNow().Add(result.RetryAfter), nil
}

func (s *Stager) results() []Outcome {
	outcomes := make([]Outcome, 0, len(s.staged)+len(s.missing))
	for id, obj := range s.staged {
		outcomes = append(outcomes, Outcome{FileID: id, Object: obj})
	}
	for _, id := range s.missing {
		outcomes = append(outcomes, Outcome{FileID: id, Err: &ghgaerrors.FileNotRegisteredError{FileID: id}})
	}
	s.staged = make(map[string]*downloadapi.DrsObject)
	return outcomes
}

func isMissing(err error) bool {
	var notRegistered *ghgaerrors.FileNotRegisteredError
	return asFileNotRegistered(err, &notRegistered)
}

func asFileNotRegistered(err error, target **ghgaerrors.FileNotRegisteredError) bool {
	e, ok := err.(*ghgaerrors.FileNotRegisteredError)
	if ok {
		*target = e
	}
	return ok
}

// timeNow is a seam for tests to control elapsed-time behavior.
var timeNow = time.Now
