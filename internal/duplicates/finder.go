package duplicates

import (
	"context"

	"pkt.systems/crashtrace/internal/logx"
	"pkt.systems/crashtrace/schema"
	"pkt.systems/pslog"
)

// DefaultMaxChainHops bounds how many "duplicate of" links one candidate
// may follow.
const DefaultMaxChainHops = 32

// Tracker is the bug tracker the finder queries. Implementations are
// called from a single goroutine, one request at a time.
type Tracker interface {
	Comments(ctx context.Context, bugID int) ([]string, error)
	Bug(ctx context.Context, bugID int) (schema.Bug, error)
}

// Result is the outcome of a duplicate search. Duplicate is the first
// matched bug, which may itself be a duplicate; ParentDuplicate is the
// authoritative bug at the end of its chain. Zero means none found.
type Result struct {
	Duplicate       int
	ParentDuplicate int
	Status          schema.BugStatus
	Resolution      schema.BugResolution
}

// Found reports whether an authoritative bug was found.
func (r Result) Found() bool { return r.ParentDuplicate > 0 }

// Finder resolves whether a backtrace duplicates one of a list of
// candidate bugs.
type Finder struct {
	tracker Tracker
	maxHops int
	log     pslog.Logger
}

// Option configures a Finder.
type Option func(*Finder)

// WithMaxChainHops overrides DefaultMaxChainHops; values below one keep the default.
func WithMaxChainHops(hops int) Option {
	return func(f *Finder) {
		if hops > 0 {
			f.maxHops = hops
		}
	}
}

// WithLogger sets the finder logger.
func WithLogger(log pslog.Logger) Option {
	return func(f *Finder) { f.log = log }
}

// NewFinder constructs a Finder over tracker.
func NewFinder(tracker Tracker, opts ...Option) *Finder {
	f := &Finder{tracker: tracker, maxHops: DefaultMaxChainHops}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start runs Find in the background and delivers its result on the
// returned channel, which is closed afterwards.
func (f *Finder) Start(ctx context.Context, ours []schema.BacktraceLine, candidates []schema.Bug) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		out <- f.Find(ctx, ours, candidates)
	}()
	return out
}

// Find walks candidates in order. A candidate whose comments hold a
// perfect duplicate of ours is followed along its "duplicate of" chain
// until a bug with known status and resolution is reached. Fetch errors
// and inconclusive chains move on to the next candidate. Find never fails;
// a cancelled ctx ends the search with whatever was concluded so far.
func (f *Finder) Find(ctx context.Context, ours []schema.BacktraceLine, candidates []schema.Bug) Result {
	log := f.log
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	if log != nil {
		log.Debug("duplicate search start", "candidates", len(candidates), "lines", len(ours))
	}
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		if res, ok := f.resolve(ctx, logx.WithBug(log, candidate.ID), ours, candidate); ok {
			if log != nil {
				log.Info("duplicate found",
					"duplicate", res.Duplicate,
					"parent", res.ParentDuplicate,
					"status", res.Status.String(),
					"resolution", res.Resolution.String(),
				)
			}
			return res
		}
	}
	if log != nil {
		log.Debug("duplicate search exhausted", "candidates", len(candidates))
	}
	return Result{}
}

// resolve follows one candidate's chain. It reports ok only when an
// authoritative bug was reached.
func (f *Finder) resolve(ctx context.Context, log pslog.Logger, ours []schema.BacktraceLine, bug schema.Bug) (Result, bool) {
	var res Result
	visited := map[int]struct{}{}
	for hop := 0; ; hop++ {
		if hop > f.maxHops {
			if log != nil {
				log.Warn("duplicate chain too long", "hops", hop)
			}
			return Result{}, false
		}
		if _, seen := visited[bug.ID]; seen {
			if log != nil {
				log.Warn("duplicate chain cycle", "bug", bug.ID)
			}
			return Result{}, false
		}
		visited[bug.ID] = struct{}{}

		comments, err := f.tracker.Comments(ctx, bug.ID)
		if err != nil {
			if log != nil {
				log.Debug("duplicate comments fetch failed", "bug", bug.ID, "err", err)
			}
			return Result{}, false
		}
		rating := FindDuplicate(ours, Mine(comments))
		if rating != PerfectDuplicate {
			if log != nil {
				log.Debug("duplicate rating", "bug", bug.ID, "rating", rating.String())
			}
			return Result{}, false
		}

		switch {
		case bug.Resolution == schema.BugResolutionDuplicate:
			if res.Duplicate == 0 {
				res.Duplicate = bug.ID
			}
			if bug.DupeOf <= 0 {
				if log != nil {
					log.Debug("duplicate without target", "bug", bug.ID)
				}
				return Result{}, false
			}
			next, err := f.tracker.Bug(ctx, bug.DupeOf)
			if err != nil {
				if log != nil {
					log.Debug("duplicate bug fetch failed", "bug", bug.DupeOf, "err", err)
				}
				return Result{}, false
			}
			bug = next
		case bug.Status == schema.BugStatusUnknown || bug.Resolution == schema.BugResolutionUnknown:
			if log != nil {
				log.Debug("duplicate status unknown", "bug", bug.ID,
					"status", bug.Status.String(), "resolution", bug.Resolution.String())
			}
			return Result{}, false
		default:
			if res.Duplicate == 0 {
				res.Duplicate = bug.ID
			}
			res.ParentDuplicate = bug.ID
			res.Status = bug.Status
			res.Resolution = bug.Resolution
			return res, true
		}
	}
}
