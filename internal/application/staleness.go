package application

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/branchpanel/internal/domain/model"
	"github.com/ericfisherdev/branchpanel/internal/domain/port/driven"
)

const (
	// DefaultStaleThresholdDays is the commit age after which a branch is stale.
	DefaultStaleThresholdDays = 30

	staleCheckConcurrency = 8
)

// versionExemptPattern matches version branches that are never stale. Unlike
// versionSortPattern it accepts nested versions/<name>/v<ver> paths, and it
// does not accept a bare number such as "2.0".
var versionExemptPattern = regexp.MustCompile(`^(v\d+(\.\d+)*|versions(/[\w-]+)*/v?\d+(\.\d+)*|release/\d+(\.\d+)*)(-[\w\d]+)?$`)

// IsVersionBranch reports whether name is a version branch for staleness purposes.
func IsVersionBranch(name string) bool {
	return versionExemptPattern.MatchString(name)
}

// IsStaleExempt reports whether a branch name can never be flagged stale:
// version branches, master, main and develop*.
func IsStaleExempt(name string) bool {
	return IsVersionBranch(name) ||
		name == "master" ||
		name == "main" ||
		strings.HasPrefix(name, "develop")
}

// Compile-time interface satisfaction check.
var _ driven.CommitDater = TargetCommitDater{}

// TargetCommitDater dates a branch from the commit snapshot it was fetched
// with. It performs no I/O.
type TargetCommitDater struct{}

// LatestCommitDate parses the branch's target commit date.
func (TargetCommitDater) LatestCommitDate(_ context.Context, branch model.Branch) (time.Time, error) {
	return branch.CommittedAt()
}

// StalenessEvaluator flags branches whose latest commit is older than a
// threshold. Evaluation errors never flag a branch.
type StalenessEvaluator struct {
	dater driven.CommitDater
	now   func() time.Time
}

// NewStalenessEvaluator creates an evaluator that dates branches with dater.
// A nil dater uses TargetCommitDater.
func NewStalenessEvaluator(dater driven.CommitDater) *StalenessEvaluator {
	if dater == nil {
		dater = TargetCommitDater{}
	}
	return &StalenessEvaluator{
		dater: dater,
		now:   time.Now,
	}
}

// IsStale reports whether branch has had no commit within thresholdDays.
// thresholdDays <= 0 uses DefaultStaleThresholdDays.
func (e *StalenessEvaluator) IsStale(ctx context.Context, branch model.Branch, thresholdDays int) bool {
	if IsStaleExempt(branch.Name) {
		return false
	}
	if thresholdDays <= 0 {
		thresholdDays = DefaultStaleThresholdDays
	}

	latest, err := e.dater.LatestCommitDate(ctx, branch)
	if err != nil {
		slog.Debug("staleness check failed", "branch", branch.Name, "repo", branch.RepositorySlug, "error", err)
		return false
	}

	cutoff := e.now().AddDate(0, 0, -thresholdDays)
	return latest.Before(cutoff)
}

// StaleFlags evaluates branches concurrently and returns the flags in input order.
func (e *StalenessEvaluator) StaleFlags(ctx context.Context, branches []model.Branch, thresholdDays int) []bool {
	flags := make([]bool, len(branches))

	var g errgroup.Group
	g.SetLimit(staleCheckConcurrency)
	for i, b := range branches {
		if IsStaleExempt(b.Name) {
			continue
		}
		g.Go(func() error {
			flags[i] = e.IsStale(ctx, b, thresholdDays)
			return nil
		})
	}
	_ = g.Wait()

	return flags
}
