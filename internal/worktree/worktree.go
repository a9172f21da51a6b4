// Package worktree maintains persistent bare clones and hands out detached
// worktrees for review runs. Checkouts for the same repository are
// serialized; worktrees are independent once created.
package worktree

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/pkg/errors"
	"github.com/grepiku/grepiku/pkg/logger"
)

const (
	// createRetries bounds retries on "already exists" worktree races.
	createRetries = 6
	// keepNewest worktrees per sha survive age-based pruning.
	keepNewest = 2
	// worktreesSuffix names the sibling directory holding worktrees.
	worktreesSuffix = "-worktrees"
)

var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Checkout describes one requested checkout.
type Checkout struct {
	Owner string
	Repo  string
	// HeadSHA is the revision to check out. Non-SHA values fall back to
	// origin/HEAD, then HEAD.
	HeadSHA string
	// CloneURL is the repository's https URL without credentials.
	CloneURL string
	// Token is embedded into the origin URL for fetches.
	Token string
}

// Manager owns the on-disk clone hierarchy under the repos directory.
type Manager struct {
	reposDir string
	maxAge   time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager builds a Manager from the workspace config.
func NewManager(cfg config.WorkspaceConfig) *Manager {
	return &Manager{
		reposDir: cfg.ReposDir,
		maxAge:   time.Duration(cfg.WorktreeMaxAgeHours) * time.Hour,
		locks:    make(map[string]*sync.Mutex),
	}
}

// repoLock returns the per-(owner, repo) mutex, creating it on first use.
// Holding it serializes bare-repo mutation for that repository.
func (m *Manager) repoLock(owner, repo string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := owner + "/" + repo
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

func (m *Manager) bareDir(owner, repo string) string {
	return filepath.Join(m.reposDir, owner, repo)
}

func (m *Manager) worktreesDir(owner, repo string) string {
	return m.bareDir(owner, repo) + worktreesSuffix
}

// EnsureCheckout guarantees a detached worktree at the requested revision
// and returns its path. The bare clone is created on first use and
// refreshed on every call.
func (m *Manager) EnsureCheckout(ctx context.Context, req Checkout) (string, error) {
	lock := m.repoLock(req.Owner, req.Repo)
	lock.Lock()
	defer lock.Unlock()

	bare := m.bareDir(req.Owner, req.Repo)
	origin, err := authenticatedURL(req.CloneURL, req.Token)
	if err != nil {
		return "", err
	}

	if _, statErr := os.Stat(filepath.Join(bare, "HEAD")); statErr != nil {
		if err := os.MkdirAll(filepath.Dir(bare), 0o755); err != nil {
			return "", errors.Wrap(errors.ErrCodeGitClone, "create repos dir", err)
		}
		// Mirror clones carry the +refs/*:refs/* refspec, so later
		// fetches actually move branch refs.
		if _, err := runGit(ctx, "", "clone", "--mirror", origin, bare); err != nil {
			return "", errors.Wrap(errors.ErrCodeGitClone, "clone bare repo", err)
		}
		logger.Info("Cloned bare repository",
			zap.String("owner", req.Owner),
			zap.String("repo", req.Repo),
		)
	} else {
		// Refresh credentials on every call; tokens rotate.
		if _, err := runGit(ctx, bare, "remote", "set-url", "origin", origin); err != nil {
			return "", errors.Wrap(errors.ErrCodeGitFetch, "set origin url", err)
		}
		if _, err := runGit(ctx, bare, "fetch", "--all", "--prune"); err != nil {
			return "", errors.Wrap(errors.ErrCodeGitFetch, "fetch", err)
		}
	}

	ref, err := m.resolveRef(ctx, bare, req.HeadSHA)
	if err != nil {
		return "", err
	}

	m.pruneSameSHA(req.Owner, req.Repo, ref)

	return m.addWorktree(ctx, bare, m.worktreesDir(req.Owner, req.Repo), ref)
}

// resolveRef resolves the checkout target: literal SHAs pass through,
// anything else falls back to origin/HEAD then HEAD.
func (m *Manager) resolveRef(ctx context.Context, bare, headSHA string) (string, error) {
	if IsLiteralSHA(headSHA) {
		return headSHA, nil
	}
	for _, candidate := range []string{"origin/HEAD", "HEAD"} {
		out, err := runGit(ctx, bare, "rev-parse", candidate)
		if err == nil {
			return strings.TrimSpace(out), nil
		}
	}
	return "", errors.New(errors.ErrCodeGitWorktree, "cannot resolve checkout ref "+headSHA)
}

// addWorktree creates a detached worktree, retrying on the "already
// exists" race when two runs pick the same directory name.
func (m *Manager) addWorktree(ctx context.Context, bare, worktrees, sha string) (string, error) {
	if err := os.MkdirAll(worktrees, 0o755); err != nil {
		return "", errors.Wrap(errors.ErrCodeGitWorktree, "create worktrees dir", err)
	}
	var lastErr error
	for attempt := 0; attempt < createRetries; attempt++ {
		dir := filepath.Join(worktrees, WorktreeDirName(sha, time.Now(), os.Getpid(), attempt))
		out, err := runGit(ctx, bare, "worktree", "add", "--detach", dir, sha)
		if err == nil {
			logger.Debug("Created worktree",
				zap.String("path", dir),
				zap.String("sha", sha),
			)
			return dir, nil
		}
		lastErr = err
		if !strings.Contains(out, "already exists") && !strings.Contains(err.Error(), "already exists") {
			break
		}
	}
	return "", errors.Wrap(errors.ErrCodeGitWorktree, "add worktree", lastErr)
}

// Diff produces the unified diff between two revisions from the bare clone.
// The triple-dot form diffs against the merge base, matching what reviewers
// see on the forge.
func (m *Manager) Diff(ctx context.Context, owner, repo, base, head string) (string, error) {
	lock := m.repoLock(owner, repo)
	lock.Lock()
	defer lock.Unlock()

	out, err := runGit(ctx, m.bareDir(owner, repo), "diff", "--no-color", "--no-ext-diff", base+"..."+head)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeGitDiff, "diff "+base+"..."+head, err)
	}
	return out, nil
}

// Remove detaches and deletes one worktree.
func (m *Manager) Remove(ctx context.Context, owner, repo, path string) error {
	lock := m.repoLock(owner, repo)
	lock.Lock()
	defer lock.Unlock()

	if _, err := runGit(ctx, m.bareDir(owner, repo), "worktree", "remove", "--force", path); err != nil {
		// The directory may already be gone; fall back to removal plus
		// metadata prune.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return errors.Wrap(errors.ErrCodeGitWorktree, "remove worktree", err)
		}
		_, _ = runGit(ctx, m.bareDir(owner, repo), "worktree", "prune")
	}
	return nil
}

// pruneSameSHA deletes aged-out worktrees of the same revision, keeping the
// newest ones. Failures only log; pruning is housekeeping.
func (m *Manager) pruneSameSHA(owner, repo, sha string) {
	worktrees := m.worktreesDir(owner, repo)
	entries, err := os.ReadDir(worktrees)
	if err != nil {
		return
	}
	type aged struct {
		name string
		mod  time.Time
	}
	var candidates []aged
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), sha+"-") {
			continue
		}
		info, ierr := e.Info()
		if ierr != nil {
			continue
		}
		candidates = append(candidates, aged{name: e.Name(), mod: info.ModTime()})
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].mod.After(candidates[b].mod) })

	now := time.Now()
	for i, c := range candidates {
		if i < keepNewest || now.Sub(c.mod) < m.maxAge {
			continue
		}
		path := filepath.Join(worktrees, c.name)
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("Failed to prune worktree",
				zap.String("path", path),
				zap.Error(err),
			)
			continue
		}
		logger.Debug("Pruned worktree", zap.String("path", path))
	}
}

// PruneAll sweeps every repository's worktrees; wired to the prune
// schedule.
func (m *Manager) PruneAll(ctx context.Context) {
	owners, err := os.ReadDir(m.reposDir)
	if err != nil {
		return
	}
	for _, owner := range owners {
		if !owner.IsDir() {
			continue
		}
		repos, err := os.ReadDir(filepath.Join(m.reposDir, owner.Name()))
		if err != nil {
			continue
		}
		for _, repo := range repos {
			name := repo.Name()
			if !strings.HasSuffix(name, worktreesSuffix) {
				continue
			}
			base := strings.TrimSuffix(name, worktreesSuffix)
			m.pruneByAge(owner.Name(), base)
			_, _ = runGit(ctx, m.bareDir(owner.Name(), base), "worktree", "prune")
		}
	}
}

// pruneByAge removes any worktree past the age cutoff, keeping the newest
// ones per sha.
func (m *Manager) pruneByAge(owner, repo string) {
	worktrees := m.worktreesDir(owner, repo)
	entries, err := os.ReadDir(worktrees)
	if err != nil {
		return
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sha := e.Name()
		if idx := strings.Index(sha, "-"); idx > 0 {
			sha = sha[:idx]
		}
		if seen[sha] {
			continue
		}
		seen[sha] = true
		m.pruneSameSHA(owner, repo, sha)
	}
}

// IsLiteralSHA reports whether ref is a full 40-hex revision.
func IsLiteralSHA(ref string) bool {
	return shaPattern.MatchString(ref)
}

// WorktreeDirName builds the collision-resistant directory name for one
// worktree: <sha>-<epoch>-<pid>-<attempt>.
func WorktreeDirName(sha string, now time.Time, pid, attempt int) string {
	return fmt.Sprintf("%s-%d-%d-%d", sha, now.Unix(), pid, attempt)
}

// authenticatedURL embeds an x-access-token credential into an http(s)
// clone URL. Other URL shapes (ssh, local paths) pass through untouched.
func authenticatedURL(cloneURL, token string) (string, error) {
	u, err := url.Parse(cloneURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		if token != "" && err != nil {
			return "", errors.Wrap(errors.ErrCodeValidation, "parse clone url", err)
		}
		return cloneURL, nil
	}
	if token != "" {
		u.User = url.UserPassword("x-access-token", token)
	}
	return u.String(), nil
}
