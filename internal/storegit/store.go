package gitctx

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/fulmenhq/agentsync/pkg/logger"
)

var log = logger.Named("storegit")

// Store wraps the store's on-disk git repository: the durable backing for
// every file the sync engine mirrors from targets. It owns commit
// coalescing, HEAD content lookups, three-way merge, and remote
// pull/push, the git-shaped half of the spec's "Store git adapter".
//
// Grounded on the teacher's go-git usage in this package's
// gitctx_base.go (PlainOpenWithOptions, Worktree().Status(), CLI
// fallback via os/exec) — extended here from read-only change inspection
// to the full read/write adapter the sync engine drives.
type Store struct {
	root string
	repo *git.Repository

	mu             sync.Mutex
	commitDebounce time.Duration
	pendingMessage string
	hasPending     bool
	timer          *time.Timer
	commitErr      error
}

// DefaultCommitDebounce is how long QueueCommit waits for further calls
// before actually staging and committing, so that a burst of file
// writes from one reconciliation pass becomes a single commit.
const DefaultCommitDebounce = 500 * time.Millisecond

// Open opens the store's git repository at root, initializing a fresh one
// if none exists yet.
func Open(root string) (*Store, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		if err != git.ErrRepositoryNotExists {
			return nil, fmt.Errorf("open store repo: %w", err)
		}
		repo, err = git.PlainInit(root, false)
		if err != nil {
			return nil, fmt.Errorf("init store repo: %w", err)
		}
	}
	return &Store{root: root, repo: repo, commitDebounce: DefaultCommitDebounce}, nil
}

// Root returns the store's working tree path.
func (s *Store) Root() string { return s.root }

// QueueCommit stages all pending changes and schedules a commit after the
// debounce window. A call that arrives before the window elapses replaces
// the pending commit message (last message wins) and restarts the window,
// so a burst of reconciliation writes collapses into one commit.
func (s *Store) QueueCommit(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pendingMessage = message
	s.hasPending = true

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.commitDebounce, s.flush)
}

// Flush forces any pending coalesced commit to happen immediately,
// bypassing the debounce window. Returns the error from the last flush
// attempt, if any.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	pending := s.hasPending
	s.mu.Unlock()

	if pending {
		s.flush()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitErr
}

func (s *Store) flush() {
	s.mu.Lock()
	message := s.pendingMessage
	s.hasPending = false
	s.pendingMessage = ""
	s.mu.Unlock()

	err := s.commit(message)
	if err != nil {
		log.Error("commit failed, will retry on next mutation", zap.String("root", s.root), zap.Error(err))
	}

	s.mu.Lock()
	s.commitErr = err
	s.mu.Unlock()
}

func (s *Store) commit(message string) error {
	wt, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	if message == "" {
		message = "sync update"
	}
	_, err = wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "agentsync", When: time.Now()},
	})
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CommittedContent returns relativePath's content as of HEAD, or nil if
// HEAD has no commits yet or the path does not exist in the committed
// tree. This is the "base" side of a three-way merge: the common
// ancestor the engine compares store and target content against.
func (s *Store) CommittedContent(relativePath string) ([]byte, error) {
	head, err := s.repo.Head()
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("head: %w", err)
	}
	commit, err := s.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("commit object: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("tree: %w", err)
	}
	file, err := tree.File(path.Clean(filepath.ToSlash(relativePath)))
	if err != nil {
		if err == object.ErrFileNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("tree file %s: %w", relativePath, err)
	}
	content, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("file contents: %w", err)
	}
	return []byte(content), nil
}

// HeadHash returns the store repo's current HEAD commit hash as an
// opaque token, or "" if there is no commit yet. Callers use this as the
// pre-pull token to diff against after a pull completes.
func (s *Store) HeadHash() (string, error) {
	head, err := s.repo.Head()
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return "", nil
		}
		return "", fmt.Errorf("head: %w", err)
	}
	return head.Hash().String(), nil
}

// MergeResult is the outcome of a line-level three-way textual merge.
type MergeResult struct {
	Content      []byte
	HasConflicts bool
}

// ThreeWayMerge performs a line-level three-way merge of ours/theirs
// against base, with identical semantics to `git merge-file --stdout`:
// when a region conflicts, Content carries `<<<<<<<`/`=======`/`>>>>>>>`
// conflict markers and HasConflicts is true.
//
// Implemented by shelling out to the git CLI rather than reimplementing
// the merge algorithm, per the spec's explicit allowance for either
// approach; the teacher's CLI-fallback idiom (gitctx_base.go's
// runGit/runGitBytes) is reused as the model for invoking git here.
func ThreeWayMerge(base, ours, theirs []byte) (MergeResult, error) {
	dir, err := os.MkdirTemp("", "agentsync-merge-*")
	if err != nil {
		return MergeResult{}, fmt.Errorf("merge temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	baseFile := filepath.Join(dir, "base")
	oursFile := filepath.Join(dir, "ours")
	theirsFile := filepath.Join(dir, "theirs")
	for name, content := range map[string][]byte{baseFile: base, oursFile: ours, theirsFile: theirs} {
		if err := os.WriteFile(name, content, 0o600); err != nil {
			return MergeResult{}, fmt.Errorf("write %s: %w", name, err)
		}
	}

	cmd := exec.Command("git", "merge-file", "--stdout", oursFile, baseFile, theirsFile) // #nosec G204 -- fixed flags, args are our own temp file paths
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()

	exitErr, isExitErr := err.(*exec.ExitError)
	switch {
	case err == nil:
		return MergeResult{Content: stdout.Bytes(), HasConflicts: false}, nil
	case isExitErr && exitErr.ExitCode() >= 1 && exitErr.ExitCode() <= 127:
		// git merge-file exits with the number of conflicting regions
		// (capped at 127); only a negative status, seen here as 255, is an error.
		return MergeResult{Content: stdout.Bytes(), HasConflicts: true}, nil
	default:
		return MergeResult{}, fmt.Errorf("git merge-file: %w (%s)", err, stderr.String())
	}
}

// PullResult reports what happened during a Pull.
type PullResult struct {
	PreHash         string
	ConflictedFiles []string
}

// Pull fetches and merges the remote branch into the store's working
// tree. Textual conflicts are resolved with "ours" (the store's own
// pre-pull content wins at the git level); ConflictedFiles lists paths
// git flagged as conflicting so the caller can treat structured
// documents (machines.json, sync-settings.json) as conflicts requiring
// an application-level merge rather than accepting the raw "ours"
// resolution.
func (s *Store) Pull(ctx context.Context, remote string) (PullResult, error) {
	pre, err := s.HeadHash()
	if err != nil {
		return PullResult{}, err
	}
	result := PullResult{PreHash: pre}

	if remote == "" {
		remote = "origin"
	}
	if !s.hasRemote(remote) {
		return result, nil
	}

	fetch := exec.CommandContext(ctx, "git", "-C", s.root, "fetch", remote) // #nosec G204 -- remote is an operator-configured git remote name
	if out, err := fetch.CombinedOutput(); err != nil {
		return result, fmt.Errorf("git fetch: %w (%s)", err, string(out))
	}

	branch, err := s.currentBranch(ctx)
	if err != nil {
		return result, err
	}

	merge := exec.CommandContext(ctx, "git", "-C", s.root, "merge", "-X", "ours", //nolint:gosec // fixed subcommand, operator-controlled remote/branch
		"--no-edit", fmt.Sprintf("%s/%s", remote, branch))
	out, mergeErr := merge.CombinedOutput()
	conflicted, lsErr := s.conflictedFiles(ctx)
	if lsErr != nil {
		return result, lsErr
	}
	result.ConflictedFiles = conflicted

	if mergeErr != nil && len(conflicted) == 0 {
		return result, fmt.Errorf("git merge: %w (%s)", mergeErr, string(out))
	}
	return result, nil
}

// Push publishes the store's current branch to remote.
func (s *Store) Push(ctx context.Context, remote string) error {
	if remote == "" {
		remote = "origin"
	}
	if !s.hasRemote(remote) {
		return nil
	}
	cmd := exec.CommandContext(ctx, "git", "-C", s.root, "push", remote, "HEAD") // #nosec G204 -- remote is an operator-configured git remote name
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git push: %w (%s)", err, string(out))
	}
	return nil
}

func (s *Store) hasRemote(remote string) bool {
	cmd := exec.Command("git", "-C", s.root, "remote")
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.TrimSpace(line) == remote {
			return true
		}
	}
	return false
}

func (s *Store) currentBranch(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", s.root, "rev-parse", "--abbrev-ref", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (s *Store) conflictedFiles(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", s.root, "diff", "--name-only", "--diff-filter=U")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, filepath.ToSlash(line))
		}
	}
	return files, nil
}
