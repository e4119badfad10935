package gitops

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// initTestRepo creates a throwaway repository with one committed file and
// returns its root. Skips when git is not installed.
func initTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	root := t.TempDir()
	mustGit(t, root, "init", "-b", "main")
	mustGit(t, root, "config", "user.name", "test")
	mustGit(t, root, "config", "user.email", "test@example.com")

	path := filepath.Join(root, "parser.py")
	require.NoError(t, os.WriteFile(path, []byte("VERSION = 1\n"), 0o644))
	mustGit(t, root, "add", ".")
	mustGit(t, root, "commit", "-m", "initial")
	return root
}

func mustGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func TestOpen(t *testing.T) {
	root := initTestRepo(t)

	repo, err := Open(root, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "main", repo.Trunk())

	current, err := repo.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "main", current)
}

func TestOpen_NotARepo(t *testing.T) {
	_, err := Open(t.TempDir(), zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestCreateCommitMerge(t *testing.T) {
	root := initTestRepo(t)
	repo, err := Open(root, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, repo.CreateBranch(ctx, "self-heal/add-format/20260830_120000"))
	assert.True(t, repo.BranchExists("self-heal/add-format/20260830_120000"))

	path := filepath.Join(root, "parser.py")
	require.NoError(t, os.WriteFile(path, []byte("VERSION = 2\n"), 0o644))

	hash, err := repo.Commit(ctx, path, "Self-heal: bump version")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	require.NoError(t, repo.MergeToTrunk(ctx, "self-heal/add-format/20260830_120000", "Self-heal: merge fix"))

	current, err := repo.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "main", current)

	merged, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "VERSION = 2\n", string(merged))
}

func TestDiscardBranch(t *testing.T) {
	root := initTestRepo(t)
	repo, err := Open(root, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, repo.CreateBranch(ctx, "self-heal/boundary-nudge/x"))

	// Committed work on the branch disappears with it.
	path := filepath.Join(root, "parser.py")
	require.NoError(t, os.WriteFile(path, []byte("VERSION = 99\n"), 0o644))
	_, err = repo.Commit(ctx, path, "bad fix")
	require.NoError(t, err)

	require.NoError(t, repo.DiscardBranch(ctx, "self-heal/boundary-nudge/x"))
	assert.False(t, repo.BranchExists("self-heal/boundary-nudge/x"))

	current, err := repo.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "main", current)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "VERSION = 1\n", string(content))
}

func TestDiscardBranch_MissingIsNoOp(t *testing.T) {
	root := initTestRepo(t)
	repo, err := Open(root, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.NoError(t, repo.DiscardBranch(context.Background(), "self-heal/never-created"))
}

func TestMergeToTrunk_MissingIsNoOp(t *testing.T) {
	root := initTestRepo(t)
	repo, err := Open(root, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.NoError(t, repo.MergeToTrunk(context.Background(), "self-heal/never-created", ""))
}
