package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/rimuz-hub/Tether-Middleman/internal/ticket"
)

// Entry is one recorded lifecycle transition.
type Entry struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service keeps a tamper-evident history of ticket states, one git
// repository per ticket. Every lifecycle transition commits the full
// ticket snapshot.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a ledger rooted at baseDir. Repositories are created lazily
// on first snapshot.
func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// RecordSnapshot commits the ticket's current state. The repository is
// initialized on first use. Identical consecutive snapshots still commit
// so that the transition message is preserved.
func (s *Service) RecordSnapshot(t ticket.Ticket, actor, message string) (Entry, error) {
	if s == nil {
		return Entry{}, nil
	}

	lock := s.ticketLock(t.ID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(t.ID)
	if err != nil {
		return Entry{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Entry{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return Entry{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, "ticket.json"), append(payload, '\n'), 0o644); err != nil {
		return Entry{}, fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := worktree.Add("ticket.json"); err != nil {
		return Entry{}, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  actor,
			Email: fmt.Sprintf("%s@local.middleman.dev", sanitizeEmail(actor)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("commit snapshot: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Entry{}, fmt.Errorf("read commit object: %w", err)
	}
	return toEntry(commitObj), nil
}

// History returns the most recent transitions for a ticket, newest first.
// A missing repository yields an empty history, not an error.
func (s *Service) History(ticketID string, limit int) ([]Entry, error) {
	if s == nil {
		return []Entry{}, nil
	}

	lock := s.ticketLock(ticketID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(ticketID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	entries := make([]Entry, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		entries = append(entries, toEntry(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return entries, nil
}

// SnapshotAt returns the ticket state recorded at a given commit.
func (s *Service) SnapshotAt(ticketID, hash string) (ticket.Ticket, error) {
	if s == nil {
		return ticket.Ticket{}, fmt.Errorf("ledger not configured")
	}

	lock := s.ticketLock(ticketID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(ticketID))
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("open repo: %w", err)
	}

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return ticket.Ticket{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readSnapshotFromCommit(commitObj)
}

func (s *Service) ensureRepo(ticketID string) (*git.Repository, error) {
	path := s.repoPath(ticketID)
	if _, err := os.Stat(path); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return nil, fmt.Errorf("open repo: %w", err)
		}
		return repo, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(ticketID string) string {
	return filepath.Join(s.baseDir, ticketID)
}

func (s *Service) ticketLock(ticketID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[ticketID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[ticketID] = lock
	return lock
}

func readSnapshotFromCommit(commitObj *object.Commit) (ticket.Ticket, error) {
	file, err := commitObj.File("ticket.json")
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("load ticket.json from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("read snapshot bytes: %w", err)
	}

	var t ticket.Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return ticket.Ticket{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return t, nil
}

func toEntry(commitObj *object.Commit) Entry {
	return Entry{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Actor:     commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
