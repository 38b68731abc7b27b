package dbtest

import (
	"context"
	"testing"

	"github.com/imq-dev/imq/internal/domain/pullrequest"
	"github.com/imq-dev/imq/internal/domain/queue"
	"github.com/imq-dev/imq/internal/domain/repository"
	"github.com/imq-dev/imq/internal/port/database"
)

// RunComplianceTests runs the standard compliance suite against any
// database.Store implementation, mirroring internal/port/cache's
// RunComplianceTests. Every Store (MemStore, the sqlite adapter) must pass.
func RunComplianceTests(t *testing.T, s database.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("RepositoryRoundTrip", func(t *testing.T) {
		r, err := s.EnsureRepository(ctx, repository.Repository{
			Owner: "acme", Name: "widgets", FullName: "acme/widgets", DefaultBranch: "main",
		})
		if err != nil {
			t.Fatal(err)
		}
		again, err := s.EnsureRepository(ctx, repository.Repository{
			Owner: "acme", Name: "widgets", FullName: "acme/widgets", DefaultBranch: "main",
		})
		if err != nil {
			t.Fatal(err)
		}
		if again.ID != r.ID {
			t.Fatalf("EnsureRepository should be idempotent by FullName, got %s != %s", again.ID, r.ID)
		}
		got, err := s.GetRepositoryByFullName(ctx, "acme/widgets")
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != r.ID {
			t.Fatalf("round-trip mismatch")
		}
	})

	t.Run("QueueEntryLifecycle", func(t *testing.T) {
		repo, err := s.EnsureRepository(ctx, repository.Repository{FullName: "acme/lifecycle"})
		if err != nil {
			t.Fatal(err)
		}
		q, err := s.EnsureQueue(ctx, queue.Queue{RepositoryID: repo.ID, BaseBranch: "main"})
		if err != nil {
			t.Fatal(err)
		}

		pr1, err := s.UpsertPullRequest(ctx, pullrequest.PullRequest{RepositoryID: repo.ID, Number: 1, HeadSHA: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"})
		if err != nil {
			t.Fatal(err)
		}
		pr2, err := s.UpsertPullRequest(ctx, pullrequest.PullRequest{RepositoryID: repo.ID, Number: 2, HeadSHA: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"})
		if err != nil {
			t.Fatal(err)
		}

		e1, err := s.AppendEntry(ctx, queue.Entry{QueueID: q.ID, PullRequestID: pr1.ID})
		if err != nil {
			t.Fatal(err)
		}
		e2, err := s.AppendEntry(ctx, queue.Entry{QueueID: q.ID, PullRequestID: pr2.ID})
		if err != nil {
			t.Fatal(err)
		}
		if e1.Position != 0 || e2.Position != 1 {
			t.Fatalf("expected dense append order, got %d, %d", e1.Position, e2.Position)
		}

		entries, err := s.ListEntries(ctx, q.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !queue.ValidPositions(entries) {
			t.Fatalf("positions invalid after append: %+v", entries)
		}

		if err := s.RemoveEntry(ctx, e1.ID); err != nil {
			t.Fatal(err)
		}
		entries, err = s.ListEntries(ctx, q.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 || entries[0].Position != 0 {
			t.Fatalf("expected re-densified single entry at position 0, got %+v", entries)
		}
	})

	t.Run("ReorderIsAPermutation", func(t *testing.T) {
		repo, _ := s.EnsureRepository(ctx, repository.Repository{FullName: "acme/reorder"})
		q, _ := s.EnsureQueue(ctx, queue.Queue{RepositoryID: repo.ID, BaseBranch: "main"})
		ids := make([]string, 0, 3)
		for i := 1; i <= 3; i++ {
			pr, _ := s.UpsertPullRequest(ctx, pullrequest.PullRequest{RepositoryID: repo.ID, Number: i})
			e, err := s.AppendEntry(ctx, queue.Entry{QueueID: q.ID, PullRequestID: pr.ID})
			if err != nil {
				t.Fatal(err)
			}
			ids = append(ids, e.ID)
		}
		reversed := []string{ids[2], ids[1], ids[0]}
		out, err := s.ReorderEntries(ctx, q.ID, reversed)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != len(ids) {
			t.Fatalf("reorder changed entry count: %d != %d", len(out), len(ids))
		}
		seen := make(map[string]bool, len(out))
		for _, e := range out {
			seen[e.ID] = true
		}
		for _, id := range ids {
			if !seen[id] {
				t.Fatalf("reorder dropped entry %s", id)
			}
		}
	})
}
