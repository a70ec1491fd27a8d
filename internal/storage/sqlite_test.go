package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	logx "relaybot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "relay.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateMessageDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateMessage(ctx, "100-1", "Hello world", 7); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	err := s.CreateMessage(ctx, "100-1", "other text", 8)
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	// Distinct origin coordinates never collide.
	if err := s.CreateMessage(ctx, "100-2", "Hello again", 7); err != nil {
		t.Fatalf("CreateMessage second id: %v", err)
	}
}

func TestAppendCommentUnknownID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, err := s.AppendComment(ctx, "999-999", 5, "lost comment")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// The failed append must not have written anything that a later create
	// could pick up.
	if err := s.CreateMessage(ctx, "999-999", "late message", 5); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	th, err := s.GetThreadForOwner(ctx, "999-999", 5)
	if err != nil {
		t.Fatalf("GetThreadForOwner: %v", err)
	}
	if len(th.Comments) != 0 {
		t.Fatalf("expected no comments, got %d", len(th.Comments))
	}
}

func TestThreadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateMessage(ctx, "42-7", "Hello world", 1); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	orig, comments, err := s.AppendComment(ctx, "42-7", 2, "nice!")
	if err != nil {
		t.Fatalf("AppendComment: %v", err)
	}
	if orig != "Hello world" {
		t.Fatalf("original = %q, want %q", orig, "Hello world")
	}
	if len(comments) != 1 || comments[0].Body != "nice!" {
		t.Fatalf("unexpected comments after first append: %+v", comments)
	}

	_, comments, err = s.AppendComment(ctx, "42-7", 3, "agreed")
	if err != nil {
		t.Fatalf("AppendComment: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(comments))
	}

	th, err := s.GetThreadForOwner(ctx, "42-7", 1)
	if err != nil {
		t.Fatalf("GetThreadForOwner: %v", err)
	}
	if th.Original != "Hello world" {
		t.Fatalf("original mutated: %q", th.Original)
	}
	if len(th.Comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(th.Comments))
	}
	if th.Comments[0].Body != "nice!" || th.Comments[1].Body != "agreed" {
		t.Fatalf("comments out of order: %+v", th.Comments)
	}
	if th.Comments[0].AuthorID != 2 || th.Comments[1].AuthorID != 3 {
		t.Fatalf("comment authors wrong: %+v", th.Comments)
	}
}

func TestOwnershipHiding(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateMessage(ctx, "1-1", "mine", 10); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	// Missing identifier and foreign-owned identifier must be observably
	// identical to the caller.
	_, errMissing := s.GetThreadForOwner(ctx, "no-such", 11)
	_, errForeign := s.GetThreadForOwner(ctx, "1-1", 11)
	if !errors.Is(errMissing, ErrNotFound) {
		t.Fatalf("missing id: expected ErrNotFound, got %v", errMissing)
	}
	if !errors.Is(errForeign, ErrNotFound) {
		t.Fatalf("foreign id: expected ErrNotFound, got %v", errForeign)
	}
	if errMissing.Error() != errForeign.Error() {
		t.Fatalf("errors differ: %v vs %v", errMissing, errForeign)
	}
}

func TestListByOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	list, err := s.ListByOwner(ctx, 99)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d entries", len(list))
	}

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("5-%d", i)
		if err := s.CreateMessage(ctx, id, fmt.Sprintf("msg %d", i), 99); err != nil {
			t.Fatalf("CreateMessage %s: %v", id, err)
		}
	}
	// Another owner's message must not leak into the listing.
	if err := s.CreateMessage(ctx, "6-1", "not yours", 100); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	list, err = s.ListByOwner(ctx, 99)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(list))
	}
	for i, m := range list {
		want := fmt.Sprintf("5-%d", i+1)
		if m.UniqueID != want {
			t.Fatalf("entry %d: id = %q, want %q (creation order)", i, m.UniqueID, want)
		}
	}
}

func TestFindPublic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.FindPublic(ctx, "absent")
	if err != nil {
		t.Fatalf("FindPublic absent: %v", err)
	}
	if ok {
		t.Fatal("expected no match for absent id")
	}

	if err := s.CreateMessage(ctx, "77-3", "shared text", 4); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	m, ok, err := s.FindPublic(ctx, "77-3")
	if err != nil || !ok {
		t.Fatalf("FindPublic: ok=%v err=%v", ok, err)
	}
	if m.Original != "shared text" {
		t.Fatalf("original = %q", m.Original)
	}
}

func TestConcurrentAppends(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateMessage(ctx, "9-9", "contested", 1); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.AppendComment(ctx, "9-9", int64(i), fmt.Sprintf("comment-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("AppendComment: %v", err)
		}
	}

	th, err := s.GetThreadForOwner(ctx, "9-9", 1)
	if err != nil {
		t.Fatalf("GetThreadForOwner: %v", err)
	}
	if len(th.Comments) != n {
		t.Fatalf("lost updates: %d comments, want %d", len(th.Comments), n)
	}
	seen := map[string]bool{}
	for _, c := range th.Comments {
		seen[c.Body] = true
	}
	for i := 0; i < n; i++ {
		if !seen[fmt.Sprintf("comment-%d", i)] {
			t.Fatalf("comment-%d missing from final thread", i)
		}
	}
}

func TestCommandCounter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.IncrementCommand(ctx, "view"); err != nil {
		t.Fatalf("IncrementCommand: %v", err)
	}

	const k = 50
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.IncrementCommand(ctx, "comment")
		}()
	}
	wg.Wait()

	counts, err := s.CommandCounts(ctx)
	if err != nil {
		t.Fatalf("CommandCounts: %v", err)
	}
	got := map[string]int64{}
	for _, c := range counts {
		got[c.Command] = c.Count
	}
	if got["view"] != 1 {
		t.Fatalf("view count = %d, want 1", got["view"])
	}
	if got["comment"] != k {
		t.Fatalf("comment count = %d, want %d (no lost increments)", got["comment"], k)
	}
}
