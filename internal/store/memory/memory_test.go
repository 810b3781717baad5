package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alphabot-ai/replay/internal/model"
	"github.com/alphabot-ai/replay/internal/store"
)

var _ store.Store = (*Store)(nil)

func TestConcurrentDuplicateReplies(t *testing.T) {
	st := New()
	ctx := context.Background()
	user, err := st.GetOrCreateUser(ctx, "0x4444444444444444444444444444444444444444")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	post := model.Post{AuthorID: user.ID, Content: "race"}
	if err := st.CreatePost(ctx, &post); err != nil {
		t.Fatalf("create post: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, dup int
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply := model.Reply{PostID: post.ID, AuthorID: user.ID, Content: "same", PaymentTxHash: "0xsame", PaymentAmount: "20000"}
			err := st.AddReply(ctx, &reply)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, store.ErrDuplicateReply):
				dup++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || dup != 15 {
		t.Fatalf("expected 1 insert and 15 duplicates, got %d and %d", ok, dup)
	}
	replies, _ := st.GetReplies(ctx, post.ID)
	if len(replies) != 1 {
		t.Fatalf("expected one stored reply, got %d", len(replies))
	}
}

func TestListPostsNewestFirstWithTotals(t *testing.T) {
	st := New()
	ctx := context.Background()
	user, _ := st.GetOrCreateUser(ctx, "0x5555555555555555555555555555555555555555")

	older := model.Post{AuthorID: user.ID, Content: "older"}
	newer := model.Post{AuthorID: user.ID, Content: "newer"}
	if err := st.CreatePost(ctx, &older); err != nil {
		t.Fatalf("create post: %v", err)
	}
	if err := st.CreatePost(ctx, &newer); err != nil {
		t.Fatalf("create post: %v", err)
	}
	for _, tx := range []string{"0x01", "0x02"} {
		r := model.Reply{PostID: older.ID, AuthorID: user.ID, Content: "tip", PaymentTxHash: tx, PaymentAmount: "20000"}
		if err := st.AddReply(ctx, &r); err != nil {
			t.Fatalf("add reply: %v", err)
		}
	}

	posts, err := st.ListPosts(ctx, store.PostListOpts{})
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	if len(posts) != 2 || posts[0].Content != "newer" {
		t.Fatalf("unexpected order: %+v", posts)
	}
	if posts[1].ReplyCount != 2 || posts[1].TotalTips != "40000" {
		t.Fatalf("unexpected totals: %+v", posts[1])
	}
	if posts[1].Author == nil || posts[1].Author.ID != user.ID {
		t.Fatalf("expected author on post")
	}
}

func TestGetPostMissing(t *testing.T) {
	st := New()
	if _, err := st.GetPost(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
