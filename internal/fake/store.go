// Package fake はテスト用のインメモリなエンティティストアとアクティビティフィードを提供する。
// 障害注入と呼び出し記録を備え、コーディネーターの全体挙動をDBや外部サービスなしで検証できる。
package fake

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/repository"
)

type state struct {
	users      map[string]model.User
	tweets     map[string]model.Tweet
	followers  map[string]map[string]time.Time // user_id -> follower_id -> created_at
	followings map[string]map[string]time.Time // user_id -> following_id -> created_at
	likes      map[string]model.Like
	comments   map[string]model.Comment
	bookmarks  map[string]model.Bookmark
}

func newState() *state {
	return &state{
		users:      map[string]model.User{},
		tweets:     map[string]model.Tweet{},
		followers:  map[string]map[string]time.Time{},
		followings: map[string]map[string]time.Time{},
		likes:      map[string]model.Like{},
		comments:   map[string]model.Comment{},
		bookmarks:  map[string]model.Bookmark{},
	}
}

func (s *state) clone() *state {
	c := &state{
		users:      maps.Clone(s.users),
		tweets:     maps.Clone(s.tweets),
		followers:  make(map[string]map[string]time.Time, len(s.followers)),
		followings: make(map[string]map[string]time.Time, len(s.followings)),
		likes:      maps.Clone(s.likes),
		comments:   maps.Clone(s.comments),
		bookmarks:  maps.Clone(s.bookmarks),
	}
	for k, v := range s.followers {
		c.followers[k] = maps.Clone(v)
	}
	for k, v := range s.followings {
		c.followings[k] = maps.Clone(v)
	}
	return c
}

// Store はインメモリのエンティティストア。
// トランザクションは状態のコピーに対して実行し、成功時のみ差し替えるため全か無かで反映される。
type Store struct {
	txMu sync.Mutex // トランザクションを直列化する
	mu   sync.Mutex
	st   *state

	readErr   error
	commitErr error
	txCount   int
	beforeTx  func()
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{st: newState()}
}

// FailReads は以降の読み取りをerrで失敗させる。nilで解除する。
func (s *Store) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// FailCommits は以降のトランザクションをコミット時にerrで失敗させる。nilで解除する。
func (s *Store) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// BeforeNextTx は次のトランザクション開始直前に一度だけfnを実行する。
// 事前チェックとトランザクションの間に割り込む並行リクエストを再現するために使う。
func (s *Store) BeforeNextTx(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeTx = fn
}

// TxCount はコミットに成功したトランザクション数を返す。
func (s *Store) TxCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

// PutUser はユーザーを直接保存する。
func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

// PutTweet は投稿を直接保存する。
func (s *Store) PutTweet(t model.Tweet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.tweets[t.ID] = t
}

// PutFollowEdge はフォロー関係の片側または両側を直接保存する。カウンタは変更しない。
func (s *Store) PutFollowEdge(edge model.FollowEdge, followerSide, followingSide bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if followerSide {
		putEdge(s.st.followers, edge.FolloweeID, edge.FollowerID, edge.CreatedAt)
	}
	if followingSide {
		putEdge(s.st.followings, edge.FollowerID, edge.FolloweeID, edge.CreatedAt)
	}
}

// User は保存されているユーザーを返す。
func (s *Store) User(id string) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[id]
	return u, ok
}

// Tweet は保存されている投稿を返す。
func (s *Store) Tweet(id string) (model.Tweet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.tweets[id]
	return t, ok
}

// HasFollowerRow はuserIDのfollowersにfollowerIDの行があるかを返す。
func (s *Store) HasFollowerRow(userID, followerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.st.followers[userID][followerID]
	return ok
}

// HasFollowingRow はuserIDのfollowingsにfollowingIDの行があるかを返す。
func (s *Store) HasFollowingRow(userID, followingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.st.followings[userID][followingID]
	return ok
}

// LikeCount は保存されているいいね行数を返す。
func (s *Store) LikeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.likes)
}

// CommentCount は保存されているコメント行数を返す。
func (s *Store) CommentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.comments)
}

// BookmarkCount は保存されているブックマーク行数を返す。
func (s *Store) BookmarkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.bookmarks)
}

func putEdge(m map[string]map[string]time.Time, owner, other string, at time.Time) {
	if m[owner] == nil {
		m[owner] = map[string]time.Time{}
	}
	m[owner][other] = at
}

func (s *Store) read(fn func(st *state)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return s.readErr
	}
	fn(s.st)
	return nil
}

// WithinTx はfnを状態のコピーに対して実行し、成功時のみ反映する。
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	hook := s.beforeTx
	s.beforeTx = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	work := s.st.clone()
	s.mu.Unlock()

	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	s.st = work
	s.txCount++
	return nil
}

// Users はUserRepositoryを返す。
func (s *Store) Users() repository.UserRepository { return userRepo{s} }

// Tweets はTweetRepositoryを返す。
func (s *Store) Tweets() repository.TweetRepository { return tweetRepo{s} }

// Follows はFollowRepositoryを返す。
func (s *Store) Follows() repository.FollowRepository { return followRepo{s} }

// Likes はLikeRepositoryを返す。
func (s *Store) Likes() repository.LikeRepository { return likeRepo{s} }

// Comments はCommentRepositoryを返す。
func (s *Store) Comments() repository.CommentRepository { return commentRepo{s} }

// Bookmarks はBookmarkRepositoryを返す。
func (s *Store) Bookmarks() repository.BookmarkRepository { return bookmarkRepo{s} }

// --- read repositories ---

type userRepo struct{ s *Store }

func (r userRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	var out *model.User
	err := r.s.read(func(st *state) {
		if u, ok := st.users[id]; ok {
			out = &u
		}
	})
	return out, err
}

func (r userRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	var out *model.User
	err := r.s.read(func(st *state) {
		for _, u := range st.users {
			if u.Username == username {
				out = &u
				return
			}
		}
	})
	return out, err
}

func (r userRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.commitErr != nil {
		return r.s.commitErr
	}
	for _, u := range r.s.st.users {
		switch {
		case u.Username == user.Username:
			return repository.ErrDuplicateUsername
		case u.Email == user.Email:
			return repository.ErrDuplicateEmail
		case u.ID == user.ID:
			return repository.ErrDuplicate
		}
	}
	r.s.st.users[user.ID] = *user
	return nil
}

type tweetRepo struct{ s *Store }

func (r tweetRepo) FindByID(_ context.Context, id string) (*model.Tweet, error) {
	var out *model.Tweet
	err := r.s.read(func(st *state) {
		if t, ok := st.tweets[id]; ok {
			out = &t
		}
	})
	return out, err
}

type followRepo struct{ s *Store }

func (r followRepo) FindFollowing(_ context.Context, followerID, followeeID string) (*model.FollowEdge, error) {
	var out *model.FollowEdge
	err := r.s.read(func(st *state) {
		if at, ok := st.followings[followerID][followeeID]; ok {
			out = &model.FollowEdge{FollowerID: followerID, FolloweeID: followeeID, CreatedAt: at}
		}
	})
	return out, err
}

func (r followRepo) FindFollower(_ context.Context, userID, followerID string) (*model.FollowEdge, error) {
	var out *model.FollowEdge
	err := r.s.read(func(st *state) {
		if at, ok := st.followers[userID][followerID]; ok {
			out = &model.FollowEdge{FollowerID: followerID, FolloweeID: userID, CreatedAt: at}
		}
	})
	return out, err
}

func (r followRepo) ListFollowers(_ context.Context, userID string, after *repository.EdgeCursor, limit int) ([]model.FollowEdge, error) {
	var out []model.FollowEdge
	err := r.s.read(func(st *state) {
		for id, at := range st.followers[userID] {
			out = append(out, model.FollowEdge{FollowerID: id, FolloweeID: userID, CreatedAt: at})
		}
	})
	if err != nil {
		return nil, err
	}
	return pageEdges(out, func(e model.FollowEdge) string { return e.FollowerID }, after, limit), nil
}

func (r followRepo) ListFollowings(_ context.Context, userID string, after *repository.EdgeCursor, limit int) ([]model.FollowEdge, error) {
	var out []model.FollowEdge
	err := r.s.read(func(st *state) {
		for id, at := range st.followings[userID] {
			out = append(out, model.FollowEdge{FollowerID: userID, FolloweeID: id, CreatedAt: at})
		}
	})
	if err != nil {
		return nil, err
	}
	return pageEdges(out, func(e model.FollowEdge) string { return e.FolloweeID }, after, limit), nil
}

// pageEdges はcreated_at降順、相手ID降順に並べてカーソル以降のlimit件を返す。
func pageEdges(edges []model.FollowEdge, other func(model.FollowEdge) string, after *repository.EdgeCursor, limit int) []model.FollowEdge {
	slices.SortFunc(edges, func(a, b model.FollowEdge) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(other(b), other(a))
	})
	var out []model.FollowEdge
	for _, e := range edges {
		if after != nil {
			c := e.CreatedAt.Compare(after.CreatedAt)
			if c > 0 || (c == 0 && other(e) >= after.UserID) {
				continue
			}
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out
}

type likeRepo struct{ s *Store }

func (r likeRepo) FindByID(_ context.Context, id string) (*model.Like, error) {
	var out *model.Like
	err := r.s.read(func(st *state) {
		if l, ok := st.likes[id]; ok {
			out = &l
		}
	})
	return out, err
}

func (r likeRepo) FindByTweetAndAuthor(_ context.Context, tweetID, authorID string) (*model.Like, error) {
	var out *model.Like
	err := r.s.read(func(st *state) {
		for _, l := range st.likes {
			if l.TweetID == tweetID && l.AuthorID == authorID {
				out = &l
				return
			}
		}
	})
	return out, err
}

type commentRepo struct{ s *Store }

func (r commentRepo) FindByID(_ context.Context, id string) (*model.Comment, error) {
	var out *model.Comment
	err := r.s.read(func(st *state) {
		if c, ok := st.comments[id]; ok {
			out = &c
		}
	})
	return out, err
}

type bookmarkRepo struct{ s *Store }

func (r bookmarkRepo) FindByID(_ context.Context, id string) (*model.Bookmark, error) {
	var out *model.Bookmark
	err := r.s.read(func(st *state) {
		if b, ok := st.bookmarks[id]; ok {
			out = &b
		}
	})
	return out, err
}

func (r bookmarkRepo) FindByTweetAndAuthor(_ context.Context, tweetID, authorID string) (*model.Bookmark, error) {
	var out *model.Bookmark
	err := r.s.read(func(st *state) {
		for _, b := range st.bookmarks {
			if b.TweetID == tweetID && b.AuthorID == authorID {
				out = &b
				return
			}
		}
	})
	return out, err
}

// --- transaction ---

type tx struct {
	st *state
}

func (t *tx) FindUserForUpdate(_ context.Context, id string) (*model.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (t *tx) UpdateUserCounters(_ context.Context, id string, social model.SocialDetails, activity model.ActivityDetails) error {
	u, ok := t.st.users[id]
	if !ok {
		return nil
	}
	u.SocialDetails = social
	u.ActivityDetails = activity
	t.st.users[id] = u
	return nil
}

func (t *tx) FindTweetForUpdate(_ context.Context, id string) (*model.Tweet, error) {
	tw, ok := t.st.tweets[id]
	if !ok {
		return nil, nil
	}
	return &tw, nil
}

func (t *tx) UpdateTweetMeta(_ context.Context, id string, meta model.TweetMeta) error {
	tw, ok := t.st.tweets[id]
	if !ok {
		return nil
	}
	tw.Meta = meta
	t.st.tweets[id] = tw
	return nil
}

func (t *tx) CreateTweet(_ context.Context, tweet *model.Tweet) error {
	if _, ok := t.st.tweets[tweet.ID]; ok {
		return repository.ErrDuplicate
	}
	t.st.tweets[tweet.ID] = *tweet
	return nil
}

func (t *tx) MarkTweetDeleted(_ context.Context, id string, at time.Time) (bool, error) {
	tw, ok := t.st.tweets[id]
	if !ok || tw.DeletedAt != nil {
		return false, nil
	}
	tw.DeletedAt = &at
	t.st.tweets[id] = tw
	return true, nil
}

func (t *tx) CreateFollowEdge(_ context.Context, edge model.FollowEdge) error {
	if _, ok := t.st.followers[edge.FolloweeID][edge.FollowerID]; ok {
		return repository.ErrDuplicate
	}
	if _, ok := t.st.followings[edge.FollowerID][edge.FolloweeID]; ok {
		return repository.ErrDuplicate
	}
	putEdge(t.st.followers, edge.FolloweeID, edge.FollowerID, edge.CreatedAt)
	putEdge(t.st.followings, edge.FollowerID, edge.FolloweeID, edge.CreatedAt)
	return nil
}

func (t *tx) DeleteFollowEdge(_ context.Context, followerID, followeeID string) (bool, bool, error) {
	_, followerRemoved := t.st.followers[followeeID][followerID]
	_, followingRemoved := t.st.followings[followerID][followeeID]
	delete(t.st.followers[followeeID], followerID)
	delete(t.st.followings[followerID], followeeID)
	return followerRemoved, followingRemoved, nil
}

func (t *tx) CreateLike(_ context.Context, like *model.Like) error {
	for _, l := range t.st.likes {
		if l.ID == like.ID || (l.TweetID == like.TweetID && l.AuthorID == like.AuthorID) {
			return repository.ErrDuplicate
		}
	}
	t.st.likes[like.ID] = *like
	return nil
}

func (t *tx) DeleteLike(_ context.Context, id string) (bool, error) {
	_, ok := t.st.likes[id]
	delete(t.st.likes, id)
	return ok, nil
}

func (t *tx) CreateComment(_ context.Context, comment *model.Comment) error {
	if _, ok := t.st.comments[comment.ID]; ok {
		return repository.ErrDuplicate
	}
	t.st.comments[comment.ID] = *comment
	return nil
}

func (t *tx) DeleteComment(_ context.Context, id string) (bool, error) {
	_, ok := t.st.comments[id]
	delete(t.st.comments, id)
	return ok, nil
}

func (t *tx) CreateBookmark(_ context.Context, bookmark *model.Bookmark) error {
	for _, b := range t.st.bookmarks {
		if b.ID == bookmark.ID || (b.TweetID == bookmark.TweetID && b.AuthorID == bookmark.AuthorID) {
			return repository.ErrDuplicate
		}
	}
	t.st.bookmarks[bookmark.ID] = *bookmark
	return nil
}

func (t *tx) DeleteBookmark(_ context.Context, id string) (bool, error) {
	_, ok := t.st.bookmarks[id]
	delete(t.st.bookmarks, id)
	return ok, nil
}

var (
	_ repository.Transactor         = (*Store)(nil)
	_ repository.Tx                 = (*tx)(nil)
	_ repository.UserRepository     = userRepo{}
	_ repository.TweetRepository    = tweetRepo{}
	_ repository.FollowRepository   = followRepo{}
	_ repository.LikeRepository     = likeRepo{}
	_ repository.CommentRepository  = commentRepo{}
	_ repository.BookmarkRepository = bookmarkRepo{}
)
