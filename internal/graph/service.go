// Package graph はフォロー関係の作成・解除と存在確認を提供する。
// フィードの購読登録を先に行い、成功した場合のみストアのエッジとカウンタを1トランザクションで更新する。
package graph

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/chirp/internal/activity"
	"github.com/hitoshi/chirp/internal/counter"
	"github.com/hitoshi/chirp/internal/metrics"
	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/repository"
)

const (
	opFollow   = "follow"
	opUnfollow = "unfollow"
)

// Service はソーシャルグラフのコーディネーター。
type Service struct {
	users    repository.UserRepository
	follows  repository.FollowRepository
	tx       repository.Transactor
	feed     activity.Service
	counters *counter.Maintainer
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users repository.UserRepository,
	follows repository.FollowRepository,
	tx repository.Transactor,
	feed activity.Service,
	counters *counter.Maintainer,
	logger *slog.Logger,
	m metrics.MetricsCollector,
) *Service {
	return &Service{
		users:    users,
		follows:  follows,
		tx:       tx,
		feed:     feed,
		counters: counters,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Follow はfollowerIDがfolloweeIDをフォローする。
func (s *Service) Follow(ctx context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		s.metrics.RecordMutation(opFollow, metrics.OutcomeRejected)
		return model.NewFollowingOneselfForbiddenError()
	}

	if err := s.requireUsers(ctx, followerID, followeeID); err != nil {
		s.recordFailure(opFollow, err)
		return err
	}

	existing, err := s.IsFollowing(ctx, followerID, followeeID)
	if err != nil {
		s.recordFailure(opFollow, err)
		return err
	}
	if existing {
		s.metrics.RecordMutation(opFollow, metrics.OutcomeRejected)
		return model.NewRelationshipAlreadyExistsError()
	}

	if err := s.feed.Follow(ctx, activity.TimelineFeed(followerID), activity.UserFeed(followeeID)); err != nil {
		s.logger.Warn("タイムライン購読の登録に失敗しました",
			slog.String("follower_id", followerID),
			slog.String("followee_id", followeeID),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordMutation(opFollow, metrics.OutcomeFeedFailure)
		return model.NewFeedServiceError(err)
	}

	edge := model.FollowEdge{FollowerID: followerID, FolloweeID: followeeID, CreatedAt: s.now()}
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.CreateFollowEdge(ctx, edge); err != nil {
			return err
		}
		if err := s.counters.IncrementUser(ctx, tx, followeeID, counter.Followers); err != nil {
			return err
		}
		return s.counters.IncrementUser(ctx, tx, followerID, counter.Followings)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// 並行したfollowが先にエッジを作成した。購読は冪等なので不一致は生じない。
		s.metrics.RecordMutation(opFollow, metrics.OutcomeRejected)
		return model.NewRelationshipAlreadyExistsError()
	}
	if err != nil {
		return s.divergence(opFollow, followerID, followeeID, err)
	}

	s.metrics.RecordMutation(opFollow, metrics.OutcomeSuccess)
	s.logger.Info("フォローしました",
		slog.String("follower_id", followerID),
		slog.String("followee_id", followeeID),
	)
	return nil
}

// Unfollow はfollowerIDによるfolloweeIDのフォローを解除する。
// エッジの片側しか残っていない場合も解除を続行し、両側を削除する。
func (s *Service) Unfollow(ctx context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		s.metrics.RecordMutation(opUnfollow, metrics.OutcomeRejected)
		return model.NewUnfollowingOneselfForbiddenError()
	}

	following, err := s.IsFollowing(ctx, followerID, followeeID)
	if err != nil {
		s.recordFailure(opUnfollow, err)
		return err
	}
	follower, err := s.IsFollower(ctx, followeeID, followerID)
	if err != nil {
		s.recordFailure(opUnfollow, err)
		return err
	}
	if !following && !follower {
		s.metrics.RecordMutation(opUnfollow, metrics.OutcomeRejected)
		return model.NewRelationshipDoesNotExistError()
	}

	if err := s.feed.Unfollow(ctx, activity.TimelineFeed(followerID), activity.UserFeed(followeeID)); err != nil {
		s.logger.Warn("タイムライン購読の解除に失敗しました",
			slog.String("follower_id", followerID),
			slog.String("followee_id", followeeID),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordMutation(opUnfollow, metrics.OutcomeFeedFailure)
		return model.NewFeedServiceError(err)
	}

	// カウンタは実際に削除できた側だけ減らす。並行したunfollowが先に削除した場合は二重に減らさない。
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		followerRemoved, followingRemoved, err := tx.DeleteFollowEdge(ctx, followerID, followeeID)
		if err != nil {
			return err
		}
		if !followerRemoved && !followingRemoved {
			return model.NewRelationshipDoesNotExistError()
		}
		if followerRemoved {
			if err := s.counters.DecrementUser(ctx, tx, followeeID, counter.Followers); err != nil {
				return err
			}
		}
		if followingRemoved {
			return s.counters.DecrementUser(ctx, tx, followerID, counter.Followings)
		}
		return nil
	})
	if model.KindOf(err) == model.KindNotFound {
		s.metrics.RecordMutation(opUnfollow, metrics.OutcomeRejected)
		return err
	}
	if err != nil {
		return s.divergence(opUnfollow, followerID, followeeID, err)
	}

	s.metrics.RecordMutation(opUnfollow, metrics.OutcomeSuccess)
	s.logger.Info("フォローを解除しました",
		slog.String("follower_id", followerID),
		slog.String("followee_id", followeeID),
	)
	return nil
}

// IsFollowing はaがbをフォローしているか（aのfollowingsにbの行があるか）を返す。
func (s *Service) IsFollowing(ctx context.Context, a, b string) (bool, error) {
	edge, err := s.follows.FindFollowing(ctx, a, b)
	if err != nil {
		return false, model.NewStoreError(err)
	}
	return edge != nil, nil
}

// IsFollower はbがaのフォロワーであるか（aのfollowersにbの行があるか）を返す。
func (s *Service) IsFollower(ctx context.Context, a, b string) (bool, error) {
	edge, err := s.follows.FindFollower(ctx, a, b)
	if err != nil {
		return false, model.NewStoreError(err)
	}
	return edge != nil, nil
}

func (s *Service) requireUsers(ctx context.Context, followerID, followeeID string) error {
	follower, err := s.users.FindByID(ctx, followerID)
	if err != nil {
		return model.NewStoreError(err)
	}
	if follower == nil {
		return model.NewFollowerDoesNotExistError(followerID)
	}
	followee, err := s.users.FindByID(ctx, followeeID)
	if err != nil {
		return model.NewStoreError(err)
	}
	if followee == nil {
		return model.NewFolloweeDoesNotExistError(followeeID)
	}
	return nil
}

func (s *Service) recordFailure(op string, err error) {
	if model.KindOf(err) == model.KindExternalServiceFailure {
		s.metrics.RecordMutation(op, metrics.OutcomeStoreFailure)
		return
	}
	s.metrics.RecordMutation(op, metrics.OutcomeRejected)
}

// divergence はフィード更新後のストア失敗を記録する。補償処理は行わない。
func (s *Service) divergence(op, followerID, followeeID string, err error) error {
	s.logger.Error("フィード更新後にストア更新が失敗しました",
		slog.String("operation", op),
		slog.String("follower_id", followerID),
		slog.String("followee_id", followeeID),
		slog.String("error", err.Error()),
	)
	s.metrics.RecordDualWriteDivergence(op)
	s.metrics.RecordMutation(op, metrics.OutcomeStoreFailure)
	return model.NewStoreError(err)
}
