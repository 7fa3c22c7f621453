package credential

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RefreshMargin access token 剩余有效期低于该值时刷新
const RefreshMargin = 2 * time.Hour

// TokenPair refresh 授权返回的令牌
type TokenPair struct {
	AccessToken  string
	RefreshToken string // 服务端轮换时才有
}

// Exchanger 用 refresh token 换取新的 access token
type Exchanger interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error)
}

// Refresher 在每次同步前确保 access token 足够新
type Refresher struct {
	store     *Store
	exchanger Exchanger
	logger    *zap.Logger
	now       func() time.Time
}

// NewRefresher 创建刷新器
func NewRefresher(store *Store, exchanger Exchanger, logger *zap.Logger) *Refresher {
	return &Refresher{
		store:     store,
		exchanger: exchanger,
		logger:    logger,
		now:       time.Now,
	}
}

// NeedsRefresh 判断当前 access token 是否需要刷新
func (r *Refresher) NeedsRefresh() bool {
	claims, err := DecodeClaims(r.store.AccessToken())
	if err != nil {
		r.logger.Warn("Access token not decodable, refreshing", zap.Error(err))
		return true
	}
	return claims.ExpiresAt.Sub(r.now()) < RefreshMargin
}

// EnsureFresh 必要时执行 refresh 授权，并立刻持久化、采用新令牌
func (r *Refresher) EnsureFresh(ctx context.Context) error {
	if !r.NeedsRefresh() {
		return nil
	}

	r.logger.Info("Access token expires soon, refreshing")

	pair, err := r.exchanger.ExchangeRefreshToken(ctx, r.store.RefreshToken())
	if err != nil {
		return fmt.Errorf("refresh access token: %w", err)
	}

	if err := r.store.Set(KindAccess, pair.AccessToken); err != nil {
		return err
	}
	if pair.RefreshToken != "" && pair.RefreshToken != r.store.RefreshToken() {
		if err := r.store.Set(KindRefresh, pair.RefreshToken); err != nil {
			return err
		}
		r.logger.Info("Stored rotated refresh token")
	}

	if claims, err := DecodeClaims(pair.AccessToken); err == nil {
		r.logger.Info("Access token refreshed", zap.Time("expires_at", claims.ExpiresAt))
	} else {
		r.logger.Info("Access token refreshed")
	}
	return nil
}
