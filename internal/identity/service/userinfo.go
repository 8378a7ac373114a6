package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/aussiebroadwan/nativeid/pkg/jwtx"
)

// UserInfo is the OIDC userinfo response. Only sub is unconditional.
type UserInfo struct {
	Subject string `json:"sub"`
	jwtx.ProfileClaims
}

type UserInfoService struct {
	Store    store.Store
	Consents *ConsentService
	Clock    Clock
}

// GetUserInfo resolves the claims an access token may see. The token must belong to an exchanged
// authorization, be unexpired and still be covered by the user's consent.
func (s *UserInfoService) GetUserInfo(ctx context.Context, accessToken string) (UserInfo, error) {
	now := s.Clock.Now()
	if accessToken == "" {
		return UserInfo{}, domain.NotAuthenticated("access token required")
	}

	authz, err := s.Store.Authorizations().GetByAccessToken(ctx, cryptox.FingerprintToken(accessToken))
	if errors.Is(err, store.ErrNotFound) {
		return UserInfo{}, domain.NotAuthenticated("invalid access token")
	}
	if err != nil {
		return UserInfo{}, fmt.Errorf("load authorization: %w", err)
	}
	// Tokens are only recorded by a successful exchange or refresh.
	if !authz.AccessValid(now) {
		return UserInfo{}, domain.NotAuthenticated("invalid access token")
	}

	consented, err := s.Consents.HasConsented(ctx, authz.ClientID, authz.UserID, authz.Scopes)
	if err != nil {
		return UserInfo{}, err
	}
	if !consented {
		return UserInfo{}, domain.Forbidden("consent has been withdrawn")
	}

	user, err := s.Store.Users().GetUserByID(ctx, authz.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return UserInfo{}, domain.NotAuthenticated("invalid access token")
	}
	if err != nil {
		return UserInfo{}, fmt.Errorf("load user: %w", err)
	}
	if user.IsSuspended() {
		return UserInfo{}, domain.NotAuthenticated("invalid access token")
	}

	info := UserInfo{Subject: user.ID}
	profile, err := s.Store.Profiles().GetProfile(ctx, user.ID)
	switch {
	case err == nil:
		info.ProfileClaims = ProfileClaims(user, &profile, authz.Scopes)
	case !errors.Is(err, store.ErrNotFound):
		return UserInfo{}, fmt.Errorf("load profile: %w", err)
	}
	return info, nil
}
