package flows

import (
	"context"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/session"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Login.Accounts != nil &&
		s.deps.Login.Passwords != nil &&
		s.deps.Authenticate.Sessions != nil
}

func (s Service) Signup(ctx context.Context, tenantID, email, password string) (account.Account, error) {
	return RunSignup(ctx, tenantID, email, password, s.deps.Signup)
}

func (s Service) Login(ctx context.Context, tenantID, email, password string) (session.Issued, error) {
	return RunLogin(ctx, tenantID, email, password, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) (session.Issued, error) {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Authenticate(ctx context.Context, accessToken string) (session.Identity, error) {
	return RunAuthenticate(ctx, accessToken, s.deps.Authenticate)
}

func (s Service) Logout(ctx context.Context, sessionID string) error {
	return RunLogout(ctx, sessionID, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, accountID string) (int, error) {
	return RunLogoutAll(ctx, accountID, s.deps.Logout)
}

func (s Service) DisableAccount(ctx context.Context, accountID string) (account.Account, error) {
	return RunDisableAccount(ctx, accountID, s.deps.Account)
}

func (s Service) ChangePassword(ctx context.Context, tenantID, email, oldPassword, newPassword string) error {
	return RunChangePassword(ctx, tenantID, email, oldPassword, newPassword, s.deps.Account)
}
