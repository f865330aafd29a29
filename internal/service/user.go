package service

import (
	"errors"
	"time"

	"chatserver/internal/auth"
	"chatserver/internal/config"
	"chatserver/internal/models"
	"chatserver/internal/store"
)

// UserService 封装用户相关的业务逻辑。
type UserService struct {
	store store.Store
	cfg   config.Config
}

func NewUserService(st store.Store, cfg config.Config) *UserService {
	return &UserService{store: st, cfg: cfg}
}

// RegisterResult 注册成功后返回的数据。
type RegisterResult struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Register 注册新用户。用户名出现在 ADMIN_USERNAMES 里即授予管理员角色。
func (s *UserService) Register(username, password string) (*RegisterResult, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	role := models.RoleUser
	for _, admin := range s.cfg.AdminUsernames {
		if username == admin {
			role = models.RoleAdmin
			break
		}
	}
	user := models.User{Username: username, PasswordHash: hash, Role: role}
	if err := s.store.CreateUser(&user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return &RegisterResult{ID: user.ID, Username: user.Username, Role: user.Role}, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         models.User `json:"-"`
}

// Login 校验用户名密码并签发 token 对。
func (s *UserService) Login(username, password string) (*LoginResult, error) {
	user, err := s.store.UserByUsername(username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(user.ID, user.Role, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := s.store.SaveRefreshToken(&models.RefreshToken{
		UserID: user.ID, Token: rt, ExpiresAt: exp,
	}); err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: at, RefreshToken: rt, User: *user}, nil
}

// RefreshResult 刷新 token 后返回的新 token 对。
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新）。
// 校验、吊销、写入在存储层一个事务内完成。
func (s *UserService) RefreshTokens(oldRT string) (*RefreshResult, error) {
	newRT, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	exp := now.Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	userID, err := s.store.RotateRefreshToken(oldRT, &models.RefreshToken{
		Token: newRT, ExpiresAt: exp,
	}, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	user, err := s.store.UserByID(userID)
	if err != nil {
		return nil, err
	}
	at, err := auth.GenerateAccessToken(user.ID, user.Role, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{AccessToken: at, RefreshToken: newRT}, nil
}
