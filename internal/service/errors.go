package service

import "errors"

// 业务层错误分类，handler 据此映射 HTTP 状态码：
// 400 / 401 / 403 / 404 / 409，其余一律 500。
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")

	// 沿用的登录语义错误。
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username taken")
)
