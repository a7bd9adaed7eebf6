package repository

import (
	"errors"
	"strconv"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrDuplicate       = errors.New("record already exists")
	ErrUsernameExists  = errors.New("username already exists")
	ErrEmailExists     = errors.New("email already exists")
)

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
