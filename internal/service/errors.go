package service

import (
	"errors"

	"github.com/d60-Lab/socialfeed/internal/repository"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrCantVoteOnOwn   = errors.New("cannot vote on own post")
	ErrAlreadyVoted    = errors.New("already voted")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("already exists")
	ErrForbidden       = errors.New("forbidden")
)

// mapRepoErr 将存储层哨兵错误转换为领域错误
func mapRepoErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrDuplicate):
		return ErrConflict
	case errors.Is(err, repository.ErrVoteWindowClosed):
		return ErrAlreadyVoted
	}
	return err
}
