package service

import (
	"fmt"
	"io"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/socialfeed/internal/model"
)

var usernamePattern = regexp.MustCompile(`^\w{3,16}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

func validateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}

type CreateUserInput struct {
	Username string `validate:"required,username"`
	Email    string `validate:"required,email,max=254"`
	// Active 为 true 时跳过激活流程
	Active bool
}

type CreatePostInput struct {
	AuthorID   string           `validate:"required"`
	Body       string           `validate:"required,max=5000"`
	Permission model.Permission `validate:"gte=0,lte=2"`
	Media      io.Reader        `validate:"-"`
}

type CreateReplyInput struct {
	AuthorID string    `validate:"required"`
	ParentID string    `validate:"required"`
	Body     string    `validate:"required,max=5000"`
	Media    io.Reader `validate:"-"`
}

type VoteInput struct {
	VoterID string `validate:"required"`
	PostID  string `validate:"required"`
	Amount  int    `validate:"oneof=-1 1"`
}
