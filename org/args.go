package org

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/jacentio/canopy/apierr"
)

// CreateArgs create an organization.
type CreateArgs struct {
	Name string `json:"name" validate:"required,max=100"`
	Slug string `json:"slug" validate:"required,slug"`
}

// UpdateArgs rename an organization or change its slug.
type UpdateArgs struct {
	OrgID string  `json:"orgId" validate:"required"`
	Name  *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Slug  *string `json:"slug,omitempty" validate:"omitempty,slug"`
}

// OrgArgs name an organization.
type OrgArgs struct {
	OrgID string `json:"orgId" validate:"required"`
}

// SlugArgs name an organization by slug.
type SlugArgs struct {
	Slug string `json:"slug" validate:"required"`
}

// MemberArgs name a member of an organization.
type MemberArgs struct {
	OrgID  string `json:"orgId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

// SetAdminArgs change a member's admin flag.
type SetAdminArgs struct {
	OrgID   string `json:"orgId" validate:"required"`
	UserID  string `json:"userId" validate:"required"`
	IsAdmin bool   `json:"isAdmin"`
}

// InviteArgs invite someone by email.
type InviteArgs struct {
	OrgID   string `json:"orgId" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	IsAdmin bool   `json:"isAdmin"`
}

// TokenArgs carry an invite token.
type TokenArgs struct {
	Token string `json:"token" validate:"required"`
}

// InviteIDArgs name an invite.
type InviteIDArgs struct {
	OrgID    string `json:"orgId" validate:"required"`
	InviteID string `json:"inviteId" validate:"required"`
}

// JoinArgs ask to join an organization.
type JoinArgs struct {
	OrgID   string `json:"orgId" validate:"required"`
	Message string `json:"message,omitempty" validate:"max=500"`
}

// RequestArgs name a join request.
type RequestArgs struct {
	OrgID     string `json:"orgId" validate:"required"`
	RequestID string `json:"requestId" validate:"required"`
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
			return slugPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// check validates args, reporting VALIDATION_FAILED with per-field messages.
func check(args any) error {
	err := validatorInstance().Struct(args)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		fields[fe.Field()] = msg
	}
	return apierr.New(apierr.ValidationFailed, "").WithFieldErrors(fields)
}
