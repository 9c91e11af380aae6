package models

import (
	"context"
	"strings"

	"github.com/mmdatafocus/stockcount_backend/utils"
)

// Actor is the explicit caller scope passed into every counting operation:
// which business (tenant) the call is for, who makes it, and in which role.
type Actor struct {
	BusinessId string
	UserId     int
	UserName   string
	Role       UserRole
}

func (a Actor) IsAdmin() bool { return a.Role == UserRoleAdmin }

func (a Actor) validate() error {
	if strings.TrimSpace(a.BusinessId) == "" {
		return authorizationDenied("business id is required")
	}
	if a.UserId <= 0 {
		return authorizationDenied("user id is required")
	}
	if !a.Role.IsValid() {
		return authorizationDenied("unknown role")
	}
	return nil
}

func (a Actor) RequireAdmin() error {
	if err := a.validate(); err != nil {
		return err
	}
	if !a.IsAdmin() {
		return authorizationDenied("administrator role required")
	}
	return nil
}

// ActorFromContext builds the actor the auth middleware put into ctx.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return Actor{}, false
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return Actor{}, false
	}
	role, _ := utils.GetRoleFromContext(ctx)
	name, _ := utils.GetUserNameFromContext(ctx)
	return Actor{
		BusinessId: businessId,
		UserId:     userId,
		UserName:   name,
		Role:       UserRole(role),
	}, true
}

// WithActor stores a's identity in ctx for the tenant guard and logging.
func WithActor(ctx context.Context, a Actor) context.Context {
	ctx = utils.SetBusinessIdInContext(ctx, a.BusinessId)
	ctx = utils.SetUserIdInContext(ctx, a.UserId)
	ctx = utils.SetUserNameInContext(ctx, a.UserName)
	return utils.SetRoleInContext(ctx, string(a.Role))
}
