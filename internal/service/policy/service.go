// Package policy decides whether one user may call or message another based
// on the target's privacy rules and the relationship between them.
package policy

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"pulse-backend/internal/domain"
	"pulse-backend/pkg/constants"
	apperrors "pulse-backend/pkg/errors"
	"pulse-backend/pkg/logger"
)

// UserRepository interface
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
}

// RelationshipRepository interface
type RelationshipRepository interface {
	IsBlocked(ctx context.Context, a, b string) (bool, error)
	IsFollowing(ctx context.Context, follower, followee string) (bool, error)
}

// Service resolves allow rules
type Service struct {
	userRepo         UserRepository
	relationshipRepo RelationshipRepository
}

// NewService creates a new policy service
func NewService(userRepo UserRepository, relationshipRepo RelationshipRepository) *Service {
	return &Service{
		userRepo:         userRepo,
		relationshipRepo: relationshipRepo,
	}
}

// ResolveAllow reports whether actor passes target's rule. An empty rule
// means everyone; an unknown rule denies.
func (s *Service) ResolveAllow(ctx context.Context, rule, actor, target string) (bool, error) {
	if actor == target {
		return true, nil
	}

	switch rule {
	case "", constants.RuleEveryone:
		return true, nil
	case constants.RuleNobody:
		return false, nil
	case constants.RuleFollowers:
		return s.relationshipRepo.IsFollowing(ctx, actor, target)
	case constants.RuleFollowing:
		return s.relationshipRepo.IsFollowing(ctx, target, actor)
	case constants.RuleMutual:
		followsTarget, err := s.relationshipRepo.IsFollowing(ctx, actor, target)
		if err != nil || !followsTarget {
			return false, err
		}
		return s.relationshipRepo.IsFollowing(ctx, target, actor)
	default:
		logger.Warn("Unknown allow rule, denying",
			zap.String("rule", rule),
			zap.String("target", target))
		return false, nil
	}
}

// AllowCall reports whether caller may ring callee. A missing callee or a
// block in either direction is a plain "no".
func (s *Service) AllowCall(ctx context.Context, caller, callee string) (bool, error) {
	user, err := s.userRepo.FindByUsername(ctx, callee)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load callee: %w", err)
	}

	blocked, err := s.relationshipRepo.IsBlocked(ctx, caller, callee)
	if err != nil {
		return false, fmt.Errorf("failed to check block: %w", err)
	}
	if blocked {
		return false, nil
	}

	allowed, err := s.ResolveAllow(ctx, user.AllowCallsFrom, caller, callee)
	if err != nil {
		return false, fmt.Errorf("failed to resolve call policy: %w", err)
	}
	return allowed, nil
}

// AllowMessage checks that receiver exists, neither side blocked the other and
// the receiver's inbound-message rule admits sender. It returns the receiver.
func (s *Service) AllowMessage(ctx context.Context, sender, receiver string) (*domain.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, receiver)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, apperrors.UserNotFoundError()
		}
		return nil, apperrors.ServiceUnavailableError(fmt.Errorf("failed to load receiver: %w", err))
	}

	blocked, err := s.relationshipRepo.IsBlocked(ctx, sender, receiver)
	if err != nil {
		return nil, apperrors.ServiceUnavailableError(fmt.Errorf("failed to check block: %w", err))
	}
	if blocked {
		return nil, apperrors.BlockedError()
	}

	allowed, err := s.ResolveAllow(ctx, user.AllowMessagesFrom, sender, receiver)
	if err != nil {
		return nil, apperrors.ServiceUnavailableError(fmt.Errorf("failed to resolve message policy: %w", err))
	}
	if !allowed {
		return nil, apperrors.ForbiddenError("This user does not accept messages from you")
	}

	return user, nil
}
