package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Resolver derives the one durable conversation for a pair of participants.
// Lookup is symmetric: the pair is normalized before keying, and the
// repository's uniqueness constraint guarantees a creation race between two
// concurrent callers leaves exactly one row.
type Resolver struct {
	repo  Repository
	users UserDirectory
}

// NewResolver creates a new conversation resolver.
func NewResolver(repo Repository, users UserDirectory) *Resolver {
	return &Resolver{repo: repo, users: users}
}

// ResolveOrCreate returns the conversation between a and b, creating it if
// none exists. Only one-company-one-CFO pairs may converse; a violation
// returns ErrRoleMismatch and creates nothing. No message is written here.
func (r *Resolver) ResolveOrCreate(ctx context.Context, a, b string) (*Conversation, error) {
	if a == "" || b == "" {
		return nil, fmt.Errorf("both participants are required: %w", ErrNotFound)
	}
	if a == b {
		return nil, fmt.Errorf("cannot start a conversation with yourself: %w", ErrForbidden)
	}

	infoA, err := r.users.Lookup(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("lookup participant %s: %w", a, err)
	}
	infoB, err := r.users.Lookup(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("lookup participant %s: %w", b, err)
	}

	if !rolesCompatible(infoA.Role, infoB.Role) {
		return nil, ErrRoleMismatch
	}

	pa, pb := NormalizePair(a, b)
	conv, err := r.repo.GetConversationByPair(ctx, pa, pb)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup conversation: %w", err)
	}

	roleA, roleB := infoA.Role, infoB.Role
	if pa != a {
		roleA, roleB = roleB, roleA
	}

	now := time.Now().UTC()
	conv = &Conversation{
		ID:               uuid.NewString(),
		ParticipantA:     pa,
		ParticipantB:     pb,
		ParticipantARole: roleA,
		ParticipantBRole: roleB,
		Status:           StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = r.repo.CreateConversation(ctx, conv)
	if errors.Is(err, ErrConflict) {
		// Lost the creation race; the winner's row is the conversation.
		return r.repo.GetConversationByPair(ctx, pa, pb)
	}
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	log.Debug().
		Str("conversation_id", conv.ID).
		Str("participant_a", pa).
		Str("participant_b", pb).
		Msg("created conversation")

	return conv, nil
}

func rolesCompatible(a, b Role) bool {
	return (a == RoleCompany && b == RoleCFO) || (a == RoleCFO && b == RoleCompany)
}
