package directory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/callerr"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
)

type staticChat struct {
	chat    types.Chat
	members []types.UserID
}

// Static is an in-memory directory for development mode and tests.
//
// In open mode every user id resolves (and is remembered) and any two known
// users share a private chat, so a local setup works without seeding.
type Static struct {
	mu    sync.RWMutex
	open  bool
	users map[types.UserID]types.User
	chats []staticChat
}

// NewStatic returns an empty directory that only knows what it is told.
func NewStatic() *Static {
	return &Static{users: make(map[types.UserID]types.User)}
}

// NewOpenStatic returns a directory in open mode.
func NewOpenStatic() *Static {
	s := NewStatic()
	s.open = true
	return s
}

// AddUser registers a user.
func (s *Static) AddUser(id types.UserID, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = types.User{ID: id, Username: username}
}

// AddChat registers a chat with the given members.
func (s *Static) AddChat(chatID, chatType string, members ...types.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append(s.chats, staticChat{
		chat:    types.Chat{ID: chatID, Type: chatType},
		members: slices.Clone(members),
	})
}

// AddPrivateChat registers a one-to-one chat between a and b.
func (s *Static) AddPrivateChat(chatID string, a, b types.UserID) {
	s.AddChat(chatID, types.ChatTypePrivate, a, b)
}

func (s *Static) GetUser(_ context.Context, userID types.UserID) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[userID]; ok {
		return &u, nil
	}
	if s.open && userID != "" {
		u := types.User{ID: userID, Username: string(userID)}
		s.users[userID] = u
		return &u, nil
	}
	return nil, callerr.New(callerr.ErrNotFound, "User not found")
}

// GetChatsByUserID pages through userID's chats. page starts at 1.
func (s *Static) GetChatsByUserID(_ context.Context, userID types.UserID, page, limit int) ([]types.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if page < 1 || limit < 1 {
		return nil, callerr.New(callerr.ErrBadRequest, "Invalid pagination")
	}

	var all []types.Chat
	for _, c := range s.chats {
		if slices.Contains(c.members, userID) {
			all = append(all, c.chat)
		}
	}
	if s.open {
		ids := make([]types.UserID, 0, len(s.users))
		for id := range s.users {
			if id != userID {
				ids = append(ids, id)
			}
		}
		slices.Sort(ids)
		for _, id := range ids {
			all = append(all, openChat(userID, id))
		}
	}

	start := (page - 1) * limit
	if start >= len(all) {
		return nil, nil
	}
	end := min(start+limit, len(all))
	return all[start:end], nil
}

// GetChatParticipants returns chatID's members if userID is one of them.
func (s *Static) GetChatParticipants(_ context.Context, chatID string, userID types.UserID) ([]types.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.membersLocked(chatID)
	if !ok || !slices.Contains(members, userID) {
		return nil, nil
	}
	out := make([]types.Participant, 0, len(members))
	for _, m := range members {
		out = append(out, types.Participant{UserID: m})
	}
	return out, nil
}

// Ping always succeeds.
func (s *Static) Ping(context.Context) error {
	return nil
}

func (s *Static) membersLocked(chatID string) ([]types.UserID, bool) {
	for _, c := range s.chats {
		if c.chat.ID == chatID {
			return c.members, true
		}
	}
	if s.open {
		if a, b, ok := parseOpenChatID(chatID); ok {
			return []types.UserID{a, b}, true
		}
	}
	return nil, false
}

const openChatPrefix = "open:"

func openChat(a, b types.UserID) types.Chat {
	if b < a {
		a, b = b, a
	}
	return types.Chat{ID: openChatPrefix + string(a) + "|" + string(b), Type: types.ChatTypePrivate}
}

func parseOpenChatID(chatID string) (types.UserID, types.UserID, bool) {
	rest, ok := strings.CutPrefix(chatID, openChatPrefix)
	if !ok {
		return "", "", false
	}
	a, b, ok := strings.Cut(rest, "|")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return types.UserID(a), types.UserID(b), true
}
