// Package memory implements every repository interface in process memory.
// It backs service, gateway and handler tests; it follows the same contracts
// as the postgres stores, including Conflict on the unread new_message index.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/lalith-99/circlecast/internal/models"
	"github.com/lalith-99/circlecast/internal/repository"
)

var (
	_ repository.RoomRepository         = (*Store)(nil)
	_ repository.MembershipRepository   = (*Store)(nil)
	_ repository.UserRepository         = userView{}
	_ repository.MessageRepository      = (*MessageStore)(nil)
	_ repository.NotificationRepository = (*NotificationStore)(nil)
	_ repository.CollabRepository       = (*CollabStore)(nil)
)

type membershipKey struct {
	room uuid.UUID
	user uuid.UUID
}

// Store holds users, rooms and memberships. The message, notification and
// collab stores are separate types because several interfaces share method
// names (GetByID).
type Store struct {
	mu          sync.RWMutex
	users       map[uuid.UUID]models.User
	rooms       map[uuid.UUID]models.Room
	memberships map[membershipKey]models.Membership
	order       []membershipKey

	// Err, when set, is returned by every method. Tests use it to simulate
	// an unreachable store.
	Err error
}

func NewStore() *Store {
	return &Store{
		users:       make(map[uuid.UUID]models.User),
		rooms:       make(map[uuid.UUID]models.Room),
		memberships: make(map[membershipKey]models.Membership),
	}
}

// AddUser seeds a user and returns it.
func (s *Store) AddUser(username, displayName string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := models.User{
		ID:          uuid.New(),
		Username:    username,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}
	s.users[u.ID] = u
	return u
}

// AddRoom seeds a room created by creator. The creator is not added as a
// member.
func (s *Store) AddRoom(name string, creator uuid.UUID) models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	r := models.Room{
		ID:             uuid.New(),
		Name:           name,
		CreatedBy:      creator,
		LastActivityAt: now,
		CreatedAt:      now,
	}
	s.rooms[r.ID] = r
	return r
}

// SetMembership inserts or replaces the (room, user) row.
func (s *Store) SetMembership(roomID, userID uuid.UUID, role models.Role, status models.MembershipStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := membershipKey{roomID, userID}
	if _, ok := s.memberships[k]; !ok {
		s.order = append(s.order, k)
	}
	s.memberships[k] = models.Membership{
		RoomID:    roomID,
		UserID:    userID,
		Role:      role,
		Status:    status,
		CreatedAt: time.Now(),
	}
	s.recountLocked(roomID)
}

func (s *Store) recountLocked(roomID uuid.UUID) {
	r, ok := s.rooms[roomID]
	if !ok {
		return
	}
	n := 0
	for k, m := range s.memberships {
		if k.room == roomID && m.Status == models.StatusAccepted {
			n++
		}
	}
	r.MemberCount = n
	s.rooms[roomID] = r
}

func (s *Store) GetByID(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *Store) TouchActivity(ctx context.Context, roomID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if r, ok := s.rooms[roomID]; ok && at.After(r.LastActivityAt) {
		r.LastActivityAt = at
		s.rooms[roomID] = r
	}
	return nil
}

func (s *Store) Get(ctx context.Context, roomID, userID uuid.UUID) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	m, ok := s.memberships[membershipKey{roomID, userID}]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *Store) ListAcceptedUserIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	ids := make([]uuid.UUID, 0)
	for _, k := range s.order {
		if k.room != roomID {
			continue
		}
		if s.memberships[k].Status == models.StatusAccepted {
			ids = append(ids, k.user)
		}
	}
	return ids, nil
}

// User returns the seeded user by ID. It exists because Store.GetByID is
// taken by rooms.
func (s *Store) User(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *Store) IDsByUsernames(ctx context.Context, usernames []string) (map[string]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	want := make(map[string]bool, len(usernames))
	for _, u := range usernames {
		want[strings.ToLower(u)] = true
	}
	result := make(map[string]uuid.UUID)
	for _, u := range s.users {
		name := strings.ToLower(u.Username)
		if want[name] {
			result[name] = u.ID
		}
	}
	return result, nil
}

// Users adapts Store to repository.UserRepository.
func (s *Store) Users() repository.UserRepository { return userView{s} }

type userView struct{ s *Store }

func (v userView) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return v.s.User(ctx, id)
}

func (v userView) IDsByUsernames(ctx context.Context, names []string) (map[string]uuid.UUID, error) {
	return v.s.IDsByUsernames(ctx, names)
}

// MessageStore keeps messages in insertion order.
type MessageStore struct {
	mu       sync.RWMutex
	nextID   int64
	messages map[int64]*models.Message

	// CreateErr, when set, fails Create.
	CreateErr error
	listCalls int
}

func NewMessageStore() *MessageStore {
	return &MessageStore{messages: make(map[int64]*models.Message)}
}

func cloneMessage(m *models.Message) models.Message {
	c := *m
	c.ReadBy = append(make([]models.ReadReceipt, 0, len(m.ReadBy)), m.ReadBy...)
	return c
}

func (s *MessageStore) Create(ctx context.Context, roomID, senderID uuid.UUID, body string, msgType models.MessageType) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	s.nextID++
	now := time.Now()
	m := &models.Message{
		ID:        s.nextID,
		RoomID:    roomID,
		SenderID:  senderID,
		Body:      body,
		Type:      msgType,
		ReadBy:    make([]models.ReadReceipt, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.messages[m.ID] = m
	c := cloneMessage(m)
	return &c, nil
}

// ListCalls counts ListByRoom calls so cache tests can tell hits from
// misses.
func (s *MessageStore) ListCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listCalls
}

func (s *MessageStore) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, nil
	}
	c := cloneMessage(m)
	return &c, nil
}

func (s *MessageStore) ListByRoom(ctx context.Context, roomID uuid.UUID, before int64, limit int) ([]models.Message, error) {
	s.mu.Lock()
	s.listCalls++
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]models.Message, 0)
	for _, m := range s.messages {
		if m.RoomID != roomID {
			continue
		}
		if before > 0 && m.ID >= before {
			continue
		}
		list = append(list, cloneMessage(m))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *MessageStore) UpdateBody(ctx context.Context, messageID int64, body string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, nil
	}
	m.Body = body
	m.UpdatedAt = time.Now()
	c := cloneMessage(m)
	return &c, nil
}

func (s *MessageStore) Delete(ctx context.Context, messageID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return false, nil
	}
	delete(s.messages, messageID)
	return true, nil
}

func (s *MessageStore) MarkRoomRead(ctx context.Context, roomID, readerID uuid.UUID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted int64
	for _, m := range s.messages {
		if m.RoomID != roomID || m.SenderID == readerID {
			continue
		}
		seen := false
		for _, r := range m.ReadBy {
			if r.ReaderID == readerID {
				seen = true
				break
			}
		}
		if !seen {
			m.ReadBy = append(m.ReadBy, models.ReadReceipt{ReaderID: readerID, ReadAt: at})
			inserted++
		}
	}
	return inserted, nil
}

// NotificationStore mirrors the notifications table, including the partial
// unique index on unread new_message records.
type NotificationStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*models.Notification
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{items: make(map[uuid.UUID]*models.Notification)}
}

func (s *NotificationStore) Create(ctx context.Context, n models.Notification) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.Type == models.NotifyNewMessage && n.Link != nil {
		for _, existing := range s.items {
			if existing.RecipientID == n.RecipientID && existing.Type == models.NotifyNewMessage &&
				!existing.IsRead && existing.Link != nil && *existing.Link == *n.Link {
				return nil, apperr.Conflict("unread notification already exists")
			}
		}
	}
	now := time.Now()
	n.ID = uuid.New()
	if n.Count < 1 {
		n.Count = 1
	}
	n.CreatedAt = now
	n.UpdatedAt = now
	stored := n
	s.items[n.ID] = &stored
	out := stored
	return &out, nil
}

func (s *NotificationStore) FindUnread(ctx context.Context, recipientID uuid.UUID, notifType models.NotificationType, link string) (*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Notification
	for _, n := range s.items {
		if n.RecipientID != recipientID || n.Type != notifType || n.IsRead || n.Link == nil || *n.Link != link {
			continue
		}
		if found == nil || n.UpdatedAt.After(found.UpdatedAt) {
			found = n
		}
	}
	if found == nil {
		return nil, nil
	}
	out := *found
	return &out, nil
}

func (s *NotificationStore) Merge(ctx context.Context, id uuid.UUID, title, body string, count int, at time.Time) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.IsRead {
		return nil, nil
	}
	n.Title = title
	n.Body = body
	n.Count = count
	n.UpdatedAt = at
	out := *n
	return &out, nil
}

func (s *NotificationStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	out := *n
	return &out, nil
}

func (s *NotificationStore) ListVisible(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]models.Notification, 0)
	for _, n := range s.items {
		if n.RecipientID == recipientID && !n.IsHidden {
			list = append(list, *n)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *NotificationStore) MarkReadAndHide(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.IsRead {
		return false, nil
	}
	n.IsRead = true
	n.IsHidden = true
	return true, nil
}

// CollabStore keeps collaboration requests and creates temporary rooms in
// the shared Store.
type CollabStore struct {
	mu    sync.Mutex
	rooms *Store
	items map[uuid.UUID]*models.CollabRequest
}

func NewCollabStore(rooms *Store) *CollabStore {
	return &CollabStore{rooms: rooms, items: make(map[uuid.UUID]*models.CollabRequest)}
}

func (s *CollabStore) Create(ctx context.Context, req models.CollabRequest) (*models.CollabRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.Status == models.CollabPending && existing.FromRoomID == req.FromRoomID && existing.ToRoomID == req.ToRoomID {
			return nil, apperr.Conflict("pending collaboration request exists")
		}
	}
	now := time.Now()
	req.ID = uuid.New()
	req.Status = models.CollabPending
	req.CreatedAt = now
	req.UpdatedAt = now
	stored := req
	s.items[req.ID] = &stored
	out := stored
	return &out, nil
}

func (s *CollabStore) GetByID(ctx context.Context, id uuid.UUID) (*models.CollabRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (s *CollabStore) FindPending(ctx context.Context, fromRoomID, toRoomID uuid.UUID) (*models.CollabRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.items {
		if c.Status == models.CollabPending && c.FromRoomID == fromRoomID && c.ToRoomID == toRoomID {
			out := *c
			return &out, nil
		}
	}
	return nil, nil
}

func (s *CollabStore) Accept(ctx context.Context, id uuid.UUID, room models.Room, memberIDs []uuid.UUID) (*models.CollabRequest, *models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return nil, nil, nil
	}
	if c.Status != models.CollabPending {
		out := *c
		return &out, nil, nil
	}

	created := s.rooms.AddRoom(room.Name, room.CreatedBy)
	s.rooms.mu.Lock()
	created.IsTemporary = true
	created.IsPrivate = room.IsPrivate
	s.rooms.rooms[created.ID] = created
	s.rooms.mu.Unlock()

	for _, uid := range memberIDs {
		if m, _ := s.rooms.Get(ctx, created.ID, uid); m != nil {
			continue
		}
		role := models.RoleMember
		if uid == room.CreatedBy {
			role = models.RoleAdmin
		}
		s.rooms.SetMembership(created.ID, uid, role, models.StatusAccepted)
	}
	final, _ := s.rooms.GetByID(ctx, created.ID)

	c.Status = models.CollabAccepted
	c.TempRoomID = &final.ID
	c.UpdatedAt = time.Now()
	out := *c
	return &out, final, nil
}
