package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/lib/pq"

	"pairchat/internal/apperr"
	"pairchat/internal/models"
)

// MemoryMessageRepo keeps messages in process memory. It is selected with
// STORAGE_DRIVER=memory and backs the engine tests.
type MemoryMessageRepo struct {
	mu       sync.Mutex
	messages []models.Message // ordered by id, which follows created_at
	index    map[int64]int
	nextID   int64
	lastAt   time.Time
	now      func() time.Time
}

// NewMemoryMessageRepo constructs an empty MemoryMessageRepo.
func NewMemoryMessageRepo() *MemoryMessageRepo {
	return &MemoryMessageRepo{index: make(map[int64]int), nextID: 1, now: time.Now}
}

func (r *MemoryMessageRepo) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	at := r.now().UTC()
	if !at.After(r.lastAt) {
		at = r.lastAt.Add(time.Microsecond)
	}
	r.lastAt = at

	stored := msg.Clone()
	stored.ID = r.nextID
	stored.CreatedAt = at
	stored.Delivered, stored.DeliveredAt = false, nil
	stored.Seen, stored.SeenAt = false, nil
	stored.DeletedFor = pq.Int64Array{}
	stored.IsDeleted = false
	r.nextID++

	r.index[stored.ID] = len(r.messages)
	r.messages = append(r.messages, stored)
	return stored.Clone(), nil
}

func (r *MemoryMessageRepo) Get(ctx context.Context, messageID int64) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.lookup(messageID)
	if !ok {
		return models.Message{}, apperr.ErrMessageNotFound
	}
	return msg.Clone(), nil
}

func (r *MemoryMessageRepo) ListBetween(ctx context.Context, viewerID, counterpartID int64, page, pageSize int) (models.MessagePage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	visible := make([]models.Message, 0)
	for i := len(r.messages) - 1; i >= 0; i-- {
		m := r.messages[i]
		if !betweenPair(m, viewerID, counterpartID) || m.HiddenFor(viewerID) {
			continue
		}
		visible = append(visible, m)
	}

	total := len(visible)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	out := make([]models.Message, 0, end-start)
	for _, m := range visible[start:end] {
		out = append(out, m.Clone())
	}
	reverse(out)
	return models.MessagePage{Messages: out, Total: total}, nil
}

func (r *MemoryMessageRepo) MarkDelivered(ctx context.Context, messageID int64, at time.Time) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.lookup(messageID)
	if !ok {
		return models.Message{}, apperr.ErrMessageNotFound
	}
	if !msg.Delivered {
		at := at.UTC()
		msg.Delivered = true
		msg.DeliveredAt = &at
	}
	return msg.Clone(), nil
}

func (r *MemoryMessageRepo) MarkSeen(ctx context.Context, messageID int64, at time.Time) (models.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.lookup(messageID)
	if !ok {
		return models.Message{}, false, apperr.ErrMessageNotFound
	}
	if msg.Seen {
		return msg.Clone(), false, nil
	}
	at = at.UTC()
	msg.Seen = true
	msg.SeenAt = &at
	return msg.Clone(), true, nil
}

func (r *MemoryMessageRepo) MarkSeenBatch(ctx context.Context, fromID, toID int64, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for i := range r.messages {
		m := &r.messages[i]
		if m.SenderID != fromID || m.RecipientID != toID || m.Seen {
			continue
		}
		seenAt := at.UTC()
		m.Seen = true
		m.SeenAt = &seenAt
		count++
	}
	return count, nil
}

func (r *MemoryMessageRepo) MarkDeletedForViewer(ctx context.Context, messageID, viewerID int64, alsoForCounterpart bool) (models.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.lookup(messageID)
	if !ok {
		return models.Message{}, false, apperr.ErrMessageNotFound
	}
	viewers := []int64{viewerID}
	if alsoForCounterpart {
		viewers = append(viewers, msg.Counterpart(viewerID))
	}
	changed := msg.HideFor(viewers...)
	return msg.Clone(), changed, nil
}

func (r *MemoryMessageRepo) CountUnseen(ctx context.Context, fromID, toID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, m := range r.messages {
		if m.SenderID == fromID && m.RecipientID == toID && !m.Seen && !m.HiddenFor(toID) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryMessageRepo) ListUndelivered(ctx context.Context, toID int64) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Message
	for _, m := range r.messages {
		if m.RecipientID == toID && !m.Delivered && !m.HiddenFor(toID) {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

// lookup returns a pointer into the backing slice; callers must hold mu.
func (r *MemoryMessageRepo) lookup(messageID int64) (*models.Message, bool) {
	i, ok := r.index[messageID]
	if !ok {
		return nil, false
	}
	return &r.messages[i], true
}

func betweenPair(m models.Message, a, b int64) bool {
	return (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a)
}

// MemoryUserRepo keeps identities in process memory.
type MemoryUserRepo struct {
	mu     sync.Mutex
	users  []models.User
	nextID int64
	now    func() time.Time
}

// NewMemoryUserRepo constructs an empty MemoryUserRepo.
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{nextID: 1, now: time.Now}
}

func (r *MemoryUserRepo) Create(ctx context.Context, user models.User) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == user.Username {
			return models.User{}, apperr.ErrUsernameTaken
		}
	}
	now := r.now().UTC()
	created := models.User{
		ID:           r.nextID,
		Username:     user.Username,
		DisplayName:  user.DisplayName,
		PasswordHash: user.PasswordHash,
		LastActive:   now,
		CreatedAt:    now,
	}
	r.nextID++
	r.users = append(r.users, created)
	return created.Clone(), nil
}

func (r *MemoryUserRepo) Get(ctx context.Context, userID int64) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.lookup(userID)
	if !ok {
		return models.User{}, apperr.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (r *MemoryUserRepo) GetByUsername(ctx context.Context, username string) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return u.Clone(), nil
		}
	}
	return models.User{}, apperr.ErrUserNotFound
}

func (r *MemoryUserRepo) List(ctx context.Context) ([]models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u.Clone())
	}
	return out, nil
}

func (r *MemoryUserRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users), nil
}

func (r *MemoryUserRepo) Pair(ctx context.Context, a, b int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ua, ok := r.lookup(a)
	if !ok {
		return apperr.ErrUserNotFound
	}
	ub, ok := r.lookup(b)
	if !ok {
		return apperr.ErrUserNotFound
	}
	if (ua.IsPaired() && !ua.PairedWith(b)) || (ub.IsPaired() && !ub.PairedWith(a)) {
		return apperr.ErrConflictingPairing
	}
	idA, idB := a, b
	ua.CounterpartID = &idB
	ub.CounterpartID = &idA
	return nil
}

func (r *MemoryUserRepo) Delete(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.users {
		if r.users[i].ID != userID {
			continue
		}
		if r.users[i].IsPaired() {
			return apperr.ErrAlreadyPaired
		}
		r.users = append(r.users[:i], r.users[i+1:]...)
		return nil
	}
	return apperr.ErrUserNotFound
}

func (r *MemoryUserRepo) UpdateProfile(ctx context.Context, userID int64, displayName, bio string) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.lookup(userID)
	if !ok {
		return models.User{}, apperr.ErrUserNotFound
	}
	u.DisplayName = displayName
	u.Bio = bio
	return u.Clone(), nil
}

func (r *MemoryUserRepo) UpdateProfilePicture(ctx context.Context, userID int64, url string) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.lookup(userID)
	if !ok {
		return models.User{}, apperr.ErrUserNotFound
	}
	u.ProfilePicture = url
	return u.Clone(), nil
}

func (r *MemoryUserRepo) UpdatePassword(ctx context.Context, userID int64, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.lookup(userID)
	if !ok {
		return apperr.ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *MemoryUserRepo) TouchLastActive(ctx context.Context, userID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.lookup(userID)
	if !ok {
		return apperr.ErrUserNotFound
	}
	if at.After(u.LastActive) {
		u.LastActive = at.UTC()
	}
	return nil
}

func (r *MemoryUserRepo) lookup(userID int64) (*models.User, bool) {
	for i := range r.users {
		if r.users[i].ID == userID {
			return &r.users[i], true
		}
	}
	return nil, false
}

var (
	_ MessageRepository = (*MessageRepo)(nil)
	_ MessageRepository = (*MemoryMessageRepo)(nil)
	_ UserRepository    = (*UserRepo)(nil)
	_ UserRepository    = (*MemoryUserRepo)(nil)
)
