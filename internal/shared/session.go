package shared

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// maxCommitAttempts bounds optimistic retries when concurrent requests of the
// same client race on one session hash.
const maxCommitAttempts = 5

var (
	errSessionGone     = errors.New("session invalidated concurrently")
	errSessionConflict = errors.New("session commit conflict")
)

// Attributes is the session surface consumed by the security layer.
type Attributes interface {
	Get(name string) string
	Set(name, value string)
	Delete(name string)
	Invalidate()
}

// SessionManager orchestrates cookie based sessions backed by Redis hashes.
type SessionManager struct {
	client     redis.UniversalClient
	cookieName string
	ttl        time.Duration
	secure     bool
	secret     []byte
}

// Session holds per-request session data.
type Session struct {
	ID string

	mu        sync.Mutex
	values    map[string]string
	changed   map[string]struct{}
	deleted   map[string]struct{}
	isNew     bool
	destroyed bool
}

var _ Attributes = (*Session)(nil)

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client redis.UniversalClient, cookieName string, secret string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		secret:     []byte(secret),
	}
}

// Load loads or creates a new session for request. A cookie pointing at an
// expired or invalidated session yields a fresh session under a new ID.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return sm.newSession(), nil
		}
		return nil, err
	}

	stored, err := sm.client.HGetAll(ctx, sm.redisKey(cookie.Value)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	if len(stored) == 0 {
		return sm.newSession(), nil
	}

	sess := sm.newSession()
	sess.ID = cookie.Value
	sess.values = stored
	sess.isNew = false
	return sess, nil
}

// Commit persists changed attributes and writes cookie headers as needed. It
// must run before the response status is written.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.redisKey(sess.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("session: destroy: %w", err)
		}
		http.SetCookie(w, sm.cookie("", -1))
		return nil
	}

	changed := len(sess.changed) > 0 || len(sess.deleted) > 0
	if changed {
		if err := sm.persist(ctx, sess); err != nil {
			if errors.Is(err, errSessionGone) {
				http.SetCookie(w, sm.cookie("", -1))
				return nil
			}
			return err
		}
		sess.changed = make(map[string]struct{})
		sess.deleted = make(map[string]struct{})
		sess.isNew = false
	}

	if sess.isNew || len(sess.values) == 0 {
		return nil
	}
	if !changed {
		// The stored hash must live as long as the refreshed cookie.
		alive, err := sm.client.Expire(ctx, sm.redisKey(sess.ID), sm.ttl).Result()
		if err != nil {
			return fmt.Errorf("session: refresh: %w", err)
		}
		if !alive {
			http.SetCookie(w, sm.cookie("", -1))
			return nil
		}
	}
	http.SetCookie(w, sm.cookie(sess.ID, int(sm.ttl.Seconds())))
	return nil
}

// persist applies the pending field changes inside a WATCH/MULTI transaction
// so identity and token land together and a concurrently invalidated session
// is never recreated.
func (sm *SessionManager) persist(ctx context.Context, sess *Session) error {
	key := sm.redisKey(sess.ID)
	txf := func(tx *redis.Tx) error {
		if !sess.isNew {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n == 0 {
				return errSessionGone
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(sess.deleted) > 0 {
				pipe.HDel(ctx, key, sortedKeys(sess.deleted)...)
			}
			if len(sess.changed) > 0 {
				fields := make(map[string]any, len(sess.changed))
				for name := range sess.changed {
					fields[name] = sess.values[name]
				}
				pipe.HSet(ctx, key, fields)
			}
			pipe.Expire(ctx, key, sm.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		err := sm.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, errSessionGone) {
			return fmt.Errorf("session: commit: %w", err)
		}
		return err
	}
	return errSessionConflict
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// Session helpers

// Set stores a key-value pair. Writes after Invalidate are discarded.
func (s *Session) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.values[key] = value
	s.changed[key] = struct{}{}
	delete(s.deleted, key)
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	delete(s.changed, key)
	s.deleted[key] = struct{}{}
}

// Invalidate drops every attribute and schedules the stored session for
// deletion on commit.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	s.values = make(map[string]string)
	s.changed = make(map[string]struct{})
	s.deleted = make(map[string]struct{})
}

// Destroyed reports whether the session was invalidated during this request.
func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

func (sm *SessionManager) newSession() *Session {
	return &Session{
		ID:      sm.generateSessionID(),
		values:  make(map[string]string),
		changed: make(map[string]struct{}),
		deleted: make(map[string]struct{}),
		isNew:   true,
	}
}

func (sm *SessionManager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (sm *SessionManager) redisKey(id string) string {
	return "session:" + id
}

func (sm *SessionManager) generateSessionID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return base64.RawURLEncoding.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	if len(sm.secret) > 0 {
		for i := range b {
			b[i] ^= sm.secret[i%len(sm.secret)]
		}
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
