package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/crypto"
	"social-publisher/infrastructure/pubsub"
	"social-publisher/infrastructure/servicebus"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestSealer() *crypto.TokenSealer {
	s, err := crypto.NewTokenSealer(map[string]string{"1": testKeyHex}, 1)
	if err != nil {
		panic(err)
	}
	return s
}

type fakePostRepo struct {
	mu     sync.Mutex
	nextID int64
	posts  map[int64]*model.ScheduledPost
	// locked simulates a row lock held by a concurrent claimer.
	locked map[int64]bool
}

func newFakePostRepo() *fakePostRepo {
	return &fakePostRepo{posts: map[int64]*model.ScheduledPost{}, locked: map[int64]bool{}}
}

func (r *fakePostRepo) put(post *model.ScheduledPost) *model.ScheduledPost {
	r.mu.Lock()
	defer r.mu.Unlock()
	if post.ID == 0 {
		r.nextID++
		post.ID = r.nextID
	}
	cp := *post
	r.posts[post.ID] = &cp
	return post
}

func (r *fakePostRepo) get(id int64) *model.ScheduledPost {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.posts[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (r *fakePostRepo) Create(ctx context.Context, post *model.ScheduledPost) (int64, error) {
	post.Status = model.PostStatusPending
	return r.put(post).ID, nil
}

func (r *fakePostRepo) GetByID(ctx context.Context, id int64) (*model.ScheduledPost, error) {
	return r.get(id), nil
}

func (r *fakePostRepo) GetByIDForUser(ctx context.Context, id int64, userID string) (*model.ScheduledPost, error) {
	p := r.get(id)
	if p == nil || p.UserID != userID {
		return nil, nil
	}
	return p, nil
}

func (r *fakePostRepo) List(ctx context.Context, userID, status string, limit int) ([]*model.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ScheduledPost
	for _, p := range r.posts {
		if p.UserID == userID && (status == "" || p.Status == status) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakePostRepo) ClaimForUpload(ctx context.Context, id int64) (*model.ScheduledPost, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok || r.locked[id] || p.ExternalPostID != nil {
		return nil, false, nil
	}
	if p.Status != model.PostStatusPending && p.Status != model.PostStatusUploading {
		return nil, false, nil
	}
	p.Status = model.PostStatusUploading
	p.AttemptCount++
	p.ErrorMessage = nil
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, true, nil
}

func (r *fakePostRepo) setUpdatedAt(id int64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.posts[id]; ok {
		p.UpdatedAt = at
	}
}

func (r *fakePostRepo) ListStalled(ctx context.Context, platform model.Platform, cutoff time.Time, limit int) ([]*model.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ScheduledPost
	for _, p := range r.posts {
		if p.Platform != platform || p.ExternalPostID != nil || len(out) == limit {
			continue
		}
		stalled := (p.Status == model.PostStatusUploading && p.UpdatedAt.Before(cutoff)) ||
			(p.Status == model.PostStatusPending && p.ScheduledAt.Before(cutoff))
		if !stalled {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakePostRepo) MarkSuccess(ctx context.Context, id int64, externalPostID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.posts[id]
	p.Status = model.PostStatusSuccess
	p.ExternalPostID = &externalPostID
	p.Progress = 100
	return nil
}

func (r *fakePostRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.posts[id]
	p.Status = model.PostStatusFailed
	p.ErrorMessage = &reason
	return nil
}

func (r *fakePostRepo) RevertToPending(ctx context.Context, id int64, scheduledAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.posts[id]
	p.Status = model.PostStatusPending
	p.ScheduledAt = scheduledAt
	p.Progress = 0
	return nil
}

func (r *fakePostRepo) DeferForQuota(ctx context.Context, id int64, scheduledAt time.Time) error {
	if err := r.RevertToPending(ctx, id, scheduledAt); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.posts[id]; p.AttemptCount > 0 {
		p.AttemptCount--
	}
	return nil
}

func (r *fakePostRepo) Cancel(ctx context.Context, id int64, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok || p.UserID != userID || p.Status != model.PostStatusPending {
		return false, nil
	}
	p.Status = model.PostStatusCancelled
	return true, nil
}

func (r *fakePostRepo) UpdateProgress(ctx context.Context, id int64, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.posts[id]; ok {
		p.Progress = progress
	}
	return nil
}

type fakeAccountRepo struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*model.ConnectedAccount
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: map[int64]*model.ConnectedAccount{}}
}

func (r *fakeAccountRepo) put(acct *model.ConnectedAccount) *model.ConnectedAccount {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acct.ID == 0 {
		r.nextID++
		acct.ID = r.nextID
	}
	cp := *acct
	r.accounts[acct.ID] = &cp
	return acct
}

func (r *fakeAccountRepo) Upsert(ctx context.Context, acct *model.ConnectedAccount) (int64, error) {
	r.mu.Lock()
	for _, existing := range r.accounts {
		if existing.UserID == acct.UserID && existing.Platform == acct.Platform &&
			existing.ExternalAccountID == acct.ExternalAccountID {
			acct.ID = existing.ID
		}
	}
	r.mu.Unlock()
	acct.IsActive = true
	acct.NeedsReauth = false
	return r.put(acct).ID, nil
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id int64) (*model.ConnectedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeAccountRepo) GetByUser(ctx context.Context, userID string) ([]*model.ConnectedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ConnectedAccount
	for _, a := range r.accounts {
		if a.UserID == userID && a.IsActive {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) UpdateTokens(ctx context.Context, id int64, accessEnc string, refreshEnc *string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.accounts[id]
	a.AccessTokenEnc = accessEnc
	a.RefreshTokenEnc = refreshEnc
	a.TokenExpiresAt = expiresAt
	a.NeedsReauth = false
	return nil
}

func (r *fakeAccountRepo) SetNeedsReauth(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[id].NeedsReauth = true
	return nil
}

func (r *fakeAccountRepo) Deactivate(ctx context.Context, id int64, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok || a.UserID != userID || !a.IsActive {
		return false, nil
	}
	a.IsActive = false
	return true, nil
}

type fakeLogRepo struct {
	mu      sync.Mutex
	entries []*model.UploadLog
}

func (r *fakeLogRepo) Append(ctx context.Context, entry *model.UploadLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *fakeLogRepo) ListByPost(ctx context.Context, postID int64, limit int) ([]*model.UploadLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.UploadLog
	for _, e := range r.entries {
		if e.PostID == postID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeLogRepo) events(postID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		if e.PostID == postID {
			out = append(out, e.Event)
		}
	}
	return out
}

type fakeNotificationRepo struct {
	mu      sync.Mutex
	created []*model.Notification
}

func (r *fakeNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *n
	r.created = append(r.created, &cp)
	return nil
}

type fakeVideoStore struct {
	content []byte
}

func (s *fakeVideoStore) GetStream(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	return io.NopCloser(bytes.NewReader(s.content)), int64(len(s.content)), nil
}

func (s *fakeVideoStore) GetPublicURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return fmt.Sprintf("https://blob.example/%s?sig=test", key), nil
}

type fakeQueue struct {
	mu        sync.Mutex
	scheduled map[int64]time.Time
}

func newFakeQueue() *fakeQueue { return &fakeQueue{scheduled: map[int64]time.Time{}} }

func (q *fakeQueue) Schedule(ctx context.Context, postID int64, platform model.Platform, when time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.scheduled[postID]; !ok {
		q.scheduled[postID] = when
	}
	return nil
}

func (q *fakeQueue) Cancel(ctx context.Context, postID int64, platform model.Platform) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.scheduled, postID)
	return nil
}

func (q *fakeQueue) Reschedule(ctx context.Context, postID int64, platform model.Platform, when time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.scheduled[postID] = when
	return nil
}

func (q *fakeQueue) Claim(ctx context.Context, platform model.Platform, now time.Time, limit int) ([]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []int64
	for id, when := range q.scheduled {
		if !when.After(now) && len(out) < limit {
			out = append(out, id)
			delete(q.scheduled, id)
		}
	}
	return out, nil
}

func (q *fakeQueue) runAt(postID int64) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	when, ok := q.scheduled[postID]
	return when, ok
}

type fakePublisher struct {
	platform model.Platform

	mu           sync.Mutex
	publishCalls int
	refreshCalls int

	publishID   string
	publishErr  error
	refreshPair *repository.TokenPair
	refreshErr  error
}

func (p *fakePublisher) Platform() model.Platform { return p.platform }

func (p *fakePublisher) Publish(ctx context.Context, req *repository.PublishRequest) (string, error) {
	p.mu.Lock()
	p.publishCalls++
	p.mu.Unlock()
	if p.publishErr != nil {
		return "", p.publishErr
	}
	return p.publishID, nil
}

func (p *fakePublisher) AuthorizeURL(ctx context.Context, state string) (string, error) {
	return "https://consent.example/?state=" + state, nil
}

func (p *fakePublisher) ExchangeCode(ctx context.Context, code, state string) (*repository.AuthResult, error) {
	return &repository.AuthResult{
		TokenPair: repository.TokenPair{
			AccessToken: "fresh-access",
			ExpiresAt:   time.Now().Add(time.Hour),
			Kind:        model.TokenKindShortLived,
		},
		ExternalAccountID: "ext-acct",
		DisplayName:       "Test Account",
	}, nil
}

func (p *fakePublisher) Refresh(ctx context.Context, accessToken, refreshToken string) (*repository.TokenPair, error) {
	p.mu.Lock()
	p.refreshCalls++
	p.mu.Unlock()
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return p.refreshPair, nil
}

func (p *fakePublisher) calls() (publish, refresh int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publishCalls, p.refreshCalls
}

type fakeEvents struct {
	mu       sync.Mutex
	outcomes []pubsub.OutcomeEvent
}

func (e *fakeEvents) PublishOutcome(ctx context.Context, event pubsub.OutcomeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes = append(e.outcomes, event)
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []servicebus.FailureAlert
}

func (a *fakeAlerts) SendFailureAlert(ctx context.Context, alert servicebus.FailureAlert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
}
