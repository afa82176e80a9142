// Package referral implements the join attribution state machine: a user moves
// from unverified to verified to joined, and the referrer is credited exactly
// once when the join completes.
package referral

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"referral-bot/internal/models"
	"referral-bot/internal/policy"
	"referral-bot/internal/verification"
)

// UserCache is the write-through cache the state machine mutates users through.
type UserCache interface {
	Get(ctx context.Context, id int64) (*models.User, error)
	Update(ctx context.Context, id int64, fields map[string]interface{}) error
}

// CreditStore is the slice of the store used for creation and reward crediting.
type CreditStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	IncrementReward(ctx context.Context, id int64, amount float64) (bool, error)
}

// Challenger issues and checks human-verification challenges.
type Challenger interface {
	Issue(ctx context.Context, userID int64) (*verification.Challenge, error)
	Check(ctx context.Context, userID int64, answer string) (bool, error)
}

// Contact carries the identity fields of an inbound first-contact event.
type Contact struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	Language  string
	// Payload is the raw invitation parameter from the deep link, if any.
	Payload string
}

type Engine struct {
	users      UserCache
	store      CreditStore
	challenges Challenger
	policy     *policy.Policy

	defaultLanguage     string
	verificationEnabled bool

	log *zap.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewEngine(users UserCache, store CreditStore, challenges Challenger, pol *policy.Policy,
	defaultLanguage string, verificationEnabled bool, log *zap.Logger) *Engine {
	return &Engine{
		users:               users,
		store:               store,
		challenges:          challenges,
		policy:              pol,
		defaultLanguage:     defaultLanguage,
		verificationEnabled: verificationEnabled,
		log:                 log,
		locks:               make(map[int64]*sync.Mutex),
	}
}

// FirstContact returns the user for an inbound contact event, creating the
// record on first sight. A malformed or self-referring invitation parameter is
// nulled, never fatal.
func (e *Engine) FirstContact(ctx context.Context, contact Contact) (*models.User, bool, error) {
	user, err := e.users.Get(ctx, contact.ID)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		return user, false, nil
	}

	language := contact.Language
	if language == "" {
		language = e.defaultLanguage
	}

	// A well-formed parameter naming a user that does not exist is nulled like
	// any other bad parameter; the row must never reference a missing referrer.
	referredBy := e.parseReferralParam(contact)
	if referredBy != nil {
		referrer, err := e.users.Get(ctx, *referredBy)
		if err != nil {
			return nil, false, err
		}
		if referrer == nil {
			e.log.Debug("ignoring referral to unknown user",
				zap.Int64("user_id", contact.ID), zap.Int64("referrer_id", *referredBy))
			referredBy = nil
		}
	}

	newUser := &models.User{
		TelegramID:   contact.ID,
		FirstName:    contact.FirstName,
		LastName:     contact.LastName,
		Username:     contact.Username,
		Language:     language,
		ReferredByID: referredBy,
		Verified:     !e.verificationEnabled,
	}
	if err := e.store.CreateUser(ctx, newUser); err != nil {
		return nil, false, err
	}

	// Read back through the cache so the relations are resolved.
	user, err = e.users.Get(ctx, contact.ID)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func (e *Engine) parseReferralParam(contact Contact) *int64 {
	if contact.Payload == "" {
		return nil
	}
	id, err := strconv.ParseInt(contact.Payload, 10, 64)
	if err != nil {
		e.log.Debug("ignoring malformed referral parameter",
			zap.Int64("user_id", contact.ID), zap.String("payload", contact.Payload))
		return nil
	}
	if id == contact.ID {
		e.log.Debug("ignoring self referral", zap.Int64("user_id", contact.ID))
		return nil
	}
	return &id
}

// NeedsVerification reports whether the user still has to pass the challenge.
func (e *Engine) NeedsVerification(user *models.User) bool {
	return e.verificationEnabled && !user.Verified
}

// BeginVerification issues a fresh challenge for the user.
func (e *Engine) BeginVerification(ctx context.Context, userID int64) (*verification.Challenge, error) {
	return e.challenges.Issue(ctx, userID)
}

// SubmitVerification checks the answer. On success the user is marked verified
// write-through; on failure a new challenge is issued and returned.
func (e *Engine) SubmitVerification(ctx context.Context, userID int64, answer string) (bool, *verification.Challenge, error) {
	ok, err := e.challenges.Check(ctx, userID, answer)
	if err != nil {
		return false, nil, err
	}
	if !ok {
		next, err := e.challenges.Issue(ctx, userID)
		return false, next, err
	}
	if err := e.users.Update(ctx, userID, map[string]interface{}{"verified": true}); err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

// JoinOutcome describes how a join-request approval event was handled.
type JoinOutcome struct {
	// Approved is false when the user is unknown or has not passed
	// verification; the join request must be declined.
	Approved bool
	// Duplicate means the user had already joined; nothing was credited.
	Duplicate bool
	// Credited means the referrer's reward was increased.
	Credited bool
	Referrer *models.User
}

// ApproveJoin runs the VERIFIED -> JOINED transition. The transition is
// idempotent: a user already joined is never credited again. The whole
// check-mark-credit sequence runs under a per-user lock so duplicate events
// arriving concurrently cannot both pass the joined guard.
func (e *Engine) ApproveJoin(ctx context.Context, userID int64) (JoinOutcome, error) {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	user, err := e.users.Get(ctx, userID)
	if err != nil {
		return JoinOutcome{}, err
	}
	if user == nil || e.NeedsVerification(user) {
		return JoinOutcome{Approved: false}, nil
	}
	if user.Joined {
		return JoinOutcome{Approved: true, Duplicate: true}, nil
	}

	if err := e.users.Update(ctx, userID, map[string]interface{}{"joined": true}); err != nil {
		return JoinOutcome{}, err
	}

	outcome := JoinOutcome{Approved: true}
	if user.ReferredByID == nil {
		return outcome, nil
	}

	amount := e.policy.Snapshot().RewardAmount
	credited, err := e.store.IncrementReward(ctx, *user.ReferredByID, amount.InexactFloat64())
	if err != nil {
		return outcome, err
	}
	if !credited {
		// The referral forest should make this impossible; the join still
		// completes, the anomaly goes to the operator.
		e.log.Error("referrer missing at credit time",
			zap.Int64("user_id", userID),
			zap.Int64("referrer_id", *user.ReferredByID))
		return outcome, nil
	}

	outcome.Credited = true
	outcome.Referrer = user.ReferredBy
	return outcome, nil
}

func (e *Engine) userLock(userID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[userID] = lock
	}
	return lock
}
