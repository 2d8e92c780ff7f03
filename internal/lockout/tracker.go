// Package lockout tracks failed login attempts per (email, ip) pair and
// escalates from captcha challenges to timed lockout windows.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldCount       = "count"
	fieldLockedUntil = "locked_until"
	fieldCaptcha     = "captcha"
)

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// LockedError rejects an attempt made while the (email, ip) pair is inside
// a lockout window.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("locked out for another %s", e.RetryAfter)
}

// Step maps an exact failure count to the lockout window it sets.
type Step struct {
	Count    int64
	Duration time.Duration
}

// Config holds the escalation schedule.
type Config struct {
	// CaptchaAfter is the count at which the next attempt must solve a
	// captcha. A fresh challenge is generated when the count reaches
	// CaptchaAfter and again one failure later.
	CaptchaAfter int64
	// Steps set lockout windows at their exact counts only. Counts past
	// the last step keep incrementing without extending the lockout.
	Steps []Step
	// RetentionTTL bounds how long an idle row survives. Storage hygiene
	// only; the lockout window itself is a row field.
	RetentionTTL time.Duration
	Prefix       string
}

// State is the tracker row read by Check.
type State struct {
	AttemptCount int64
	CaptchaText  string
}

// MustSolveCaptcha reports whether the next attempt has to present a
// captcha answer.
func (s *State) MustSolveCaptcha(threshold int64) bool {
	return s.AttemptCount >= threshold
}

// Tracker is the Redis-backed failed-attempt counter. Rows are hashes keyed
// by (email, ip); the counter is advanced with HINCRBY so concurrent
// failures never lose an update.
type Tracker struct {
	redis        redis.UniversalClient
	config       Config
	newChallenge func() (string, error)
	now          func() time.Time
}

func NewTracker(redisClient redis.UniversalClient, cfg Config, newChallenge func() (string, error)) *Tracker {
	if cfg.Prefix == "" {
		cfg.Prefix = "agl"
	}
	return &Tracker{
		redis:        redisClient,
		config:       cfg,
		newChallenge: newChallenge,
		now:          time.Now,
	}
}

func (t *Tracker) key(email, ip string) string {
	return t.config.Prefix + ":" + email + ":" + ip
}

// Check loads the tracker row for (email, ip). While a lockout window is
// active it fails with [*LockedError] without touching anything else; an
// expired window is cleared in passing.
func (t *Tracker) Check(ctx context.Context, email, ip string) (*State, error) {
	key := t.key(email, ip)

	fields, err := t.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if len(fields) == 0 {
		return &State{}, nil
	}

	count, _ := strconv.ParseInt(fields[fieldCount], 10, 64)

	if raw, ok := fields[fieldLockedUntil]; ok && raw != "" {
		lockedUntil, _ := strconv.ParseInt(raw, 10, 64)
		now := t.now()
		if until := time.Unix(lockedUntil, 0); until.After(now) {
			return nil, &LockedError{RetryAfter: until.Sub(now)}
		}
		// The window has passed; treat the pair as unlocked again.
		if err := t.redis.HDel(ctx, key, fieldLockedUntil).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}

	return &State{
		AttemptCount: count,
		CaptchaText:  fields[fieldCaptcha],
	}, nil
}

// RecordFailure advances the counter for (email, ip) and applies the
// escalation schedule: a new captcha challenge at CaptchaAfter and the
// following count, a lockout window at each configured step count. Returns
// the new count.
func (t *Tracker) RecordFailure(ctx context.Context, email, ip string) (int64, error) {
	key := t.key(email, ip)

	count, err := t.redis.HIncrBy(ctx, key, fieldCount, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if count == t.config.CaptchaAfter || count == t.config.CaptchaAfter+1 {
		if t.newChallenge != nil {
			text, err := t.newChallenge()
			if err != nil {
				return count, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
			}
			if err := t.redis.HSet(ctx, key, fieldCaptcha, text).Err(); err != nil {
				return count, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
			}
		}
	}

	for _, step := range t.config.Steps {
		if count == step.Count {
			until := t.now().Add(step.Duration).Unix()
			if err := t.redis.HSet(ctx, key, fieldLockedUntil, strconv.FormatInt(until, 10)).Err(); err != nil {
				return count, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
			}
			break
		}
	}

	if t.config.RetentionTTL > 0 {
		if err := t.redis.Expire(ctx, key, t.config.RetentionTTL).Err(); err != nil {
			return count, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}

	return count, nil
}

// Clear deletes the tracker row for (email, ip). A successful login resets
// the pair completely, independent of any other pairs for the same user.
func (t *Tracker) Clear(ctx context.Context, email, ip string) error {
	if err := t.redis.Del(ctx, t.key(email, ip)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}
