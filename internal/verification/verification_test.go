package verification_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"referral-bot/internal/verification"
)

// memKV is an in-memory KV with real expiry semantics.
type memKV struct {
	values  map[string]string
	expires map[string]time.Time
	lastTTL time.Duration
}

func newMemKV() *memKV {
	return &memKV{values: make(map[string]string), expires: make(map[string]time.Time)}
}

func (m *memKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.values[key] = value
	m.expires[key] = time.Now().Add(ttl)
	m.lastTTL = ttl
	return nil
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	if exp, ok := m.expires[key]; ok && time.Now().After(exp) {
		delete(m.values, key)
		delete(m.expires, key)
	}
	return m.values[key], nil
}

func (m *memKV) Del(_ context.Context, key string) error {
	delete(m.values, key)
	delete(m.expires, key)
	return nil
}

func TestIssueStoresAnswerWithTTL(t *testing.T) {
	kv := newMemKV()
	store := verification.NewStore(kv, 10*time.Minute)

	ch, err := store.Issue(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, ch.Answer, 4)
	require.NotEmpty(t, ch.Image)
	require.Equal(t, 10*time.Minute, kv.lastTTL)

	stored, err := kv.Get(context.Background(), "verify:42")
	require.NoError(t, err)
	require.Equal(t, ch.Answer, stored)
}

func TestIssueReplacesPreviousChallenge(t *testing.T) {
	kv := newMemKV()
	store := verification.NewStore(kv, time.Minute)

	first, err := store.Issue(context.Background(), 42)
	require.NoError(t, err)
	second, err := store.Issue(context.Background(), 42)
	require.NoError(t, err)

	ok, err := store.Check(context.Background(), 42, first.Answer)
	if first.Answer != second.Answer {
		require.NoError(t, err)
		require.False(t, ok)
	}

	ok, err = store.Check(context.Background(), 42, second.Answer)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckConsumesCorrectAnswer(t *testing.T) {
	kv := newMemKV()
	store := verification.NewStore(kv, time.Minute)

	ch, err := store.Issue(context.Background(), 7)
	require.NoError(t, err)

	ok, err := store.Check(context.Background(), 7, ch.Answer)
	require.NoError(t, err)
	require.True(t, ok)

	// The same answer cannot be replayed.
	ok, err = store.Check(context.Background(), 7, ch.Answer)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckRejectsWrongAnswer(t *testing.T) {
	kv := newMemKV()
	store := verification.NewStore(kv, time.Minute)

	ch, err := store.Issue(context.Background(), 7)
	require.NoError(t, err)

	ok, err := store.Check(context.Background(), 7, "nope")
	require.NoError(t, err)
	require.False(t, ok)

	// A wrong guess does not consume the challenge.
	ok, err = store.Check(context.Background(), 7, ch.Answer)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckFailsAfterExpiry(t *testing.T) {
	kv := newMemKV()
	store := verification.NewStore(kv, 10*time.Millisecond)

	ch, err := store.Issue(context.Background(), 7)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	ok, err := store.Check(context.Background(), 7, ch.Answer)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckFailsWithoutChallenge(t *testing.T) {
	store := verification.NewStore(newMemKV(), time.Minute)

	ok, err := store.Check(context.Background(), 99, "1234")
	require.NoError(t, err)
	require.False(t, ok)
}
