package credential

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/quotecache/internal/apperror"
)

// --- mock credential repo ---
type mockRepo struct {
	saved   map[string]*Credential
	saveErr error
}

func newMockRepo() *mockRepo { return &mockRepo{saved: make(map[string]*Credential)} }

func (m *mockRepo) Find(_ context.Context, userID string) (*Credential, error) {
	return m.saved[userID], nil
}

func (m *mockRepo) Save(_ context.Context, c *Credential) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *c
	m.saved[c.UserID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, userID string) error {
	delete(m.saved, userID)
	return nil
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo Repository) *Service {
	s := NewService(repo)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestSave_TrimsAndStores(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	exp := fixedNow.Add(2 * time.Hour).In(time.FixedZone("IST", 5*3600+1800))
	c, err := svc.Save(context.Background(), SaveRequest{
		UserID: " u1 ", APIKey: " key ", AccessToken: "tok\n", ExpiresAt: &exp,
	})
	require.NoError(t, err)
	require.Equal(t, "u1", c.UserID)
	require.Equal(t, time.UTC, c.ExpiresAt.Location())
	require.Equal(t, fixedNow, c.UpdatedAt)
	require.Contains(t, mustJSON(t, c), `"updatedAt":"2024-03-01T12:00:00Z"`)

	stored := repo.saved["u1"]
	require.NotNil(t, stored)
	require.Equal(t, "key", stored.APIKey)
	require.Equal(t, "tok", stored.AccessToken)
	require.True(t, stored.Usable(fixedNow))
}

func TestSave_Validation(t *testing.T) {
	past := fixedNow.Add(-time.Second)
	cases := map[string]SaveRequest{
		"no user":  {APIKey: "k", AccessToken: "t"},
		"no key":   {UserID: "u", AccessToken: "t"},
		"no token": {UserID: "u", APIKey: "k", AccessToken: "  "},
		"expired":  {UserID: "u", APIKey: "k", AccessToken: "t", ExpiresAt: &past},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			repo := newMockRepo()
			_, err := newTestService(repo).Save(context.Background(), req)
			appErr, ok := apperror.As(err)
			require.True(t, ok, "expected AppError, got %v", err)
			require.Equal(t, apperror.BadRequest, appErr.Code())
			require.Empty(t, repo.saved)
		})
	}
}

func TestSave_RepoError(t *testing.T) {
	repo := newMockRepo()
	repo.saveErr = errors.New("locked")
	_, err := newTestService(repo).Save(context.Background(), SaveRequest{UserID: "u", APIKey: "k", AccessToken: "t"})
	require.ErrorIs(t, err, repo.saveErr)
}

func TestDelete(t *testing.T) {
	repo := newMockRepo()
	repo.saved["u1"] = &Credential{UserID: "u1", APIKey: "k", AccessToken: "t"}
	svc := newTestService(repo)

	require.NoError(t, svc.Delete(context.Background(), DeleteRequest{UserID: "u1"}))
	require.Empty(t, repo.saved)
	require.NoError(t, svc.Delete(context.Background(), DeleteRequest{UserID: "u1"}), "absent is not an error")

	_, ok := apperror.As(svc.Delete(context.Background(), DeleteRequest{}))
	require.True(t, ok)
}

func TestUsable(t *testing.T) {
	future := fixedNow.Add(time.Minute)
	cases := []struct {
		name string
		c    *Credential
		want bool
	}{
		{"nil", nil, false},
		{"no expiry", &Credential{APIKey: "k", AccessToken: "t"}, true},
		{"future expiry", &Credential{APIKey: "k", AccessToken: "t", ExpiresAt: &future}, true},
		{"expires now", &Credential{APIKey: "k", AccessToken: "t", ExpiresAt: &fixedNow}, false},
		{"missing key", &Credential{AccessToken: "t"}, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.c.Usable(fixedNow), tc.name)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
