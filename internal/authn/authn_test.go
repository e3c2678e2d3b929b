package authn

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowplane/flowplane/internal/apperr"
	"github.com/flowplane/flowplane/internal/clock"
	"github.com/flowplane/flowplane/internal/repository/memstore"
	"github.com/flowplane/flowplane/internal/types"
	"github.com/flowplane/flowplane/internal/validate"
)

func newTestAuthenticator(t *testing.T) (*Authenticator, *memstore.Store, *clock.Clock) {
	t.Helper()
	repo := memstore.New()
	mock := clock.NewMock()
	var cl clock.Clock = mock
	log := logrus.New()
	log.SetOutput(io.Discard)
	a := New(repo, cl, log)
	t.Cleanup(a.Close)
	return a, repo, &cl
}

func createToken(t *testing.T, repo *memstore.Store, id, secret string, scopes []types.Scope) {
	t.Helper()
	require.NoError(t, repo.CreateToken(context.Background(), types.Token{
		ID:            id,
		PlaintextHash: HashSecret(id, secret),
		Scopes:        scopes,
		Status:        types.TokenActive,
	}))
}

func TestAuthenticateSucceedsWithValidCredential(t *testing.T) {
	a, repo, _ := newTestAuthenticator(t)
	createToken(t, repo, "tok-1", "s3cret", []types.Scope{types.ScopeRoutesWrite})

	ctx, err := a.Authenticate(context.Background(), "corr-1", "fp_tok-1.s3cret")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", ctx.TokenID)
	assert.True(t, ctx.HasScope(types.ScopeRoutesWrite))
}

func TestAuthenticateRejectsMalformedBearer(t *testing.T) {
	a, _, _ := newTestAuthenticator(t)
	_, err := a.Authenticate(context.Background(), "corr-1", "not-a-flowplane-token")
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, Malformed, f.Kind)
}

func TestAuthenticateRejectsUnknownTokenID(t *testing.T) {
	a, _, _ := newTestAuthenticator(t)
	_, err := a.Authenticate(context.Background(), "corr-1", "fp_ghost.anything")
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, Unknown, f.Kind)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	a, repo, _ := newTestAuthenticator(t)
	createToken(t, repo, "tok-1", "s3cret", nil)

	_, err := a.Authenticate(context.Background(), "corr-1", "fp_tok-1.wrong")
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, Unknown, f.Kind)
}

func TestAuthenticateRejectsRevokedToken(t *testing.T) {
	a, repo, _ := newTestAuthenticator(t)
	createToken(t, repo, "tok-1", "s3cret", nil)
	require.NoError(t, repo.UpdateTokenStatus(context.Background(), "tok-1", types.TokenRevoked))

	_, err := a.Authenticate(context.Background(), "corr-1", "fp_tok-1.s3cret")
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, Revoked, f.Kind)
}

func TestRevokeEventInvalidatesPositiveCache(t *testing.T) {
	a, repo, _ := newTestAuthenticator(t)
	createToken(t, repo, "tok-1", "s3cret", nil)

	_, err := a.Authenticate(context.Background(), "corr-1", "fp_tok-1.s3cret")
	require.NoError(t, err)

	require.NoError(t, repo.UpdateTokenStatus(context.Background(), "tok-1", types.TokenRevoked))

	// Give the invalidation watcher goroutine a chance to process the
	// broadcast event before asserting the cache no longer serves it.
	assertEventuallyInvalidated(t, a, repo)
}

func TestCreateTokenRejectsScopeEscalation(t *testing.T) {
	a, _, _ := newTestAuthenticator(t)
	creator := AuthContext{TokenID: "tok-creator", Scopes: []types.Scope{types.ScopeRoutesRead}}

	_, _, err := a.CreateToken(context.Background(), creator, validate.CreateTokenRequest{
		Name:   "escalated",
		Scopes: []types.Scope{types.ScopeRoutesRead, types.ScopeAdminWrite},
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Forbidden), "creating a token with a scope the creator lacks must be forbidden")
}

func TestCreateTokenSucceedsWithinCreatorScopes(t *testing.T) {
	a, repo, _ := newTestAuthenticator(t)
	creator := AuthContext{TokenID: "tok-creator", Scopes: []types.Scope{types.ScopeRoutesRead, types.ScopeRoutesWrite}}

	bearer, tok, err := a.CreateToken(context.Background(), creator, validate.CreateTokenRequest{
		Name:   "ci-deploy",
		Scopes: []types.Scope{types.ScopeRoutesWrite},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, bearer)
	assert.Equal(t, "tok-creator", tok.CreatedBy)

	stored, found, err := repo.GetTokenByID(context.Background(), tok.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []types.Scope{types.ScopeRoutesWrite}, stored.Scopes)

	authCtx, err := a.Authenticate(context.Background(), "corr-1", bearer)
	require.NoError(t, err)
	assert.True(t, authCtx.HasScope(types.ScopeRoutesWrite))
}

func assertEventuallyInvalidated(t *testing.T, a *Authenticator, repo *memstore.Store) {
	t.Helper()
	for i := 0; i < 100; i++ {
		_, err := a.Authenticate(context.Background(), "corr-1", "fp_tok-1.s3cret")
		if err != nil {
			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, Revoked, f.Kind)
			return
		}
	}
	t.Fatal("expected revoke event to eventually invalidate the positive-result cache")
}
