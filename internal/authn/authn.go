// Package authn implements the Token Authenticator: resolving a bearer
// credential to an authorization context with constant-time comparison
// and a timing-equalized lookup-miss path, guarding every mutator.
package authn

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"github.com/flowplane/flowplane/internal/apperr"
	"github.com/flowplane/flowplane/internal/clock"
	"github.com/flowplane/flowplane/internal/repository"
	"github.com/flowplane/flowplane/internal/types"
	"github.com/flowplane/flowplane/internal/validate"
)

// tokenPrefix is the syntactic gate every presented credential must
// carry before a lookup is even attempted.
const tokenPrefix = "fp_"

const positiveCacheTTL = 5 * time.Minute

// FailureKind classifies why authenticate failed.
type FailureKind int

const (
	Malformed FailureKind = iota
	Unknown
	Expired
	Revoked
	Internal
)

func (k FailureKind) String() string {
	switch k {
	case Malformed:
		return "Malformed"
	case Unknown:
		return "Unknown"
	case Expired:
		return "Expired"
	case Revoked:
		return "Revoked"
	default:
		return "Internal"
	}
}

// Failure is the typed error authenticate returns on any non-success
// path.
type Failure struct {
	Kind FailureKind
}

func (f *Failure) Error() string { return "authn: " + f.Kind.String() }

// AuthContext is the result of a successful authentication.
type AuthContext struct {
	TokenID       string
	Scopes        []types.Scope
	CorrelationID string
}

// argon2Params mirrors the cost parameters used at token-creation time;
// they must match whatever produced the stored hash.
var argon2Params = struct {
	time    uint32
	memory  uint32
	threads uint8
	keyLen  uint32
}{time: 1, memory: 64 * 1024, threads: 4, keyLen: 32}

// dummyHash is verified against on every lookup miss so that a miss and
// a present-but-wrong-secret token take the same wall-clock path.
var dummyHash = argon2.IDKey([]byte("flowplane-dummy-equalizer"), []byte("flowplane-dummy-salt"), argon2Params.time, argon2Params.memory, argon2Params.threads, argon2Params.keyLen)

// TokenLookup resolves the public, non-secret token ID encoded in a
// presented bearer value to its stored record, without scanning every
// token.
type TokenLookup interface {
	GetTokenByID(ctx context.Context, id string) (*types.Token, bool, error)
}

// Authenticator implements the Token Authenticator contract.
type Authenticator struct {
	repo  repository.Repository
	clock clock.Clock
	log   logrus.FieldLogger

	cacheMu sync.RWMutex
	cache   *lru.LRU[string, AuthContext]

	closeOnce sync.Once
	stop      chan struct{}
}

// New constructs an Authenticator and starts the goroutine that
// invalidates the positive-result cache on Repository revoke/rotate
// events.
func New(repo repository.Repository, clk clock.Clock, log logrus.FieldLogger) *Authenticator {
	a := &Authenticator{
		repo:  repo,
		clock: clk,
		log:   log,
		cache: lru.NewLRU[string, AuthContext](4096, nil, positiveCacheTTL),
		stop:  make(chan struct{}),
	}
	go a.watchInvalidation()
	return a
}

func (a *Authenticator) watchInvalidation() {
	for {
		select {
		case ev, ok := <-a.repo.Events():
			if !ok {
				return
			}
			a.cacheMu.Lock()
			a.cache.Remove(ev.TokenID)
			a.cacheMu.Unlock()
		case <-a.stop:
			return
		}
	}
}

// Close stops the invalidation watcher.
func (a *Authenticator) Close() {
	a.closeOnce.Do(func() { close(a.stop) })
}

// splitBearerValue extracts the token ID and secret halves of a
// presented value of the form fp_<id>.<secret>.
func splitBearerValue(bearer string) (id string, secret string, ok bool) {
	if !strings.HasPrefix(bearer, tokenPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(bearer, tokenPrefix)
	dot := strings.IndexByte(rest, '.')
	if dot <= 0 || dot == len(rest)-1 {
		return "", "", false
	}
	return rest[:dot], rest[dot+1:], true
}

// Authenticate resolves a raw "Authorization: Bearer <value>" credential
// value (the part after "Bearer ") to an AuthContext.
func (a *Authenticator) Authenticate(ctx context.Context, correlationID, bearer string) (AuthContext, error) {
	id, secret, ok := splitBearerValue(bearer)
	if !ok {
		return AuthContext{}, &Failure{Kind: Malformed}
	}

	a.cacheMu.RLock()
	if cached, ok := a.cache.Get(id); ok {
		a.cacheMu.RUnlock()
		cached.CorrelationID = correlationID
		return cached, nil
	}
	a.cacheMu.RUnlock()

	tok, found, err := a.repo.GetTokenByID(ctx, id)
	if err != nil {
		return AuthContext{}, &Failure{Kind: Internal}
	}
	if !found {
		// Equalize timing: a missing token still pays the Argon2id cost.
		argon2.IDKey([]byte(secret), dummyHash, argon2Params.time, argon2Params.memory, argon2Params.threads, argon2Params.keyLen)
		return AuthContext{}, &Failure{Kind: Unknown}
	}

	computed := argon2.IDKey([]byte(secret), []byte(tok.ID), argon2Params.time, argon2Params.memory, argon2Params.threads, argon2Params.keyLen)
	if subtle.ConstantTimeCompare(computed, []byte(tok.PlaintextHash)) != 1 {
		return AuthContext{}, &Failure{Kind: Unknown}
	}

	switch tok.Status {
	case types.TokenRevoked:
		return AuthContext{}, &Failure{Kind: Revoked}
	case types.TokenExpired:
		return AuthContext{}, &Failure{Kind: Expired}
	}
	if tok.ExpiresAt != nil && !tok.ExpiresAt.After(a.clock.Now()) {
		return AuthContext{}, &Failure{Kind: Expired}
	}

	go func() {
		now := a.clock.Now()
		if err := a.repo.TouchTokenLastUsed(context.Background(), tok.ID, now); err != nil {
			a.log.WithError(err).WithField("token_id", tok.ID).Warn("failed to record token last-used timestamp")
		}
	}()

	out := AuthContext{TokenID: tok.ID, Scopes: tok.Scopes, CorrelationID: correlationID}
	a.cacheMu.Lock()
	a.cache.Add(id, out)
	a.cacheMu.Unlock()

	a.log.WithFields(logrus.Fields{"token_id": tok.ID, "correlation_id": correlationID}).Debug("auth.request.authenticated")
	return out, nil
}

// HashSecret derives the storable hash for a newly minted token's
// secret half, keyed to the token's own ID as salt.
func HashSecret(tokenID, secret string) string {
	return string(argon2.IDKey([]byte(secret), []byte(tokenID), argon2Params.time, argon2Params.memory, argon2Params.threads, argon2Params.keyLen))
}

// newSecret returns a random, URL-safe secret half for a new token.
func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateToken implements spec.md §4.4's create_token, including its
// scope-delegation rule: a token can never be minted with a scope the
// creator does not itself hold. The plaintext secret is generated and
// hashed here and returned to the caller exactly once; Repository only
// ever sees the hash.
func (a *Authenticator) CreateToken(ctx context.Context, creator AuthContext, req validate.CreateTokenRequest) (bearer string, tok types.Token, err error) {
	if verr := validate.CreateToken(req); verr != nil {
		return "", types.Token{}, verr
	}
	if !validate.ScopeSuperset(creator.Scopes, req.Scopes) {
		return "", types.Token{}, apperr.Forbiddenf("creator scopes are not a superset of the requested token scopes")
	}

	id := uuid.NewString()
	secret, err := newSecret()
	if err != nil {
		return "", types.Token{}, apperr.Wrap(err, apperr.Internal, "generating token secret")
	}

	tok = types.Token{
		ID:            id,
		Name:          req.Name,
		PlaintextHash: HashSecret(id, secret),
		Scopes:        req.Scopes,
		CreatedAt:     a.clock.Now(),
		ExpiresAt:     req.ExpiresAt,
		Status:        types.TokenActive,
		CreatedBy:     creator.TokenID,
	}
	if err := a.repo.CreateToken(ctx, tok); err != nil {
		return "", types.Token{}, apperr.Wrap(err, apperr.Internal, "creating token")
	}

	a.log.WithFields(logrus.Fields{"token_id": id, "created_by": creator.TokenID, "correlation_id": creator.CorrelationID}).
		Info("auth.token.created")

	return tokenPrefix + id + "." + secret, tok, nil
}

// HasScope reports whether ctx carries the required scope.
func (c AuthContext) HasScope(scope types.Scope) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
