package server

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// User is the authenticated principal of an API request. TokenableID
// keys the task registry (it identifies the access token's owner), while
// ID identifies the user for dispatch.
type User struct {
	ID          int64
	TokenableID int64
	Name        string
}

// UserResolver maps an inbound request to its user. Authentication and
// permission checks live outside this repository; implementations only
// translate a credential the outer system issued.
type UserResolver interface {
	Resolve(r *http.Request) (User, error)
}

// TokenResolver resolves bearer tokens against a static table.
type TokenResolver struct {
	tokens map[string]User
}

var _ UserResolver = (*TokenResolver)(nil)

func NewTokenResolver(tokens map[string]User) *TokenResolver {
	return &TokenResolver{tokens: tokens}
}

func (tr *TokenResolver) Resolve(r *http.Request) (User, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return User{}, errors.New("missing bearer token")
	}
	user, ok := tr.tokens[token]
	if !ok {
		return User{}, errors.New("unknown token")
	}
	return user, nil
}
