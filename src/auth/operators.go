package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var ErrUnauthorized = errors.New("operator authentication failed")

// Authenticator verifies operator credentials against bcrypt hashes.
type Authenticator struct {
	operators map[uint][]byte
}

// ParseOperators reads "<userID>:<bcrypt hash>,..." into an Authenticator.
func ParseOperators(spec string) (*Authenticator, error) {
	a := &Authenticator{operators: make(map[uint][]byte)}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idPart, hash, found := strings.Cut(entry, ":")
		if !found || hash == "" {
			return nil, fmt.Errorf("invalid operator entry %q", entry)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(idPart), 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid operator id %q", idPart)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("operator %d: %w", id, err)
		}
		a.operators[uint(id)] = []byte(hash)
	}
	return a, nil
}

func (a *Authenticator) Len() int {
	return len(a.operators)
}

// Verify returns the operator when the password matches its hash.
func (a *Authenticator) Verify(userID uint, password string) (*Operator, bool) {
	hash, ok := a.operators[userID]
	if !ok {
		return nil, false
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return nil, false
	}
	return &Operator{UserID: userID}, true
}

// Authenticate is Verify for callers outside HTTP, such as the CLI reset.
func (a *Authenticator) Authenticate(userID uint, password string) (*Operator, error) {
	if userID == 0 || password == "" {
		return nil, fmt.Errorf("%w: operator id and password are required", ErrUnauthorized)
	}
	operator, ok := a.Verify(userID, password)
	if !ok {
		logger.WithField("user_id", userID).Warn("operator authentication failed")
		return nil, fmt.Errorf("%w: operator %d", ErrUnauthorized, userID)
	}
	return operator, nil
}

// Middleware requires HTTP basic auth with the operator's user id as the
// username and puts the Operator into the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="tradeledger"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		id, err := strconv.ParseUint(username, 10, 64)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		operator, ok := a.Verify(uint(id), password)
		if !ok {
			logger.WithField("user_id", id).Warn("operator authentication failed")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), operator)))
	})
}
