package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

var tokenEncoding = base64.URLEncoding.WithPadding(base64.NoPadding)

// Signer issues and verifies bearer tokens of the form
// base64(userID:expiresUnix).base64(hmac).
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Signer) Issue(userID int) (string, time.Time) {
	expiresAt := s.now().Add(s.ttl)
	payload := tokenEncoding.EncodeToString([]byte(fmt.Sprintf("%d:%d", userID, expiresAt.Unix())))
	return payload + "." + s.sign(payload), expiresAt
}

func (s *Signer) Verify(token string) (int, error) {
	payload, signature, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || payload == "" || signature == "" {
		return 0, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(s.sign(payload))) {
		return 0, ErrInvalidToken
	}

	raw, err := tokenEncoding.DecodeString(payload)
	if err != nil {
		return 0, ErrInvalidToken
	}
	idPart, expPart, ok := strings.Cut(string(raw), ":")
	if !ok {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.Atoi(idPart)
	if err != nil {
		return 0, ErrInvalidToken
	}
	expires, err := strconv.ParseInt(expPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	if expires < s.now().Unix() {
		return 0, ErrExpiredToken
	}
	return userID, nil
}

func (s *Signer) sign(payload string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	return tokenEncoding.EncodeToString(h.Sum(nil))
}
