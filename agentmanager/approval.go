package agentmanager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ymera-labs/ymera/core"
)

// pendingApproval is a two-party approval record for a destructive action,
// per spec §4.6: "(action, target, requested_by, requested_at, token_hash)".
type pendingApproval struct {
	ApprovalID  string
	Action      string
	Target      string
	RequestedBy string
	RequestedAt time.Time
	TokenHash   string
	Expiry      time.Time
	execute     func(ctx context.Context, approvedBy string) error
}

type approvalClaims struct {
	ApprovalID string `json:"approval_id"`
	jwt.RegisteredClaims
}

// issueApprovalToken mints a signed, time-bound token for one approval
// record and returns both the raw token (handed to the requester out of
// band) and its hash (the only thing the manager retains).
func issueApprovalToken(clock core.Clock, secret []byte, approvalID string, ttl time.Duration) (token string, hash string, expiry time.Time, err error) {
	now := clock.Now()
	expiry = now.Add(ttl)
	claims := approvalClaims{
		ApprovalID: approvalID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return signed, hashToken(signed), expiry, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// verifyApprovalToken checks the token's signature, expiry, and that it
// matches the stored hash and approval id exactly. A missing pending record
// is ApprovalRequired; a present but wrong, expired, or malformed token is
// InvalidRequest (spec scenario 5: "approve(...) with wrong token returns
// InvalidRequest").
func verifyApprovalToken(clock core.Clock, secret []byte, pending *pendingApproval, token string) error {
	if clock.Now().After(pending.Expiry) {
		return core.NewError("verifyApprovalToken", core.KindInvalidRequest, core.ErrApprovalExpired)
	}
	if hashToken(token) != pending.TokenHash {
		return core.NewError("verifyApprovalToken", core.KindInvalidRequest, core.ErrApprovalInvalid)
	}
	claims := &approvalClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !parsed.Valid || claims.ApprovalID != pending.ApprovalID {
		return core.NewError("verifyApprovalToken", core.KindInvalidRequest, core.ErrApprovalInvalid)
	}
	return nil
}
