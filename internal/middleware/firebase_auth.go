package middleware

import (
	"context"

	"firebase.google.com/go/v4/auth"
	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/pkg/errs"
)

// TokenVerifier verifies Firebase ID tokens. *auth.Client satisfies it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// claimsFromFirebase turns a verified Firebase ID token into the same claims a
// local JWT carries. The Firebase UID is the connection user id.
func claimsFromFirebase(ctx context.Context, verifier TokenVerifier, idToken string) (*models.JwtCustomClaims, error) {
	token, err := verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, errs.Wrap(errs.CodeUnauthenticated, err, "invalid or expired ID token")
	}

	email, _ := token.Claims["email"].(string)
	return &models.JwtCustomClaims{UserID: token.UID, Email: email}, nil
}
