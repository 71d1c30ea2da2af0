package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Claims struct {
	jwt.RegisteredClaims
	Role      Role   `json:"role"`
	DoctorID  string `json:"doctor_id,omitempty"`
	PatientID string `json:"patient_id,omitempty"`
}

var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier validates HS256 bearer tokens issued by the identity service.
type TokenVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewTokenVerifier(secret []byte, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: secret, issuer: issuer, now: time.Now}
}

// Parse verifies tokenStr and turns its claims into an Actor.
func (v *TokenVerifier) Parse(tokenStr string) (*Actor, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.actor()
}

func (c *Claims) actor() (*Actor, error) {
	if !c.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}
	uid, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a uuid", ErrInvalidToken)
	}
	a := &Actor{UserID: uid, Role: c.Role}
	if a.DoctorID, err = optionalUUID(c.DoctorID); err != nil {
		return nil, fmt.Errorf("%w: doctor_id: %v", ErrInvalidToken, err)
	}
	if a.PatientID, err = optionalUUID(c.PatientID); err != nil {
		return nil, fmt.Errorf("%w: patient_id: %v", ErrInvalidToken, err)
	}
	return a, nil
}

func optionalUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(s)
}

// Issue signs a token for a. The identity service owns token issuance; this
// is used by the `token` CLI command and tests.
func (v *TokenVerifier) Issue(a *Actor, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.UserID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: a.Role,
	}
	if a.DoctorID != uuid.Nil {
		claims.DoctorID = a.DoctorID.String()
	}
	if a.PatientID != uuid.Nil {
		claims.PatientID = a.PatientID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
