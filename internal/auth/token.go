package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the identity of a signed-in user.
type Claims struct {
	UserID int64  `json:"id"`
	Role   string `json:"role"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared key.
type Verifier struct {
	key []byte
	now func() time.Time
}

func NewVerifier(key string) *Verifier {
	return &Verifier{key: []byte(key), now: time.Now}
}

// Sign issues a token; the API never does this itself, it is used by tests
// and local tooling.
func (v *Verifier) Sign(userID int64, role orders.Role, email string, ttl time.Duration) (string, error) {
	now := v.now()
	c := Claims{
		UserID: userID,
		Role:   string(role),
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.key)
}

func (v *Verifier) Verify(token string) (orders.Actor, Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) { return v.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return orders.Actor{}, Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	role, ok := orders.ParseRole(c.Role)
	if !ok || c.UserID <= 0 {
		return orders.Actor{}, Claims{}, fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}
	return orders.Actor{ID: c.UserID, Role: role}, c, nil
}
