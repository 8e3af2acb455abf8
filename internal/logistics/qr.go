package logistics

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/trgnguyen/remarket-backend/pkg/config"
	pkgerrors "github.com/trgnguyen/remarket-backend/pkg/errors"
)

const pickupTokenSubject = "pickup"

var qrSigningMethod = jwt.SigningMethodHS256

// PickupClaims is the payload encoded into a pickup QR code. The shipper
// scans it at the seller's door; a valid signature is the QR-verified proof.
type PickupClaims struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	jwt.RegisteredClaims
}

// QRIssuer mints and verifies pickup QR tokens.
type QRIssuer struct {
	cfg config.JWTConfig
	ttl time.Duration
}

// NewQRIssuer builds a QR issuer from the shared JWT settings.
func NewQRIssuer(cfg config.JWTConfig, ttl time.Duration) (*QRIssuer, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("jwt issuer is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &QRIssuer{cfg: cfg, ttl: ttl}, nil
}

// Mint issues a signed pickup token for one order item.
func (q *QRIssuer) Mint(orderItemID, sellerID uuid.UUID, now time.Time) (string, error) {
	claims := PickupClaims{
		OrderItemID: orderItemID,
		SellerID:    sellerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    q.cfg.Issuer,
			Subject:   pickupTokenSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(q.ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(qrSigningMethod, claims)
	signed, err := token.SignedString([]byte(q.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing pickup token: %w", err)
	}
	return signed, nil
}

// Verify validates a scanned token and returns its claims.
func (q *QRIssuer) Verify(tokenString string) (*PickupClaims, error) {
	claims := &PickupClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != qrSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(q.cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{qrSigningMethod.Alg()}),
		jwt.WithIssuer(q.cfg.Issuer),
		jwt.WithSubject(pickupTokenSubject),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePrecondition, err, "pickup QR verification failed")
	}
	return claims, nil
}
