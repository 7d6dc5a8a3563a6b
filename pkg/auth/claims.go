package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	SubjectID uuid.UUID
	Role      enums.ActorRole
	VendorID  *uuid.UUID
	JTI       string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	SubjectID uuid.UUID       `json:"sub_id"`
	Role      enums.ActorRole `json:"role"`
	VendorID  *uuid.UUID      `json:"vendor_id,omitempty"`
	jwt.RegisteredClaims
}
