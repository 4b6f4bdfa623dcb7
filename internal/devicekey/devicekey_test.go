package devicekey

import (
	"crypto"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify_AllAlgorithms(t *testing.T) {
	for _, alg := range []Algorithm{RS256, ES256, EdDSA} {
		t.Run(string(alg), func(t *testing.T) {
			key, err := Generate(alg)
			require.NoError(t, err)
			pubPEM, err := MarshalPublicPEM(key.Public())
			require.NoError(t, err)

			_, detected, err := ParsePublicPEM(pubPEM)
			require.NoError(t, err)
			assert.Equal(t, alg, detected)

			token, err := Sign(key, jwt.MapClaims{"identity": "D1", "pair": true})
			require.NoError(t, err)

			claims, err := Verify(token, pubPEM)
			require.NoError(t, err)
			assert.Equal(t, "D1", StringClaim(claims, "identity"))
			assert.True(t, Truthy(claims["pair"]))
		})
	}
}

func TestVerify_WrongKey(t *testing.T) {
	signer, err := Generate(RS256)
	require.NoError(t, err)
	other, err := Generate(RS256)
	require.NoError(t, err)
	otherPEM, err := MarshalPublicPEM(other.Public())
	require.NoError(t, err)

	token, err := Sign(signer, jwt.MapClaims{"identity": "D1"})
	require.NoError(t, err)

	_, err = Verify(token, otherPEM)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsAlgorithmMismatch(t *testing.T) {
	rsaKey, err := Generate(RS256)
	require.NoError(t, err)
	edKey, err := Generate(EdDSA)
	require.NoError(t, err)
	rsaPEM, err := MarshalPublicPEM(rsaKey.Public())
	require.NoError(t, err)

	token, err := Sign(edKey, jwt.MapClaims{"identity": "D1"})
	require.NoError(t, err)

	_, err = Verify(token, rsaPEM)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	key, err := Generate(ES256)
	require.NoError(t, err)
	pubPEM, err := MarshalPublicPEM(key.Public())
	require.NoError(t, err)

	token, err := Sign(key, jwt.MapClaims{"identity": "D1", "exp": time.Now().Add(-time.Hour).Unix()})
	require.NoError(t, err)

	_, err = Verify(token, pubPEM)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPrivatePEMRoundTrip(t *testing.T) {
	key, err := Generate(RS256)
	require.NoError(t, err)
	privPEM, err := MarshalPrivatePEM(key)
	require.NoError(t, err)

	parsed, err := ParsePrivatePEM([]byte(privPEM))
	require.NoError(t, err)
	assert.True(t, key.Public().(interface{ Equal(x crypto.PublicKey) bool }).Equal(parsed.Public()))
}

func TestPeek_DoesNotVerify(t *testing.T) {
	key, err := Generate(EdDSA)
	require.NoError(t, err)
	token, err := Sign(key, jwt.MapClaims{"identity": "D9", "pair": 1})
	require.NoError(t, err)

	claims, err := Peek(token)
	require.NoError(t, err)
	assert.Equal(t, "D9", StringClaim(claims, "identity"))
	assert.True(t, Truthy(claims["pair"]))

	_, err = Peek("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTruthy(t *testing.T) {
	assert.True(t, Truthy(true))
	assert.True(t, Truthy(float64(1)))
	assert.True(t, Truthy("yes"))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(float64(0)))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy("false"))
	assert.False(t, Truthy(nil))
}
