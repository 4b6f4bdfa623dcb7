package pairing

import (
	"context"
	"crypto"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/dongled/internal/devicekey"
	"github.com/xelth-com/dongled/internal/models"
	"github.com/xelth-com/dongled/internal/store"
	"github.com/xelth-com/dongled/internal/testutil"
)

type fixture struct {
	devices *store.Devices
	engine  *Engine
	key     crypto.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	devices := store.NewDevices(testutil.OpenDB(t))

	key, err := devicekey.Generate(devicekey.RS256)
	require.NoError(t, err)
	pubPEM, err := devicekey.MarshalPublicPEM(key.Public())
	require.NoError(t, err)

	require.NoError(t, devices.Create(context.Background(), &models.Device{
		DongleID: "D1", Serial: "SERIAL1", IMEI: "IMEI", PublicKey: pubPEM,
	}))
	return &fixture{devices: devices, engine: NewEngine(devices), key: key}
}

func (f *fixture) owner(t *testing.T, dongleID string) uint {
	t.Helper()
	d, err := f.devices.GetByDongleID(context.Background(), dongleID)
	require.NoError(t, err)
	return d.AccountID
}

// signToken signs claims plus a nonce, retrying until the token's encoding
// does or does not contain the legacy separator.
func signToken(t *testing.T, key crypto.Signer, claims jwt.MapClaims, withSeparator bool) string {
	t.Helper()
	for i := 0; i < 10000; i++ {
		c := jwt.MapClaims{"nonce": i}
		for k, v := range claims {
			c[k] = v
		}
		token, err := devicekey.Sign(key, c)
		require.NoError(t, err)
		if strings.Contains(token, LegacySeparator) == withSeparator {
			return token
		}
	}
	t.Fatalf("no token with separator=%v after 10000 tries", withSeparator)
	return ""
}

func TestPairDevice_Legacy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountA := &models.Account{ID: 1}
	accountB := &models.Account{ID: 2}

	res, err := f.engine.PairDevice(ctx, accountA, "IMEI--SERIAL1--TOK")
	require.NoError(t, err)
	assert.Equal(t, &Result{Success: true, Paired: true, DongleID: "D1", AccountID: 1}, res)
	assert.Equal(t, uint(1), f.owner(t, "D1"))

	_, err = f.engine.PairDevice(ctx, accountB, "IMEI--SERIAL1--TOK")
	var already *AlreadyPairedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "D1", already.DongleID)
	assert.Equal(t, uint(1), f.owner(t, "D1"))
}

func TestPairDevice_LegacyUnknownSerial(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.PairDevice(context.Background(), &models.Account{ID: 1}, "IMEI--NOPE--TOK")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestPairDevice_LegacyMalformed(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.PairDevice(context.Background(), &models.Account{ID: 1}, "IMEI--SERIAL1")
	assert.ErrorIs(t, err, ErrBadQR)
}

func TestPairDevice_Signed(t *testing.T) {
	f := newFixture(t)
	token := signToken(t, f.key, jwt.MapClaims{"identity": "D1", "pair": true}, false)

	res, err := f.engine.PairDevice(context.Background(), &models.Account{ID: 5}, token)
	require.NoError(t, err)
	assert.True(t, res.Paired)
	assert.Equal(t, uint(5), f.owner(t, "D1"))
}

func TestPairDevice_SignedTokenContainingSeparator(t *testing.T) {
	f := newFixture(t)
	token := signToken(t, f.key, jwt.MapClaims{"identity": "D1", "pair": true}, true)
	require.Contains(t, token, LegacySeparator)

	res, err := f.engine.PairDevice(context.Background(), &models.Account{ID: 5}, token)
	require.NoError(t, err)
	assert.Equal(t, "D1", res.DongleID)
	assert.Equal(t, uint(5), f.owner(t, "D1"))
}

func TestPairDevice_SignedByUnrelatedKey(t *testing.T) {
	f := newFixture(t)
	other, err := devicekey.Generate(devicekey.RS256)
	require.NoError(t, err)
	token := signToken(t, other, jwt.MapClaims{"identity": "D1", "pair": true}, false)

	_, err = f.engine.PairDevice(context.Background(), &models.Account{ID: 5}, token)
	assert.ErrorIs(t, err, ErrBadToken)
	assert.Equal(t, uint(0), f.owner(t, "D1"))
}

func TestPairDevice_SignedWithoutPairClaim(t *testing.T) {
	f := newFixture(t)
	token := signToken(t, f.key, jwt.MapClaims{"identity": "D1"}, false)

	_, err := f.engine.PairDevice(context.Background(), &models.Account{ID: 5}, token)
	assert.ErrorIs(t, err, ErrNoPair)
}

func TestPairDevice_SignedUnknownIdentity(t *testing.T) {
	f := newFixture(t)
	token := signToken(t, f.key, jwt.MapClaims{"identity": "GHOST", "pair": true}, false)

	_, err := f.engine.PairDevice(context.Background(), &models.Account{ID: 5}, token)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestPairDevice_Garbage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PairDevice(ctx, &models.Account{ID: 1}, "")
	assert.ErrorIs(t, err, ErrBadQR)

	_, err = f.engine.PairDevice(ctx, &models.Account{ID: 1}, "not-a-jwt")
	assert.ErrorIs(t, err, ErrNoPair)

	_, err = f.engine.PairDevice(ctx, nil, "IMEI--SERIAL1--TOK")
	assert.ErrorIs(t, err, ErrNoAccount)
}

// lostRaceStore reports the conditional update as applied while a rival
// account actually holds the device, the way a concurrent pairing would look.
type lostRaceStore struct {
	DeviceStore
	rival uint
}

func (s *lostRaceStore) SetOwnerIfUnowned(ctx context.Context, dongleID string, _ uint) (bool, error) {
	return s.DeviceStore.SetOwnerIfUnowned(ctx, dongleID, s.rival)
}

func TestPairDevice_ReadBackMismatch(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(&lostRaceStore{DeviceStore: f.devices, rival: 99})

	_, err := engine.PairDevice(context.Background(), &models.Account{ID: 1}, "IMEI--SERIAL1--TOK")
	assert.ErrorIs(t, err, ErrNotConfirmed)
	assert.Equal(t, uint(99), f.owner(t, "D1"))
}

func TestPairDevice_ConcurrentAttemptsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	const attempts = 8

	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.engine.PairDevice(context.Background(), &models.Account{ID: uint(i + 1)}, "IMEI--SERIAL1--TOK")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.NotZero(t, f.owner(t, "D1"))
}

func TestUnpairDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.PairDevice(ctx, &models.Account{ID: 3}, "IMEI--SERIAL1--TOK")
	require.NoError(t, err)

	assert.ErrorIs(t, f.engine.UnpairDevice(ctx, "D1", 4), ErrInvalidDongle)
	assert.Equal(t, uint(3), f.owner(t, "D1"))

	require.NoError(t, f.engine.UnpairDevice(ctx, "D1", 3))
	assert.Equal(t, uint(0), f.owner(t, "D1"))

	assert.ErrorIs(t, f.engine.UnpairDevice(ctx, "D1", 3), ErrInvalidDongle)
	assert.ErrorIs(t, f.engine.UnpairDevice(ctx, "missing", 3), ErrInvalidDongle)
}
