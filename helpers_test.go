package authcore

import (
	"context"
	"encoding/base32"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/schoolsync/authcore/password"
)

const testPassword = "Secret1!"

var (
	testHashOnce sync.Once
	testHash     string
	testHashErr  error
)

// seedHash returns one shared argon2id hash of testPassword, computed at
// reduced cost so the suite stays fast.
func seedHash(t *testing.T) string {
	t.Helper()
	testHashOnce.Do(func() {
		hasher, err := password.NewHasher(testPasswordConfig())
		if err != nil {
			testHashErr = err
			return
		}
		testHash, testHashErr = hasher.Hash(testPassword)
	})
	if testHashErr != nil {
		t.Fatalf("seed hash failed: %v", testHashErr)
	}
	return testHash
}

func testPasswordConfig() password.Config {
	return password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Password = PasswordConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.Audit.RetryInterval = 20 * time.Millisecond
	return cfg
}

// memProvider is an in-memory IdentityProvider for tests.
type memProvider struct {
	mu     sync.Mutex
	byName map[string]Identity
	byID   map[string]Identity
}

func newMemProvider() *memProvider {
	return &memProvider{
		byName: map[string]Identity{},
		byID:   map[string]Identity{},
	}
}

func (p *memProvider) put(id Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byName[id.Username] = id
	p.byID[id.UserID] = id
}

func (p *memProvider) get(userID string) Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byID[userID]
}

func (p *memProvider) GetByUsername(_ context.Context, username string) (Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byName[username]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return id, nil
}

func (p *memProvider) GetByID(_ context.Context, userID string) (Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byID[userID]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return id, nil
}

func (p *memProvider) update(userID string, fn func(*Identity)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byID[userID]
	if !ok {
		return ErrIdentityNotFound
	}
	fn(&id)
	p.byID[userID] = id
	p.byName[id.Username] = id
	return nil
}

func (p *memProvider) SetTOTPSecret(_ context.Context, userID string, secret []byte) error {
	return p.update(userID, func(id *Identity) { id.TOTPSecret = secret })
}

func (p *memProvider) SetOTPMethod(_ context.Context, userID string, method OTPMethod) error {
	return p.update(userID, func(id *Identity) { id.OTPMethod = method })
}

func (p *memProvider) SetActive(_ context.Context, userID string, active bool) error {
	return p.update(userID, func(id *Identity) { id.Active = active })
}

func (p *memProvider) UpdateTOTPLastUsed(_ context.Context, userID string, counter int64) error {
	return p.update(userID, func(id *Identity) { id.TOTPLastUsed = counter })
}

// captureGateway records delivered codes instead of sending them.
type captureGateway struct {
	mu    sync.Mutex
	codes []string
	fail  bool
}

func (g *captureGateway) Deliver(_ context.Context, _ Identity, _ string, code string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return ErrDeliveryFailed
	}
	g.codes = append(g.codes, code)
	return nil
}

func (g *captureGateway) setFail(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = fail
}

func (g *captureGateway) lastCode(t *testing.T) string {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.codes) == 0 {
		t.Fatal("no code delivered")
	}
	return g.codes[len(g.codes)-1]
}

func (g *captureGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.codes)
}

type testEnv struct {
	engine   *Engine
	rdb      *redis.Client
	provider *memProvider
	gateway  *captureGateway
}

// newTestEngine builds an engine against miniredis with alice (no 2FA),
// bob (email 2FA), and carol (TOTP, secret assigned by the test)
// pre-seeded. mutate may adjust the config before Build; extra builder
// options run last.
func newTestEngine(t *testing.T, mutate func(*Config), opts ...func(*Builder)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	hash := seedHash(t)
	provider := newMemProvider()
	provider.put(Identity{
		UserID: "u-alice", Username: "alice", Email: "alice@example.com",
		PasswordHash: hash, OTPMethod: OTPMethodNone, Active: true,
	})
	provider.put(Identity{
		UserID: "u-bob", Username: "bob", Email: "bob@example.com",
		PasswordHash: hash, OTPMethod: OTPMethodEmail, Active: true,
	})
	provider.put(Identity{
		UserID: "u-carol", Username: "carol", Email: "carol@example.com",
		PasswordHash: hash, OTPMethod: OTPMethodNone, Active: true,
	})

	gateway := &captureGateway{}

	builder := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityProvider(provider).
		WithDeliveryGateway(gateway)
	for _, opt := range opts {
		opt(builder)
	}

	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, rdb: rdb, provider: provider, gateway: gateway}
}

// waitAudit polls the audit log until at least want matching events are
// persisted. Returns them oldest-first.
func waitAudit(t *testing.T, engine *Engine, q AuditQuery, want int) []AuditEvent {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := engine.QueryAudit(context.Background(), q)
		if err == nil && len(events) >= want {
			// QueryAudit is newest-first; flip for chronological asserts.
			out := make([]AuditEvent, len(events))
			for i, e := range events {
				out[len(events)-1-i] = e
			}
			return out
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit log never reached %d events (query %+v): have %d, err %v",
				want, q, len(events), err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func eventTypes(events []AuditEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventType
	}
	return out
}

// enrollTOTP walks carol through setup and returns the shared secret.
func enrollTOTP(t *testing.T, env *testEnv, userID string) []byte {
	t.Helper()

	setup, err := env.engine.GenerateTOTPSetup(context.Background(), userID)
	if err != nil {
		t.Fatalf("GenerateTOTPSetup failed: %v", err)
	}

	secret := decodeBase32(t, setup.SecretBase32)
	code := totpCodeAt(secret, time.Now(), 0, env.engine.config.TOTP)
	if err := env.engine.ConfirmTOTPSetup(context.Background(), userID, code); err != nil {
		t.Fatalf("ConfirmTOTPSetup failed: %v", err)
	}
	return secret
}

func decodeBase32(t *testing.T, secret string) []byte {
	t.Helper()
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}
	return key
}

// totpCodeAt derives the code for now shifted by offset time-steps.
func totpCodeAt(secret []byte, now time.Time, offset int64, cfg TOTPConfig) string {
	counter := now.Unix()/int64(cfg.Period) + offset
	return hotpCode(secret, counter, cfg.Digits)
}
