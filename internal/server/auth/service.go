package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jellydator/ttlcache/v3"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Service verifies HTTP Basic credentials against external login
// verification endpoints. Verified identities are cached locally and,
// when a redis client is configured, shared across instances.
type Service struct {
	log        *zap.SugaredLogger
	client     *http.Client
	verifyURLs []string
	cache      *ttlcache.Cache[string, domain.Identity]
	rdb        *redis.Client
	ttl        time.Duration
}

func NewService(log *zap.SugaredLogger, verifyURLs []string, ttl time.Duration, timeout time.Duration, rdb *redis.Client) *Service {
	cache := ttlcache.New(ttlcache.WithTTL[string, domain.Identity](ttl))
	go cache.Start()
	return &Service{
		log:        log,
		client:     &http.Client{Timeout: timeout},
		verifyURLs: verifyURLs,
		cache:      cache,
		rdb:        rdb,
		ttl:        ttl,
	}
}

func (s *Service) Close() {
	s.cache.Stop()
	s.cache.DeleteAll()
}

// Identify resolves the identity of a request. Requests without
// Basic credentials are anonymous; invalid credentials fail with
// ErrAuthRequired.
func (s *Service) Identify(r *http.Request) (domain.Identity, error) {
	username, password, ok := r.BasicAuth()
	if !ok || username == "" {
		return domain.Anonymous(), nil
	}
	if len(s.verifyURLs) == 0 {
		// no verification endpoints: trust the supplied username
		return domain.Authenticated(username), nil
	}
	return s.verify(r.Context(), username, password)
}

func (s *Service) verify(ctx context.Context, username, password string) (domain.Identity, error) {
	key := credentialsKey(username, password)
	if item := s.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	if identity, ok := s.redisGet(ctx, key); ok {
		s.cache.Set(key, identity, ttlcache.DefaultTTL)
		return identity, nil
	}

	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(credentials{Username: username, Password: password})
	if err != nil {
		return domain.Identity{}, err
	}
	for _, verifyURL := range s.verifyURLs {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, verifyURL, bytes.NewReader(body))
		if err != nil {
			return domain.Identity{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.client.Do(req)
		if err != nil {
			s.log.Errorw("auth: login verification", "url", verifyURL, zap.Error(err))
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			identity := domain.Authenticated(username)
			s.cache.Set(key, identity, ttlcache.DefaultTTL)
			s.redisSet(ctx, key, identity)
			return identity, nil
		}
	}
	return domain.Identity{}, domain.ErrAuthRequired
}

func credentialsKey(username, password string) string {
	sum := sha256.Sum256([]byte(username + "\x00" + password))
	return hex.EncodeToString(sum[:])
}

func (s *Service) redisGet(ctx context.Context, key string) (domain.Identity, bool) {
	if s.rdb == nil {
		return domain.Identity{}, false
	}
	username, err := s.rdb.Get(ctx, redisKey(key)).Result()
	if err != nil {
		if err != redis.Nil {
			s.log.Errorw("auth: redis get", zap.Error(err))
		}
		return domain.Identity{}, false
	}
	return domain.Authenticated(username), true
}

func (s *Service) redisSet(ctx context.Context, key string, identity domain.Identity) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Set(ctx, redisKey(key), identity.Username, s.ttl).Err(); err != nil {
		s.log.Errorw("auth: redis set", zap.Error(err))
	}
}

func redisKey(key string) string {
	return fmt.Sprintf("ogc:auth:%s", key)
}
