package tenant

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
	"github.com/qwc-services/qwc-ogc-service/internal/infrastructure/cache"
)

const (
	resourcesFile   = "ogcConfig.json"
	permissionsFile = "permissions.json"
)

// Snapshot is the immutable configuration state of one tenant. A
// snapshot is never mutated after load; reloads produce a new
// snapshot.
type Snapshot struct {
	Catalog     *domain.ResourceCatalog
	Permissions *domain.PermissionIndex
}

type resourcesConfig struct {
	WmsServices []*domain.WmsService `json:"wms_services" validate:"dive"`
	WfsServices []*domain.WfsService `json:"wfs_services" validate:"dive"`
}

type permissionsConfig struct {
	Users  []*domain.User  `json:"users" validate:"dive"`
	Groups []*domain.Group `json:"groups" validate:"dive"`
	Roles  []*domain.Role  `json:"roles" validate:"dive"`
}

// Store reads per-tenant configuration from
// <configPath>/<tenant>/ogcConfig.json and permissions.json, caching
// parsed snapshots keyed by file modification time.
type Store struct {
	log        *zap.SugaredLogger
	configPath string
	validate   *validator.Validate
	cache      *cache.DataCache[string, *Snapshot]
}

func NewStore(log *zap.SugaredLogger, configPath string) *Store {
	s := &Store{
		log:        log,
		configPath: configPath,
		validate:   validator.New(),
	}
	s.cache = cache.NewDataCache(s.load)
	return s
}

// Snapshot returns the current configuration of a tenant. Config
// files are re-read when their modification time changes; concurrent
// requests share a single load.
func (s *Store) Snapshot(tenant string) (*Snapshot, error) {
	dir := filepath.Join(s.configPath, tenant)
	var timestamp int64
	for _, name := range []string{resourcesFile, permissionsFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, &domain.ConfigError{Tenant: tenant, Reason: fmt.Sprintf("missing %s", name), Err: err}
			}
			return nil, &domain.ConfigError{Tenant: tenant, Reason: "reading config", Err: err}
		}
		timestamp = max(timestamp, info.ModTime().UnixNano())
	}
	return s.cache.Get(tenant, timestamp)
}

func (s *Store) load(tenant string) (*Snapshot, error) {
	dir := filepath.Join(s.configPath, tenant)
	s.log.Infow("tenant: loading config", "tenant", tenant)

	var resources resourcesConfig
	if err := s.readConfig(tenant, filepath.Join(dir, resourcesFile), &resources); err != nil {
		return nil, err
	}
	var permissions permissionsConfig
	if err := s.readConfig(tenant, filepath.Join(dir, permissionsFile), &permissions); err != nil {
		return nil, err
	}
	return &Snapshot{
		Catalog:     domain.NewResourceCatalog(resources.WmsServices, resources.WfsServices),
		Permissions: domain.NewPermissionIndex(permissions.Users, permissions.Groups, permissions.Roles),
	}, nil
}

func (s *Store) readConfig(tenant, filename string, target interface{}) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return &domain.ConfigError{Tenant: tenant, Reason: fmt.Sprintf("reading %s", filepath.Base(filename)), Err: err}
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(content, target); err != nil {
		return &domain.ConfigError{Tenant: tenant, Reason: fmt.Sprintf("parsing %s", filepath.Base(filename)), Err: err}
	}
	if err := s.validate.Struct(target); err != nil {
		return &domain.ConfigError{Tenant: tenant, Reason: fmt.Sprintf("invalid %s", filepath.Base(filename)), Err: err}
	}
	return nil
}
