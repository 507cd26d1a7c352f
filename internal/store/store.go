// Package store wires the durable collaborators: provisioning config
// records, one harvested secret per tenant key, and the per-deployment
// step logs (owned by internal/progress, sharing the same bolt handle).
package store

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/systeminit/pluto/pkg/model"
)

const (
	configsBucket     = "configs"
	secretsBucket     = "secrets"
	DeploymentsBucket = "deployments"
)

type Store struct {
	db     *bolt.DB
	logger *zap.Logger
}

func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("bolt open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range []string{configsBucket, secretsBucket, DeploymentsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt create buckets: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the shared bolt handle for the progress recorder.
func (s *Store) DB() *bolt.DB {
	return s.db
}

func (s *Store) PutConfig(cfg model.ProvisioningConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(configsBucket)).Put([]byte(cfg.ID), data)
	})
}

func (s *Store) GetConfig(id string) (*model.ProvisioningConfig, error) {
	var cfg model.ProvisioningConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(configsBucket)).Get([]byte(id))
		if v == nil {
			return &model.NotFoundError{Kind: "provisioning config", ID: id}
		}
		return json.Unmarshal(v, &cfg)
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) ListConfigs() ([]model.ProvisioningConfig, error) {
	cfgs := []model.ProvisioningConfig{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(configsBucket)).ForEach(func(k, v []byte) error {
			var cfg model.ProvisioningConfig
			if err := json.Unmarshal(v, &cfg); err != nil {
				return err
			}
			cfgs = append(cfgs, cfg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return cfgs, nil
}

// PutSecret stores the single secret value held for a tenant key. The
// write is synchronous and durable before it returns.
func (s *Store) PutSecret(tenantKey, secret string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(secretsBucket)).Put([]byte(tenantKey), []byte(secret))
	})
}

func (s *Store) GetSecret(tenantKey string) (string, error) {
	var secret string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(secretsBucket)).Get([]byte(tenantKey))
		if v == nil {
			return &model.NotFoundError{Kind: "tenant secret", ID: tenantKey}
		}
		secret = string(v)
		return nil
	})
	if err != nil {
		return "", err
	}
	return secret, nil
}
