package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"Prophet-Chain/internal/config"
	"Prophet-Chain/pkg/logger"
)

// HeaderAPIKey 是 Authorization 之外可选的 API Key 请求头。
const HeaderAPIKey = "X-API-Key"

type apiKey struct {
	id      string
	digest  [sha256.Size]byte
	subject *Subject
}

// Service 负责 API Key 的校验与权限判定。
type Service struct {
	enabled bool
	keys    []apiKey
	audit   *slog.Logger
}

// NewService 根据配置构造鉴权服务。Key 为空时从 KeyEnv 读取。
func NewService(cfg config.AuthConfig) (*Service, error) {
	return newService(cfg, os.LookupEnv)
}

func newService(cfg config.AuthConfig, lookup func(string) (string, bool)) (*Service, error) {
	svc := &Service{enabled: cfg.Enabled, audit: logger.Audit()}
	if !cfg.Enabled {
		return svc, nil
	}

	seen := make(map[string]struct{}, len(cfg.APIKeys))
	for _, entry := range cfg.APIKeys {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, errors.New("api key 缺少 id")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("api key %s 重复定义", id)
		}
		seen[id] = struct{}{}

		key := strings.TrimSpace(entry.Key)
		if key == "" && entry.KeyEnv != "" {
			if v, ok := lookup(entry.KeyEnv); ok {
				key = strings.TrimSpace(v)
			}
		}
		if key == "" {
			return nil, fmt.Errorf("api key %s 未配置密钥", id)
		}
		subject := &Subject{ID: id, Permissions: append([]string(nil), entry.Permissions...)}
		subject.normalise()
		svc.keys = append(svc.keys, apiKey{id: id, digest: sha256.Sum256([]byte(key)), subject: subject})
	}
	if len(svc.keys) == 0 {
		return nil, errors.New("启用鉴权时至少需要一个 api key")
	}
	return svc, nil
}

// Enabled 表示是否要求请求携带 API Key。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// Authenticate 校验 Authorization: Bearer <key> 或 X-API-Key 中携带的密钥。
// 禁用鉴权时返回拥有全部权限的匿名主体。
func (s *Service) Authenticate(_ context.Context, authorization, headerKey string) (*Subject, error) {
	if !s.Enabled() {
		return anonymous.Clone(), nil
	}
	presented := strings.TrimSpace(headerKey)
	if presented == "" {
		if token, ok := strings.CutPrefix(strings.TrimSpace(authorization), "Bearer "); ok {
			presented = strings.TrimSpace(token)
		}
	}
	if presented == "" {
		return nil, ErrMissingKey
	}

	digest := sha256.Sum256([]byte(presented))
	var match *Subject
	// 遍历全部密钥，耗时与命中位置无关。
	for i := range s.keys {
		if subtle.ConstantTimeCompare(digest[:], s.keys[i].digest[:]) == 1 && match == nil {
			match = s.keys[i].subject
		}
	}
	if match == nil {
		return nil, ErrInvalidKey
	}
	return match.Clone(), nil
}
