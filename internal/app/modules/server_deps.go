package modules

import (
	"strings"

	"peaceseal.io/herald/internal/api/handlers"
	"peaceseal.io/herald/internal/api/middleware"
	"peaceseal.io/herald/internal/config"
	"peaceseal.io/herald/internal/stream"
)

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(cfg *config.Config, infra *Infrastructure, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{
		JWTCfg:    JWTConfig(cfg),
		StreamCfg: StreamConfig(cfg),
	}
	if infra != nil {
		deps.Pool = infra.Pool
		deps.Redis = infra.Redis
		deps.Pools = infra.Pools
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		mod.ContributeServerDeps(&deps)
	}
	return deps
}

// JWTConfig maps security settings to the token verifier.
func JWTConfig(cfg *config.Config) middleware.JWTConfig {
	verificationKeys := make([][]byte, 0, len(cfg.Security.JWTVerificationKeys))
	for _, key := range cfg.Security.JWTVerificationKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		verificationKeys = append(verificationKeys, []byte(key))
	}
	return middleware.JWTConfig{
		SigningKey:       []byte(cfg.Security.JWTSecret),
		VerificationKeys: verificationKeys,
		Issuer:           cfg.Security.JWTIssuer,
		ExpiresIn:        cfg.Security.DevTokenTTL,
	}
}

// StreamConfig maps stream settings to the session cadence. Unset fields
// keep the production defaults.
func StreamConfig(cfg *config.Config) stream.Config {
	out := stream.DefaultConfig()
	s := cfg.Stream
	if s.HydrateLimit > 0 {
		out.HydrateLimit = s.HydrateLimit
	}
	if s.LiveBatch > 0 {
		out.LiveBatch = s.LiveBatch
	}
	if s.PollFloor > 0 {
		out.PollFloor = s.PollFloor
	}
	if s.PollCeiling > 0 {
		out.PollCeiling = s.PollCeiling
	}
	if s.BackoffFactor >= 1 {
		out.BackoffFactor = s.BackoffFactor
	}
	if s.Heartbeat > 0 {
		out.Heartbeat = s.Heartbeat
	}
	if s.JitterRatio > 0 {
		out.JitterRatio = s.JitterRatio
	}
	if s.JitterMin > 0 {
		out.JitterMin = s.JitterMin
	}
	if s.StoreCheck > 0 {
		out.StoreCheck = s.StoreCheck
	}
	if s.CallBudget > 0 {
		out.CallBudget = s.CallBudget
	}
	return out
}
