package config

import (
	"fmt"
	"os"
)

// Env is the required-at-startup configuration surface of spec.md §6:
// secrets and per-deployment addresses that environment variables carry,
// as opposed to Tunables, which is safe to hot-reload from a file.
type Env struct {
	LBPort     string
	MongoURI   string
	AWSRegion  string
	LBIP       string
	ConfigPath string
}

// LoadEnv reads Env from the process environment, applying spec.md's
// defaults and failing only on the one required variable, MONGODB_URI.
func LoadEnv() (Env, error) {
	e := Env{
		LBPort:     getenv("LB_PORT", "5000"),
		MongoURI:   os.Getenv("MONGODB_URI"),
		AWSRegion:  getenv("AWS_REGION", "us-east-1"),
		LBIP:       os.Getenv("LB_IP"),
		ConfigPath: getenv("CONFIG_PATH", "./chlb.yml"),
	}
	if e.MongoURI == "" {
		return Env{}, fmt.Errorf("config: MONGODB_URI not set in environment")
	}
	return e, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
