// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/intentguard/intentguard"
)

const (
	envPrefix = "INTENTGUARD"

	versionKey    = "version"
	configFileKey = "config-file"
	httpHostKey   = "http-host"
	httpPortKey   = "http-port"
	dbDirKey      = "db-dir"
	logLevelKey   = "log-level"

	redisAddrKey     = "redis-addr"
	redisPasswordKey = "redis-password"
	redisDBKey       = "redis-db"
	redisChannelKey  = "redis-channel"

	verdictRateKey  = "verdict-rate"
	verdictBurstKey = "verdict-burst"

	quorumKey             = "quorum"
	riskyToleranceKey     = "risky-tolerance"
	scoreThresholdKey     = "score-threshold"
	requireResultMatchKey = "require-result-match"
	intentWindowKey       = "intent-window"
	verificationFeeKey    = "verification-fee"
	insuranceShareKey     = "insurance-share-bps"
	verdictRewardKey      = "verdict-reward"
	minStakeKey           = "min-stake"
	permissionedKey       = "permissioned"
	openExecutionKey      = "open-execution"
	monitorsKey           = "monitors"
	adminsKey             = "admins"
)

func buildFlagSet() *flag.FlagSet {
	defaults := intentguard.DefaultConfig()
	fs := flag.NewFlagSet(intentguard.Name, flag.ContinueOnError)

	fs.Bool(versionKey, false, "If true, prints the version and quits")
	fs.String(configFileKey, "", "Path to a config file (json, yaml or toml)")
	fs.String(httpHostKey, "127.0.0.1", "Address the HTTP server listens on")
	fs.Uint(httpPortKey, 9650, "Port the HTTP server listens on")
	fs.String(dbDirKey, "", "Database directory. Empty keeps all state in memory")
	fs.String(logLevelKey, "info", "Log level (trace, debug, info, warn, error, crit)")

	fs.String(redisAddrKey, "", "Redis address events are published to. Empty disables publishing")
	fs.String(redisPasswordKey, "", "Redis password")
	fs.Int(redisDBKey, 0, "Redis database")
	fs.String(redisChannelKey, "intentguard:events", "Redis channel events are published on")

	fs.Float64(verdictRateKey, 10, "Verdicts per second accepted from one simulator. Zero disables the limit")
	fs.Int(verdictBurstKey, 20, "Verdict burst accepted from one simulator")

	fs.Int(quorumKey, defaults.Consensus.Quorum, "Eligible verdicts needed to resolve an intent")
	fs.Int(riskyToleranceKey, defaults.Consensus.RiskyTolerance, "Risky verdicts that block an intent")
	fs.Uint64(scoreThresholdKey, defaults.Consensus.ScoreThreshold, "Average risk score that blocks an intent")
	fs.Bool(requireResultMatchKey, defaults.Consensus.RequireResultMatch, "Require 2/3 of counted verdicts to agree on the result hash")
	fs.Duration(intentWindowKey, defaults.IntentWindow, "Time an intent stays open after submission")
	fs.Uint64(verificationFeeKey, defaults.VerificationFee, "Fee charged on top of an intent's value")
	fs.Uint64(insuranceShareKey, defaults.InsuranceShareBps, "Share of every fee routed to the insurance pool, in bps")
	fs.Uint64(verdictRewardKey, defaults.VerdictReward, "Reward paid for every accepted verdict")
	fs.Uint64(minStakeKey, defaults.MinStake, "Stake needed to register a simulator")
	fs.Bool(permissionedKey, defaults.Permissioned, "Make allow-listed simulators eligible regardless of stake")
	fs.Bool(openExecutionKey, defaults.OpenExecution, "Let any caller execute an approved intent")
	fs.String(monitorsKey, "", "Comma separated identities allowed to flag state drift. Empty allows anyone")
	fs.String(adminsKey, "", "Comma separated identities allowed to slash and allow-list simulators")

	return fs
}

// getViper returns the viper environment for the service binary
func getViper() (*viper.Viper, error) {
	v := viper.New()

	fs := buildFlagSet()
	pflag.CommandLine.AddGoFlagSet(fs)
	pflag.Parse()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString(configFileKey); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("couldn't read config file %q: %w", file, err)
		}
	}
	return v, nil
}

// params are the settings of one run of the service binary.
type params struct {
	version  bool
	httpAddr string
	dbDir    string
	logLevel log.Lvl

	redisAddr     string
	redisPassword string
	redisDB       int
	redisChannel  string

	verdictRate  float64
	verdictBurst int

	config intentguard.Config
}

func parseParams(v *viper.Viper) (*params, error) {
	level, err := log.LvlFromString(v.GetString(logLevelKey))
	if err != nil {
		return nil, fmt.Errorf("couldn't parse %s: %w", logLevelKey, err)
	}

	cfg := intentguard.DefaultConfig()
	cfg.Consensus.Quorum = v.GetInt(quorumKey)
	cfg.Consensus.RiskyTolerance = v.GetInt(riskyToleranceKey)
	cfg.Consensus.ScoreThreshold = v.GetUint64(scoreThresholdKey)
	cfg.Consensus.RequireResultMatch = v.GetBool(requireResultMatchKey)
	cfg.IntentWindow = v.GetDuration(intentWindowKey)
	cfg.VerificationFee = v.GetUint64(verificationFeeKey)
	cfg.InsuranceShareBps = v.GetUint64(insuranceShareKey)
	cfg.VerdictReward = v.GetUint64(verdictRewardKey)
	cfg.MinStake = v.GetUint64(minStakeKey)
	cfg.Permissioned = v.GetBool(permissionedKey)
	cfg.OpenExecution = v.GetBool(openExecutionKey)
	if cfg.Monitors, err = parseIdentities(v.GetString(monitorsKey)); err != nil {
		return nil, fmt.Errorf("couldn't parse %s: %w", monitorsKey, err)
	}
	if cfg.Admins, err = parseIdentities(v.GetString(adminsKey)); err != nil {
		return nil, fmt.Errorf("couldn't parse %s: %w", adminsKey, err)
	}
	if err := cfg.Verify(); err != nil {
		return nil, err
	}

	return &params{
		version:       v.GetBool(versionKey),
		httpAddr:      fmt.Sprintf("%s:%d", v.GetString(httpHostKey), v.GetUint(httpPortKey)),
		dbDir:         v.GetString(dbDirKey),
		logLevel:      level,
		redisAddr:     v.GetString(redisAddrKey),
		redisPassword: v.GetString(redisPasswordKey),
		redisDB:       v.GetInt(redisDBKey),
		redisChannel:  v.GetString(redisChannelKey),
		verdictRate:   v.GetFloat64(verdictRateKey),
		verdictBurst:  v.GetInt(verdictBurstKey),
		config:        cfg,
	}, nil
}

func parseIdentities(list string) ([]ids.ShortID, error) {
	var identities []ids.ShortID
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := ids.ShortFromString(field)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", field, err)
		}
		identities = append(identities, id)
	}
	return identities, nil
}
