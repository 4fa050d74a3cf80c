// Package common holds process-wide constants shared across packages:
// environment variable names, configuration defaults, and canonical error
// message strings.
package common

import "time"

// Environment variable keys.
const (
	EnvOrderURL   = "ORDER_URL"
	EnvConfigFile = "CONFIG_FILE"
)

// Configuration defaults.
const (
	DefaultWebsocketInterval = "1m"
	DefaultAPIInterval       = 5 * time.Second
	DefaultMetricsPort       = 9090
	DefaultHealthPort        = 3000
	DefaultRESTTimeout       = 10 * time.Second
	DefaultHistoryCapacity   = 20
	DefaultLadderCount       = 20
	DefaultTriggerRetries    = 3
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 5 * time.Second
	DefaultShutdownGrace     = 10 * time.Second
)

// Validation constants.
const (
	MinMetricsPort = 1024
	MaxMetricsPort = 65535
	HistoryCapacity = 20
)

// Common error messages.
const (
	ErrMsgNoPairs          = "at least one trading pair is required"
	ErrMsgNoAccounts       = "at least one account is required"
	ErrMsgDuplicateAccount = "duplicate account name"
	ErrMsgMissingCreds     = "account is missing api_key or api_secret"
	ErrMsgOrderURLRequired = "order_url is required"
	ErrMsgBadHistoryCap    = "num_previous_candles must be positive and no greater than history capacity"
	ErrMsgBadUSDTAmount    = "usdt_amount must be positive"
	ErrMsgBadThreshold     = "threshold must be positive"
	ErrMsgBadFeesExemption = "fees_exemption_percentage must be non-negative"
	ErrMsgDuplicateSymbol  = "duplicate pair symbol"
)
