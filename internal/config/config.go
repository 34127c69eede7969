package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all bot configuration
type Config struct {
	Wallet    WalletConfig    `mapstructure:"wallet"`
	RPC       RPCConfig       `mapstructure:"rpc"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Jupiter   JupiterConfig   `mapstructure:"jupiter"`
	Swap      SwapConfig      `mapstructure:"swap"`
	Price     PriceConfig     `mapstructure:"price"`
	Trading   TradingConfig   `mapstructure:"trading"`
	StopLoss  StopLossConfig  `mapstructure:"stop_loss"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

type WalletConfig struct {
	PrivateKeyEnv string `mapstructure:"private_key_env"`
}

type RPCConfig struct {
	PrimaryURL        string `mapstructure:"primary_url"`
	PrimaryAPIKeyEnv  string `mapstructure:"primary_api_key_env"`
	FallbackURL       string `mapstructure:"fallback_url"`
	FallbackAPIKeyEnv string `mapstructure:"fallback_api_key_env"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
}

type WebSocketConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	URL              string `mapstructure:"url"`
	ReconnectDelayMs int    `mapstructure:"reconnect_delay_ms"`
	PingIntervalMs   int    `mapstructure:"ping_interval_ms"`
}

type JupiterConfig struct {
	APIURL              string `mapstructure:"api_url"`
	APIKeysEnv          string `mapstructure:"api_keys_env"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	MaxRetries          int    `mapstructure:"max_retries"`
	MaxPriorityLamports uint64 `mapstructure:"max_priority_lamports"`
}

// SwapConfig drives slippage escalation, order splitting and fill confirmation.
type SwapConfig struct {
	SlippageLadderBps    []int  `mapstructure:"slippage_ladder_bps"`
	MaxRecursionDepth    int    `mapstructure:"max_recursion_depth"`
	MinTokenThreshold    uint64 `mapstructure:"min_token_threshold"`
	MinLamportsThreshold uint64 `mapstructure:"min_lamports_threshold"`
	ConfirmWaitSeconds   int    `mapstructure:"confirm_wait_seconds"`
	MinPlausibleLamports uint64 `mapstructure:"min_plausible_lamports"`
}

type PriceConfig struct {
	Providers        []string `mapstructure:"providers"`
	TimeoutSeconds   int      `mapstructure:"timeout_seconds"`
	BirdeyeURL       string   `mapstructure:"birdeye_url"`
	BirdeyeAPIKeyEnv string   `mapstructure:"birdeye_api_key_env"`
	JupiterPriceURL  string   `mapstructure:"jupiter_price_url"`
	DexScreenerURL   string   `mapstructure:"dexscreener_url"`
}

type TradingConfig struct {
	AutoTradingEnabled     bool           `mapstructure:"auto_trading_enabled"`
	TickIntervalSeconds    int            `mapstructure:"tick_interval_seconds"`
	MaxOpenPositions       int            `mapstructure:"max_open_positions"`
	MinScore               int            `mapstructure:"min_score"`
	MaxScore               int            `mapstructure:"max_score"`
	TradeLowScore          bool           `mapstructure:"trade_low_score"`
	LowScoreAmountSol      float64        `mapstructure:"low_score_amount_sol"`
	FeeReserveSol          float64        `mapstructure:"fee_reserve_sol"`
	DailyLossLimitSol      float64        `mapstructure:"daily_loss_limit_sol"` // 0 = disabled
	ShutdownTimeoutSeconds int            `mapstructure:"shutdown_timeout_seconds"`
	SignalsBufferSize      int            `mapstructure:"signals_buffer_size"`
	Buckets                []BucketConfig `mapstructure:"buckets"`
}

// BucketConfig sizes and ladders trades for a score range.
// An empty Ladder selects the default scaled ladder.
type BucketConfig struct {
	Name                string       `mapstructure:"name"`
	MinScore            int          `mapstructure:"min_score"`
	MaxScore            int          `mapstructure:"max_score"`
	AmountSol           float64      `mapstructure:"amount_sol"`
	MaxDetectionMinutes int          `mapstructure:"max_detection_minutes"`
	Ladder              []RungConfig `mapstructure:"ladder"`
}

type RungConfig struct {
	Multiple float64 `mapstructure:"multiple"`
	Percent  float64 `mapstructure:"percent"`
}

type StopLossConfig struct {
	TimeWindowMinutes   int     `mapstructure:"time_window_minutes"`
	NeverMovedThreshold float64 `mapstructure:"never_moved_threshold"`
	MinMultipleFloor    float64 `mapstructure:"min_multiple_floor"`
}

type ServerConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute"`
}

type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Manager handles config loading and hot-reload
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)
}

// DefaultBuckets mirrors the score bands used when the config file has none.
func DefaultBuckets() []BucketConfig {
	return []BucketConfig{
		{Name: "15-17", MinScore: 15, MaxScore: 17, AmountSol: 0.05, MaxDetectionMinutes: 3},
		{Name: "18-19", MinScore: 18, MaxScore: 19, AmountSol: 0.03, MaxDetectionMinutes: 5,
			Ladder: []RungConfig{{Multiple: 1.5, Percent: 50}, {Multiple: 3.0, Percent: 50}}},
		{Name: "20-21", MinScore: 20, MaxScore: 21, AmountSol: 0.02, MaxDetectionMinutes: 1,
			Ladder: []RungConfig{{Multiple: 1.5, Percent: 50}, {Multiple: 2.5, Percent: 50}}},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("wallet.private_key_env", "WALLET_PRIVATE_KEY")

	v.SetDefault("rpc.primary_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("rpc.primary_api_key_env", "RPC_API_KEY")
	v.SetDefault("rpc.fallback_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("rpc.fallback_api_key_env", "HELIUS_API_KEY")
	v.SetDefault("rpc.timeout_seconds", 10)

	v.SetDefault("websocket.enabled", false)
	v.SetDefault("websocket.url", "wss://api.mainnet-beta.solana.com")
	v.SetDefault("websocket.reconnect_delay_ms", 2000)
	v.SetDefault("websocket.ping_interval_ms", 20000)

	v.SetDefault("jupiter.api_url", "https://api.jup.ag/swap/v1")
	v.SetDefault("jupiter.api_keys_env", "JUPITER_API_KEYS")
	v.SetDefault("jupiter.timeout_seconds", 30)
	v.SetDefault("jupiter.max_retries", 3)
	v.SetDefault("jupiter.max_priority_lamports", 1000000)

	v.SetDefault("swap.slippage_ladder_bps", []int{1000, 1500, 2000})
	v.SetDefault("swap.max_recursion_depth", 3)
	v.SetDefault("swap.min_token_threshold", 1000000)
	v.SetDefault("swap.min_lamports_threshold", 1000000) // 0.001 SOL
	v.SetDefault("swap.confirm_wait_seconds", 5)
	v.SetDefault("swap.min_plausible_lamports", 100000) // 0.0001 SOL

	v.SetDefault("price.providers", []string{"birdeye", "jupiter", "dexscreener"})
	v.SetDefault("price.timeout_seconds", 10)
	v.SetDefault("price.birdeye_url", "https://public-api.birdeye.so/defi/price")
	v.SetDefault("price.birdeye_api_key_env", "BIRDEYE_API_KEY")
	v.SetDefault("price.jupiter_price_url", "https://api.jup.ag/price/v2")
	v.SetDefault("price.dexscreener_url", "https://api.dexscreener.com/latest/dex/tokens")

	v.SetDefault("trading.auto_trading_enabled", true)
	v.SetDefault("trading.tick_interval_seconds", 10)
	v.SetDefault("trading.max_open_positions", 10)
	v.SetDefault("trading.min_score", 15)
	v.SetDefault("trading.max_score", 21)
	v.SetDefault("trading.trade_low_score", false)
	v.SetDefault("trading.low_score_amount_sol", 0.01)
	v.SetDefault("trading.fee_reserve_sol", 0.01)
	v.SetDefault("trading.daily_loss_limit_sol", 0)
	v.SetDefault("trading.shutdown_timeout_seconds", 15)
	v.SetDefault("trading.signals_buffer_size", 100)

	v.SetDefault("stop_loss.time_window_minutes", 5)
	v.SetDefault("stop_loss.never_moved_threshold", 1.1)
	v.SetDefault("stop_loss.min_multiple_floor", 1.0)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_per_minute", 60)

	v.SetDefault("storage.sqlite_path", "./data/bot.db")
}

// NewManager creates a new config manager
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		config: cfg,
		viper:  v,
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		m.reload()
	})

	return m, nil
}

// NewStatic wraps an already built config, without file watching.
func NewStatic(cfg *Config) *Manager {
	return &Manager{config: cfg}
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Trading.Buckets) == 0 {
		cfg.Trading.Buckets = DefaultBuckets()
	}
	return &cfg, nil
}

// Get returns the current config (thread-safe)
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetTrading returns trading config (most frequently accessed)
func (m *Manager) GetTrading() TradingConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Trading
}

func (m *Manager) GetSwap() SwapConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Swap
}

func (m *Manager) GetStopLoss() StopLossConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.StopLoss
}

// SetOnChange registers a callback for config changes
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// SetAutoTrading flips auto trading and persists it to the config file.
func (m *Manager) SetAutoTrading(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config.Trading.AutoTradingEnabled = enabled
	if m.viper == nil {
		return nil
	}
	m.viper.Set("trading.auto_trading_enabled", enabled)
	if err := m.viper.WriteConfig(); err != nil {
		return err
	}
	if m.onChange != nil {
		m.onChange(m.config)
	}
	return nil
}

func (m *Manager) reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := decode(m.viper)
	if err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config on reload")
		return
	}

	m.config = cfg
	if m.onChange != nil {
		m.onChange(cfg)
	}
}

// GetPrivateKey loads private key from environment
func (m *Manager) GetPrivateKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Wallet.PrivateKeyEnv)
}

// GetJupiterAPIKeys returns the comma separated aggregator keys from the environment.
func (m *Manager) GetJupiterAPIKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw := os.Getenv(m.config.Jupiter.APIKeysEnv)
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func (m *Manager) GetBirdeyeAPIKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Price.BirdeyeAPIKeyEnv)
}

// GetPrimaryRPCURL returns the primary RPC URL with API key injected
func (m *Manager) GetPrimaryRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return withKey(m.config.RPC.PrimaryURL, os.Getenv(m.config.RPC.PrimaryAPIKeyEnv))
}

// GetFallbackRPCURL returns the fallback RPC URL with API key injected
func (m *Manager) GetFallbackRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return withKey(m.config.RPC.FallbackURL, os.Getenv(m.config.RPC.FallbackAPIKeyEnv))
}

// GetWSURL returns the websocket URL, keyed like the primary RPC endpoint
func (m *Manager) GetWSURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return withKey(m.config.WebSocket.URL, os.Getenv(m.config.RPC.PrimaryAPIKeyEnv))
}

// withKey appends the provider's key parameter unless one is already present.
// Helius spells it api-key, everyone else api_key.
func withKey(url, key string) string {
	if key == "" || url == "" {
		return url
	}
	param := "api_key"
	if strings.Contains(url, "helius") {
		param = "api-key"
	}
	if strings.Contains(url, param+"=") {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&" + param + "=" + key
	}
	return url + "?" + param + "=" + key
}

func (m *Manager) TickInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return seconds(m.config.Trading.TickIntervalSeconds, 10)
}

func (m *Manager) ShutdownTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return seconds(m.config.Trading.ShutdownTimeoutSeconds, 15)
}

func (m *Manager) ConfirmWait() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return seconds(m.config.Swap.ConfirmWaitSeconds, 5)
}

func (m *Manager) PriceTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return seconds(m.config.Price.TimeoutSeconds, 10)
}

func seconds(n, def int) time.Duration {
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}
