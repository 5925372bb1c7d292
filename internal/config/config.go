package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// AppConfig 应用配置
type AppConfig struct {
	Server    ServerConfig    `toml:"server"`
	Data      DataConfig      `toml:"data"`
	Log       LogConfig       `toml:"log"`
	Business  BusinessConfig  `toml:"business"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Progress  ProgressConfig  `toml:"progress"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port          int   `toml:"port"`
	DevMode       bool  `toml:"dev_mode"`
	MaxUploadSize int64 `toml:"max_upload_size"` // 字节
}

// DataConfig 数据配置
type DataConfig struct {
	DataDir string `toml:"data_dir"`
	DBName  string `toml:"db_name"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level             string `toml:"level"`
	Encoding          string `toml:"encoding"`
	DisableCaller     bool   `toml:"disable_caller"`
	DisableStacktrace bool   `toml:"disable_stacktrace"`
}

// BusinessConfig 业务常量；留空沿用代码默认值（金额用字符串避免浮点）
type BusinessConfig struct {
	OrderDeductionRate      string `toml:"order_deduction_rate"`
	TaxRate                 string `toml:"tax_rate"`
	LogisticsPerItem        string `toml:"logistics_per_item"`
	RebateLogisticsPerOrder string `toml:"rebate_logistics_per_order"`
	RebateDeductionRate     string `toml:"rebate_deduction_rate"`
}

// Values 按配置键展开，供指标常量解析
func (b BusinessConfig) Values() map[string]string {
	return map[string]string{
		"order_deduction_rate":       b.OrderDeductionRate,
		"tax_rate":                   b.TaxRate,
		"logistics_per_item":         b.LogisticsPerItem,
		"rebate_logistics_per_order": b.RebateLogisticsPerOrder,
		"rebate_deduction_rate":      b.RebateDeductionRate,
	}
}

// ReconcileConfig 对账配置
type ReconcileConfig struct {
	SettlementLagDays int `toml:"settlement_lag_days"`
	MetricsWorkers    int `toml:"metrics_workers"`
}

// ProgressConfig 进度登记表清理策略
type ProgressConfig struct {
	RetentionMinutes int `toml:"retention_minutes"`
	CleanupMinutes   int `toml:"cleanup_minutes"`
}

// LoadConfigInfo 配置加载元信息
type LoadConfigInfo struct {
	Path          string
	FromFile      bool
	PortSpecified bool
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:          20261,
			DevMode:       false,
			MaxUploadSize: 64 << 20,
		},
		Data: DataConfig{
			DataDir: "data",
			DBName:  "lodestar.db",
		},
		Log: LogConfig{
			Level:             "info",
			Encoding:          "json",
			DisableStacktrace: true,
		},
		Reconcile: ReconcileConfig{
			SettlementLagDays: 30,
			MetricsWorkers:    4,
		},
		Progress: ProgressConfig{
			RetentionMinutes: 60,
			CleanupMinutes:   5,
		},
	}
}

func isPortSpecifiedInToml(data []byte) bool {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false
	}

	serverAny, ok := raw["server"]
	if !ok {
		return false
	}

	serverMap, ok := serverAny.(map[string]any)
	if !ok {
		return false
	}

	_, ok = serverMap["port"]
	return ok
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

func exeDirOrDot() string {
	dir, err := GetExeDir()
	if err != nil || dir == "" {
		return "."
	}
	return dir
}

// LoadDotEnv 加载可执行文件目录与当前目录下的 .env（不存在则忽略）；已有环境变量不被覆盖
func LoadDotEnv() error {
	for _, p := range []string{filepath.Join(exeDirOrDot(), ".env"), ".env"} {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// LoadConfigWithInfo 从可执行文件同目录的 config.toml 加载配置并返回元信息
func LoadConfigWithInfo() (*AppConfig, LoadConfigInfo, error) {
	return LoadConfigFrom(filepath.Join(exeDirOrDot(), "config.toml"))
}

// LoadConfigFrom 从指定路径加载配置；文件不存在时使用默认配置，环境变量始终生效
func LoadConfigFrom(configPath string) (*AppConfig, LoadConfigInfo, error) {
	info := LoadConfigInfo{Path: configPath}
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		info.FromFile = true
		info.PortSpecified = isPortSpecifiedInToml(data)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, info, err
		}
	case errors.Is(err, fs.ErrNotExist):
		// 配置文件不存在，使用默认配置
	default:
		return nil, info, err
	}

	applyEnv(config, &info)
	return config, info, nil
}

// applyEnv 环境变量覆盖
func applyEnv(config *AppConfig, info *LoadConfigInfo) {
	if v := os.Getenv("LODESTAR_DATA_DIR"); v != "" {
		config.Data.DataDir = v
	}
	if v := os.Getenv("LODESTAR_LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
	if v := os.Getenv("LODESTAR_LOG_ENCODING"); v != "" {
		config.Log.Encoding = v
	}
	if v := os.Getenv("LODESTAR_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			config.Server.Port = p
			info.PortSpecified = true
		}
	}
}

// LoadConfig 从 config.toml 加载配置
func LoadConfig() (*AppConfig, error) {
	config, _, err := LoadConfigWithInfo()
	return config, err
}

// SaveConfig 保存配置到 config.toml
func SaveConfig(config *AppConfig) error {
	configPath := filepath.Join(exeDirOrDot(), "config.toml")

	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// EnsureDataDir 确保数据目录存在；相对路径相对可执行文件目录
func EnsureDataDir(config *AppConfig) (string, error) {
	dataDir := config.Data.DataDir
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(exeDirOrDot(), dataDir)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}
	return dataDir, nil
}

// DBPath 数据库文件路径
func DBPath(config *AppConfig, dataDir string) string {
	name := config.Data.DBName
	if name == "" {
		name = "lodestar.db"
	}
	return filepath.Join(dataDir, name)
}
