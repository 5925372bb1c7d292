package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"lodestar/internal/api"
	"lodestar/internal/config"
	"lodestar/internal/daylock"
	"lodestar/internal/exporter"
	"lodestar/internal/importer"
	"lodestar/internal/logging"
	"lodestar/internal/metrics"
	"lodestar/internal/progress"
	"lodestar/internal/reconcile"
	"lodestar/internal/server"
	"lodestar/internal/store"
)

var (
	port     = flag.Int("port", 0, "服务端口 (config.toml 优先；仅当未显式配置 port 时生效)")
	devMode  = flag.Bool("dev", false, "开发模式")
	dataDir  = flag.String("dataDir", "", "数据目录 (覆盖配置文件)")
	logLevel = flag.String("logLevel", "", "日志级别 (覆盖配置文件)")
)

func main() {
	flag.Parse()

	fmt.Println("==========================================")
	fmt.Println("  Lodestar - 电商销售数据对账工具")
	fmt.Println("==========================================")

	if err := config.LoadDotEnv(); err != nil {
		log.Printf("加载 .env 失败: %v", err)
	}

	// 加载配置
	cfg, info, err := config.LoadConfigWithInfo()
	if err != nil {
		log.Printf("加载配置失败，使用默认配置: %v", err)
		cfg = config.DefaultConfig()
		info = config.LoadConfigInfo{}
	}

	// 命令行参数覆盖配置
	if *port > 0 && !info.PortSpecified {
		cfg.Server.Port = *port
	}
	if *devMode {
		cfg.Server.DevMode = true
	}
	if *dataDir != "" {
		cfg.Data.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := logging.New(logging.Config{
		Level:             cfg.Log.Level,
		Encoding:          cfg.Log.Encoding,
		Development:       cfg.Server.DevMode,
		DisableCaller:     cfg.Log.DisableCaller,
		DisableStacktrace: cfg.Log.DisableStacktrace,
	})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.AppConfig, logger *zap.Logger) error {
	// 确保数据目录存在
	dir, err := config.EnsureDataDir(cfg)
	if err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}
	fmt.Printf("数据目录: %s\n", dir)

	consts, err := metrics.ParseConstants(cfg.Business.Values())
	if err != nil {
		return fmt.Errorf("业务常量配置错误: %w", err)
	}

	st, err := store.New(config.DBPath(cfg, dir))
	if err != nil {
		return fmt.Errorf("初始化数据库失败: %w", err)
	}
	defer st.Close()

	locks := daylock.New()
	tracker := progress.NewTracker()
	engine := reconcile.NewEngine(st, locks, logger.Named("reconcile"), reconcile.Options{
		RebateLogisticsPerOrder: consts.RebateLogisticsPerOrder,
		RebateDeductionRate:     consts.RebateDeductionRate,
		SettlementLagDays:       cfg.Reconcile.SettlementLagDays,
	})
	calc := metrics.NewCalculator(st, locks, logger.Named("metrics"), consts,
		metrics.WithWorkers(cfg.Reconcile.MetricsWorkers))

	h := api.NewHandler(api.Deps{
		Store:         st,
		Importer:      importer.NewCoordinator(st, tracker, logger.Named("importer")),
		Engine:        engine,
		Calculator:    calc,
		Exporter:      exporter.NewExporter(st),
		Tracker:       tracker,
		Log:           logger.Named("api"),
		MaxUploadSize: cfg.Server.MaxUploadSize,
	})
	srv := server.NewServer(cfg, h, tracker, logger.Named("http"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("服务启动中，监听端口 %d ...\n", cfg.Server.Port)
	fmt.Println("\n按 Ctrl+C 停止服务...")
	logger.Info("server starting", zap.Int("port", cfg.Server.Port), zap.String("data_dir", dir))

	if err := srv.Run(ctx); err != nil {
		return err
	}
	fmt.Println("\n服务已关闭")
	return nil
}
