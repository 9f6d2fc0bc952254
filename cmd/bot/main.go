package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"multi-strategy-bot-go/internal/broker"
	"multi-strategy-bot-go/internal/config"
	"multi-strategy-bot-go/internal/downloader"
	"multi-strategy-bot-go/internal/engine"
	"multi-strategy-bot-go/internal/journal"
	"multi-strategy-bot-go/internal/logger"
	"multi-strategy-bot-go/internal/models"
	"multi-strategy-bot-go/internal/persistence"
	"multi-strategy-bot-go/internal/reporter"
	"multi-strategy-bot-go/internal/risk"
	"multi-strategy-bot-go/internal/session"
	"multi-strategy-bot-go/internal/telemetry"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

// binanceInterval 将配置中的K线周期转换为币安下载接口的interval表示
func binanceInterval(timeframe string) (string, error) {
	switch timeframe {
	case "M1":
		return "1m", nil
	case "M5":
		return "5m", nil
	case "M15":
		return "15m", nil
	case "M30":
		return "30m", nil
	case "H1":
		return "1h", nil
	case "H4":
		return "4h", nil
	case "D1":
		return "1d", nil
	default:
		return "", fmt.Errorf("不支持的K线周期: %s", timeframe)
	}
}

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live or backtest")
	dataPath := flag.String("data", "", "path to historical data file for backtesting")
	symbol := flag.String("symbol", "", "symbol to download for backtesting (e.g., XAUUSD)")
	startDate := flag.String("start", "", "start date for backtesting (YYYY-MM-DD)")
	endDate := flag.String("end", "", "end date for backtesting (YYYY-MM-DD)")
	flag.Parse()

	// 先用默认配置初始化日志，保证加载配置阶段也有日志可用
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// 使用文件中的配置重新初始化日志
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	switch *mode {
	case "live":
		runLiveMode(cfg)
	case "backtest":
		finalDataPath, err := resolveBacktestData(cfg, *symbol, *startDate, *endDate, *dataPath)
		if err != nil {
			logger.S().Fatal(err)
		}
		runBacktestMode(cfg, finalDataPath)
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'live' 或 'backtest'。", *mode)
	}
}

// resolveBacktestData 确定回测数据文件：给定symbol和日期范围时先下载，
// 否则要求显式的 --data 路径。
func resolveBacktestData(cfg *models.Config, symbol, startDate, endDate, dataPath string) (string, error) {
	shouldDownload := symbol != "" && startDate != "" && endDate != ""
	if !shouldDownload {
		if dataPath == "" {
			return "", fmt.Errorf("回测模式需要通过 --data 或 --symbol/start/end 参数指定数据源")
		}
		return dataPath, nil
	}

	startTime, err1 := time.Parse("2006-01-02", startDate)
	endTime, err2 := time.Parse("2006-01-02", endDate)
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
	}

	interval, err := binanceInterval(cfg.Timeframe)
	if err != nil {
		return "", err
	}

	fileName := fmt.Sprintf("data/%s-%s-%s-%s.csv", symbol, interval, startDate, endDate)
	d := downloader.NewKlineDownloader()
	if err := d.DownloadKlines(symbol, interval, fileName, startTime, endTime); err != nil {
		return "", fmt.Errorf("下载数据失败: %v", err)
	}
	return fileName, nil
}

// runLiveMode 运行实盘交易
func runLiveMode(cfg *models.Config) {
	logger.S().Info("--- 启动实盘交易模式 ---")

	apiKey := os.Getenv("BROKER_API_KEY")
	secretKey := os.Getenv("BROKER_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		logger.S().Fatal("错误：BROKER_API_KEY 和 BROKER_SECRET_KEY 环境变量必须被设置。")
	}

	liveBroker, err := broker.NewLiveBroker(apiKey, secretKey, cfg.BrokerAPIURL, cfg.BrokerWSURL, logger.L())
	if err != nil {
		logger.S().Fatalf("初始化交易网关失败: %v", err)
	}
	if err := liveBroker.StartPriceStream(cfg.Symbol); err != nil {
		logger.S().Warnf("行情推送连接失败，将退化为轮询报价: %v", err)
	}
	defer liveBroker.StopPriceStream()

	acct, err := liveBroker.GetAccountSnapshot()
	if err != nil {
		logger.S().Fatalf("获取账户快照失败: %v", err)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "session_state"
	}
	repo, err := persistence.NewBadgerRepository(dbPath)
	if err != nil {
		logger.S().Fatalf("打开状态数据库失败: %v", err)
	}
	defer repo.Close()

	loaded, err := repo.LoadState()
	if err != nil {
		logger.S().Warnf("无法加载会话状态: %v，将以全新状态启动。", err)
	}

	riskManager := risk.NewManager(cfg.Risk, logger.L())
	sessionManager := session.NewManager("live-"+cfg.Symbol, cfg.Symbol, acct.Balance,
		loaded, repo, riskManager, logger.L(), time.Now().UTC())
	sessionManager.Start()
	defer sessionManager.Stop()

	var tradeJournal *journal.Writer
	if cfg.TradesFile != "" {
		tradeJournal, err = journal.NewWriter(cfg.TradesFile)
		if err != nil {
			logger.S().Fatalf("打开交易流水文件失败: %v", err)
		}
		defer tradeJournal.Close()
	}

	var metrics *telemetry.Metrics
	if cfg.MetricsListen != "" {
		metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)
		telemetry.Serve(cfg.MetricsListen, logger.L())
	}

	eng, err := engine.New(cfg, liveBroker, riskManager, sessionManager, tradeJournal, metrics, logger.L())
	if err != nil {
		logger.S().Fatalf("装配调度引擎失败: %v", err)
	}
	if err := eng.Start(); err != nil {
		logger.S().Fatalf("引擎启动失败: %v", err)
	}

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	eng.Stop()
	logger.S().Info("机器人已成功停止，状态已保存。")
}

// runBacktestMode 在历史数据上逐根K线驱动引擎
func runBacktestMode(cfg *models.Config, dataPath string) {
	logger.S().Info("--- 启动回测模式 ---")

	bars, err := downloader.LoadBars(dataPath)
	if err != nil {
		logger.S().Fatalf("加载历史数据失败: %v", err)
	}
	if len(bars) < 2 {
		logger.S().Fatal("历史数据不足，无法回测。")
	}

	initialBalance := cfg.Backtest.InitialBalance
	if initialBalance <= 0 {
		initialBalance = 10000
	}
	spec := simSpec(cfg)

	sim := broker.NewSimBroker(cfg.Symbol, spec, bars, initialBalance, cfg.Backtest.SlippageRate)

	riskManager := risk.NewManager(cfg.Risk, logger.L())
	sessionManager := session.NewManager("backtest-"+cfg.Symbol, cfg.Symbol, initialBalance,
		nil, nil, riskManager, logger.L(), bars[0].Time)
	sessionManager.Start()

	var tradeJournal *journal.Writer
	if cfg.TradesFile != "" {
		tradeJournal, err = journal.NewWriter(cfg.TradesFile)
		if err != nil {
			logger.S().Fatalf("打开交易流水文件失败: %v", err)
		}
		defer tradeJournal.Close()
	}

	eng, err := engine.New(cfg, sim, riskManager, sessionManager, tradeJournal, nil, logger.L())
	if err != nil {
		logger.S().Fatalf("装配调度引擎失败: %v", err)
	}

	logger.S().Infof("开始回测, 共 %d 根K线...", len(bars))
	// 止损/止盈成交发生在模拟器内部，每个tick之后把新产生的
	// 已完成交易补记到会话和流水中。
	logged := 0
	for sim.Advance() {
		eng.Tick()
		for ; logged < len(sim.TradeLog); logged++ {
			trade := sim.TradeLog[logged]
			if trade.Reason == "exit_signal" {
				continue // 引擎主动平仓已经记录过
			}
			sessionManager.DispatchEvent(session.Event{
				Type:      session.TradeClosedEvent,
				Timestamp: trade.CloseTime,
				Data:      session.TradeClosedData{Trade: trade},
			})
			if tradeJournal != nil {
				if err := tradeJournal.Record(trade); err != nil {
					logger.S().Warnf("写入交易流水失败: %v", err)
				}
			}
		}
	}
	sessionManager.Stop()
	logger.S().Info("回测结束。")

	reporter.GenerateReport(sim, dataPath, bars[0].Time, bars.Last().Time)
}

// simSpec 构造回测模拟器使用的品种参数
func simSpec(cfg *models.Config) models.SymbolSpec {
	point := cfg.Backtest.Point
	if point <= 0 {
		point = 0.01
	}
	contractSize := cfg.Backtest.ContractSize
	if contractSize <= 0 {
		contractSize = 100
	}
	return models.SymbolSpec{
		Symbol:       cfg.Symbol,
		Digits:       2,
		Point:        point,
		MinLot:       0.01,
		MaxLot:       100,
		LotStep:      0.01,
		ContractSize: contractSize,
		StopsLevel:   0,
		Tradeable:    true,
	}
}
