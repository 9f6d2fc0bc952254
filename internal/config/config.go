package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"multi-strategy-bot-go/internal/models"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &models.Config{}
	err = decoder.Decode(config)
	if err != nil {
		return nil, err
	}

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate 做结构体级别校验，并补充几条无法用tag表达的规则
func Validate(cfg *models.Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	// 策略名必须唯一，否则持仓归属标签会互相冲突
	seen := make(map[string]bool, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		if seen[sc.Name] {
			return fmt.Errorf("策略名重复: %s", sc.Name)
		}
		seen[sc.Name] = true
	}

	if cfg.Hours.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Hours.Timezone); err != nil {
			return fmt.Errorf("无效时区 %q: %w", cfg.Hours.Timezone, err)
		}
	}
	for _, d := range cfg.Hours.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("无效交易日: %d", d)
		}
	}
	if cfg.Hours.StartHour < 0 || cfg.Hours.StartHour > 23 ||
		cfg.Hours.EndHour < 0 || cfg.Hours.EndHour > 23 {
		return fmt.Errorf("交易时段小时必须在 [0,23] 内")
	}

	return nil
}
