package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"multi-strategy-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
)

// KlineDownloader 用于从币安下载回测用的K线数据
type KlineDownloader struct {
	client *binance.Client
}

// NewKlineDownloader 创建一个新的下载器实例
func NewKlineDownloader() *KlineDownloader {
	return &KlineDownloader{
		client: binance.NewClient("", ""), // 公共接口不需要API Key
	}
}

// DownloadKlines 下载指定交易对、周期和时间范围内的K线数据并保存到CSV文件。
// 如果文件已存在，则跳过下载，直接使用缓存。
func (d *KlineDownloader) DownloadKlines(symbol, interval, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		fmt.Printf("从缓存加载数据: %s\n", filePath)
		return nil
	}

	fmt.Printf("开始下载 %s %s 从 %s 到 %s 的K线数据...\n",
		symbol, interval, startTime.Format("2006-01-02"), endTime.Format("2006-01-02"))

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %v", dir, err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %v", filePath, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"open_time", "open", "high", "low", "close", "volume"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("写入CSV表头失败: %v", err)
	}

	for t := startTime; t.Before(endTime); {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(t.UnixMilli()).
			Limit(1000). // 币安单次请求最多1000条
			Do(context.Background())

		if err != nil {
			return fmt.Errorf("下载K线数据失败: %v", err)
		}

		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			record := []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("写入CSV记录失败: %v", err)
			}
		}

		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		fmt.Printf("已下载数据至 %s\n", t.Format("2006-01-02 15:04:05"))
		time.Sleep(200 * time.Millisecond) // 避免过于频繁的请求
	}

	fmt.Printf("成功下载K线数据到 %s\n", filePath)
	return nil
}

// LoadBars 从CSV文件加载K线序列，按时间升序返回。
func LoadBars(filePath string) (models.BarSeries, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法打开数据文件 %s: %v", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("读取CSV失败: %v", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("数据文件 %s 为空", filePath)
	}

	bars := make(models.BarSeries, 0, len(records)-1)
	for i, rec := range records[1:] { // 跳过表头
		if len(rec) < 6 {
			return nil, fmt.Errorf("第 %d 行字段不足", i+2)
		}
		openTime, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("第 %d 行时间戳无效: %v", i+2, err)
		}
		open, err1 := strconv.ParseFloat(rec[1], 64)
		high, err2 := strconv.ParseFloat(rec[2], 64)
		low, err3 := strconv.ParseFloat(rec[3], 64)
		closePx, err4 := strconv.ParseFloat(rec[4], 64)
		volume, err5 := strconv.ParseFloat(rec[5], 64)
		for _, e := range []error{err1, err2, err3, err4, err5} {
			if e != nil {
				return nil, fmt.Errorf("第 %d 行价格数据无效: %v", i+2, e)
			}
		}
		bars = append(bars, models.Bar{
			Time:   time.UnixMilli(openTime).UTC(),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePx,
			Volume: volume,
		})
	}

	return bars, nil
}
