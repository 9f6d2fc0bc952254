package broker

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"multi-strategy-bot-go/internal/models"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// LiveBroker 实现了 Broker 接口，通过HTTP网关与真实交易终端交互。
type LiveBroker struct {
	apiKey     string
	secretKey  string
	baseURL    string
	wsBaseURL  string
	httpClient *http.Client
	logger     *zap.Logger
	timeOffset int64

	mu      sync.Mutex
	wsConn  *websocket.Conn
	lastBid float64
	lastAsk float64
	wsDone  chan struct{}
}

// NewLiveBroker 创建一个新的 LiveBroker 实例，并与网关同步时间。
func NewLiveBroker(apiKey, secretKey, baseURL, wsBaseURL string, logger *zap.Logger) (*LiveBroker, error) {
	b := &LiveBroker{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		wsBaseURL:  wsBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}

	if err := b.syncTime(); err != nil {
		return nil, fmt.Errorf("与网关同步时间失败: %v", err)
	}

	return b, nil
}

// syncTime 与网关服务器同步时间，计算时间偏移。
func (b *LiveBroker) syncTime() error {
	data, err := b.doRequest("GET", "/api/v1/time", nil, false)
	if err != nil {
		return err
	}
	var resp struct {
		ServerTime int64 `json:"server_time"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	b.timeOffset = resp.ServerTime - time.Now().UnixMilli()
	b.logger.Info("与网关时间同步完成", zap.Int64("timeOffset (ms)", b.timeOffset))
	return nil
}

// doRequest 是一个通用的请求处理函数，用于向网关API发送请求。
func (b *LiveBroker) doRequest(method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	fullURL := fmt.Sprintf("%s%s", b.baseURL, endpoint)
	queryParams := url.Values{}
	for k, v := range params {
		queryParams[k] = v
	}

	var encodedParams string
	if signed {
		// 签名请求附带时间戳，防止重放
		timestamp := time.Now().UnixMilli() + b.timeOffset
		queryParams.Set("timestamp", strconv.FormatInt(timestamp, 10))

		payloadToSign := queryParams.Encode()
		signature := b.sign(payloadToSign)
		encodedParams = fmt.Sprintf("%s&signature=%s", payloadToSign, signature)
	} else {
		encodedParams = queryParams.Encode()
	}

	var req *http.Request
	var err error

	if method == "GET" {
		finalURL := fullURL
		if encodedParams != "" {
			finalURL = fmt.Sprintf("%s?%s", fullURL, encodedParams)
		}
		req, err = http.NewRequest(method, finalURL, nil)
	} else {
		req, err = http.NewRequest(method, fullURL, strings.NewReader(encodedParams))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %v", err)
	}

	req.Header.Set("X-API-KEY", b.apiKey)
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("执行请求失败: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %v", err)
	}

	var gatewayError models.Error
	if json.Unmarshal(body, &gatewayError) == nil && gatewayError.Code != 0 {
		return body, &gatewayError
	}

	if resp.StatusCode != http.StatusOK {
		// 非200时连同响应体一起返回，方便上层记录细节
		return body, fmt.Errorf("API请求失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// sign 对请求参数进行签名。
func (b *LiveBroker) sign(data string) string {
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(data))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// --- Broker 接口实现 ---

// GetBars 获取指定品种和周期的最近K线，按时间升序返回。
func (b *LiveBroker) GetBars(symbol, timeframe string, count int) (models.BarSeries, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("timeframe", timeframe)
	params.Set("count", strconv.Itoa(count))
	data, err := b.doRequest("GET", "/api/v1/bars", params, false)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Time   int64   `json:"time"` // Unix 毫秒
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("解析K线数据失败: %v", err)
	}

	bars := make(models.BarSeries, len(raw))
	for i, r := range raw {
		bars[i] = models.Bar{
			Time:   time.UnixMilli(r.Time).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	return bars, nil
}

// GetAccountSnapshot 获取账户快照。
func (b *LiveBroker) GetAccountSnapshot() (*models.AccountSnapshot, error) {
	data, err := b.doRequest("GET", "/api/v1/account", nil, true)
	if err != nil {
		return nil, fmt.Errorf("获取账户信息失败: %v", err)
	}

	var snap models.AccountSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("解析账户信息失败: %v", err)
	}
	return &snap, nil
}

// GetSymbolSpec 获取品种的交易规则和最新报价。
func (b *LiveBroker) GetSymbolSpec(symbol string) (*models.SymbolSpec, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := b.doRequest("GET", "/api/v1/symbol", params, false)
	if err != nil {
		return nil, err
	}

	var spec models.SymbolSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("解析品种信息失败: %v", err)
	}

	// 行情流的报价比REST快照新鲜时优先采用
	if bid, ask, ok := b.LastQuote(); ok {
		spec.Bid = bid
		spec.Ask = ask
	}
	return &spec, nil
}

// GetOpenPositions 获取指定品种的全部持仓，过滤掉数量为零的条目。
func (b *LiveBroker) GetOpenPositions(symbol string) ([]models.Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := b.doRequest("GET", "/api/v1/positions", params, true)
	if err != nil {
		return nil, err
	}

	var positions []models.Position
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("解析持仓数据失败: %v", err)
	}

	var active []models.Position
	for _, p := range positions {
		if p.Volume != 0 {
			active = append(active, p)
		}
	}
	return active, nil
}

// SubmitMarketOrder 提交市价单。归属标签写入订单注释，
// 未提供客户端订单号时自动生成一个。
func (b *LiveBroker) SubmitMarketOrder(req *models.OrderRequest) (*models.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("volume", strconv.FormatFloat(req.Volume, 'f', -1, 64))
	if req.StopLoss > 0 {
		params.Set("sl", strconv.FormatFloat(req.StopLoss, 'f', -1, 64))
	}
	if req.TakeProfit > 0 {
		params.Set("tp", strconv.FormatFloat(req.TakeProfit, 'f', -1, 64))
	}
	if req.OwnerTag != "" {
		params.Set("comment", req.OwnerTag)
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = NewClientID()
	}
	params.Set("clientOrderId", clientID)

	data, err := b.doRequest("POST", "/api/v1/order", params, true)
	if err != nil {
		b.logger.Error("下单请求失败，网关返回错误", zap.Error(err), zap.String("raw_response", string(data)))
		return nil, err
	}

	var result models.OrderResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("解析下单回执失败: %v", err)
	}
	return &result, nil
}

// ModifyPosition 修改持仓的止损和止盈。
func (b *LiveBroker) ModifyPosition(ticket int64, stopLoss, takeProfit float64) error {
	params := url.Values{}
	params.Set("ticket", strconv.FormatInt(ticket, 10))
	params.Set("sl", strconv.FormatFloat(stopLoss, 'f', -1, 64))
	params.Set("tp", strconv.FormatFloat(takeProfit, 'f', -1, 64))
	_, err := b.doRequest("POST", "/api/v1/position/modify", params, true)
	return err
}

// ClosePosition 以市价平掉指定持仓。
func (b *LiveBroker) ClosePosition(ticket int64) (*models.OrderResult, error) {
	params := url.Values{}
	params.Set("ticket", strconv.FormatInt(ticket, 10))
	data, err := b.doRequest("POST", "/api/v1/position/close", params, true)
	if err != nil {
		b.logger.Error("平仓请求失败，网关返回错误", zap.Error(err), zap.String("raw_response", string(data)))
		return nil, err
	}

	var result models.OrderResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("解析平仓回执失败: %v", err)
	}
	return &result, nil
}

// CurrentTime 返回当前时间。实盘模式直接使用系统时间。
func (b *LiveBroker) CurrentTime() time.Time {
	return time.Now()
}

// --- 行情 WebSocket ---

// StartPriceStream 建立到网关行情流的 WebSocket 连接并在后台持续读取报价。
func (b *LiveBroker) StartPriceStream(symbol string) error {
	wsURL := fmt.Sprintf("%s/stream/%s", b.wsBaseURL, symbol)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("无法连接到行情流: %v", err)
	}

	b.mu.Lock()
	b.wsConn = conn
	b.wsDone = make(chan struct{})
	done := b.wsDone
	b.mu.Unlock()

	go b.readPriceStream(conn, done)
	b.logger.Info("行情流已连接", zap.String("symbol", symbol))
	return nil
}

// readPriceStream 循环读取行情消息，连接断开时退出。
func (b *LiveBroker) readPriceStream(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			b.logger.Warn("行情流连接已断开", zap.Error(err))
			return
		}

		var tick struct {
			Bid  float64 `json:"bid"`
			Ask  float64 `json:"ask"`
			Time int64   `json:"time"`
		}
		if err := json.Unmarshal(msg, &tick); err != nil {
			b.logger.Warn("解析行情消息失败", zap.Error(err))
			continue
		}

		b.mu.Lock()
		b.lastBid = tick.Bid
		b.lastAsk = tick.Ask
		b.mu.Unlock()
	}
}

// LastQuote 返回行情流收到的最新买卖价。尚未收到任何报价时 ok 为 false。
func (b *LiveBroker) LastQuote() (bid, ask float64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastBid == 0 && b.lastAsk == 0 {
		return 0, 0, false
	}
	return b.lastBid, b.lastAsk, true
}

// StopPriceStream 关闭行情流连接。
func (b *LiveBroker) StopPriceStream() {
	b.mu.Lock()
	conn := b.wsConn
	b.wsConn = nil
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// NewClientID 生成一个短小且单调的客户端订单号。
func NewClientID() string {
	return "msb-" + string(base62.FormatInt(time.Now().UnixNano()))
}
