package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"orderexec/internal/config"
	"orderexec/internal/models"
	"orderexec/pkg/crypto"
	"orderexec/pkg/ratelimit"
	"orderexec/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	apiVersion    = "0"
	addOrderPath  = "/0/private/AddOrder"
	queryPath     = "/0/private/QueryOrders"
	tickerPath    = "/0/public/Ticker"
	clientVersion = "orderexec/1.0"
)

// Kraken реализует интерфейс Client для Kraken Spot REST API.
// Креденшелы хранятся в БД зашифрованными, клиент расшифровывает их
// на каждый вызов и не кэширует plaintext.
type Kraken struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.MultiLimiter
	cipherKey  []byte
	logger     *utils.Logger

	// nonce обязан строго расти для каждого ключа, поэтому берём
	// микросекунды как базу и инкрементируем атомарно
	nonce atomic.Int64
}

var _ Client = (*Kraken)(nil)

// NewKraken создаёт клиента Kraken с rate limiting по категориям вызовов
func NewKraken(cfg config.ExchangeConfig, cipherKey []byte, logger *utils.Logger) *Kraken {
	limiter := ratelimit.NewMultiLimiter()
	limiter.Add("order", cfg.OrderRate, 1)
	limiter.Add("query", cfg.QueryRate, 1)
	limiter.Add("public", cfg.PublicRate, 2)

	// Пул соединений общий, но таймаут операции берём из конфига
	httpClient := GetGlobalHTTPClient().GetClient()
	if cfg.HTTPTimeout > 0 && cfg.HTTPTimeout != httpClient.Timeout {
		clone := *httpClient
		clone.Timeout = cfg.HTTPTimeout
		httpClient = &clone
	}

	k := &Kraken{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		cipherKey:  cipherKey,
		logger:     logger.WithComponent("exchange"),
	}
	k.nonce.Store(time.Now().UnixMicro())
	return k
}

// nextNonce возвращает строго возрастающий nonce
func (k *Kraken) nextNonce() string {
	return strconv.FormatInt(k.nonce.Add(1), 10)
}

// sign формирует API-Sign: HMAC-SHA512(path + SHA256(nonce + postdata))
// с base64-декодированным секретом в качестве ключа
func (k *Kraken) sign(path, nonce, postdata, secret string) (string, error) {
	secretBytes, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("malformed api secret: %w", err)
	}

	sha := sha256.Sum256([]byte(nonce + postdata))
	mac := hmac.New(sha512.New, secretBytes)
	mac.Write([]byte(path))
	mac.Write(sha[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// decrypt восстанавливает plaintext ключ и секрет из креденшела
func (k *Kraken) decrypt(cred *models.APICredential) (apiKey, apiSecret string, err error) {
	apiKey, err = crypto.Decrypt(cred.APIKey, k.cipherKey)
	if err != nil {
		return "", "", fmt.Errorf("decrypt api key %s: %w", cred.ID, err)
	}
	apiSecret, err = crypto.Decrypt(cred.APISecret, k.cipherKey)
	if err != nil {
		return "", "", fmt.Errorf("decrypt api secret %s: %w", cred.ID, err)
	}
	return apiKey, apiSecret, nil
}

// krakenResponse - общий конверт ответа Kraken
type krakenResponse struct {
	Error  []string            `json:"error"`
	Result jsoniter.RawMessage `json:"result"`
}

// doPrivate выполняет подписанный POST запрос
func (k *Kraken) doPrivate(ctx context.Context, cred *models.APICredential, path, category string, params url.Values) (jsoniter.RawMessage, error) {
	if err := k.limiter.Wait(ctx, category); err != nil {
		return nil, err
	}

	apiKey, apiSecret, err := k.decrypt(cred)
	if err != nil {
		return nil, err
	}

	nonce := k.nextNonce()
	params.Set("nonce", nonce)
	postdata := params.Encode()

	signature, err := k.sign(path, nonce, postdata, apiSecret)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+path, strings.NewReader(postdata))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", clientVersion)
	req.Header.Set("API-Key", apiKey)
	req.Header.Set("API-Sign", signature)

	return k.execute(req)
}

// doPublic выполняет неподписанный GET запрос
func (k *Kraken) doPublic(ctx context.Context, path string, params url.Values) (jsoniter.RawMessage, error) {
	if err := k.limiter.Wait(ctx, "public"); err != nil {
		return nil, err
	}

	reqURL := k.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", clientVersion)

	return k.execute(req)
}

// execute отправляет запрос и разворачивает конверт ответа
func (k *Kraken) execute(req *http.Request) (jsoniter.RawMessage, error) {
	start := time.Now()

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read exchange response: %w", err)
	}

	k.logger.Debug("exchange call",
		utils.String("path", req.URL.Path),
		utils.Int("http_status", resp.StatusCode),
		utils.Latency(float64(time.Since(start).Milliseconds())),
	)

	// 5xx трактуем как временный сбой биржи, тело может быть не JSON
	if resp.StatusCode >= 500 {
		return nil, &ExchangeError{
			Code:    "EService:Unavailable",
			Message: fmt.Sprintf("http %d: %s", resp.StatusCode, truncate(string(body), 200)),
		}
	}

	var envelope krakenResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal exchange response (http %d): %w", resp.StatusCode, err)
	}

	if len(envelope.Error) > 0 {
		return nil, &ExchangeError{
			Code:    envelope.Error[0],
			Message: strings.Join(envelope.Error, "; "),
		}
	}

	return envelope.Result, nil
}

// PlaceOrder размещает ордер через AddOrder.
// Userref передаётся бирже: повторная отправка того же намерения
// распознаётся на её стороне.
func (k *Kraken) PlaceOrder(ctx context.Context, cred *models.APICredential, req *OrderRequest) (*PlaceResult, error) {
	params := url.Values{}
	params.Set("pair", normalizePair(req.Pair))
	params.Set("type", req.Side)
	params.Set("ordertype", req.Type)
	params.Set("volume", req.Volume)
	if req.Type == "limit" && req.Price != "" {
		params.Set("price", req.Price)
	}
	if req.Userref != 0 {
		params.Set("userref", strconv.FormatInt(int64(req.Userref), 10))
	}

	result, err := k.doPrivate(ctx, cred, addOrderPath, "order", params)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Txid  []string `json:"txid"`
		Descr struct {
			Order string `json:"order"`
		} `json:"descr"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal AddOrder result: %w", err)
	}
	if len(parsed.Txid) == 0 {
		return nil, &ExchangeError{
			Code:    "EOrder:No txid",
			Message: "exchange accepted order but returned no transaction id",
		}
	}

	return &PlaceResult{
		ExchangeOrderID: parsed.Txid[0],
		Description:     parsed.Descr.Order,
	}, nil
}

// GetOrderStatus запрашивает состояние ордера через QueryOrders
func (k *Kraken) GetOrderStatus(ctx context.Context, cred *models.APICredential, exchangeOrderID string) (*OrderStatus, error) {
	params := url.Values{}
	params.Set("txid", exchangeOrderID)

	result, err := k.doPrivate(ctx, cred, queryPath, "query", params)
	if err != nil {
		return nil, err
	}

	var parsed map[string]struct {
		Status  string  `json:"status"`
		Price   string  `json:"price"`
		VolExec string  `json:"vol_exec"`
		OpenTm  float64 `json:"opentm"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal QueryOrders result: %w", err)
	}

	entry, ok := parsed[exchangeOrderID]
	if !ok {
		return nil, &ExchangeError{
			Code:    "EOrder:Unknown order",
			Message: "order " + exchangeOrderID + " not found in QueryOrders response",
		}
	}

	sec, frac := int64(entry.OpenTm), entry.OpenTm-float64(int64(entry.OpenTm))
	return &OrderStatus{
		ExchangeOrderID: exchangeOrderID,
		Status:          entry.Status,
		ExecutedPrice:   entry.Price,
		ExecutedVolume:  entry.VolExec,
		OpenedAt:        time.Unix(sec, int64(frac*1e9)).UTC(),
	}, nil
}

// GetTicker получает лучшие цены пары через публичный endpoint
func (k *Kraken) GetTicker(ctx context.Context, pair string) (*Ticker, error) {
	params := url.Values{}
	params.Set("pair", normalizePair(pair))

	result, err := k.doPublic(ctx, tickerPath, params)
	if err != nil {
		return nil, err
	}

	// Ключ результата - внутреннее имя пары, берём первую запись
	var parsed map[string]struct {
		A []string `json:"a"` // ask: price, whole lot volume, lot volume
		B []string `json:"b"` // bid
		C []string `json:"c"` // last trade: price, lot volume
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal Ticker result: %w", err)
	}

	for _, entry := range parsed {
		ticker := &Ticker{Pair: pair, Timestamp: time.Now().UTC()}
		if len(entry.B) > 0 {
			ticker.BidPrice = entry.B[0]
		}
		if len(entry.A) > 0 {
			ticker.AskPrice = entry.A[0]
		}
		if len(entry.C) > 0 {
			ticker.LastPrice = entry.C[0]
		}
		return ticker, nil
	}

	return nil, &ExchangeError{
		Code:    "EQuery:Unknown asset pair",
		Message: "empty ticker result for " + pair,
	}
}

// normalizePair переводит "XBT/USD" в нотацию запроса "XBTUSD"
func normalizePair(pair string) string {
	return strings.ReplaceAll(pair, "/", "")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
