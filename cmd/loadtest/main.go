package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Reason string
	Err    error
}

type envelope struct {
	Code   int             `json:"code"`
	Msg    string          `json:"msg"`
	Reason string          `json:"reason"`
	Data   json.RawMessage `json:"data"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token for item creation")
	itemID := flag.Uint("item", 0, "existing flash sale item id (0 = create a new one)")
	stock := flag.Int("stock", 1, "total stock when creating a new item")

	// 超卖测试参数：200 个用户并发抢 1 件
	nUsers := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	id := *itemID
	if id == 0 {
		created, err := createItem(client, *baseURL, *adminToken, *stock)
		if err != nil {
			panic(fmt.Sprintf("create item failed: %v", err))
		}
		id = created
		fmt.Printf("created flash sale item id=%d stock=%d\n", id, *stock)
	}

	// 1) 不超卖测试：不同 user 并发
	fmt.Printf("start oversell test: item=%d users=%d concurrency=%d\n", id, *nUsers, *concurrency)
	results := runBuy(client, *baseURL, id, *nUsers, *concurrency, func(idx int) int64 { return int64(idx + 1) })
	printSummary("oversell", results)

	if left, err := remainingStock(client, *baseURL, id); err != nil {
		fmt.Println("stock check err:", err)
	} else {
		fmt.Println("final remaining stock:", left)
	}

	// 2) 同一用户并发重复抢：应只有一次成功，其余 duplicate_request 或被限流
	fmt.Println("\nstart same-user burst: user=10001, 50 requests, concurrency 50")
	results2 := runBuy(client, *baseURL, id, 50, 50, func(int) int64 { return 10001 })
	printSummary("same_user", results2)
}

func createItem(client *http.Client, baseURL, adminToken string, stock int) (uint, error) {
	now := time.Now().UTC()
	body := map[string]interface{}{
		"title":         fmt.Sprintf("loadtest-%d", now.Unix()),
		"description":   "load test item",
		"originalPrice": "100.00",
		"flashPrice":    "1.00",
		"totalStock":    stock,
		"startTime":     now.Add(-time.Minute).Format(time.RFC3339),
		"endTime":       now.Add(time.Hour).Format(time.RFC3339),
	}
	status, env, err := doJSON(client, http.MethodPost, baseURL+"/api/flash-sale/items", body, map[string]string{
		"X-Admin-Token": adminToken,
	})
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("status=%d reason=%s msg=%s", status, env.Reason, env.Msg)
	}
	var item struct {
		ID uint `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &item); err != nil {
		return 0, err
	}
	return item.ID, nil
}

func runBuy(client *http.Client, baseURL string, itemID uint, total, concurrency int, userOf func(int) int64) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = buyOnce(client, baseURL, itemID, userOf(idx))
		}(i)
	}

	wg.Wait()
	return results
}

func buyOnce(client *http.Client, baseURL string, itemID uint, userID int64) Result {
	body := map[string]interface{}{"flashSaleItemId": itemID}
	status, env, err := doJSON(client, http.MethodPost, baseURL+"/api/flash-sale/purchase", body, map[string]string{
		"X-User-ID": strconv.FormatInt(userID, 10),
	})
	if err != nil {
		return Result{Err: err}
	}
	reason := env.Reason
	if status == http.StatusOK {
		reason = "ok"
	}
	return Result{Status: status, Reason: reason}
}

// printSummary 聚合输出状态码与 reason 分布。
func printSummary(name string, results []Result) {
	count := map[string]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[fmt.Sprintf("%d %s", r.Status, r.Reason)]++
	}
	keys := make([]string, 0, len(count))
	for k := range count {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("[%s] status/reason summary:\n", name)
	for _, k := range keys {
		fmt.Printf("  %s -> %d\n", k, count[k])
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// remainingStock 压测后读取剩余库存，用于校验是否出现超卖。
func remainingStock(client *http.Client, baseURL string, itemID uint) (int64, error) {
	status, env, err := doJSON(client, http.MethodGet, fmt.Sprintf("%s/api/flash-sale/items/%d", baseURL, itemID), nil, nil)
	if err != nil {
		return 0, err
	}
	if status >= 300 {
		return 0, fmt.Errorf("status=%d reason=%s", status, env.Reason)
	}
	var item struct {
		RemainingStock int64 `json:"remainingStock"`
	}
	if err := json.Unmarshal(env.Data, &item); err != nil {
		return 0, err
	}
	return item.RemainingStock, nil
}

// doJSON 发送请求并解析统一响应结构。
func doJSON(client *http.Client, method, url string, body any, headers map[string]string) (int, envelope, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, envelope{}, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		return 0, envelope{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, envelope{}, err
	}
	defer resp.Body.Close()

	var env envelope
	b, _ := io.ReadAll(resp.Body)
	if len(b) > 0 {
		if err := json.Unmarshal(b, &env); err != nil {
			return resp.StatusCode, envelope{}, fmt.Errorf("decode body %q: %w", string(b), err)
		}
	}
	return resp.StatusCode, env, nil
}
