package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"storefront/internal/payment"

	"github.com/google/uuid"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

type client struct {
	http  *http.Client
	base  string
	token string
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	token := flag.String("token", "", "customer bearer token")
	productID := flag.Int("product", 1, "product id")
	keySecret := flag.String("key-secret", "", "razorpay key secret (signs client verification)")
	webhookSecret := flag.String("webhook-secret", "", "razorpay webhook secret (empty: unsigned)")

	// 对账竞争测试：每张订单同时打 n 个客户端回调 + webhook
	rounds := flag.Int("orders", 5, "orders to create")
	racers := flag.Int("c", 20, "concurrent verify/webhook calls per order")
	flag.Parse()

	if *token == "" || *keySecret == "" {
		fmt.Println("-token and -key-secret are required")
		return
	}

	cl := &client{http: &http.Client{Timeout: 10 * time.Second}, base: *baseURL, token: *token}

	var all []Result
	final := map[string]int{}
	for i := 0; i < *rounds; i++ {
		orderID, gwOrder, err := cl.createOrder(*productID)
		if err != nil {
			fmt.Printf("round %d: create order: %v\n", i, err)
			continue
		}
		paymentID := "pay_load_" + uuid.NewString()[:8]
		results := runRace(cl, orderID, gwOrder, paymentID, *keySecret, *webhookSecret, *racers)
		all = append(all, results...)

		status, err := cl.orderStatus(orderID)
		if err != nil {
			fmt.Printf("round %d: read order: %v\n", i, err)
			continue
		}
		final[status]++
		fmt.Printf("round %d: order=%s final status=%s\n", i, orderID, status)
	}

	printSummary("race", all)
	fmt.Println("final order status:")
	keys := make([]string, 0, len(final))
	for k := range final {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s -> %d\n", k, final[k])
	}
}

// runRace 偶数号发客户端回调，奇数号发 webhook，同时起跑。
func runRace(cl *client, orderID, gwOrder, paymentID, keySecret, webhookSecret string, n int) []Result {
	verifyBody := map[string]string{
		"order_id":            orderID,
		"razorpay_order_id":   gwOrder,
		"razorpay_payment_id": paymentID,
		"razorpay_signature":  payment.SignPayment(keySecret, gwOrder, paymentID),
	}
	hook, _ := json.Marshal(map[string]any{
		"event": "payment.captured",
		"payload": map[string]any{"payment": map[string]any{"entity": map[string]any{
			"id": paymentID, "order_id": gwOrder, "status": "captured",
		}}},
	})
	hookHeaders := map[string]string{}
	if webhookSecret != "" {
		hookHeaders["X-Razorpay-Signature"] = payment.SignWebhook(webhookSecret, hook)
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			if idx%2 == 0 {
				b, _ := json.Marshal(verifyBody)
				results[idx] = cl.post("/api/orders/verify-payment", b, nil, true)
			} else {
				results[idx] = cl.post("/api/webhooks/razorpay", hook, hookHeaders, false)
			}
		}(i)
	}
	close(start)
	wg.Wait()
	return results
}

func (cl *client) createOrder(productID int) (string, string, error) {
	body, _ := json.Marshal(map[string]any{
		"items": []map[string]any{{"productId": productID, "quantity": 1}},
		"shippingAddress": map[string]string{
			"fullName": "Load Test",
			"phone":    "9000000000",
			"address":  "1 Test Street",
			"city":     "Bengaluru",
			"zipCode":  "560001",
			"country":  "India",
		},
	})
	res := cl.post("/api/orders", body, map[string]string{"Idempotency-Key": uuid.NewString()}, true)
	if res.Err != nil {
		return "", "", res.Err
	}
	if res.Status != http.StatusCreated {
		return "", "", fmt.Errorf("status=%d body=%s", res.Status, res.Body)
	}
	var out struct {
		Data struct {
			Order struct {
				ID string `json:"id"`
			} `json:"order"`
			GatewayOrder struct {
				ID string `json:"id"`
			} `json:"gatewayOrder"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(res.Body), &out); err != nil {
		return "", "", err
	}
	return out.Data.Order.ID, out.Data.GatewayOrder.ID, nil
}

func (cl *client) orderStatus(orderID string) (string, error) {
	req, _ := http.NewRequest(http.MethodGet, cl.base+"/api/orders/"+orderID, nil)
	req.Header.Set("Authorization", "Bearer "+cl.token)
	resp, err := cl.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	var out struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return "", err
	}
	return out.Data.Status, nil
}

func (cl *client) post(path string, body []byte, headers map[string]string, auth bool) Result {
	req, _ := http.NewRequest(http.MethodPost, cl.base+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+cl.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := cl.http.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(b)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 404, 409, 429, 500, 502} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}
