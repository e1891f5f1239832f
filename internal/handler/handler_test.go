package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"pointsystem/internal/config"
	"pointsystem/internal/infrastructure/cache"
	"pointsystem/internal/infrastructure/database"
	"pointsystem/pkg/daykey"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type apiResponse struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
}

func setupTestRouter(t *testing.T, name string) *gin.Engine {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	counterStore := cache.NewCounterStore(client, daykey.MustNewClock("UTC"))

	cfg := &config.Config{}
	cfg.Points = config.PointsConfig{
		Timezone:         "UTC",
		StreakWindowDays: 30,
		StreakBaseReward: 20,
		StreakStepReward: 10,
		StreakFlatReward: 100,
	}
	cfg.Kafka.Topic.PointEvents = "point_events"

	return SetupRouter(db, client, counterStore, cfg)
}

func doRequest(t *testing.T, router *gin.Engine, method, path, body string, headers map[string]string) *apiResponse {
	t.Helper()

	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return &resp
}

func TestHealthEndpoint(t *testing.T) {
	router := setupTestRouter(t, "h_health")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "ok")
}

func TestGetUserPointsRequiresIdentity(t *testing.T) {
	router := setupTestRouter(t, "h_no_identity")

	resp := doRequest(t, router, http.MethodGet, "/api/v1/points", "", nil)
	require.Equal(t, 400, resp.Code)
}

func TestGetUserPointsCreatesAccount(t *testing.T) {
	router := setupTestRouter(t, "h_lazy_account")

	resp := doRequest(t, router, http.MethodGet, "/api/v1/points", "",
		map[string]string{"X-User-ID": "4001"})
	require.Equal(t, 0, resp.Code)
	require.EqualValues(t, 4001, resp.Data["user_id"])
	require.EqualValues(t, 0, resp.Data["points"])
	require.EqualValues(t, 0, resp.Data["free_points"])
}

func TestAddConsumeAndHistoryFlow(t *testing.T) {
	router := setupTestRouter(t, "h_add_consume")
	headers := map[string]string{"X-User-ID": "4002"}

	resp := doRequest(t, router, http.MethodPost, "/api/v1/points/add",
		`{"user_id":4002,"amount":50,"points_type":1,"description":"充值到账","order_no":"ORD1001"}`, nil)
	require.Equal(t, 0, resp.Code)

	resp = doRequest(t, router, http.MethodPost, "/api/v1/points/consume",
		`{"amount":20,"func_type":1002,"task_id":"task_http"}`, headers)
	require.Equal(t, 0, resp.Code)
	require.EqualValues(t, 20, resp.Data["consumed"])
	require.EqualValues(t, 30, resp.Data["remaining"])

	resp = doRequest(t, router, http.MethodGet, "/api/v1/points", "", headers)
	require.Equal(t, 0, resp.Code)
	require.EqualValues(t, 30, resp.Data["fixed_points"])
	require.EqualValues(t, 30, resp.Data["points"])

	// 明细：1 条入账 + 1 条消耗
	resp = doRequest(t, router, http.MethodGet, "/api/v1/points/history", "", headers)
	require.Equal(t, 0, resp.Code)
	require.EqualValues(t, 2, resp.Data["total"])
}

func TestConsumeInsufficientViaHTTP(t *testing.T) {
	router := setupTestRouter(t, "h_consume_insufficient")

	resp := doRequest(t, router, http.MethodPost, "/api/v1/points/consume",
		`{"amount":100}`, map[string]string{"X-User-ID": "4003"})
	require.Equal(t, 1001, resp.Code)
}

func TestClaimEndpoint(t *testing.T) {
	router := setupTestRouter(t, "h_claim")
	headers := map[string]string{"X-User-ID": "4004"}

	resp := doRequest(t, router, http.MethodPost, "/api/v1/points/claim", "", headers)
	require.Equal(t, 0, resp.Code)
	require.EqualValues(t, 20, resp.Data["points"])
	require.EqualValues(t, 1, resp.Data["streak_days"])

	// 当日重复领取
	resp = doRequest(t, router, http.MethodPost, "/api/v1/points/claim", "", headers)
	require.Equal(t, 1002, resp.Code)

	resp = doRequest(t, router, http.MethodGet, "/api/v1/points/claim-info", "", headers)
	require.Equal(t, 0, resp.Code)
	require.Equal(t, true, resp.Data["has_claimed_today"])
	require.EqualValues(t, 1, resp.Data["streak_days"])
}

func TestExecuteAsUserDeductsSilverFirst(t *testing.T) {
	router := setupTestRouter(t, "h_execute_user")
	headers := map[string]string{"X-User-ID": "4005"}

	doRequest(t, router, http.MethodPost, "/api/v1/points/add",
		`{"user_id":4005,"amount":10,"points_type":0,"description":"签到","order_no":"ORD1002"}`, nil)

	resp := doRequest(t, router, http.MethodPost, "/api/v1/business/execute",
		`{"function_name":"demo-test"}`, headers)
	require.Equal(t, 0, resp.Code)
	require.Equal(t, true, resp.Data["authenticated"])
	require.EqualValues(t, 10, resp.Data["points_deducted"])
	require.EqualValues(t, 0, resp.Data["points_type"])

	resp = doRequest(t, router, http.MethodGet, "/api/v1/points", "", headers)
	require.EqualValues(t, 0, resp.Data["free_points"])
}

func TestExecuteAsUserFallsBackToGold(t *testing.T) {
	router := setupTestRouter(t, "h_execute_gold")
	headers := map[string]string{"X-User-ID": "4006"}

	// 银币不足银币价，金币够金币价
	doRequest(t, router, http.MethodPost, "/api/v1/points/add",
		`{"user_id":4006,"amount":5,"points_type":0,"description":"签到","order_no":"ORD1003"}`, nil)
	doRequest(t, router, http.MethodPost, "/api/v1/points/add",
		`{"user_id":4006,"amount":3,"points_type":1,"description":"充值","order_no":"ORD1004"}`, nil)

	resp := doRequest(t, router, http.MethodPost, "/api/v1/business/execute",
		`{"function_name":"demo-test"}`, headers)
	require.Equal(t, 0, resp.Code)
	require.EqualValues(t, 2, resp.Data["points_deducted"])
	require.EqualValues(t, 1, resp.Data["points_type"])

	resp = doRequest(t, router, http.MethodGet, "/api/v1/points", "", headers)
	require.EqualValues(t, 5, resp.Data["free_points"])
	require.EqualValues(t, 1, resp.Data["fixed_points"])
}

func TestExecuteAsUserInsufficient(t *testing.T) {
	router := setupTestRouter(t, "h_execute_poor")

	resp := doRequest(t, router, http.MethodPost, "/api/v1/business/execute",
		`{"function_name":"demo-test"}`, map[string]string{"X-User-ID": "4007"})
	require.Equal(t, 1001, resp.Code)
	require.Contains(t, resp.Data, "required")
}

func TestExecuteAsGuestUpToLimit(t *testing.T) {
	router := setupTestRouter(t, "h_execute_guest")
	headers := map[string]string{"X-Fingerprint": "fp_http_001"}

	for i := 1; i <= 5; i++ {
		resp := doRequest(t, router, http.MethodPost, "/api/v1/business/execute",
			`{"function_name":"demo-test"}`, headers)
		require.Equal(t, 0, resp.Code)
		require.Equal(t, false, resp.Data["authenticated"])
		require.EqualValues(t, i, resp.Data["usage_count"])
	}

	resp := doRequest(t, router, http.MethodPost, "/api/v1/business/execute",
		`{"function_name":"demo-test"}`, headers)
	require.Equal(t, 1004, resp.Code)
	require.Equal(t, true, resp.Data["require_login"])
	require.EqualValues(t, 5, resp.Data["usage_count"])
}

func TestExecuteUserIdentityWinsOverFingerprint(t *testing.T) {
	router := setupTestRouter(t, "h_execute_both")
	headers := map[string]string{"X-User-ID": "4008", "X-Fingerprint": "fp_http_002"}

	doRequest(t, router, http.MethodPost, "/api/v1/points/add",
		`{"user_id":4008,"amount":10,"points_type":0,"description":"签到","order_no":"ORD1005"}`, nil)

	resp := doRequest(t, router, http.MethodPost, "/api/v1/business/execute",
		`{"function_name":"demo-test"}`, headers)
	require.Equal(t, 0, resp.Code)
	require.Equal(t, true, resp.Data["authenticated"])

	// 游客额度没被动过
	resp = doRequest(t, router, http.MethodGet, "/api/v1/business/guest-usage/demo-test", "",
		map[string]string{"X-Fingerprint": "fp_http_002"})
	require.Equal(t, 0, resp.Code)
	require.EqualValues(t, 0, resp.Data["usage_count"])
}

func TestExecuteWithoutIdentity(t *testing.T) {
	router := setupTestRouter(t, "h_execute_anon")

	resp := doRequest(t, router, http.MethodPost, "/api/v1/business/execute",
		`{"function_name":"demo-test"}`, nil)
	require.Equal(t, 1006, resp.Code)
	require.Equal(t, true, resp.Data["require_login"])
}

func TestExecuteUnknownFunction(t *testing.T) {
	router := setupTestRouter(t, "h_execute_unknown")

	resp := doRequest(t, router, http.MethodPost, "/api/v1/business/execute",
		`{"function_name":"no-such-function"}`, map[string]string{"X-User-ID": "4009"})
	require.Equal(t, 1005, resp.Code)
}

func TestGuestUsageEndpoint(t *testing.T) {
	router := setupTestRouter(t, "h_guest_usage")

	// 缺指纹
	resp := doRequest(t, router, http.MethodGet, "/api/v1/business/guest-usage/demo-test", "", nil)
	require.Equal(t, 400, resp.Code)

	// 未知功能
	resp = doRequest(t, router, http.MethodGet, "/api/v1/business/guest-usage/no-such-function", "",
		map[string]string{"X-Fingerprint": "fp_http_003"})
	require.Equal(t, 1005, resp.Code)

	resp = doRequest(t, router, http.MethodGet, "/api/v1/business/guest-usage/ai-chat", "",
		map[string]string{"X-Fingerprint": "fp_http_003"})
	require.Equal(t, 0, resp.Code)
	require.Equal(t, true, resp.Data["can_use"])
	require.EqualValues(t, 10, resp.Data["daily_limit"])
}

func TestFunctionsCatalog(t *testing.T) {
	router := setupTestRouter(t, "h_functions")

	resp := doRequest(t, router, http.MethodGet, "/api/v1/business/functions", "", nil)
	require.Equal(t, 0, resp.Code)

	list, ok := resp.Data["list"].([]interface{})
	require.True(t, ok)
	require.Len(t, list, 5)

	first, ok := list[0].(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, first, "function_name")
	require.Contains(t, first, "guest_daily_limit")
	require.Contains(t, first, "cost_display")
}

func TestRefundEndpoint(t *testing.T) {
	router := setupTestRouter(t, "h_refund")

	resp := doRequest(t, router, http.MethodPost, "/api/v1/points/refund",
		`{"user_id":4010,"amount":8,"points_type":1,"reason":"生成失败"}`, nil)
	require.Equal(t, 0, resp.Code)

	resp = doRequest(t, router, http.MethodGet, "/api/v1/points?user_id=4010", "", nil)
	require.Equal(t, 0, resp.Code)
	require.EqualValues(t, 8, resp.Data["fixed_points"])
}
