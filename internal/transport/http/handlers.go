package learnhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"learnagent/internal/analysis/visual"
	"learnagent/internal/bias"
	"learnagent/internal/learning"
	"learnagent/internal/logger"
	"learnagent/internal/market"
	"learnagent/internal/regime"
	"learnagent/internal/store/gormstore"
)

// RunStore 抽象学习运行的审计持久层。
type RunStore interface {
	AppendLearningRun(ctx context.Context, rec gormstore.LearningRunRecord) error
	ListRecentRuns(ctx context.Context, limit int) ([]gormstore.LearningRunRecord, error)
}

// Handlers 聚合学习接口的依赖。
type Handlers struct {
	Orchestrator *learning.Orchestrator
	Biases       *bias.Store
	Runs         RunStore
}

// Register 挂载 /api/learning 下的全部路由。
func (h *Handlers) Register(group *gin.RouterGroup) {
	group.POST("/learn", h.learn)
	group.POST("/market-regime", h.marketRegime)
	group.POST("/update-biases", h.updateBiases)
	group.GET("/bias", h.getBias)
	group.GET("/runs", h.listRuns)
	group.POST("/equity-chart", h.equityChart)
}

func (h *Handlers) learn(c *gin.Context) {
	var req learning.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体解析失败: " + err.Error()})
		return
	}
	correlationID := strings.TrimSpace(c.GetHeader("X-Correlation-ID"))
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	c.Header("X-Correlation-ID", correlationID)

	resp := h.Orchestrator.Run(c.Request.Context(), req, h.Biases.Snapshot(), correlationID)
	h.persistRun(c.Request.Context(), correlationID, resp)
	c.JSON(http.StatusOK, resp)
}

// persistRun 尽力而为地落审计记录，失败只告警。
func (h *Handlers) persistRun(ctx context.Context, correlationID string, resp learning.Response) {
	if h.Runs == nil {
		return
	}
	deltas, _ := json.Marshal(resp.PolicyDeltas)
	reasoning, _ := json.Marshal(resp.Reasoning)
	rec := gormstore.LearningRunRecord{
		RunID:         uuid.NewString(),
		CorrelationID: correlationID,
		State:         string(resp.LearningState),
		DeltasJSON:    deltas,
		ReasoningJSON: reasoning,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.Runs.AppendLearningRun(ctx, rec); err != nil {
		logger.Warnf("学习运行审计落库失败 correlation_id=%s: %v", correlationID, err)
	}
}

type marketRegimeRequest struct {
	PriceHistory []market.Candle `json:"price_history"`
}

func (h *Handlers) marketRegime(c *gin.Context) {
	var req marketRegimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体解析失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, regime.Classify(req.PriceHistory))
}

type biasDelta struct {
	BullBias float64 `json:"bull_bias"`
	BearBias float64 `json:"bear_bias"`
	VolBias  float64 `json:"vol_bias"`
}

type biasUpdateRequest struct {
	AssetID   string    `json:"asset_id" binding:"required"`
	BiasDelta biasDelta `json:"bias_delta"`
}

type biasUpdateResponse struct {
	AssetID     string      `json:"asset_id"`
	CurrentBias bias.Triple `json:"current_bias"`
	Updated     bool        `json:"updated"`
}

// updateBiases 接受单个或批量的偏置反馈，逐资产原子更新。
func (h *Handlers) updateBiases(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体读取失败: " + err.Error()})
		return
	}
	var updates []biasUpdateRequest
	if err := json.Unmarshal(raw, &updates); err != nil {
		var single biasUpdateRequest
		if err := json.Unmarshal(raw, &single); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "请求体解析失败: " + err.Error()})
			return
		}
		updates = []biasUpdateRequest{single}
	}

	responses := make([]biasUpdateResponse, 0, len(updates))
	for _, update := range updates {
		if strings.TrimSpace(update.AssetID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "asset_id 不能为空"})
			return
		}
		current, err := h.Biases.ApplyDelta(c.Request.Context(), update.AssetID, bias.Triple{
			Bull: update.BiasDelta.BullBias,
			Bear: update.BiasDelta.BearBias,
			Vol:  update.BiasDelta.VolBias,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		responses = append(responses, biasUpdateResponse{
			AssetID:     update.AssetID,
			CurrentBias: current,
			Updated:     true,
		})
	}
	c.JSON(http.StatusOK, responses)
}

func (h *Handlers) getBias(c *gin.Context) {
	assetID := strings.TrimSpace(c.Query("asset_id"))
	if assetID != "" {
		c.JSON(http.StatusOK, gin.H{"asset_id": assetID, "current_bias": h.Biases.Get(assetID)})
		return
	}
	c.JSON(http.StatusOK, h.Biases.Snapshot())
}

func (h *Handlers) listRuns(c *gin.Context) {
	if h.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "审计存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.Runs.ListRecentRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(runs))
	for _, r := range runs {
		out = append(out, gin.H{
			"run_id":         r.RunID,
			"correlation_id": r.CorrelationID,
			"state":          r.State,
			"policy_deltas":  json.RawMessage(r.DeltasJSON),
			"reasoning":      json.RawMessage(r.ReasoningJSON),
			"created_at":     r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, out)
}

type equityChartRequest struct {
	AssetID    string    `json:"asset_id" binding:"required"`
	PnLHistory []float64 `json:"pnl_history" binding:"required"`
	Format     string    `json:"format"`
}

// equityChart 把收益序列渲染成权益曲线，format=png 时输出无头浏览器截图。
func (h *Handlers) equityChart(c *gin.Context) {
	var req equityChartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体解析失败: " + err.Error()})
		return
	}
	html, err := visual.RenderEquityCurve(req.AssetID, req.PnLHistory)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.EqualFold(strings.TrimSpace(req.Format), "png") {
		img, err := visual.SnapshotPNG(c.Request.Context(), req.AssetID, html)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "PNG 渲染失败: " + err.Error()})
			return
		}
		c.Data(http.StatusOK, "image/png", img.Bytes)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}
