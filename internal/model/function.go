package model

import (
	"fmt"
)

// FunctionConfig 功能配置
// 各业务功能的限额与定价，纯代码配置，不落库，启动即只读
//
// 定价规则：
// - 只配 FreePointsCost（FixedPointsCost=0）：仅消耗银币
// - 只配 FixedPointsCost（FreePointsCost=0）：仅消耗金币
// - 两者都配：优先银币，银币不足再看金币
type FunctionConfig struct {
	FunctionType    int    // 功能编码，落库用
	FunctionName    string // 功能名，接口用
	Scene           string // 场景分类
	Model           string // 使用的 AI 模型
	GuestDailyLimit int    // 游客（指纹维度）每日免费次数
	FreePointsCost  int    // 银币价格
	FixedPointsCost int    // 金币价格
}

var functionConfigs = []FunctionConfig{
	{1001, "demo-test", "chat", "gpt-3.5-turbo", 5, 10, 2},
	{1002, "ai-chat", "chat", "gpt-4", 10, 50, 5},
	{1003, "image-gen", "image", "dall-e-3", 3, 100, 10},
	{1005, "nano-banana", "image_edit", "nano-banana", 50, 80, 8},
	// 高级分析只收金币，不提供银币通道
	{1004, "premium-analysis", "analysis", "gpt-4-turbo", 0, 0, 50},
}

// FindFunctionByName 按功能名查找配置，找不到返回 nil
func FindFunctionByName(functionName string) *FunctionConfig {
	for i := range functionConfigs {
		if functionConfigs[i].FunctionName == functionName {
			return &functionConfigs[i]
		}
	}
	return nil
}

// FindFunctionByType 按功能编码查找配置，找不到返回 nil
func FindFunctionByType(functionType int) *FunctionConfig {
	for i := range functionConfigs {
		if functionConfigs[i].FunctionType == functionType {
			return &functionConfigs[i]
		}
	}
	return nil
}

// AllFunctions 全部功能配置（副本，防止调用方改动）
func AllFunctions() []FunctionConfig {
	out := make([]FunctionConfig, len(functionConfigs))
	copy(out, functionConfigs)
	return out
}

// HasEnoughPoints 判断用户积分是否够用本功能
// 银币够付银币价、或金币够付金币价，任一满足即可
func (c *FunctionConfig) HasEnoughPoints(freePoints, fixedPoints int) bool {
	if c.FreePointsCost > 0 && freePoints >= c.FreePointsCost {
		return true
	}
	if c.FixedPointsCost > 0 && fixedPoints >= c.FixedPointsCost {
		return true
	}
	return false
}

// DeterminePointsType 决定扣哪个池
// 优先级：银币 > 金币；两个池都付不起各自的价格时 ok=false
func (c *FunctionConfig) DeterminePointsType(freePoints, fixedPoints int) (pointsType int, ok bool) {
	if c.FreePointsCost > 0 && freePoints >= c.FreePointsCost {
		return PointsTypeFree, true
	}
	if c.FixedPointsCost > 0 && fixedPoints >= c.FixedPointsCost {
		return PointsTypeFixed, true
	}
	return 0, false
}

// CostFor 指定池的价格
func (c *FunctionConfig) CostFor(pointsType int) int {
	if pointsType == PointsTypeFree {
		return c.FreePointsCost
	}
	return c.FixedPointsCost
}

// CostDisplay 价格的展示文案
func (c *FunctionConfig) CostDisplay() string {
	switch {
	case c.FreePointsCost > 0 && c.FixedPointsCost > 0:
		return fmt.Sprintf("%d 银币或 %d 金币", c.FreePointsCost, c.FixedPointsCost)
	case c.FreePointsCost > 0:
		return fmt.Sprintf("%d 银币", c.FreePointsCost)
	case c.FixedPointsCost > 0:
		return fmt.Sprintf("%d 金币", c.FixedPointsCost)
	default:
		return "免费"
	}
}
