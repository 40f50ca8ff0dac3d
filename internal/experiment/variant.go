package experiment

import (
	"math/rand"

	"go.uber.org/zap"

	"github.com/langchou/drivesentry/internal/models"
	"github.com/langchou/drivesentry/internal/storage"
)

// KV 存储键
const variantKey = "alertVariant"

// Assigner A/B 实验分组器
// 首次使用时 50/50 随机分组并持久化，之后对同一设备始终返回同一分组
type Assigner struct {
	logger *zap.Logger
	kv     storage.KV
	randFn func() float64 // 可注入，便于测试
}

// NewAssigner 创建分组器
func NewAssigner(logger *zap.Logger, kv storage.KV) *Assigner {
	return &Assigner{
		logger: logger,
		kv:     kv,
		randFn: rand.Float64,
	}
}

// Assign 返回设备的实验分组
// 存储中已有合法值时直接复用；否则抽签并写回
// 存储读写失败只记日志，当次仍返回抽签结果
func (a *Assigner) Assign() models.Variant {
	stored, ok, err := a.kv.Get(variantKey)
	if err != nil {
		a.logger.Error("Failed to read alert variant", zap.Error(err))
	}
	if ok {
		v := models.Variant(stored)
		if v.Valid() {
			a.logger.Debug("Using stored alert variant", zap.String("variant", string(v)))
			return v
		}
		// 损坏的值按缺失处理，重新分组
		a.logger.Warn("Ignoring corrupt alert variant", zap.String("value", stored))
	}

	variant := models.VariantB
	if a.randFn() > 0.5 {
		variant = models.VariantA
	}

	if err := a.kv.Set(variantKey, string(variant)); err != nil {
		a.logger.Error("Failed to persist alert variant", zap.Error(err))
	}

	a.logger.Info("Assigned new alert variant", zap.String("variant", string(variant)))
	return variant
}
