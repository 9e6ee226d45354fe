package database

import (
	"time"

	"gorm.io/gorm"
)

// =============================================================================
// ⏱️ 查询耗时采集
// =============================================================================

// queryStartKey 在单次 GORM 调用的实例设置中暂存开始时间。
const queryStartKey = "agentbus:query_started_at"

// instrumentQueries 在 GORM 回调链上挂接查询耗时采集,
// 按操作类型(create/query/update/delete/row/raw)上报直方图。
// 回调注册进 *gorm.DB 后对全部会话生效,重复注册会被 GORM 拒绝,
// 因此只通过 SetMetrics 挂接一次。
func (pm *PoolManager) instrumentQueries() error {
	cb := pm.db.Callback()

	if err := cb.Create().Before("gorm:create").Register("agentbus:query_begin_create", queryBegin); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("agentbus:query_done_create", pm.queryDone("create")); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("agentbus:query_begin_query", queryBegin); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("agentbus:query_done_query", pm.queryDone("query")); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("agentbus:query_begin_update", queryBegin); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("agentbus:query_done_update", pm.queryDone("update")); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("agentbus:query_begin_delete", queryBegin); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("agentbus:query_done_delete", pm.queryDone("delete")); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("agentbus:query_begin_row", queryBegin); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("agentbus:query_done_row", pm.queryDone("row")); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("agentbus:query_begin_raw", queryBegin); err != nil {
		return err
	}
	return cb.Raw().After("gorm:raw").Register("agentbus:query_done_raw", pm.queryDone("raw"))
}

// queryBegin 记录单次调用的开始时间。
func queryBegin(db *gorm.DB) {
	db.InstanceSet(queryStartKey, time.Now())
}

// queryDone 生成按操作类型上报耗时的回调。
// 采集器尚未挂接或开始时间缺失时静默跳过。
func (pm *PoolManager) queryDone(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(queryStartKey)
		if !ok {
			return
		}
		started, ok := v.(time.Time)
		if !ok {
			return
		}

		pm.mu.RLock()
		m, label := pm.metrics, pm.metricsDB
		pm.mu.RUnlock()
		if m == nil {
			return
		}
		m.RecordDBQuery(label, operation, time.Since(started))
	}
}
