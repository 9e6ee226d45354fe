// Copyright (c) AgentBus Authors.
// Licensed under the MIT License.

/*
包 database 管理 GORM 底下的连接池,persistence 包构建在它之上。

PoolManager 把 PoolConfig 里的池参数(最大打开/空闲连接数、连接
生命周期与空闲超时)应用到 *sql.DB,并可选启动后台探活循环:每轮
PingContext 失败记错误日志,成功时把打开/空闲连接数上报给挂接的
Prometheus 采集器,标签取方言名。

事务入口有两个:WithTransaction 单次执行,WithTransactionRetry
对瞬态错误(死锁、序列化失败、连接闪断、SQLite BUSY)做指数退避
重试,非瞬态错误立刻返回。GORM 不透出驱动错误码,瞬态判定基于
错误消息片段匹配。

GetStats 返回可序列化的池统计快照,运维接口直接取用。
*/
package database
