// Copyright (c) AgentBus Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AgentBus HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 AgentBus 所有 HTTP 端点的请求处理逻辑，
包括信封接入、熔断器诊断、学习进度查询、健康检查以及统一的
响应/错误处理。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - MessageHandler   — 信封接入（POST /api/v1/messages）与待投递队列查询
  - BreakerHandler   — 熔断器快照与重置（/api/v1/breakers）
  - LearningHandler  — 掌握度、复核队列、会话反馈的只读查询
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔就绪检查接口（数据库、Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 信封接入三段式：校验（422 逐字段错误）→ 发布 → 投递结果（202/502）
  - 可扩展就绪检查：RegisterCheck 注册自定义 HealthCheck 实现

# 响应约定

所有端点返回统一的 Response 包装。校验失败时 Data 携带
envelope.Result,调用方可按 field/code 定位问题;投递失败时
Data 携带 bus.PublishResult,errors 列出每个处理器的失败原因。
*/
package handlers
