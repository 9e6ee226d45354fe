// Copyright (c) AgentBus Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentBus 服务端程序入口。

# 概述

cmd/agentbus 是 AgentBus 编排核心的可执行入口，把信封校验、消息总线、
弹性层、工作流管道与持久化装配成一个进程，对外提供 HTTP API 服务、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集、OpenTelemetry 追踪以及配置热重载。

# 核心类型

  - Server           — 主服务器，装配总线/管道/弹性层，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、migrate（数据库迁移）、version、health
  - 总线订阅：feedback.submitted → 落库、request.chat → 学习信号管道、
    response.chat → 质量评分管道、*（redis 传输时）→ 队列转发经熔断器
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing、CORS、RateLimiter（基于 IP）、
    JWTAuth（Bearer，HS256/RS256，可选启用）、TenantRateLimiter（按租户）
  - 配置热重载：HotReloadManager 监听文件变更，配置管理 API 带审计日志
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 注销订阅 → 停止热更新 → HTTP/Metrics 并行关闭
    → 总线 → 熔断器 → 传输 → 存储 → 遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
