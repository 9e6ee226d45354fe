// Package api documents the AgentBus HTTP API.
//
// # API Overview
//
// AgentBus exposes a small RESTful surface over the orchestration core:
//   - Envelope ingest onto the message bus
//   - Pending-queue and circuit-breaker diagnostics
//   - Learning pipeline queries (topic mastery, review queue, feedback)
//   - Configuration inspection and hot reload
//   - Health monitoring and metrics
//
// # Endpoints
//
//	POST /api/v1/messages        接收信封线格式 JSON 并发布到总线
//	GET  /api/v1/pending         待投递队列深度与消息概要
//	GET  /api/v1/breakers        所有熔断器快照
//	POST /api/v1/breakers/reset  手动重置全部熔断器
//	GET  /api/v1/mastery         学生主题掌握度（agent_id + student_id）
//	GET  /api/v1/reviews         待人工复核的低分回复
//	GET  /api/v1/feedback        会话反馈记录（session_id）
//	GET  /api/v1/config          脱敏后的运行配置
//	POST /api/v1/config/reload   触发配置热重载
//	GET  /api/v1/config/fields   可热重载字段注册表
//	GET  /api/v1/config/changes  配置变更审计记录
//	GET  /health /healthz        存活探针
//	GET  /ready /readyz          就绪探针（数据库、Redis 依赖检查）
//	GET  /version                构建版本信息
//
// # Authentication
//
// When JWT auth is enabled, endpoints under /api/v1 require a Bearer token:
//
//	Authorization: Bearer <token>
//
// Health and version endpoints are always exempt. Tokens may carry
// tenant_id, user_id, and roles claims; tenant_id additionally scopes
// per-tenant rate limiting.
//
// # Response Format
//
// All responses share one wrapper (see handlers.Response):
//
//	{"success": true, "data": {...}, "timestamp": "..."}
//	{"success": false, "error": {"code": "VALIDATION", "message": "..."}, "timestamp": "..."}
//
// Validation failures on ingest return 422 with per-field errors in data;
// delivery failures return 502 with retryable set on the error.
package api
