// Copyright (c) AgentBus Authors.
// Licensed under the MIT License.

// Package resilience 提供对外调用的弹性保障:按目标熔断加退避重试。
//
// 子包 circuitbreaker 实现按 target 管理的熔断器(连续失败阈值、
// 冷却后单次试探、状态持久化),子包 retry 实现线性/指数退避重试。
// 本包的 Executor 将两者组合:每次重试尝试都经过熔断器,熔断拒绝
// (ErrCircuitOpen)立即终止重试循环。
package resilience
